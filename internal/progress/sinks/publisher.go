package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/milestone-tracker/internal/progress"
)

// Publisher pushes payloads to a topic (Pub/Sub or the in-memory publisher).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PublisherSink publishes each record as its own message.
type PublisherSink struct {
	pub   Publisher
	topic string
}

// NewPublisherSink binds a publisher to topic.
func NewPublisherSink(pub Publisher, topic string) *PublisherSink {
	return &PublisherSink{pub: pub, topic: topic}
}

// Consume publishes every record, continuing past failures so one bad
// message does not suppress the rest of the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []progress.Record) error {
	if s.pub == nil {
		return nil
	}
	var errs []error
	for _, rec := range batch {
		if _, err := s.pub.Publish(ctx, s.topic, rec); err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", rec.MilestoneKey, err))
		}
	}
	return errors.Join(errs...)
}

// Close implements the Sink interface; it performs no action.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
