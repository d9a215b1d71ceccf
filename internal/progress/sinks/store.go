package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/milestone-tracker/internal/progress"
	"github.com/JakeFAU/milestone-tracker/internal/store"
)

// StoreSink persists records through a store.EventRepository, one insert
// call per batch.
type StoreSink struct {
	repo   store.EventRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.EventRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume converts the batch to rows and forwards them to the repository.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Record) error {
	if s == nil || s.repo == nil || len(batch) == 0 {
		return nil
	}
	rows := make([]store.MilestoneEvent, 0, len(batch))
	for _, rec := range batch {
		rows = append(rows, store.MilestoneEvent{
			ID:           rec.ID,
			MilestoneKey: rec.MilestoneKey,
			Step:         rec.Step,
			Name:         rec.Name,
			Email:        rec.Email,
			OccurredAt:   rec.Timestamp,
		})
	}
	if err := s.repo.InsertEvents(ctx, rows); err != nil {
		return fmt.Errorf("insert milestone events: %w", err)
	}
	s.logger.Debug("milestone events stored", zap.Int("count", len(rows)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
