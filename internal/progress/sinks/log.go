package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/milestone-tracker/internal/progress"
)

// LogSink emits one structured log line per record. Useful in development
// when no remote endpoint is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each record in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Record) error {
	for _, rec := range batch {
		s.logger.Info("milestone completed",
			zap.String("record_id", rec.ID.String()),
			zap.String("milestone", rec.MilestoneKey),
			zap.Int("step", rec.Step),
			zap.String("name", rec.Name),
			zap.String("email", rec.Email),
			zap.Time("ts", rec.Timestamp),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
