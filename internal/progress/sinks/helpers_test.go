package sinks

import (
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/milestone-tracker/internal/progress"
)

func record(key string, step int) progress.Record {
	return progress.Record{
		ID:           uuid.New(),
		Name:         "Ada",
		Email:        "ada@example.com",
		MilestoneKey: key,
		Step:         step,
		Timestamp:    time.Date(2026, 10, 18, 12, 30, 0, 123_000_000, time.UTC),
	}
}
