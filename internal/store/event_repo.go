// Package store declares interfaces for persisting milestone telemetry.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("telemetry record not found")

// MilestoneEvent models one row of the milestone_events table.
type MilestoneEvent struct {
	// ID is the record identifier (UUIDv7).
	ID uuid.UUID
	// MilestoneKey is the catalog key that completed.
	MilestoneKey string
	// Step is the 1-based catalog position.
	Step int
	// Name and Email are the identity attached at send time.
	Name  string
	Email string
	// OccurredAt is the send timestamp.
	OccurredAt time.Time
}

// EventRepository persists and reads milestone telemetry.
type EventRepository interface {
	// InsertEvents writes a batch; rows whose ID already exists are ignored.
	InsertEvents(ctx context.Context, events []MilestoneEvent) error
	// GetEvent loads one event or returns ErrNotFound.
	GetEvent(ctx context.Context, id uuid.UUID) (MilestoneEvent, error)
	// ListEvents returns events newest first with limit/offset paging.
	ListEvents(ctx context.Context, limit, offset int) ([]MilestoneEvent, error)
}
