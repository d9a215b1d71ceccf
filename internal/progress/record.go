package progress

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Record is one milestone-completion notification.
type Record struct {
	// ID uniquely identifies the record (UUIDv7, time ordered).
	ID uuid.UUID `json:"id"`
	// Name and Email come from the identity lookup; empty when it failed.
	Name  string `json:"name"`
	Email string `json:"email"`
	// MilestoneKey is the catalog key that transitioned to complete.
	MilestoneKey string `json:"milestone_key"`
	// Step is the 1-based catalog position of the milestone.
	Step int `json:"step"`
	// Timestamp is captured in UTC when the record is sent.
	Timestamp time.Time `json:"timestamp"`
}

// Validate performs coarse validation on Record payloads.
func (r Record) Validate() error {
	if r.ID == uuid.Nil {
		return errors.New("record id is required")
	}
	if r.MilestoneKey == "" {
		return errors.New("milestone key is required")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if r.Step < 1 {
		return errors.New("step must be >= 1")
	}
	return nil
}
