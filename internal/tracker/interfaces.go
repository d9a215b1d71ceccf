package tracker

import (
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces telemetry record IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Metrics receives cycle and dispatch observations. *metrics.Collectors
// satisfies it.
type Metrics interface {
	ObserveTick(result string, d time.Duration)
	SetStep(step, completed int)
	ObserveDispatch(outcome string, identityFailed bool, dropped int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTick(string, time.Duration) {}
func (nopMetrics) SetStep(int, int)                  {}
func (nopMetrics) ObserveDispatch(string, bool, int) {}
