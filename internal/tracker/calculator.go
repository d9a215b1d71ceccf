package tracker

import (
	"math"
	"time"

	"github.com/JakeFAU/milestone-tracker/internal/catalog"
	"github.com/JakeFAU/milestone-tracker/internal/snapshot"
)

// MilestoneState is the presentation state of one milestone.
type MilestoneState string

// Milestone states relative to the current step.
const (
	StateCompleted MilestoneState = "completed"
	StateCurrent   MilestoneState = "current"
	StatePending   MilestoneState = "pending"
)

// CurrentStep returns the 1-based index of the first incomplete milestone, or
// Len()+1 when every milestone is complete.
func CurrentStep(c *catalog.Catalog, s snapshot.Snapshot) int {
	for i, m := range c.All() {
		if !s.Completed(m.Key) {
			return i + 1
		}
	}
	return c.Len() + 1
}

// MilestoneView is one row of the progress timeline.
type MilestoneView struct {
	Key    string         `json:"key"`
	Label  string         `json:"label"`
	Detail string         `json:"detail"`
	State  MilestoneState `json:"state"`
}

// View is the presentation state derived from the current step.
type View struct {
	Step        int             `json:"step"`
	DisplayStep int             `json:"display_step"`
	Total       int             `json:"total"`
	Completed   int             `json:"completed"`
	Percent     int             `json:"percent"`
	Milestones  []MilestoneView `json:"milestones"`
	HasSnapshot bool            `json:"has_snapshot"`
	LastSuccess time.Time       `json:"last_success,omitzero"`
}

// Done reports whether every milestone is complete.
func (v View) Done() bool {
	return v.Total > 0 && v.Step > v.Total
}

// NewView builds the presentation state for step. Steps outside [1, N+1] are
// clamped.
func NewView(c *catalog.Catalog, step int, hasSnapshot bool, lastSuccess time.Time) View {
	n := c.Len()
	step = max(1, min(step, n+1))
	completed := step - 1
	v := View{
		Step:        step,
		DisplayStep: min(step, n),
		Total:       n,
		Completed:   completed,
		Milestones:  make([]MilestoneView, 0, n),
		HasSnapshot: hasSnapshot,
		LastSuccess: lastSuccess,
	}
	if n > 0 {
		v.Percent = int(math.Round(float64(completed) / float64(n) * 100))
	}
	for i, m := range c.All() {
		state := StatePending
		switch {
		case i+1 < step:
			state = StateCompleted
		case i+1 == step:
			state = StateCurrent
		}
		v.Milestones = append(v.Milestones, MilestoneView{
			Key:    m.Key,
			Label:  m.Label,
			Detail: m.Detail,
			State:  state,
		})
	}
	return v
}
