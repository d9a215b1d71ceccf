package tracker

import (
	"sync"

	"github.com/JakeFAU/milestone-tracker/internal/catalog"
	"github.com/JakeFAU/milestone-tracker/internal/snapshot"
)

// Reconciler owns the retained snapshot and derives which milestones became
// complete between two successful fetches.
type Reconciler struct {
	catalog *catalog.Catalog

	mu       sync.Mutex
	retained snapshot.Snapshot
	primed   bool
	notified map[string]struct{}
}

// NewReconciler creates a Reconciler with no retained snapshot.
func NewReconciler(c *catalog.Catalog) *Reconciler {
	return &Reconciler{
		catalog:  c,
		notified: make(map[string]struct{}, c.Len()),
	}
}

// Reconcile records s as the retained snapshot and returns the milestones
// that flipped from incomplete to complete since the previous call, in
// catalog order. The first call only primes the baseline and returns nothing.
// A milestone is returned at most once for the lifetime of the Reconciler.
func (r *Reconciler) Reconcile(s snapshot.Snapshot) []catalog.Milestone {
	current := r.normalize(s)

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.primed {
		for key, done := range current {
			if done {
				r.notified[key] = struct{}{}
			}
		}
		r.retained = current
		r.primed = true
		return nil
	}

	var newly []catalog.Milestone
	for _, m := range r.catalog.All() {
		if !current[m.Key] || r.retained[m.Key] {
			continue
		}
		if _, seen := r.notified[m.Key]; seen {
			continue
		}
		r.notified[m.Key] = struct{}{}
		newly = append(newly, m)
	}
	r.retained = current
	return newly
}

// Retained returns a copy of the retained snapshot, or nil before the first
// successful reconcile.
func (r *Reconciler) Retained() snapshot.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.primed {
		return nil
	}
	return r.retained.Clone()
}

// Primed reports whether a baseline snapshot has been recorded.
func (r *Reconciler) Primed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.primed
}

// normalize keeps exactly the catalog's keys so the retained snapshot never
// carries stale or unknown entries.
func (r *Reconciler) normalize(s snapshot.Snapshot) snapshot.Snapshot {
	out := make(snapshot.Snapshot, r.catalog.Len())
	for _, m := range r.catalog.All() {
		out[m.Key] = s.Completed(m.Key)
	}
	return out
}
