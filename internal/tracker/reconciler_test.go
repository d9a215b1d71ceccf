package tracker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/milestone-tracker/internal/snapshot"
)

func TestReconcileFirstCallSuppressed(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	r := NewReconciler(c)
	require.False(t, r.Primed())
	require.Nil(t, r.Retained())

	require.Empty(t, r.Reconcile(snapshot.FromFlags(c, true, false, false)))
	require.True(t, r.Primed())
	require.Equal(t, snapshot.Snapshot{"A": true, "B": false, "C": false}, r.Retained())
}

func TestReconcileIdempotent(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	r := NewReconciler(c)
	r.Reconcile(snapshot.FromFlags(c, false, false, false))

	s := snapshot.FromFlags(c, true, false, false)
	require.Equal(t, []string{"A"}, keysOf(r.Reconcile(s)))
	require.Empty(t, r.Reconcile(s))
}

func TestReconcileOrderPreserved(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	for range 20 {
		rr := NewReconciler(c)
		rr.Reconcile(snapshot.Snapshot{})
		got := rr.Reconcile(snapshot.Snapshot{"C": true, "A": true, "B": true})
		require.Equal(t, []string{"A", "B", "C"}, keysOf(got))
	}
}

func TestReconcileMonotonicNotification(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	r := NewReconciler(c)
	r.Reconcile(snapshot.FromFlags(c, false, false, false))

	seen := map[string]int{}
	sequence := [][]bool{
		{true, false, false},
		{true, true, false},
		{true, true, false},
		{true, true, true},
		{true, true, true},
	}
	for _, flags := range sequence {
		for _, m := range r.Reconcile(snapshot.FromFlags(c, flags...)) {
			seen[m.Key]++
		}
	}
	require.Equal(t, map[string]int{"A": 1, "B": 1, "C": 1}, seen)
}

func TestReconcileRevertNeverRenotifies(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	r := NewReconciler(c)
	r.Reconcile(snapshot.FromFlags(c, false, false, false))

	require.Equal(t, []string{"A"}, keysOf(r.Reconcile(snapshot.FromFlags(c, true, false, false))))
	require.Empty(t, r.Reconcile(snapshot.FromFlags(c, false, false, false)))
	require.Empty(t, r.Reconcile(snapshot.FromFlags(c, true, false, false)))
	require.Equal(t, snapshot.Snapshot{"A": true, "B": false, "C": false}, r.Retained())
}

func TestReconcilePreCompletedAtStartupNeverNotifies(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	r := NewReconciler(c)
	r.Reconcile(snapshot.FromFlags(c, true, false, false))
	r.Reconcile(snapshot.FromFlags(c, false, false, false))
	require.Empty(t, r.Reconcile(snapshot.FromFlags(c, true, false, false)))
}

func TestReconcileIgnoresUnknownKeys(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	r := NewReconciler(c)
	r.Reconcile(snapshot.Snapshot{"extra": true})
	require.Empty(t, r.Reconcile(snapshot.Snapshot{"extra": true, "other": true}))
	require.Len(t, r.Retained(), c.Len())
}

func TestReconcileConcurrentCallsNotifyOnce(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	r := NewReconciler(c)
	r.Reconcile(snapshot.FromFlags(c, false, false, false))

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := len(r.Reconcile(snapshot.FromFlags(c, true, true, true)))
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 3, total)
}
