package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JakeFAU/milestone-tracker/internal/catalog"
	"github.com/JakeFAU/milestone-tracker/internal/identity"
	"github.com/JakeFAU/milestone-tracker/internal/progress"
	"github.com/JakeFAU/milestone-tracker/internal/snapshot"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errUnavailable = errors.New("status file unavailable")

func abcCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(
		catalog.Milestone{Key: "A", Label: "alpha"},
		catalog.Milestone{Key: "B", Label: "bravo"},
		catalog.Milestone{Key: "C", Label: "charlie"},
	)
	require.NoError(t, err)
	return c
}

func keysOf(ms []catalog.Milestone) []string {
	keys := make([]string, 0, len(ms))
	for _, m := range ms {
		keys = append(keys, m.Key)
	}
	return keys
}

// fetchResult is one scripted Fetch outcome.
type fetchResult struct {
	snap snapshot.Snapshot
	err  error
}

// scriptedFetcher replays results in order and repeats the last one.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

func (f *scriptedFetcher) Fetch(context.Context) (snapshot.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := min(f.calls, len(f.results)-1)
	f.calls++
	r := f.results[idx]
	return r.snap, r.err
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingEmitter captures emitted records.
type recordingEmitter struct {
	mu      sync.Mutex
	records []progress.Record
	reject  bool
}

func (e *recordingEmitter) Emit(rec progress.Record) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reject {
		return false
	}
	e.records = append(e.records, rec)
	return true
}

func (e *recordingEmitter) Records() []progress.Record {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]progress.Record(nil), e.records...)
}

func (e *recordingEmitter) Keys() []string {
	recs := e.Records()
	keys := make([]string, len(recs))
	for i, r := range recs {
		keys[i] = r.MilestoneKey
	}
	return keys
}

// countingLookup counts identity lookups.
type countingLookup struct {
	mu    sync.Mutex
	calls int
	who   identity.Identity
	err   error
}

func (l *countingLookup) Lookup(context.Context) (identity.Identity, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.who, l.err
}

func (l *countingLookup) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time { return c.at }

type seqIDs struct {
	mu sync.Mutex
	n  byte
}

func (g *seqIDs) NewRawID() (uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	var id uuid.UUID
	id[15] = g.n
	return id, nil
}

// fakeMetrics records observations by name.
type fakeMetrics struct {
	mu        sync.Mutex
	ticks     map[string]int
	step      int
	completed int
	outcomes  []string
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{ticks: make(map[string]int)}
}

func (m *fakeMetrics) ObserveTick(result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[result]++
}

func (m *fakeMetrics) SetStep(step, completed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.step, m.completed = step, completed
}

func (m *fakeMetrics) ObserveDispatch(outcome string, _ bool, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *fakeMetrics) Ticks(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ticks[result]
}

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
