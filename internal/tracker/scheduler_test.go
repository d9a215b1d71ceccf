package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/milestone-tracker/internal/snapshot"
)

type countingTicker struct {
	calls atomic.Int64
}

func (c *countingTicker) Tick(context.Context) TickResult {
	c.calls.Add(1)
	return TickResult{Step: 1}
}

// blockingTicker holds every cycle until release is closed or ctx ends.
type blockingTicker struct {
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int64
}

func (b *blockingTicker) Tick(ctx context.Context) TickResult {
	b.calls.Add(1)
	select {
	case b.entered <- struct{}{}:
	default:
	}
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return TickResult{}
}

func TestSchedulerRunsImmediately(t *testing.T) {
	t.Parallel()

	ticker := &countingTicker{}
	h := NewScheduler(ticker, SchedulerConfig{Interval: time.Hour}).Start(context.Background())
	defer h.Stop()

	require.Eventually(t, func() bool { return ticker.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerTicksOnInterval(t *testing.T) {
	t.Parallel()

	ticker := &countingTicker{}
	h := NewScheduler(ticker, SchedulerConfig{Interval: 10 * time.Millisecond}).Start(context.Background())
	defer h.Stop()

	require.Eventually(t, func() bool { return ticker.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerNudge(t *testing.T) {
	t.Parallel()

	ticker := &countingTicker{}
	s := NewScheduler(ticker, SchedulerConfig{Interval: time.Hour})
	h := s.Start(context.Background())
	defer h.Stop()

	require.Eventually(t, func() bool { return ticker.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	s.Nudge()
	require.Eventually(t, func() bool { return ticker.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerSkipsOverlappingTriggers(t *testing.T) {
	t.Parallel()

	ticker := &blockingTicker{entered: make(chan struct{}, 1), release: make(chan struct{})}
	metrics := newFakeMetrics()
	s := NewScheduler(ticker, SchedulerConfig{Interval: time.Hour, Metrics: metrics})
	h := s.Start(context.Background())
	defer h.Stop()

	<-ticker.entered
	s.Nudge()
	require.Eventually(t, func() bool { return s.Skipped() >= 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int64(1), ticker.calls.Load())
	require.GreaterOrEqual(t, metrics.Ticks("skipped"), 1)

	close(ticker.release)
	s.Nudge()
	require.Eventually(t, func() bool { return ticker.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHandleStopIdempotent(t *testing.T) {
	t.Parallel()

	ticker := &countingTicker{}
	h := NewScheduler(ticker, SchedulerConfig{Interval: 5 * time.Millisecond}).Start(context.Background())
	require.Eventually(t, func() bool { return ticker.calls.Load() >= 1 }, time.Second, time.Millisecond)

	h.Stop()
	h.Stop()
	select {
	case <-h.Done():
	default:
		t.Fatal("handle not done after Stop")
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Stop()
		}()
	}
	wg.Wait()

	after := ticker.calls.Load()
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, after, ticker.calls.Load())
}

func TestSchedulerStopsWithParentContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	h := NewScheduler(&countingTicker{}, SchedulerConfig{Interval: time.Hour}).Start(ctx)
	cancel()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after parent cancel")
	}
	h.Stop()
}

// lateFetcher returns a baseline first, then blocks until its context ends
// and only then reports every milestone complete.
type lateFetcher struct {
	calls   atomic.Int64
	entered chan struct{}
	base    snapshot.Snapshot
	late    snapshot.Snapshot
}

func (f *lateFetcher) Fetch(ctx context.Context) (snapshot.Snapshot, error) {
	if f.calls.Add(1) == 1 {
		return f.base, nil
	}
	f.entered <- struct{}{}
	<-ctx.Done()
	return f.late, nil
}

func TestStopDiscardsLateFetch(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	fetcher := &lateFetcher{
		entered: make(chan struct{}, 1),
		base:    snapshot.FromFlags(c, false, false, false),
		late:    snapshot.FromFlags(c, true, true, true),
	}
	emitter := &recordingEmitter{}
	engine, err := New(Config{
		Catalog:      c,
		Fetcher:      fetcher,
		Emitter:      emitter,
		Clock:        fixedClock{at: testNow},
		IDs:          &seqIDs{},
		FetchTimeout: time.Minute,
	})
	require.NoError(t, err)

	s := NewScheduler(engine, SchedulerConfig{Interval: time.Hour})
	h := s.Start(context.Background())
	require.Eventually(t, func() bool { return engine.View().HasSnapshot }, time.Second, 5*time.Millisecond)

	s.Nudge()
	<-fetcher.entered
	h.Stop()
	engine.Wait()

	require.Equal(t, 1, engine.Step())
	require.Equal(t, snapshot.FromFlags(c, false, false, false), engine.Retained())
	require.Empty(t, emitter.Records())
}
