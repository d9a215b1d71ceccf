package tracker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/milestone-tracker/internal/catalog"
	"github.com/JakeFAU/milestone-tracker/internal/metrics"
	"github.com/JakeFAU/milestone-tracker/internal/snapshot"
)

type engineFixture struct {
	engine  *Engine
	catalog *catalog.Catalog
	fetcher *scriptedFetcher
	emitter *recordingEmitter
	lookup  *countingLookup
	metrics *fakeMetrics
}

func newEngineFixture(t *testing.T, results ...fetchResult) engineFixture {
	t.Helper()
	c := abcCatalog(t)
	f := engineFixture{
		catalog: c,
		fetcher: &scriptedFetcher{results: results},
		emitter: &recordingEmitter{},
		lookup:  &countingLookup{},
		metrics: newFakeMetrics(),
	}
	e, err := New(Config{
		Catalog:  c,
		Fetcher:  f.fetcher,
		Emitter:  f.emitter,
		Identity: f.lookup,
		Clock:    fixedClock{at: testNow},
		IDs:      &seqIDs{},
		Metrics:  f.metrics,
	})
	require.NoError(t, err)
	f.engine = e
	return f
}

func okFetch(c *catalog.Catalog, flags ...bool) fetchResult {
	return fetchResult{snap: snapshot.FromFlags(c, flags...)}
}

func TestEngineScenario(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	f := newEngineFixture(t,
		okFetch(c, true, false, false),
		okFetch(c, true, true, false),
		fetchResult{err: errUnavailable},
		okFetch(c, true, true, true),
	)
	ctx := context.Background()

	res := f.engine.Tick(ctx)
	f.engine.Wait()
	require.NoError(t, res.Err)
	require.Equal(t, 2, res.Step)
	require.Empty(t, res.Newly)
	require.Empty(t, f.emitter.Keys())

	res = f.engine.Tick(ctx)
	f.engine.Wait()
	require.Equal(t, 3, res.Step)
	require.Equal(t, []string{"B"}, keysOf(res.Newly))
	require.Equal(t, []string{"B"}, f.emitter.Keys())

	res = f.engine.Tick(ctx)
	f.engine.Wait()
	require.ErrorIs(t, res.Err, errUnavailable)
	require.Equal(t, 3, res.Step)
	require.Empty(t, res.Newly)
	require.Equal(t, []string{"B"}, f.emitter.Keys())

	res = f.engine.Tick(ctx)
	f.engine.Wait()
	require.Equal(t, 4, res.Step)
	require.Equal(t, []string{"C"}, keysOf(res.Newly))
	require.Equal(t, []string{"B", "C"}, f.emitter.Keys())

	require.Equal(t, 3, f.metrics.Ticks(metrics.TickSuccess))
	require.Equal(t, 1, f.metrics.Ticks(metrics.TickFailure))
	require.Equal(t, 2, f.lookup.Calls())
	require.True(t, f.engine.View().Done())
}

func TestEngineFailureBeforeSuccessKeepsStepOne(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t, fetchResult{err: errUnavailable})
	res := f.engine.Tick(context.Background())
	require.Error(t, res.Err)
	require.Equal(t, 1, res.Step)

	v := f.engine.View()
	require.Equal(t, 1, v.Step)
	require.False(t, v.HasSnapshot)
	require.True(t, v.LastSuccess.IsZero())
	require.Nil(t, f.engine.Retained())
}

func TestEngineFailureIsolation(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	f := newEngineFixture(t,
		okFetch(c, true, true, false),
		fetchResult{err: errUnavailable},
		okFetch(c, true, true, false),
	)
	ctx := context.Background()

	f.engine.Tick(ctx)
	before := f.engine.Retained()
	viewBefore := f.engine.View()

	f.engine.Tick(ctx)
	require.Equal(t, before, f.engine.Retained())
	require.Equal(t, viewBefore, f.engine.View())

	// The recovered fetch matches the baseline, so nothing is new.
	res := f.engine.Tick(ctx)
	f.engine.Wait()
	require.Empty(t, res.Newly)
	require.Empty(t, f.emitter.Records())
}

func TestEngineFirstTickSuppression(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	f := newEngineFixture(t, okFetch(c, true, true, true))
	res := f.engine.Tick(context.Background())
	f.engine.Wait()

	require.Equal(t, 4, res.Step)
	require.Empty(t, res.Newly)
	require.Empty(t, f.emitter.Records())
	require.Zero(t, f.lookup.Calls())
}

func TestEngineDiscardsFetchAfterCancel(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	f := newEngineFixture(t, okFetch(c, true, true, true))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.engine.Tick(ctx)
	require.True(t, res.Discarded)
	require.Equal(t, 1, res.Step)
	require.Nil(t, f.engine.Retained())
	require.Equal(t, 1, f.metrics.Ticks(metrics.TickDiscarded))
}

func TestEngineTracesTicks(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	c := abcCatalog(t)
	e, err := New(Config{
		Catalog: c,
		Fetcher: &scriptedFetcher{results: []fetchResult{okFetch(c, false, false, false), {err: errUnavailable}}},
		Emitter: &recordingEmitter{},
		Clock:   fixedClock{at: testNow},
		IDs:     &seqIDs{},
		Tracer:  tp.Tracer("test"),
	})
	require.NoError(t, err)

	e.Tick(context.Background())
	e.Tick(context.Background())

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "milestones.tick", spans[0].Name())
	require.Equal(t, "Error", spans[1].Status().Code.String())
}

func TestEngineViewTracksStep(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	f := newEngineFixture(t, okFetch(c, true, false, false))
	f.engine.Tick(context.Background())

	v := f.engine.View()
	require.Equal(t, 2, v.Step)
	require.True(t, v.HasSnapshot)
	require.Equal(t, testNow, v.LastSuccess)
	require.Equal(t, 2, f.metrics.step)
	require.Equal(t, 1, f.metrics.completed)
	require.Same(t, f.catalog, f.engine.Catalog())
}

func TestEngineAppliesOverlappingTicksInCallOrder(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	samples := make(chan snapshot.Snapshot)
	var calls atomic.Int32
	fetcher := snapshot.FetcherFunc(func(ctx context.Context) (snapshot.Snapshot, error) {
		calls.Add(1)
		select {
		case s := <-samples:
			return s, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	emitter := &recordingEmitter{}
	e, err := New(Config{
		Catalog:      c,
		Fetcher:      fetcher,
		Emitter:      emitter,
		FetchTimeout: 5 * time.Second,
		Clock:        fixedClock{at: testNow},
		IDs:          &seqIDs{},
	})
	require.NoError(t, err)

	older := make(chan TickResult, 1)
	go func() { older <- e.Tick(context.Background()) }()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	newer := make(chan TickResult, 1)
	go func() { newer <- e.Tick(context.Background()) }()
	require.Never(t, func() bool { return calls.Load() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	samples <- snapshot.FromFlags(c, true, false, false)
	require.Equal(t, 2, (<-older).Step)

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	samples <- snapshot.FromFlags(c, true, true, true)
	res := <-newer
	e.Wait()

	require.Equal(t, 4, res.Step)
	require.Equal(t, 4, e.Step())
	require.Equal(t, []string{"B", "C"}, keysOf(res.Newly))
	require.Equal(t, []string{"B", "C"}, emitter.Keys())
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	c := abcCatalog(t)
	fetcher := &scriptedFetcher{results: []fetchResult{okFetch(c)}}
	full := Config{Catalog: c, Fetcher: fetcher, Emitter: &recordingEmitter{}, Clock: fixedClock{}, IDs: &seqIDs{}}
	_, err := New(full)
	require.NoError(t, err)

	for name, mutate := range map[string]func(*Config){
		"catalog": func(cfg *Config) { cfg.Catalog = nil },
		"fetcher": func(cfg *Config) { cfg.Fetcher = nil },
		"emitter": func(cfg *Config) { cfg.Emitter = nil },
		"clock":   func(cfg *Config) { cfg.Clock = nil },
		"ids":     func(cfg *Config) { cfg.IDs = nil },
	} {
		cfg := full
		mutate(&cfg)
		_, err := New(cfg)
		require.ErrorContains(t, err, "required", name)
	}
}
