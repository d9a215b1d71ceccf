package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/milestone-tracker/internal/catalog"
	"github.com/JakeFAU/milestone-tracker/internal/identity"
	"github.com/JakeFAU/milestone-tracker/internal/metrics"
	"github.com/JakeFAU/milestone-tracker/internal/progress"
	"github.com/JakeFAU/milestone-tracker/internal/snapshot"
	"github.com/JakeFAU/milestone-tracker/internal/telemetry"
)

const (
	defaultFetchTimeout  = 2 * time.Second
	fetchFailLogInterval = 30 * time.Second
)

// Config wires an Engine.
type Config struct {
	Catalog         *catalog.Catalog
	Fetcher         snapshot.Fetcher
	Emitter         progress.Emitter
	Identity        identity.Lookup
	IdentityTimeout time.Duration
	FetchTimeout    time.Duration
	Clock           Clock
	IDs             IDGenerator
	Metrics         Metrics
	Tracer          trace.Tracer
	Logger          *zap.Logger
	// OnDispatch, when set, observes every completed background dispatch.
	OnDispatch func(DispatchResult)
}

// TickResult describes one poll cycle.
type TickResult struct {
	Step      int
	Newly     []catalog.Milestone
	Err       error
	Discarded bool
}

// Engine runs the fetch, reconcile and notify cycle and publishes the latest
// View for readers.
type Engine struct {
	catalog      *catalog.Catalog
	fetcher      snapshot.Fetcher
	reconciler   *Reconciler
	dispatcher   *Dispatcher
	clock        Clock
	metrics      Metrics
	tracer       trace.Tracer
	logger       *zap.Logger
	fetchTimeout time.Duration

	// tickMu serializes cycles so samples are applied in call order.
	tickMu sync.Mutex

	mu          sync.RWMutex
	step        int
	hasSnapshot bool
	lastSuccess time.Time

	failures    atomic.Int64
	failLimiter progress.RateLimiter
}

// New validates cfg and builds an Engine.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Catalog == nil:
		return nil, errors.New("tracker: catalog is required")
	case cfg.Fetcher == nil:
		return nil, errors.New("tracker: fetcher is required")
	case cfg.Emitter == nil:
		return nil, errors.New("tracker: emitter is required")
	case cfg.Clock == nil:
		return nil, errors.New("tracker: clock is required")
	case cfg.IDs == nil:
		return nil, errors.New("tracker: id generator is required")
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(telemetry.TracerName)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		catalog:      cfg.Catalog,
		fetcher:      cfg.Fetcher,
		reconciler:   NewReconciler(cfg.Catalog),
		clock:        cfg.Clock,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		logger:       logger,
		fetchTimeout: cfg.FetchTimeout,
		step:         1,
		failLimiter:  progress.RateLimiter{Interval: fetchFailLogInterval},
	}
	e.dispatcher = NewDispatcher(DispatcherConfig{
		Catalog:         cfg.Catalog,
		Emitter:         cfg.Emitter,
		Identity:        cfg.Identity,
		IdentityTimeout: cfg.IdentityTimeout,
		Clock:           cfg.Clock,
		IDs:             cfg.IDs,
		Metrics:         cfg.Metrics,
		Logger:          logger.Named("dispatch"),
		OnResult:        cfg.OnDispatch,
	})
	return e, nil
}

// Tick runs one cycle. A failed fetch keeps the previous step and leaves the
// retained snapshot untouched. If ctx ends while the fetch is in flight the
// result is discarded without mutating state or notifying. Concurrent calls
// run one at a time in the order they acquire the engine.
func (e *Engine) Tick(ctx context.Context) TickResult {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "milestones.tick")
	defer span.End()

	fetchCtx, cancel := context.WithTimeout(ctx, e.fetchTimeout)
	snap, err := e.fetcher.Fetch(fetchCtx)
	cancel()

	if ctx.Err() != nil {
		span.SetAttributes(attribute.Bool("tick.discarded", true))
		e.metrics.ObserveTick(metrics.TickDiscarded, time.Since(start))
		return TickResult{Step: e.Step(), Discarded: true, Err: ctx.Err()}
	}

	if err != nil {
		err = fmt.Errorf("fetch snapshot: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		e.recordFailure(err)
		e.metrics.ObserveTick(metrics.TickFailure, time.Since(start))
		step := e.Step()
		span.SetAttributes(attribute.Int("tick.step", step))
		return TickResult{Step: step, Err: err}
	}

	newly := e.reconciler.Reconcile(snap)
	step := CurrentStep(e.catalog, snap)

	e.mu.Lock()
	e.step = step
	e.hasSnapshot = true
	e.lastSuccess = e.clock.Now().UTC()
	e.mu.Unlock()

	if n := e.failures.Swap(0); n > 0 {
		e.logger.Info("status source recovered", zap.Int64("failed_ticks", n))
	}
	e.metrics.SetStep(step, step-1)
	e.metrics.ObserveTick(metrics.TickSuccess, time.Since(start))
	span.SetAttributes(
		attribute.Int("tick.step", step),
		attribute.Int("tick.newly_completed", len(newly)),
	)

	if len(newly) > 0 {
		keys := make([]string, len(newly))
		for i, m := range newly {
			keys[i] = m.Key
		}
		e.logger.Info("milestones completed", zap.Strings("milestones", keys), zap.Int("step", step))
		e.dispatcher.Notify(ctx, newly)
	}
	return TickResult{Step: step, Newly: newly}
}

// recordFailure logs source failures at debug level and surfaces a rate
// limited warning so an absent status file does not flood the log.
func (e *Engine) recordFailure(err error) {
	n := e.failures.Add(1)
	e.logger.Debug("status source unavailable", zap.Error(err))
	if e.failLimiter.Allow(e.clock.Now()) {
		e.logger.Warn("status source unavailable; keeping previous step",
			zap.Error(err), zap.Int64("consecutive_failures", n))
	}
}

// Step returns the last successfully derived step, or 1 before any success.
func (e *Engine) Step() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.step
}

// View returns the presentation state for the latest step.
func (e *Engine) View() View {
	e.mu.RLock()
	step, has, last := e.step, e.hasSnapshot, e.lastSuccess
	e.mu.RUnlock()
	return NewView(e.catalog, step, has, last)
}

// Catalog returns the milestone catalog the engine tracks.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.catalog
}

// Retained returns a copy of the retained snapshot, or nil before the first
// successful fetch.
func (e *Engine) Retained() snapshot.Snapshot {
	return e.reconciler.Retained()
}

// Wait blocks until background dispatches have finished.
func (e *Engine) Wait() {
	e.dispatcher.Wait()
}
