package tracker

import (
	"context"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/milestone-tracker/internal/catalog"
	"github.com/JakeFAU/milestone-tracker/internal/identity"
	"github.com/JakeFAU/milestone-tracker/internal/progress"
)

const defaultIdentityTimeout = 2 * time.Second

// Dispatch outcomes reported to Metrics.
const (
	DispatchSent    = "sent"
	DispatchPartial = "partial"
	DispatchDropped = "dropped"
)

// DispatchResult summarizes one background dispatch. Callers of Notify never
// see it; it feeds logs, metrics and the OnResult hook.
type DispatchResult struct {
	Sent        int
	Dropped     int
	IdentityErr error
}

// Outcome classifies the result for metrics.
func (r DispatchResult) Outcome() string {
	switch {
	case r.Dropped == 0:
		return DispatchSent
	case r.Sent == 0:
		return DispatchDropped
	default:
		return DispatchPartial
	}
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Catalog         *catalog.Catalog
	Emitter         progress.Emitter
	Identity        identity.Lookup
	IdentityTimeout time.Duration
	Clock           Clock
	IDs             IDGenerator
	Metrics         Metrics
	Logger          *zap.Logger
	// OnResult, when set, observes every completed dispatch.
	OnResult func(DispatchResult)
}

// Dispatcher turns newly completed milestones into telemetry records on
// background goroutines.
type Dispatcher struct {
	catalog         *catalog.Catalog
	emitter         progress.Emitter
	identity        identity.Lookup
	identityTimeout time.Duration
	clock           Clock
	ids             IDGenerator
	metrics         Metrics
	logger          *zap.Logger
	onResult        func(DispatchResult)

	wg sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Catalog, Emitter, Clock and IDs are
// required.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.IdentityTimeout <= 0 {
		cfg.IdentityTimeout = defaultIdentityTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Dispatcher{
		catalog:         cfg.Catalog,
		emitter:         cfg.Emitter,
		identity:        cfg.Identity,
		identityTimeout: cfg.IdentityTimeout,
		clock:           cfg.Clock,
		ids:             cfg.IDs,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		onResult:        cfg.OnResult,
	}
}

// Notify dispatches milestones in the background and returns immediately.
// An empty set does nothing, including no identity lookup.
func (d *Dispatcher) Notify(ctx context.Context, milestones []catalog.Milestone) {
	if len(milestones) == 0 {
		return
	}
	batch := slices.Clone(milestones)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.report(d.Dispatch(ctx, batch))
	}()
}

// Wait blocks until every in-flight dispatch has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch performs one identity lookup and emits one record per milestone in
// catalog order. Records are dropped once ctx is done.
func (d *Dispatcher) Dispatch(ctx context.Context, milestones []catalog.Milestone) DispatchResult {
	var res DispatchResult
	if len(milestones) == 0 {
		return res
	}
	ordered := slices.Clone(milestones)
	slices.SortStableFunc(ordered, func(a, b catalog.Milestone) int {
		return d.catalog.IndexOf(a.Key) - d.catalog.IndexOf(b.Key)
	})

	lookupCtx, cancel := context.WithTimeout(ctx, d.identityTimeout)
	who, err := identity.Resolve(lookupCtx, d.identity)
	cancel()
	res.IdentityErr = err

	for _, m := range ordered {
		if ctx.Err() != nil {
			res.Dropped++
			continue
		}
		id, err := d.ids.NewRawID()
		if err != nil {
			d.logger.Warn("record id generation failed", zap.String("milestone", m.Key), zap.Error(err))
			res.Dropped++
			continue
		}
		rec := progress.Record{
			ID:           id,
			Name:         who.Name,
			Email:        who.Email,
			MilestoneKey: m.Key,
			Step:         d.catalog.IndexOf(m.Key) + 1,
			Timestamp:    d.clock.Now().UTC(),
		}
		if d.emitter.Emit(rec) {
			res.Sent++
		} else {
			res.Dropped++
		}
	}
	return res
}

func (d *Dispatcher) report(res DispatchResult) {
	d.metrics.ObserveDispatch(res.Outcome(), res.IdentityErr != nil, res.Dropped)
	fields := []zap.Field{zap.Int("sent", res.Sent), zap.Int("dropped", res.Dropped)}
	if res.IdentityErr != nil {
		fields = append(fields, zap.NamedError("identity_error", res.IdentityErr))
	}
	if res.Dropped > 0 {
		d.logger.Warn("milestone notifications dropped", fields...)
	} else {
		d.logger.Debug("milestone notifications dispatched", fields...)
	}
	if d.onResult != nil {
		d.onResult(res)
	}
}
