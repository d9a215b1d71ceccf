package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/milestone-tracker/internal/metrics"
)

// DefaultInterval is the poll period used when none is configured.
const DefaultInterval = 5 * time.Second

// Ticker runs one poll cycle. *Engine satisfies it.
type Ticker interface {
	Tick(ctx context.Context) TickResult
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Interval time.Duration
	Metrics  Metrics
	Logger   *zap.Logger
}

// Scheduler triggers cycles on a fixed interval and on demand. At most one
// cycle runs at a time; triggers that arrive while a cycle is in flight are
// skipped.
type Scheduler struct {
	ticker   Ticker
	interval time.Duration
	metrics  Metrics
	logger   *zap.Logger

	nudges  chan struct{}
	running atomic.Bool
	skipped atomic.Int64
}

// NewScheduler creates a Scheduler for t.
func NewScheduler(t Ticker, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Scheduler{
		ticker:   t,
		interval: cfg.Interval,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		nudges:   make(chan struct{}, 1),
	}
}

// Handle controls a running scheduler loop.
type Handle struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Stop cancels the loop and waits for it, including any in-flight cycle, to
// exit. It is safe to call more than once.
func (h *Handle) Stop() {
	h.stopOnce.Do(h.cancel)
	<-h.done
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Start runs one cycle immediately and then one per interval until the
// returned Handle is stopped or ctx ends.
func (s *Scheduler) Start(ctx context.Context) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go s.loop(ctx, h.done)
	return h
}

// Nudge requests an extra cycle without waiting for the next interval.
// Repeated nudges before the loop picks one up collapse into one.
func (s *Scheduler) Nudge() {
	select {
	case s.nudges <- struct{}{}:
	default:
	}
}

// Skipped reports how many triggers were skipped because a cycle was running.
func (s *Scheduler) Skipped() int64 {
	return s.skipped.Load()
}

func (s *Scheduler) loop(ctx context.Context, done chan<- struct{}) {
	var cycles sync.WaitGroup
	defer close(done)
	defer cycles.Wait()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.trigger(ctx, &cycles)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(ctx, &cycles)
		case <-s.nudges:
			s.trigger(ctx, &cycles)
		}
	}
}

// trigger starts a cycle unless one is already running.
func (s *Scheduler) trigger(ctx context.Context, cycles *sync.WaitGroup) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.metrics.ObserveTick(metrics.TickSkipped, 0)
		s.logger.Debug("poll cycle still running; skipping trigger")
		return
	}
	cycles.Add(1)
	go func() {
		defer cycles.Done()
		defer s.running.Store(false)
		res := s.ticker.Tick(ctx)
		if res.Err != nil && !res.Discarded {
			s.logger.Debug("poll cycle failed", zap.Error(res.Err), zap.Int("step", res.Step))
		}
	}()
}
