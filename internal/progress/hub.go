package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity of the intake channel (default 256).
//   - MaxBatchRecords: flush once this many records queue (default 50).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 250ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize      int
	MaxBatchRecords int
	MaxBatchWait    time.Duration
	SinkTimeout     time.Duration
	BaseContext     context.Context
	Logger          *zap.Logger
}

const (
	defaultBufferSize      = 256
	defaultMaxBatchRecords = 50
	defaultMaxBatchWait    = 250 * time.Millisecond
	defaultSinkTimeout     = 10 * time.Second
	dropLogInterval        = 5 * time.Second
)

// Stats is a point-in-time view of Hub counters.
type Stats struct {
	Accepted   int64
	Dropped    int64
	Delivered  int64
	SinkErrors int64
}

// Hub fans Records out to registered sinks. It is safe for concurrent use and
// never blocks callers.
type Hub struct {
	cfg    Config
	sinks  []Sink
	logger *zap.Logger

	records chan Record
	stopCh  chan struct{}
	doneCh  chan struct{}

	closed      atomic.Bool
	accepted    atomic.Int64
	dropped     atomic.Int64
	delivered   atomic.Int64
	sinkErrors  atomic.Int64
	pendingDrop atomic.Int64
	dropLimiter RateLimiter

	closeOnce sync.Once
	closeCtx  context.Context
}

// NewHub starts the batching goroutine and returns a Hub ready for Emit.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchRecords <= 0 {
		cfg.MaxBatchRecords = defaultMaxBatchRecords
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:         cfg,
		sinks:       append([]Sink(nil), sinks...),
		logger:      logger,
		records:     make(chan Record, cfg.BufferSize),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		dropLimiter: RateLimiter{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// Emit enqueues rec and reports whether it was accepted. Invalid records,
// records emitted after Close, and records that overflow the buffer are
// dropped.
func (h *Hub) Emit(rec Record) bool {
	if h == nil || h.closed.Load() {
		return false
	}
	if err := rec.Validate(); err != nil {
		h.logger.Debug("discarding invalid telemetry record", zap.Error(err))
		return false
	}
	select {
	case h.records <- rec:
		h.accepted.Add(1)
		return true
	default:
		h.dropped.Add(1)
		h.pendingDrop.Add(1)
		if h.dropLimiter.Allow(time.Now()) {
			h.logger.Warn("telemetry records dropped due to backpressure",
				zap.Int64("dropped", h.pendingDrop.Swap(0)))
		}
		return false
	}
}

// Stats returns the current counters.
func (h *Hub) Stats() Stats {
	return Stats{
		Accepted:   h.accepted.Load(),
		Dropped:    h.dropped.Load(),
		Delivered:  h.delivered.Load(),
		SinkErrors: h.sinkErrors.Load(),
	}
}

// Close drains buffered records, flushes and closes sinks, and waits for the
// background goroutine. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtx = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("telemetry hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Record, 0, h.cfg.MaxBatchRecords)
	timer := newBatchTimer(h.cfg.MaxBatchWait)
	for {
		select {
		case rec := <-h.records:
			batch = append(batch, rec)
			if len(batch) >= h.cfg.MaxBatchRecords {
				h.flush(batch)
				batch = batch[:0]
				timer.stop()
			} else {
				timer.arm()
			}
		case <-timer.C():
			timer.fired()
			h.flush(batch)
			batch = batch[:0]
		case <-h.stopCh:
			timer.stop()
			h.drain(batch)
			h.closeSinks()
			return
		}
	}
}

func (h *Hub) drain(batch []Record) {
	for {
		select {
		case rec := <-h.records:
			batch = append(batch, rec)
			if len(batch) >= h.cfg.MaxBatchRecords {
				h.flush(batch)
				batch = batch[:0]
			}
		default:
			h.flush(batch)
			return
		}
	}
}

func (h *Hub) flush(batch []Record) {
	if len(batch) == 0 {
		return
	}
	out := append([]Record(nil), batch...)
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		err := sink.Consume(ctx, out)
		cancel()
		if err != nil {
			h.sinkErrors.Add(1)
			h.logger.Warn("telemetry sink consume failed",
				zap.String("sink", fmt.Sprintf("%T", sink)),
				zap.Int("records", len(out)),
				zap.Error(err))
		}
	}
	h.delivered.Add(int64(len(out)))
}

func (h *Hub) closeSinks() {
	ctx := h.closeCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("telemetry sink close failed", zap.String("sink", fmt.Sprintf("%T", sink)), zap.Error(err))
		}
	}
}

// batchTimer wraps a stopped time.Timer with explicit armed state.
type batchTimer struct {
	t     *time.Timer
	wait  time.Duration
	armed bool
}

func newBatchTimer(wait time.Duration) *batchTimer {
	t := time.NewTimer(wait)
	t.Stop()
	return &batchTimer{t: t, wait: wait}
}

func (b *batchTimer) C() <-chan time.Time { return b.t.C }

func (b *batchTimer) arm() {
	if b.armed {
		return
	}
	b.t.Reset(b.wait)
	b.armed = true
}

func (b *batchTimer) fired() { b.armed = false }

func (b *batchTimer) stop() {
	if !b.armed {
		return
	}
	if !b.t.Stop() {
		select {
		case <-b.t.C:
		default:
		}
	}
	b.armed = false
}

// RateLimiter allows one event per Interval. The zero value allows everything.
type RateLimiter struct {
	Interval time.Duration
	last     atomic.Int64
}

// Allow reports whether an event at now may pass.
func (r *RateLimiter) Allow(now time.Time) bool {
	if r == nil || r.Interval <= 0 {
		return true
	}
	nano := now.UnixNano()
	last := r.last.Load()
	if last != 0 && nano-last < r.Interval.Nanoseconds() {
		return false
	}
	return r.last.CompareAndSwap(last, nano)
}
