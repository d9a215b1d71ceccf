// Package metrics exposes Prometheus collectors for the milestone tracker.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tick results recorded by ObserveTick.
const (
	TickSuccess   = "success"
	TickFailure   = "failure"
	TickSkipped   = "skipped"
	TickDiscarded = "discarded"
)

// Collectors owns every tracker collector. A nil *Collectors is a valid no-op.
type Collectors struct {
	ticksTotal           *prometheus.CounterVec
	tickDurationSeconds  prometheus.Histogram
	currentStep          prometheus.Gauge
	completedMilestones  prometheus.Gauge
	dispatchesTotal      *prometheus.CounterVec
	identityFailures     prometheus.Counter
	recordsDropped       prometheus.Counter
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	rateLimitDelaySecond *prometheus.HistogramVec
}

// New registers the collectors against reg (prometheus.DefaultRegisterer when nil).
func New(reg prometheus.Registerer) (*Collectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collectors{
		ticksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "milestone_ticks_total",
			Help: "Poll cycles partitioned by result.",
		}, []string{"result"}),
		tickDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "milestone_tick_duration_seconds",
			Help:    "Wall time of one fetch-reconcile-notify cycle.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),
		currentStep: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "milestone_current_step",
			Help: "Current 1-based step; catalog length + 1 once everything is complete.",
		}),
		completedMilestones: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "milestone_completed",
			Help: "Number of milestones completed before the current step.",
		}),
		dispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "milestone_dispatches_total",
			Help: "Telemetry dispatches partitioned by outcome.",
		}, []string{"outcome"}),
		identityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "milestone_identity_lookup_failures_total",
			Help: "Identity lookups that failed and fell back to empty fields.",
		}),
		recordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "milestone_records_dropped_total",
			Help: "Telemetry records dropped before reaching the hub.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		}, []string{"method", "code"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route"}),
		rateLimitDelaySecond: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "telemetry_rate_limit_delay_seconds",
			Help:    "Time outbound telemetry waited on the per-host rate limiter.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"host"}),
	}
	for _, collector := range []prometheus.Collector{
		c.ticksTotal,
		c.tickDurationSeconds,
		c.currentStep,
		c.completedMilestones,
		c.dispatchesTotal,
		c.identityFailures,
		c.recordsDropped,
		c.httpRequestsTotal,
		c.httpRequestDuration,
		c.rateLimitDelaySecond,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register metrics collector: %w", err)
		}
	}
	return c, nil
}

// Handler exposes the gatherer in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ObserveTick counts a poll cycle and its duration.
func (c *Collectors) ObserveTick(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.ticksTotal.WithLabelValues(result).Inc()
	if result != TickSkipped {
		c.tickDurationSeconds.Observe(d.Seconds())
	}
}

// SetStep publishes the current step and completed count.
func (c *Collectors) SetStep(step, completed int) {
	if c == nil {
		return
	}
	c.currentStep.Set(float64(step))
	c.completedMilestones.Set(float64(completed))
}

// ObserveDispatch records the outcome of one telemetry dispatch.
func (c *Collectors) ObserveDispatch(outcome string, identityFailed bool, dropped int) {
	if c == nil {
		return
	}
	c.dispatchesTotal.WithLabelValues(outcome).Inc()
	if identityFailed {
		c.identityFailures.Inc()
	}
	if dropped > 0 {
		c.recordsDropped.Add(float64(dropped))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func (c *Collectors) ObserveHTTPRequest(method, route string, code int, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	c.httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveRateLimitDelay records time spent waiting on the telemetry limiter.
func (c *Collectors) ObserveRateLimitDelay(host string, d time.Duration) {
	if c == nil {
		return
	}
	c.rateLimitDelaySecond.WithLabelValues(host).Observe(d.Seconds())
}
