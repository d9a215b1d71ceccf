package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/milestone-tracker/internal/progress"
)

// PrometheusSink counts delivered milestone notifications.
type PrometheusSink struct {
	notifications *prometheus.CounterVec
	lastStep      prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "milestone_notifications_total",
			Help: "Milestone completion notifications handed to telemetry sinks.",
		}, []string{"milestone"}),
		lastStep: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "milestone_last_notified_step",
			Help: "Catalog position of the most recently notified milestone.",
		}),
	}
	for _, collector := range []prometheus.Collector{s.notifications, s.lastStep} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register telemetry collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Record) error {
	for _, rec := range batch {
		s.notifications.WithLabelValues(rec.MilestoneKey).Inc()
		s.lastStep.Set(float64(rec.Step))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
