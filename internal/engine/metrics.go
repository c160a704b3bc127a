// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/holomush/playfieldguard/internal/access"
	"github.com/holomush/playfieldguard/internal/core"
)

// Metrics records engine activity. A nil *Metrics records nothing.
type Metrics struct {
	Events           *prometheus.CounterVec
	EventDuration    *prometheus.HistogramVec
	Decisions        *prometheus.CounterVec
	Rollbacks        *prometheus.CounterVec
	ExternalFailures *prometheus.CounterVec
}

// NewMetrics creates and registers engine metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playfieldguard_events_total",
			Help: "Total number of host events handled by type",
		}, []string{"type"}),
		EventDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "playfieldguard_event_duration_seconds",
			Help:    "Histogram of host event handling latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playfieldguard_decisions_total",
			Help: "Total number of playfield access decisions by effect and reason",
		}, []string{"effect", "reason"}),
		Rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playfieldguard_rollbacks_total",
			Help: "Total number of corrective teleports by target source",
		}, []string{"target"}),
		ExternalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "playfieldguard_external_failures_total",
			Help: "Total number of failed host requests by call",
		}, []string{"call"}),
	}

	reg.MustRegister(m.Events, m.EventDuration, m.Decisions, m.Rollbacks, m.ExternalFailures)
	return m
}

// RegisterTrackedGauge exposes the number of tracked players.
func RegisterTrackedGauge(reg prometheus.Registerer, e *Engine) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "playfieldguard_tracked_players",
		Help: "Number of players with cached state",
	}, func() float64 { return float64(e.Tracked()) }))
}

func (m *Metrics) observeEvent(t core.EventType, d time.Duration) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(string(t)).Inc()
	m.EventDuration.WithLabelValues(string(t)).Observe(d.Seconds())
}

func (m *Metrics) recordDecision(d access.Decision) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(d.Effect.String(), string(d.Reason)).Inc()
}

func (m *Metrics) recordRollback(source string) {
	if m == nil {
		return
	}
	m.Rollbacks.WithLabelValues(source).Inc()
}

func (m *Metrics) recordExternalFailure(call string) {
	if m == nil {
		return
	}
	m.ExternalFailures.WithLabelValues(call).Inc()
}
