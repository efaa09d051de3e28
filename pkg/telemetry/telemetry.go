// Package telemetry exposes trapline's Prometheus metrics. One Metrics
// value is created at startup and threaded through the pipeline and the
// engagement components.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	TurnsTotal          *prometheus.CounterVec
	ScamDetectedTotal   *prometheus.CounterVec
	EntitiesExtracted   *prometheus.CounterVec
	LLMRequestsTotal    *prometheus.CounterVec
	DegradedTurnsTotal  *prometheus.CounterVec
	SessionsEnded       prometheus.Counter
	ActiveSessions      prometheus.Gauge
	TurnDuration        prometheus.Histogram
	LLMRequestDuration  *prometheus.HistogramVec
	CompletenessReached prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		TurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trapline_turns_total",
			Help: "Total processed turns by outcome",
		}, []string{"outcome"}),
		ScamDetectedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trapline_scam_detected_total",
			Help: "Turns flagged as scam, by category",
		}, []string{"category"}),
		EntitiesExtracted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trapline_entities_extracted_total",
			Help: "Newly collected intelligence entities by type and source",
		}, []string{"type", "source"}),
		LLMRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trapline_llm_requests_total",
			Help: "Outbound LLM requests by task and outcome",
		}, []string{"task", "outcome"}),
		DegradedTurnsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "trapline_degraded_turns_total",
			Help: "Turns that fell back to a degraded path, by component",
		}, []string{"component"}),
		SessionsEnded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "trapline_sessions_ended_total",
			Help: "Sessions that reached the terminal phase",
		}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "trapline_active_sessions",
			Help: "Sessions currently tracked by the store",
		}),
		TurnDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "trapline_turn_duration_seconds",
			Help:    "End-to-end turn processing time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5},
		}),
		LLMRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trapline_llm_request_duration_seconds",
			Help:    "Outbound LLM request latency by task",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 5},
		}, []string{"task"}),
		CompletenessReached: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "trapline_session_completeness",
			Help:    "Intelligence completeness score at session end",
			Buckets: []float64{0, 10, 25, 45, 60, 75, 90, 100},
		}),
	}
}

// The recording helpers below are nil-safe so components can run without
// metrics wired (tests, the one-shot CLI). A nil *Metrics records nothing.

// RecordTurn counts a completed turn and its end-to-end duration.
func (m *Metrics) RecordTurn(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(seconds)
}

// RecordScam counts a scam-flagged turn by category.
func (m *Metrics) RecordScam(category string) {
	if m == nil {
		return
	}
	m.ScamDetectedTotal.WithLabelValues(category).Inc()
}

// RecordEntities counts newly collected entities by type and source.
func (m *Metrics) RecordEntities(entityType, source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.EntitiesExtracted.WithLabelValues(entityType, source).Add(float64(n))
}

// RecordLLMRequest counts one outbound LLM request and its latency.
func (m *Metrics) RecordLLMRequest(task, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.LLMRequestsTotal.WithLabelValues(task, outcome).Inc()
	m.LLMRequestDuration.WithLabelValues(task).Observe(seconds)
}

// RecordDegraded counts a turn that fell back to a degraded path.
func (m *Metrics) RecordDegraded(component string) {
	if m == nil {
		return
	}
	m.DegradedTurnsTotal.WithLabelValues(component).Inc()
}

// RecordSessionEnded counts a terminal session and its final completeness.
func (m *Metrics) RecordSessionEnded(completeness float64) {
	if m == nil {
		return
	}
	m.SessionsEnded.Inc()
	m.CompletenessReached.Observe(completeness)
}

// SetActiveSessions reports the current session count from the store.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}
