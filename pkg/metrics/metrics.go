// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "certwatch"

// Delivery outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics holds the certwatch collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	messages      prometheus.Counter
	skipped       prometheus.Counter
	extractErrors *prometheus.CounterVec // by kind
	evalErrors    prometheus.Counter
	matches       prometheus.Counter
	deliveries    *prometheus.CounterVec // by sink and outcome
	sessions      prometheus.Counter
	dialFailures  prometheus.Counter
	inFlight      prometheus.Gauge
	patterns      prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		messages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Feed messages received",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_skipped_total",
			Help:      "Feed messages ignored because they are not certificate updates",
		}),
		extractErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extract_errors_total",
			Help:      "Feed messages that could not be decoded",
		}, []string{"kind"}),
		evalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluation_errors_total",
			Help:      "Events with at least one pattern evaluation failure",
		}),
		matches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Domains matching at least one pattern",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Notification deliveries by sink and outcome",
		}, []string{"sink", "outcome"}),
		sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Feed connections established",
		}),
		dialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dial_failures_total",
			Help:      "Failed feed connection attempts",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "messages_in_flight",
			Help:      "Messages currently being processed",
		}),
		patterns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "patterns",
			Help:      "Compiled patterns",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messages, m.skipped, m.extractErrors, m.evalErrors, m.matches,
		m.deliveries, m.sessions, m.dialFailures, m.inFlight, m.patterns,
	)
	return m
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordMessage counts a received feed message.
func (m *Metrics) RecordMessage() {
	if m == nil {
		return
	}
	m.messages.Inc()
}

// RecordSkip counts a message that was not a certificate update.
func (m *Metrics) RecordSkip() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

// RecordExtractError counts an undecodable message by error kind.
func (m *Metrics) RecordExtractError(kind string) {
	if m == nil {
		return
	}
	m.extractErrors.WithLabelValues(kind).Inc()
}

// RecordEvalError counts an event whose evaluation reported errors.
func (m *Metrics) RecordEvalError() {
	if m == nil {
		return
	}
	m.evalErrors.Inc()
}

// RecordMatches counts matching domains.
func (m *Metrics) RecordMatches(n int) {
	if m == nil || n == 0 {
		return
	}
	m.matches.Add(float64(n))
}

// RecordDelivery counts one sink delivery.
func (m *Metrics) RecordDelivery(sink string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.deliveries.WithLabelValues(sink, outcome).Inc()
}

// RecordSession counts an established feed connection.
func (m *Metrics) RecordSession() {
	if m == nil {
		return
	}
	m.sessions.Inc()
}

// RecordDialFailure counts a failed connection attempt.
func (m *Metrics) RecordDialFailure() {
	if m == nil {
		return
	}
	m.dialFailures.Inc()
}

// AddInFlight adjusts the in-flight gauge by delta.
func (m *Metrics) AddInFlight(delta int) {
	if m == nil {
		return
	}
	m.inFlight.Add(float64(delta))
}

// SetPatterns records the size of the compiled pattern set.
func (m *Metrics) SetPatterns(n int) {
	if m == nil {
		return
	}
	m.patterns.Set(float64(n))
}
