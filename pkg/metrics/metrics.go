// Package metrics exports the coordination core's operational counters
// and gauges through a dedicated Prometheus registry.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeready-toolchain/huddle/pkg/events"
)

const namespace = "huddle"

// Metrics owns the registry and every instrument. A nil *Metrics is
// valid everywhere: every method no-ops, so components that count
// things take it optionally.
type Metrics struct {
	registry *prometheus.Registry

	eventsPublished   *prometheus.CounterVec
	conflictOutcomes  *prometheus.CounterVec
	promptTransitions *prometheus.CounterVec
	webhookDeliveries *prometheus.CounterVec
	invocations       *prometheus.CounterVec
	responseDuration  *prometheus.HistogramVec
	responseFailures  *prometheus.CounterVec

	unsubscribe func()
}

// New creates the registry and registers every instrument.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{registry: registry}

	m.eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events published on the bus, by kind.",
		},
		[]string{"kind"},
	)

	m.conflictOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_outcomes_total",
			Help:      "Optimistic-concurrency outcomes: detected, resolved, rejected.",
		},
		[]string{"outcome"},
	)

	m.promptTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prompt_transitions_total",
			Help:      "Prompt lifecycle transitions: queued, started, completed, cancelled, reordered.",
		},
		[]string{"transition"},
	)

	m.webhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Inbound webhook deliveries, by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	m.invocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_invocations_total",
			Help:      "Agent invocations made by the dispatcher, by outcome.",
		},
		[]string{"outcome"},
	)

	m.responseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "response_post_duration_seconds",
			Help:      "Outbound response posting duration, by integration.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"integration"},
	)

	m.responseFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_post_failures_total",
			Help:      "Outbound response posting failures, by integration.",
		},
		[]string{"integration"},
	)

	registry.MustRegister(
		m.eventsPublished,
		m.conflictOutcomes,
		m.promptTransitions,
		m.webhookDeliveries,
		m.invocations,
		m.responseDuration,
		m.responseFailures,
	)

	return m
}

// ObserveBus counts every published event by kind, with conflict and
// prompt breakdowns on top. Call once at wiring time.
func (m *Metrics) ObserveBus(bus *events.Bus) {
	if m == nil {
		return
	}
	m.unsubscribe = bus.Subscribe(func(evt events.Event) {
		kind := string(evt.Kind())
		m.eventsPublished.WithLabelValues(kind).Inc()
		switch {
		case strings.HasPrefix(kind, "conflict."):
			m.conflictOutcomes.WithLabelValues(strings.TrimPrefix(kind, "conflict.")).Inc()
		case strings.HasPrefix(kind, "prompt."):
			m.promptTransitions.WithLabelValues(strings.TrimPrefix(kind, "prompt.")).Inc()
		}
	})
}

// Close detaches the bus subscription.
func (m *Metrics) Close() {
	if m == nil || m.unsubscribe == nil {
		return
	}
	m.unsubscribe()
}

// RegisterSessionsGauge exposes the live session count. count is called
// on every scrape.
func (m *Metrics) RegisterSessionsGauge(count func() int) {
	m.registerGauge("sessions_active", "Sessions currently held by the store.", count)
}

// RegisterConnectionsGauge exposes the live WebSocket connection count.
func (m *Metrics) RegisterConnectionsGauge(count func() int) {
	m.registerGauge("gateway_connections_active", "WebSocket connections currently registered.", count)
}

// RegisterQueueDepthGauge exposes the total queued prompts across all
// sessions.
func (m *Metrics) RegisterQueueDepthGauge(depth func() int) {
	m.registerGauge("prompt_queue_depth", "Prompts queued across all sessions.", depth)
}

// RegisterMappingsGauge exposes one integration's live mapping count.
func (m *Metrics) RegisterMappingsGauge(integration string, count func() int) {
	m.registerGauge(integration+"_mappings_active", "Live "+integration+" mappings.", count)
}

func (m *Metrics) registerGauge(name, help string, value func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		func() float64 { return float64(value()) },
	))
}

// ObserveWebhook counts one inbound webhook delivery. outcome is ok,
// ignored, invalid or unauthorized.
func (m *Metrics) ObserveWebhook(source, outcome string) {
	if m == nil {
		return
	}
	m.webhookDeliveries.WithLabelValues(source, outcome).Inc()
}

// ObserveInvocation counts one dispatcher invocation outcome.
func (m *Metrics) ObserveInvocation(outcome string) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(outcome).Inc()
}

// ObserveResponsePost records one outbound response attempt.
func (m *Metrics) ObserveResponsePost(integration string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.responseDuration.WithLabelValues(integration).Observe(d.Seconds())
	if err != nil {
		m.responseFailures.WithLabelValues(integration).Inc()
	}
}

// Handler returns the scrape handler for the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
