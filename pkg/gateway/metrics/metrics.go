// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the assistant backend.
type Metrics struct {
	registry *prometheus.Registry

	// Dispatch metrics
	DispatchTotal  *prometheus.CounterVec
	ToolCallsTotal *prometheus.CounterVec

	// LLM metrics
	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec

	// OAuth metrics
	OAuthCallbacksTotal *prometheus.CounterVec

	// WebSocket metrics
	WSConnectionsActive *prometheus.GaugeVec

	// Rate limit metrics
	RateLimitHits *prometheus.CounterVec
}

// New creates a Metrics instance with every collector registered on a
// private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "vai_voice"
	}

	registry := prometheus.NewRegistry()

	dispatchTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Utterances handled, by dispatch path",
		},
		[]string{"path"},
	)

	toolCallsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool calls, by tool and outcome",
		},
		[]string{"tool", "status"},
	)

	llmRequestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "LLM provider attempts, by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	llmRequestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM provider attempt duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	oauthCallbacksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oauth_callbacks_total",
			Help:      "OAuth callbacks, by result",
		},
		[]string{"result"},
	)

	wsConnectionsActive := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections_active",
			Help:      "Open WebSocket connections, by channel",
		},
		[]string{"channel"},
	)

	rateLimitHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limit hits",
		},
		[]string{"limit_type"},
	)

	registry.MustRegister(
		dispatchTotal,
		toolCallsTotal,
		llmRequestsTotal,
		llmRequestDuration,
		oauthCallbacksTotal,
		wsConnectionsActive,
		rateLimitHits,
	)

	return &Metrics{
		registry:            registry,
		DispatchTotal:       dispatchTotal,
		ToolCallsTotal:      toolCallsTotal,
		LLMRequestsTotal:    llmRequestsTotal,
		LLMRequestDuration:  llmRequestDuration,
		OAuthCallbacksTotal: oauthCallbacksTotal,
		WSConnectionsActive: wsConnectionsActive,
		RateLimitHits:       rateLimitHits,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDispatch records one handled utterance.
func (m *Metrics) RecordDispatch(path string) {
	m.DispatchTotal.WithLabelValues(path).Inc()
}

// RecordTool records one tool call outcome.
func (m *Metrics) RecordTool(tool, status string) {
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordLLM records one provider attempt. Its signature matches llm.Observer.
func (m *Metrics) RecordLLM(provider, status string, elapsed time.Duration) {
	m.LLMRequestsTotal.WithLabelValues(provider, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// RecordOAuthCallback records a callback result.
func (m *Metrics) RecordOAuthCallback(result string) {
	m.OAuthCallbacksTotal.WithLabelValues(result).Inc()
}

// RecordWSOpen records a WebSocket connection opening.
func (m *Metrics) RecordWSOpen(channel string) {
	m.WSConnectionsActive.WithLabelValues(channel).Inc()
}

// RecordWSClose records a WebSocket connection closing.
func (m *Metrics) RecordWSClose(channel string) {
	m.WSConnectionsActive.WithLabelValues(channel).Dec()
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(limitType string) {
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}
