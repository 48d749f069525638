// Package observability holds the prometheus metrics and OpenTelemetry
// tracing used by the completion loop and the HTTP surface.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects completion, model and tool metrics. A nil *Metrics
// records nothing.
type Metrics struct {
	// ModelRequests counts model calls.
	// Labels: outcome (finish reason, or "error")
	ModelRequests *prometheus.CounterVec

	// ModelDuration measures model call latency in seconds.
	ModelDuration prometheus.Histogram

	// ModelTokens counts tokens reported by the provider.
	// Labels: type (input|output)
	ModelTokens *prometheus.CounterVec

	// ToolCalls counts tool invocations.
	// Labels: tool, status (ok|invalid|forbidden|not_found|unauthorized|error)
	ToolCalls *prometheus.CounterVec

	// ToolDuration measures tool execution time in seconds.
	// Labels: tool
	ToolDuration *prometheus.HistogramVec

	// Completions counts finished completion requests.
	// Labels: outcome (ok|error)
	Completions *prometheus.CounterVec

	// CompletionRounds records how many model calls a request needed.
	CompletionRounds prometheus.Histogram

	// HTTPRequests counts HTTP API requests.
	// Labels: method, path, status_code
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry(); the daemon passes prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ModelRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liftcoach_model_requests_total",
				Help: "Total number of model calls by outcome",
			},
			[]string{"outcome"},
		),
		ModelDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "liftcoach_model_request_duration_seconds",
				Help:    "Duration of model calls in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		ModelTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liftcoach_model_tokens_total",
				Help: "Total number of tokens reported by the provider",
			},
			[]string{"type"},
		),
		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liftcoach_tool_calls_total",
				Help: "Total number of tool calls by tool and status",
			},
			[]string{"tool", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "liftcoach_tool_call_duration_seconds",
				Help:    "Duration of tool calls in seconds",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"tool"},
		),
		Completions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liftcoach_completions_total",
				Help: "Total number of completion requests by outcome",
			},
			[]string{"outcome"},
		),
		CompletionRounds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "liftcoach_completion_rounds",
				Help:    "Model calls needed per completion request",
				Buckets: []float64{1, 2, 3, 4, 6, 8, 12, 16},
			},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liftcoach_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
	}
}

// ObserveModelCall records one model call. outcome is the finish reason, or
// "error" when the call failed.
func (m *Metrics) ObserveModelCall(outcome string, inputTokens, outputTokens int, d time.Duration) {
	if m == nil {
		return
	}
	m.ModelRequests.WithLabelValues(outcome).Inc()
	m.ModelDuration.Observe(d.Seconds())
	if inputTokens > 0 {
		m.ModelTokens.WithLabelValues("input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.ModelTokens.WithLabelValues("output").Add(float64(outputTokens))
	}
}

// ObserveToolCall records one tool invocation.
func (m *Metrics) ObserveToolCall(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveCompletion records a finished completion request.
func (m *Metrics) ObserveCompletion(err error, rounds int) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Completions.WithLabelValues(outcome).Inc()
	m.CompletionRounds.Observe(float64(rounds))
}

// ObserveHTTP records one HTTP request.
func (m *Metrics) ObserveHTTP(method, path string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
}
