package observability

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestToolCallMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveToolCall("log_movement", "ok", 10*time.Millisecond)
	m.ObserveToolCall("log_movement", "ok", 20*time.Millisecond)
	m.ObserveToolCall("get_program", "not_found", time.Millisecond)

	expected := `
		# HELP liftcoach_tool_calls_total Total number of tool calls by tool and status
		# TYPE liftcoach_tool_calls_total counter
		liftcoach_tool_calls_total{status="not_found",tool="get_program"} 1
		liftcoach_tool_calls_total{status="ok",tool="log_movement"} 2
	`
	if err := testutil.CollectAndCompare(m.ToolCalls, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
	if count := testutil.CollectAndCount(m.ToolDuration); count != 2 {
		t.Errorf("expected 2 duration series, got %d", count)
	}
}

func TestModelCallMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveModelCall("tool_calls", 100, 20, time.Second)
	m.ObserveModelCall("stop", 120, 30, time.Second)
	m.ObserveModelCall("error", 0, 0, time.Second)

	if got := testutil.ToFloat64(m.ModelRequests.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 failed call, got %v", got)
	}
	if got := testutil.ToFloat64(m.ModelTokens.WithLabelValues("input")); got != 220 {
		t.Errorf("expected 220 input tokens, got %v", got)
	}
	if got := testutil.ToFloat64(m.ModelTokens.WithLabelValues("output")); got != 50 {
		t.Errorf("expected 50 output tokens, got %v", got)
	}
}

func TestCompletionMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveCompletion(nil, 2)
	m.ObserveCompletion(errors.New("boom"), 1)

	if got := testutil.ToFloat64(m.Completions.WithLabelValues("ok")); got != 1 {
		t.Errorf("expected 1 successful completion, got %v", got)
	}
	if got := testutil.ToFloat64(m.Completions.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 failed completion, got %v", got)
	}
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveToolCall("x", "ok", time.Second)
	m.ObserveModelCall("stop", 1, 1, time.Second)
	m.ObserveCompletion(nil, 1)
	m.ObserveHTTP("GET", "/health", 200)
}

func TestHTTPMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.ObserveHTTP("GET", "/health", 200)

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/health", "200")); got != 1 {
		t.Errorf("expected 1 request, got %v", got)
	}
}
