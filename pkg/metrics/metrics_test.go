package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/toolcall"
)

func TestMetricsRecord(t *testing.T) {
	m := MustNewMetrics(prometheus.NewRegistry())

	observe := m.ToolObserver()
	observe(&toolcall.ToolCall{ToolName: "numpy_calculator"}, core.ToolResult{Success: true}, 5*time.Millisecond)
	observe(&toolcall.ToolCall{ToolName: "numpy_calculator"}, core.ToolResult{Success: false}, time.Millisecond)
	observe(&toolcall.ToolCall{ToolName: "wolfram_alpha"}, core.ToolResult{Success: true}, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("numpy_calculator", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("numpy_calculator", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("wolfram_alpha", "success")))

	m.ObserveSolve(2, false)
	m.ObserveSolve(5, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.iterationLimit))
	assert.Equal(t, 1, testutil.CollectAndCount(m.solveIters))

	m.ObserveDecision("chat", false)
	m.ObserveDecision("math", false)
	m.ObserveDecision("math", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("chat")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("math")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks))
}

func TestMetricsReuseRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	first.ObserveDecision("chat", false)
	second.ObserveDecision("chat", false)
	assert.Equal(t, 2.0, testutil.ToFloat64(first.decisions.WithLabelValues("chat")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveTool("x", true, time.Second)
		m.ObserveSolve(1, true)
		m.ObserveDecision("math", true)
		m.ToolObserver()(&toolcall.ToolCall{ToolName: "x"}, core.ToolResult{}, 0)
	})
}
