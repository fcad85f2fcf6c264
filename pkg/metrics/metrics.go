// Package metrics exposes Prometheus collectors for solver, tool and routing
// activity. A nil *Metrics is valid and records nothing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/toolcall"
)

const namespace = "mathagent"

// Metrics implements modules.SolveObserver and agents.DecisionObserver.
type Metrics struct {
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	solveIters     prometheus.Histogram
	iterationLimit prometheus.Counter
	decisions      *prometheus.CounterVec
	fallbacks      prometheus.Counter
}

var (
	defaultMetricsOnce sync.Once
	sharedMetrics      *Metrics
)

// Default returns the instance registered with the global registry.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		sharedMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return sharedMetrics
}

// MustNewMetrics registers the collectors with reg, reusing collectors that
// are already registered. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "invocations_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "duration_seconds",
			Help:      "Tool execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		solveIters: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "iterations",
			Help:      "Tool iterations per generation loop.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5, 8, 13},
		}),
		iterationLimit: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "solver",
			Name:      "iteration_limit_total",
			Help:      "Generation loops stopped by the iteration bound.",
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "decisions_total",
			Help:      "Routing decisions by type.",
		}, []string{"type"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "fallbacks_total",
			Help:      "Decisions that could not be parsed and fell back to math.",
		}),
	}

	m.toolCalls = register(reg, m.toolCalls)
	m.toolDuration = register(reg, m.toolDuration)
	m.solveIters = register(reg, m.solveIters)
	m.iterationLimit = register(reg, m.iterationLimit)
	m.decisions = register(reg, m.decisions)
	m.fallbacks = register(reg, m.fallbacks)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveTool records one tool execution.
func (m *Metrics) ObserveTool(tool string, success bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ToolObserver adapts ObserveTool for toolcall.WithObserver.
func (m *Metrics) ToolObserver() func(*toolcall.ToolCall, core.ToolResult, time.Duration) {
	return func(call *toolcall.ToolCall, result core.ToolResult, elapsed time.Duration) {
		m.ObserveTool(call.ToolName, result.Success, elapsed)
	}
}

// ObserveSolve records the iteration count of a finished loop.
func (m *Metrics) ObserveSolve(iterations int, limited bool) {
	if m == nil {
		return
	}
	m.solveIters.Observe(float64(iterations))
	if limited {
		m.iterationLimit.Inc()
	}
}

// ObserveDecision records a routing outcome.
func (m *Metrics) ObserveDecision(decision string, fallback bool) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision).Inc()
	if fallback {
		m.fallbacks.Inc()
	}
}
