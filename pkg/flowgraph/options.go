package flowgraph

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/medconsult/pkg/flowgraph/observability"
)

// Iteration limits for WithMaxIterations.
const (
	DefaultMaxIterations = 1000
	MaxIterationsLimit   = 100000
)

// runConfig holds configuration for graph execution.
type runConfig struct {
	maxIterations int
	store         checkpoint.Store
	logger        *slog.Logger
	metrics       observability.MetricsRecorder
	spans         observability.SpanManager
	graphName     string
}

// defaultRunConfig returns the default execution configuration.
func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: DefaultMaxIterations,
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
		graphName:     "flowgraph",
	}
}

func buildRunConfig(opts []RunOption) runConfig {
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// RunOption configures execution behavior.
type RunOption func(*runConfig)

// WithMaxIterations sets the maximum number of node executions per run.
// Default: 1000
//
// This prevents infinite loops from hanging forever. If a run
// exceeds this limit, it fails with ErrMaxIterations.
//
// Panics if n <= 0 or n > MaxIterationsLimit.
func WithMaxIterations(n int) RunOption {
	if n <= 0 {
		panic("flowgraph: max iterations must be > 0")
	}
	if n > MaxIterationsLimit {
		panic(fmt.Sprintf("flowgraph: max iterations exceeds limit (%d)", MaxIterationsLimit))
	}
	return func(c *runConfig) {
		c.maxIterations = n
	}
}

// WithCheckpointing sets the store threads are loaded from and saved to.
// Required for every thread operation.
func WithCheckpointing(store checkpoint.Store) RunOption {
	return func(c *runConfig) {
		c.store = store
	}
}

// WithObservabilityLogger sets the logger for run and node lifecycle events.
// Without it no lifecycle events are logged.
func WithObservabilityLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		c.logger = logger
	}
}

// WithMetrics records run, node, checkpoint and interrupt metrics.
func WithMetrics(recorder observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if recorder != nil {
			c.metrics = recorder
		}
	}
}

// WithTracing creates a span per run and a child span per node.
func WithTracing(spans observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if spans != nil {
			c.spans = spans
		}
	}
}

// WithGraphName sets the name recorded on run spans.
func WithGraphName(name string) RunOption {
	return func(c *runConfig) {
		if name != "" {
			c.graphName = name
		}
	}
}
