package flowgraph

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/observability"
)

// Context provides execution context to nodes.
// It extends context.Context with flowgraph-specific services and metadata.
//
// Context is immutable after creation. The executor creates derived contexts
// for each node with updated NodeID and enriched logger.
type Context interface {
	context.Context

	// Logger returns the configured logger, enriched with thread and node
	// context during execution. Never returns nil.
	Logger() *slog.Logger

	// ThreadID returns the thread being executed.
	// Empty string outside of execution.
	ThreadID() string

	// NodeID returns the current node being executed.
	// Empty string before execution starts.
	NodeID() string

	// ResumeValue returns the value passed to Resume. It is only set for
	// the node that raised the interrupt, on the run that resumes it.
	ResumeValue() (any, bool)
}

type executionContext struct {
	context.Context

	logger      *slog.Logger
	threadID    string
	nodeID      string
	resumeValue any
	resumed     bool
}

func (c *executionContext) Logger() *slog.Logger {
	return c.logger
}

func (c *executionContext) ThreadID() string {
	return c.threadID
}

func (c *executionContext) NodeID() string {
	return c.nodeID
}

func (c *executionContext) ResumeValue() (any, bool) {
	return c.resumeValue, c.resumed
}

// ContextOption configures a Context.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
// The logger will be enriched with thread_id and node_id during execution.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewContext creates an execution context from a standard context.
//
// Example:
//
//	ctx := flowgraph.NewContext(context.Background(),
//	    flowgraph.WithLogger(myLogger))
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

// asExecutionContext adapts any Context so the executor can derive
// per-node contexts from it.
func asExecutionContext(ctx Context) *executionContext {
	if ec, ok := ctx.(*executionContext); ok {
		return ec
	}
	return &executionContext{
		Context:  ctx,
		logger:   ctx.Logger(),
		threadID: ctx.ThreadID(),
		nodeID:   ctx.NodeID(),
	}
}

// forThread returns a copy bound to threadID.
func (c *executionContext) forThread(threadID string) *executionContext {
	return &executionContext{
		Context:  c.Context,
		logger:   c.logger,
		threadID: threadID,
	}
}

// forNode returns the context a node runs with: parent carries the node
// span, the logger gains thread_id and node_id, and the resume value is
// attached when the node is being resumed.
func (c *executionContext) forNode(parent context.Context, nodeID string, resume *resumeInput) *executionContext {
	nc := &executionContext{
		Context:  parent,
		logger:   observability.EnrichLogger(c.logger, c.threadID, nodeID),
		threadID: c.threadID,
		nodeID:   nodeID,
	}
	if resume != nil {
		nc.resumeValue = resume.value
		nc.resumed = true
	}
	return nc
}

// resumeInput carries a resume value to the interrupted node.
type resumeInput struct {
	value any
}
