// Package responder implements the tool-augmented agent the question node
// delegates to: a model call loop that runs requested tools, retries failed
// tool invocations, and falls back to a second model for the rest of a turn.
package responder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/randalmurphal/medconsult/pkg/consult/toolset"
	flowerrors "github.com/randalmurphal/medconsult/pkg/flowgraph/errors"
	"github.com/randalmurphal/medconsult/pkg/flowgraph/llm"
)

// DefaultMaxSteps bounds model calls per turn.
const DefaultMaxSteps = 10

// Defaults for tool retries.
const (
	DefaultMaxRetries    = 3
	DefaultInitialDelay  = time.Second
	DefaultBackoffFactor = 2.0
)

// ErrMaxSteps is returned when the model keeps requesting tools past the
// step limit.
var ErrMaxSteps = errors.New("responder: too many tool steps")

// ToolError records a tool that failed on every attempt.
type ToolError struct {
	Tool     string
	Attempts int
	Err      error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s failed after %d attempts: %v", e.Tool, e.Attempts, e.Err)
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// Observer is notified of tool retries and terminal tool failures.
type Observer interface {
	ObserveToolRetry(tool string)
	ObserveToolFailure(tool string)
}

// Responder answers a conversation turn, running tools as the model asks.
// It is safe for concurrent use.
type Responder struct {
	model    llm.Client
	tools    map[string]toolset.Tool
	defs     []llm.Tool
	retry    flowerrors.RetryConfig
	maxSteps int
	logger   *slog.Logger
	observer Observer
}

// turnScoped is implemented by clients that keep per-turn state, such as
// *llm.Fallback.
type turnScoped interface {
	Sticky() llm.Client
}

// New discovers the provider's tools once and returns a Responder over
// model. When model is an *llm.Fallback, each turn gets its own sticky
// view so a primary failure switches the remainder of that turn only.
func New(ctx context.Context, model llm.Client, provider toolset.Provider, opts ...Option) (*Responder, error) {
	if model == nil {
		return nil, errors.New("responder: model is required")
	}

	r := &Responder{
		model:    model,
		tools:    make(map[string]toolset.Tool),
		maxSteps: DefaultMaxSteps,
		retry:    toolRetry(DefaultMaxRetries, DefaultInitialDelay, DefaultBackoffFactor),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.maxSteps <= 0 {
		return nil, fmt.Errorf("responder: max steps must be > 0, got %d", r.maxSteps)
	}

	if provider != nil {
		tools, err := provider.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("responder: list tools: %w", err)
		}
		for _, t := range tools {
			if _, dup := r.tools[t.Name]; dup {
				continue
			}
			r.tools[t.Name] = t
			r.defs = append(r.defs, t.Definition())
		}
	}
	return r, nil
}

// Tools returns the names of the tools offered to the model.
func (r *Responder) Tools() []string {
	names := make([]string, 0, len(r.defs))
	for _, d := range r.defs {
		names = append(names, d.Name)
	}
	return names
}

// Respond runs one turn and returns only the messages it produced: the
// assistant tool-call turns, the tool results, and the final answer.
func (r *Responder) Respond(ctx context.Context, system string, history []llm.Message) ([]llm.Message, error) {
	model := r.model
	if ts, ok := model.(turnScoped); ok {
		model = ts.Sticky()
	}

	msgs := slices.Clone(history)
	var produced []llm.Message

	for step := 0; step < r.maxSteps; step++ {
		resp, err := model.Complete(ctx, llm.CompletionRequest{
			SystemPrompt: system,
			Messages:     msgs,
			Tools:        r.defs,
		})
		if err != nil {
			return nil, err
		}

		reply := resp.Message()
		msgs = append(msgs, reply)
		produced = append(produced, reply)
		if len(resp.ToolCalls) == 0 {
			return produced, nil
		}

		for _, call := range resp.ToolCalls {
			result, err := r.invoke(ctx, call)
			if err != nil {
				return nil, err
			}
			msg := llm.ToolResultMessage(call, result)
			msgs = append(msgs, msg)
			produced = append(produced, msg)
		}
	}
	return nil, fmt.Errorf("%w: stopped after %d model calls", ErrMaxSteps, r.maxSteps)
}

// invoke runs one tool call. A tool that keeps failing yields a failure
// notice for the model instead of an error; only cancellation is returned.
func (r *Responder) invoke(ctx context.Context, call llm.ToolCall) (string, error) {
	tool, ok := r.tools[call.Name]
	if !ok {
		r.logger.Warn("model requested unknown tool", slog.String("tool", call.Name))
		return failureNotice(&ToolError{Tool: call.Name, Err: errors.New("no such tool")}), nil
	}

	cfg := r.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		r.logger.Warn("tool call failed, retrying",
			slog.String("tool", call.Name),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))
		if r.observer != nil {
			r.observer.ObserveToolRetry(call.Name)
		}
	}

	result := flowerrors.WithRetryContext(ctx, cfg, func(ctx context.Context) (string, error) {
		return tool.Invoke(ctx, call.Arguments)
	})
	if result.Err == nil {
		return result.Value, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	terr := &ToolError{Tool: call.Name, Attempts: result.Attempts, Err: result.Err}
	r.logger.Error("tool call failed", slog.String("tool", call.Name),
		slog.Int("attempts", result.Attempts), slog.String("error", result.Err.Error()))
	if r.observer != nil {
		r.observer.ObserveToolFailure(call.Name)
	}
	return failureNotice(terr), nil
}

func failureNotice(err *ToolError) string {
	return fmt.Sprintf("Tool %q is unavailable and returned no result (%v). Continue without it.", err.Tool, err.Err)
}

func toolRetry(maxRetries int, initial time.Duration, factor float64) flowerrors.RetryConfig {
	return flowerrors.NewRetryConfig(flowerrors.ToolRetry,
		flowerrors.WithMaxAttempts(maxRetries+1),
		flowerrors.WithInitialBackoff(initial),
		flowerrors.WithBackoffFactor(factor),
	)
}
