package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	flowerrors "github.com/randalmurphal/medconsult/pkg/flowgraph/errors"
)

// WithTimeout bounds every call to next by d. A call that runs out of time
// while the caller's context is still live fails with a retryable
// GatewayError wrapping a TimeoutError.
func WithTimeout(next Client, d time.Duration) Client {
	return ClientFunc(func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		resp, err := next.Complete(callCtx, req)
		if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, &GatewayError{
				Op:        "complete",
				Model:     req.Model,
				Err:       &flowerrors.TimeoutError{Operation: "chat completion", Duration: d.String()},
				Retryable: true,
			}
		}
		return resp, err
	})
}

// WithRetry retries retryable failures of next according to cfg.
func WithRetry(next Client, cfg flowerrors.RetryConfig) Client {
	if cfg.RetryableFunc == nil {
		cfg.RetryableFunc = IsRetryable
	}
	return ClientFunc(func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
		result := flowerrors.WithRetryContext(ctx, cfg, func(ctx context.Context) (*CompletionResponse, error) {
			return next.Complete(ctx, req)
		})
		return result.Value, result.Err
	})
}

// Observer is notified of every completed model call.
type Observer interface {
	ObserveCompletion(model string, duration time.Duration, err error)
	ObserveFallback(from, to string, err error)
}

// Instrument reports every call of next to obs under the given model name.
func Instrument(next Client, model string, obs Observer) Client {
	if obs == nil {
		return next
	}
	return ClientFunc(func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
		start := time.Now()
		resp, err := next.Complete(ctx, req)
		obs.ObserveCompletion(model, time.Since(start), err)
		return resp, err
	})
}

// Named pairs a client with the model name used in logs and errors.
type Named struct {
	Name   string
	Client Client
}

// Fallback sends requests to a primary model and, when it fails, repeats
// the same request once on a fallback model.
type Fallback struct {
	primary  Named
	fallback Named
	logger   *slog.Logger
	observer Observer
}

// FallbackOption configures a Fallback.
type FallbackOption func(*Fallback)

// WithFallbackLogger sets the logger used to report substitutions.
func WithFallbackLogger(logger *slog.Logger) FallbackOption {
	return func(f *Fallback) {
		f.logger = logger
	}
}

// WithFallbackObserver reports substitutions to obs.
func WithFallbackObserver(obs Observer) FallbackOption {
	return func(f *Fallback) {
		f.observer = obs
	}
}

// WithFallback composes primary and fallback into a Fallback executor.
func WithFallback(primary, fallback Named, opts ...FallbackOption) *Fallback {
	f := &Fallback{
		primary:  primary,
		fallback: fallback,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Complete implements Client. Each call starts on the primary model.
func (f *Fallback) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	resp, _, err := f.complete(ctx, req, false)
	return resp, err
}

// Sticky returns a client for one conversational turn: after the first
// primary failure every later call of the turn goes straight to the
// fallback model.
func (f *Fallback) Sticky() Client {
	var (
		mu       sync.Mutex
		switched bool
	)
	return ClientFunc(func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
		mu.Lock()
		useFallback := switched
		mu.Unlock()

		resp, didSwitch, err := f.complete(ctx, req, useFallback)
		if didSwitch {
			mu.Lock()
			switched = true
			mu.Unlock()
		}
		return resp, err
	})
}

func (f *Fallback) complete(ctx context.Context, req CompletionRequest, fallbackOnly bool) (*CompletionResponse, bool, error) {
	if !fallbackOnly {
		resp, err := f.primary.Client.Complete(ctx, req)
		if err == nil {
			return resp, false, nil
		}
		if ctx.Err() != nil {
			return nil, false, err
		}

		f.logger.Warn("primary model failed, switching to fallback",
			slog.String("primary", f.primary.Name),
			slog.String("fallback", f.fallback.Name),
			slog.String("error", err.Error()),
		)
		if f.observer != nil {
			f.observer.ObserveFallback(f.primary.Name, f.fallback.Name, err)
		}

		resp, fbErr := f.fallback.Client.Complete(ctx, req)
		if fbErr != nil {
			return nil, true, unavailable(f.fallback.Name, err, fbErr)
		}
		return resp, true, nil
	}

	resp, err := f.fallback.Client.Complete(ctx, req)
	if err != nil {
		return nil, true, unavailable(f.fallback.Name, nil, err)
	}
	return resp, true, nil
}

func unavailable(model string, primaryErr, fallbackErr error) error {
	if primaryErr != nil {
		return &GatewayError{
			Op:    "complete",
			Model: model,
			Err:   fmt.Errorf("%w: primary: %v; fallback: %w", ErrModelUnavailable, primaryErr, fallbackErr),
		}
	}
	return &GatewayError{
		Op:    "complete",
		Model: model,
		Err:   fmt.Errorf("%w: fallback: %w", ErrModelUnavailable, fallbackErr),
	}
}
