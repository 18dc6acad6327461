package responder

import (
	"log/slog"
	"time"
)

// Option configures a Responder.
type Option func(*Responder)

// WithMaxSteps caps the model calls of one turn.
func WithMaxSteps(n int) Option {
	return func(r *Responder) {
		r.maxSteps = n
	}
}

// WithToolRetry sets how failed tool calls are retried: up to maxRetries
// more attempts, waiting initial, then initial*factor, and so on.
func WithToolRetry(maxRetries int, initial time.Duration, factor float64) Option {
	return func(r *Responder) {
		if maxRetries < 0 {
			maxRetries = 0
		}
		r.retry = toolRetry(maxRetries, initial, factor)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Responder) {
		r.logger = logger
	}
}

// WithObserver reports tool retries and failures to obs.
func WithObserver(obs Observer) Option {
	return func(r *Responder) {
		r.observer = obs
	}
}
