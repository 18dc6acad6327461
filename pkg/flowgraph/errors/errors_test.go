package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

func TestCategoryString(t *testing.T) {
	tests := []struct {
		category Category
		expected string
	}{
		{CategoryTransient, "transient"},
		{CategoryPermanent, "permanent"},
		{CategoryFallback, "fallback"},
		{Category(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.category.String(); got != tt.expected {
				t.Errorf("Category(%d).String() = %s, want %s", tt.category, got, tt.expected)
			}
		})
	}
}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"nil error", nil, CategoryPermanent},
		{"HTTP 408", &HTTPError{StatusCode: 408}, CategoryTransient},
		{"HTTP 429", &HTTPError{StatusCode: 429}, CategoryTransient},
		{"HTTP 503", &HTTPError{StatusCode: 503}, CategoryTransient},
		{"HTTP 504", &HTTPError{StatusCode: 504}, CategoryTransient},
		{"HTTP 500", &HTTPError{StatusCode: 500}, CategoryTransient},
		{"HTTP 401", &HTTPError{StatusCode: 401}, CategoryPermanent},
		{"HTTP 403", &HTTPError{StatusCode: 403}, CategoryPermanent},
		{"HTTP 400", &HTTPError{StatusCode: 400}, CategoryFallback},
		{"HTTP 404", &HTTPError{StatusCode: 404}, CategoryFallback},
		{"HTTP 409", &HTTPError{StatusCode: 409}, CategoryPermanent},
		{"wrapped HTTP 429", fmt.Errorf("openai: %w", &HTTPError{StatusCode: 429}), CategoryTransient},
		{"Timeout error", &TimeoutError{Operation: "api call", Duration: "30s"}, CategoryTransient},
		{"deadline exceeded", context.DeadlineExceeded, CategoryTransient},
		{"canceled", context.Canceled, CategoryPermanent},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, CategoryTransient},
		{"Categorized error", &CategorizedError{Category: CategoryTransient}, CategoryTransient},
		{"Unknown error", errors.New("unknown"), CategoryPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.err); got != tt.expected {
				t.Errorf("Categorize() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestCategorizedError(t *testing.T) {
	t.Run("error message with context", func(t *testing.T) {
		err := NewCategorized(errors.New("failed"), CategoryTransient, "api call")
		expected := "api call: failed (category: transient, attempts: 0)"
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})

	t.Run("error message without context", func(t *testing.T) {
		err := &CategorizedError{Err: errors.New("failed"), Category: CategoryTransient}
		if got := err.Error(); got != "failed (category: transient, attempts: 0)" {
			t.Errorf("Error() = %q", got)
		}
	})

	t.Run("unwrap", func(t *testing.T) {
		inner := errors.New("inner error")
		err := NewCategorized(inner, CategoryPermanent, "test")
		if !errors.Is(err, inner) {
			t.Error("Unwrap should return inner error")
		}
	})
}

func TestErrorConstructors(t *testing.T) {
	inner := errors.New("test error")

	if err := Transient(inner, "context"); err.Category != CategoryTransient {
		t.Errorf("Category = %s, want transient", err.Category)
	}
	if err := Permanent(inner, "context"); err.Category != CategoryPermanent {
		t.Errorf("Category = %s, want permanent", err.Category)
	}
}

func TestHTTPError(t *testing.T) {
	t.Run("with endpoint", func(t *testing.T) {
		err := &HTTPError{StatusCode: 500, Message: "internal error", Endpoint: "/chat/completions"}
		expected := "HTTP 500 at /chat/completions: internal error"
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})

	t.Run("without endpoint", func(t *testing.T) {
		err := &HTTPError{StatusCode: 404, Message: "not found"}
		expected := "HTTP 404: not found"
		if got := err.Error(); got != expected {
			t.Errorf("Error() = %q, want %q", got, expected)
		}
	})
}

func TestHelperFunctions(t *testing.T) {
	transient := &HTTPError{StatusCode: 429}
	badRequest := &HTTPError{StatusCode: 400}
	permanent := &HTTPError{StatusCode: 401}

	t.Run("IsRetryable", func(t *testing.T) {
		if !IsRetryable(transient) {
			t.Error("429 should be retryable")
		}
		if IsRetryable(badRequest) {
			t.Error("400 should not be retryable")
		}
	})

	t.Run("IsFallbackEligible", func(t *testing.T) {
		if !IsFallbackEligible(transient) {
			t.Error("429 should allow fallback")
		}
		if !IsFallbackEligible(badRequest) {
			t.Error("400 should allow fallback")
		}
		if IsFallbackEligible(permanent) {
			t.Error("401 should not allow fallback")
		}
	})
}

func TestWithRetry(t *testing.T) {
	t.Run("success on first try", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(DefaultRetry, WithMaxAttempts(3))
		result := WithRetry(cfg, func() (string, error) {
			calls++
			return "success", nil
		})

		if result.Err != nil {
			t.Errorf("Unexpected error: %v", result.Err)
		}
		if result.Value != "success" {
			t.Errorf("Value = %q, want %q", result.Value, "success")
		}
		if result.Attempts != 1 {
			t.Errorf("Attempts = %d, want 1", result.Attempts)
		}
		if calls != 1 {
			t.Errorf("Calls = %d, want 1", calls)
		}
	})

	t.Run("success on retry", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(DefaultRetry,
			WithMaxAttempts(3),
			WithInitialBackoff(1*time.Millisecond),
		)
		result := WithRetry(cfg, func() (string, error) {
			calls++
			if calls < 2 {
				return "", &HTTPError{StatusCode: 503} // transient
			}
			return "success", nil
		})

		if result.Err != nil {
			t.Errorf("Unexpected error: %v", result.Err)
		}
		if result.Attempts != 2 {
			t.Errorf("Attempts = %d, want 2", result.Attempts)
		}
	})

	t.Run("max attempts exceeded", func(t *testing.T) {
		cfg := NewRetryConfig(DefaultRetry,
			WithMaxAttempts(3),
			WithInitialBackoff(1*time.Millisecond),
		)
		result := WithRetry(cfg, func() (string, error) {
			return "", &HTTPError{StatusCode: 503}
		})

		if result.Err == nil {
			t.Error("Expected error after max attempts")
		}
		if result.Attempts != 3 {
			t.Errorf("Attempts = %d, want 3", result.Attempts)
		}
		var httpErr *HTTPError
		if !errors.As(result.Err, &httpErr) {
			t.Error("final error should wrap the last attempt's error")
		}
	})

	t.Run("non-retryable error stops immediately", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(DefaultRetry, WithMaxAttempts(3))
		result := WithRetry(cfg, func() (string, error) {
			calls++
			return "", &HTTPError{StatusCode: 401} // permanent
		})

		if result.Err == nil {
			t.Error("Expected error")
		}
		if calls != 1 {
			t.Errorf("Calls = %d, want 1 (should not retry permanent error)", calls)
		}
	})

	t.Run("custom retryable func", func(t *testing.T) {
		calls := 0
		cfg := NewRetryConfig(DefaultRetry,
			WithMaxAttempts(3),
			WithInitialBackoff(1*time.Millisecond),
			WithRetryableFunc(func(_ error) bool { return true }), // retry everything
		)
		result := WithRetry(cfg, func() (string, error) {
			calls++
			return "", &HTTPError{StatusCode: 401}
		})

		if calls != 3 {
			t.Errorf("Calls = %d, want 3 (custom func should retry)", calls)
		}
		if result.Attempts != 3 {
			t.Errorf("Attempts = %d, want 3", result.Attempts)
		}
	})
}

func TestWithRetry_BackoffSchedule(t *testing.T) {
	var delays []time.Duration
	var attempts []int

	cfg := NewRetryConfig(ToolRetry,
		WithInitialBackoff(1*time.Millisecond),
		WithOnRetry(func(attempt int, _ error, delay time.Duration) {
			attempts = append(attempts, attempt)
			delays = append(delays, delay)
		}),
	)

	calls := 0
	result := WithRetry(cfg, func() (int, error) {
		calls++
		return 0, errors.New("tool crashed")
	})

	if result.Err == nil {
		t.Fatal("expected error")
	}
	// One initial attempt plus three retries.
	if calls != 4 {
		t.Errorf("Calls = %d, want 4", calls)
	}
	want := []time.Duration{1 * time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
		if attempts[i] != i+1 {
			t.Errorf("attempt[%d] = %d, want %d", i, attempts[i], i+1)
		}
	}
}

func TestWithRetryContext(t *testing.T) {
	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel() // cancel immediately

		cfg := NewRetryConfig(DefaultRetry, WithMaxAttempts(3))
		result := WithRetryContext(ctx, cfg, func(_ context.Context) (string, error) {
			return "never reached", nil
		})

		if result.Err == nil {
			t.Error("Expected error from cancelled context")
		}
		if !errors.Is(result.Err, context.Canceled) {
			t.Errorf("Err = %v, want context.Canceled", result.Err)
		}
	})

	t.Run("cancellation during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0

		cfg := NewRetryConfig(DefaultRetry,
			WithMaxAttempts(5),
			WithInitialBackoff(100*time.Millisecond),
		)

		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		result := WithRetryContext(ctx, cfg, func(_ context.Context) (string, error) {
			calls++
			return "", &HTTPError{StatusCode: 503}
		})

		if result.Err == nil {
			t.Error("Expected error from cancelled context")
		}
		if calls > 2 {
			t.Errorf("Calls = %d, expected <= 2 (should cancel during backoff)", calls)
		}
	})
}

func TestNewRetryConfig(t *testing.T) {
	cfg := NewRetryConfig(DefaultRetry,
		WithMaxAttempts(5),
		WithInitialBackoff(2*time.Second),
		WithMaxBackoff(60*time.Second),
		WithBackoffFactor(3.0),
		WithJitter(0.2),
	)

	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 2*time.Second {
		t.Errorf("InitialBackoff = %v, want 2s", cfg.InitialBackoff)
	}
	if cfg.MaxBackoff != 60*time.Second {
		t.Errorf("MaxBackoff = %v, want 60s", cfg.MaxBackoff)
	}
	if cfg.BackoffFactor != 3.0 {
		t.Errorf("BackoffFactor = %f, want 3.0", cfg.BackoffFactor)
	}
	if cfg.Jitter != 0.2 {
		t.Errorf("Jitter = %f, want 0.2", cfg.Jitter)
	}
}
