package llm

import (
	"errors"
	"fmt"

	flowerrors "github.com/randalmurphal/medconsult/pkg/flowgraph/errors"
)

// ErrModelUnavailable is returned when both the primary and the fallback
// model failed the same request.
var ErrModelUnavailable = errors.New("model unavailable")

// GatewayError describes a failed model call.
type GatewayError struct {
	// Op is the operation ("complete", "transcribe", "synthesize").
	Op string
	// Model is the model the call was sent to.
	Model string
	// Err is the underlying error.
	Err error
	// Retryable reports whether retrying the same call may succeed.
	Retryable bool
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	return fmt.Sprintf("llm %s (%s): %v", e.Op, e.Model, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// newGatewayError classifies err and wraps it.
func newGatewayError(op, model string, err error) *GatewayError {
	return &GatewayError{
		Op:        op,
		Model:     model,
		Err:       err,
		Retryable: flowerrors.IsRetryable(err),
	}
}

// IsRetryable reports whether err came from a retryable model call.
func IsRetryable(err error) bool {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Retryable
	}
	return flowerrors.IsRetryable(err)
}
