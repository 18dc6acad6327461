package consult

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/medconsult/pkg/flowgraph"
)

// Option configures NewWorkflow and NewEngine.
type Option func(*settings)

type settings struct {
	prompts          Prompts
	maxQuestions     int
	decisionAttempts int
	logger           *slog.Logger
	sessionLocking   bool
	runOpts          []flowgraph.RunOption
}

func buildSettings(opts []Option) settings {
	s := settings{
		prompts:          DefaultPrompts(),
		maxQuestions:     DefaultMaxQuestions,
		decisionAttempts: DefaultDecisionAttempts,
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s settings) validate() error {
	if s.maxQuestions <= 0 {
		return fmt.Errorf("consult: max questions must be > 0, got %d", s.maxQuestions)
	}
	if s.decisionAttempts <= 0 {
		return fmt.Errorf("consult: decision attempts must be > 0, got %d", s.decisionAttempts)
	}
	return s.prompts.Validate()
}

// WithMaxQuestions caps the question rounds of a session. Once reached the
// workflow moves on to the summary.
func WithMaxQuestions(n int) Option {
	return func(s *settings) {
		s.maxQuestions = n
	}
}

// WithDecisionAttempts sets how many times the decision node asks the
// classifier before defaulting to QUESTION.
func WithDecisionAttempts(n int) Option {
	return func(s *settings) {
		s.decisionAttempts = n
	}
}

// WithPrompts replaces the prompt set.
func WithPrompts(p Prompts) Option {
	return func(s *settings) {
		s.prompts = p
	}
}

// WithLogger sets the logger handed to nodes and the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithSessionLocking serializes Run and Resume calls per session. Without
// it callers must not operate on one session concurrently.
func WithSessionLocking() Option {
	return func(s *settings) {
		s.sessionLocking = true
	}
}

// WithRunOptions passes extra options (metrics, tracing, iteration limit)
// to every workflow run.
func WithRunOptions(opts ...flowgraph.RunOption) Option {
	return func(s *settings) {
		s.runOpts = append(s.runOpts, opts...)
	}
}
