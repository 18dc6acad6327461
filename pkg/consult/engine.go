package consult

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/randalmurphal/medconsult/pkg/flowgraph"
	"github.com/randalmurphal/medconsult/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/medconsult/pkg/flowgraph/llm"
)

// ErrEmptyMessage is returned by Run for a blank message that does not
// request advice.
var ErrEmptyMessage = errors.New("empty message")

// Engine runs consultation sessions. Each session is a thread of the
// workflow, persisted in the checkpoint store.
type Engine struct {
	graph   *flowgraph.CompiledGraph[State, Update]
	store   checkpoint.Store
	logger  *slog.Logger
	prompts Prompts
	locks   *sessionLocks
	runOpts []flowgraph.RunOption
}

// NewEngine compiles the workflow and binds it to store.
func NewEngine(models Models, store checkpoint.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("consult: checkpoint store is required")
	}
	graph, err := NewWorkflow(models, opts...)
	if err != nil {
		return nil, err
	}

	s := buildSettings(opts)
	e := &Engine{
		graph:   graph,
		store:   store,
		logger:  s.logger,
		prompts: s.prompts,
		runOpts: append([]flowgraph.RunOption{
			flowgraph.WithCheckpointing(store),
			flowgraph.WithGraphName("consultation"),
			flowgraph.WithObservabilityLogger(s.logger),
		}, s.runOpts...),
	}
	if s.sessionLocking {
		e.locks = newSessionLocks()
	}
	return e, nil
}

// NewSessionID allocates an identifier for a fresh session. Clearing a
// conversation means switching to a new id; old sessions are never reset.
func NewSessionID() string {
	return uuid.NewString()
}

// Welcome returns the greeting shown at the start of a session.
func (e *Engine) Welcome() string {
	return e.prompts.Welcome
}

// Run submits one patient turn and returns the workflow events it causes.
// The sequence ends at END, at the review interrupt, or at the first error.
// A new session id starts a new session.
//
// A blank userText is accepted only together with skipToAdvice, in which
// case no message is added.
func (e *Engine) Run(ctx context.Context, sessionID, userText string, skipToAdvice bool) iter.Seq2[flowgraph.Event[Update], error] {
	return func(yield func(flowgraph.Event[Update], error) bool) {
		input := Update{SkipToAdvice: &skipToAdvice}
		switch {
		case strings.TrimSpace(userText) != "":
			input.Messages = []llm.Message{llm.UserMessage(userText)}
		case !skipToAdvice:
			yield(flowgraph.Event[Update]{}, ErrEmptyMessage)
			return
		}

		release, err := e.lock(ctx, sessionID)
		if err != nil {
			yield(flowgraph.Event[Update]{}, err)
			return
		}
		defer release()

		for ev, err := range e.graph.Stream(e.flowContext(ctx), sessionID, input, e.runOpts...) {
			if !yield(ev, err) {
				return
			}
		}
	}
}

// ResumeStream continues a session suspended at the summary review. A
// non-blank edited replaces the summary; a blank one keeps it.
// Fails with flowgraph.ErrNoPendingInterrupt when no review is pending.
func (e *Engine) ResumeStream(ctx context.Context, sessionID, edited string) iter.Seq2[flowgraph.Event[Update], error] {
	return func(yield func(flowgraph.Event[Update], error) bool) {
		release, err := e.lock(ctx, sessionID)
		if err != nil {
			yield(flowgraph.Event[Update]{}, err)
			return
		}
		defer release()

		for ev, err := range e.graph.ResumeStream(e.flowContext(ctx), sessionID, edited, e.runOpts...) {
			if !yield(ev, err) {
				return
			}
		}
	}
}

// Resume is ResumeStream returning the final state.
func (e *Engine) Resume(ctx context.Context, sessionID, edited string) (State, error) {
	release, err := e.lock(ctx, sessionID)
	if err != nil {
		return State{}, err
	}
	defer release()

	return e.graph.Resume(e.flowContext(ctx), sessionID, edited, e.runOpts...)
}

// GetQuestionCount returns the question rounds of a session so far. An
// unknown session, or one whose record cannot be read, counts 0.
func (e *Engine) GetQuestionCount(ctx context.Context, sessionID string) int {
	state, _, err := e.graph.State(ctx, sessionID, e.runOpts...)
	if err != nil {
		e.logger.Warn("read question count",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()))
		return 0
	}
	return state.QuestionCount
}

// Snapshot returns the latest checkpointed view of a session.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (flowgraph.Snapshot[State], bool, error) {
	return e.graph.Snapshot(ctx, sessionID, e.runOpts...)
}

// PendingReview returns the review request a session is suspended on.
func (e *Engine) PendingReview(ctx context.Context, sessionID string) (ReviewRequest, bool, error) {
	snap, found, err := e.Snapshot(ctx, sessionID)
	if err != nil || !found || !snap.Suspended() {
		return ReviewRequest{}, false, err
	}
	req, err := ReviewFromInterrupt(snap.Interrupt)
	if err != nil {
		return ReviewRequest{}, false, fmt.Errorf("session %s: %w", sessionID, err)
	}
	return req, true, nil
}

// DeleteSession removes every checkpoint of a session.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	return e.store.DeleteThread(ctx, sessionID)
}

func (e *Engine) lock(ctx context.Context, sessionID string) (func(), error) {
	if e.locks == nil {
		return func() {}, nil
	}
	release, err := e.locks.acquire(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("wait for session %s: %w", sessionID, err)
	}
	return release, nil
}

func (e *Engine) flowContext(ctx context.Context) flowgraph.Context {
	return flowgraph.NewContext(ctx, flowgraph.WithLogger(e.logger))
}
