package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/medconsult/pkg/flowgraph/observability"
)

// threadRun is the mutable state of one Stream or ResumeStream call.
type threadRun[S any] struct {
	ctx      *executionContext
	threadID string
	state    S
	current  string
	prev     string
	sequence int
	resume   *resumeInput
}

// Stream starts a new turn on a thread and returns its events.
//
// The thread's latest checkpointed state (zero state for a new thread) is
// merged with input, then execution starts at the entry point. Every
// completed node is merged, checkpointed and then yielded as one Event;
// the next node does not start before the consumer accepts the event.
// The sequence ends at END, at an interrupt, or at the first error, which
// is yielded once.
//
// The sequence is lazy: nothing runs until it is iterated. A consumer may
// stop early; checkpoints already saved stay valid and no further nodes run.
//
// Stream fails with ErrInterruptPending if the thread is suspended.
//
// Example:
//
//	for ev, err := range compiled.Stream(ctx, "session-1", input,
//	    flowgraph.WithCheckpointing(store)) {
//	    if err != nil {
//	        return err
//	    }
//	    if ev.Interrupted() {
//	        // ask the user, then call ResumeStream
//	    }
//	}
func (cg *CompiledGraph[S, U]) Stream(ctx Context, threadID string, input U, opts ...RunOption) iter.Seq2[Event[U], error] {
	return func(yield func(Event[U], error) bool) {
		cfg := buildRunConfig(opts)
		run, err := cg.startTurn(ctx, &cfg, threadID, input)
		if err != nil {
			yield(Event[U]{}, err)
			return
		}
		cg.execute(&cfg, run, yield)
	}
}

// Run is Stream without events. It returns the state after the last
// completed node. A run that suspends returns the state the interrupted
// node started with and a nil error; Snapshot reports the pending interrupt.
func (cg *CompiledGraph[S, U]) Run(ctx Context, threadID string, input U, opts ...RunOption) (S, error) {
	cfg := buildRunConfig(opts)
	run, err := cg.startTurn(ctx, &cfg, threadID, input)
	if err != nil {
		var zero S
		return zero, err
	}
	_, err = Drain(cg.events(&cfg, run))
	return run.state, err
}

func (cg *CompiledGraph[S, U]) events(cfg *runConfig, run *threadRun[S]) iter.Seq2[Event[U], error] {
	return func(yield func(Event[U], error) bool) {
		cg.execute(cfg, run, yield)
	}
}

func validateThreadOp(ctx Context, cfg *runConfig, threadID string) error {
	if ctx == nil {
		return ErrNilContext
	}
	if cfg.store == nil {
		return ErrStoreRequired
	}
	if threadID == "" {
		return ErrThreadIDRequired
	}
	return nil
}

func (cg *CompiledGraph[S, U]) startTurn(ctx Context, cfg *runConfig, threadID string, input U) (*threadRun[S], error) {
	if err := validateThreadOp(ctx, cfg, threadID); err != nil {
		return nil, err
	}

	run := &threadRun[S]{
		ctx:      asExecutionContext(ctx).forThread(threadID),
		threadID: threadID,
		current:  cg.entryPoint,
	}

	cp, state, err := cg.loadLatest(ctx, cfg.store, threadID)
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
	case err != nil:
		return nil, err
	case cp.Suspended():
		return nil, fmt.Errorf("%w: thread %s at node %s", ErrInterruptPending, threadID, cp.Interrupt.NodeID)
	default:
		run.state = state
		run.sequence = cp.Sequence
	}

	run.state = cg.reducer(run.state, input)
	return run, nil
}

// execute runs nodes from run.current until END, an interrupt, an error,
// or the consumer stops.
func (cg *CompiledGraph[S, U]) execute(cfg *runConfig, run *threadRun[S], yield func(Event[U], error) bool) {
	startTime := time.Now()
	observability.LogRunStart(cfg.logger, run.threadID, run.current, run.resume != nil)

	spanCtx, runSpan := cfg.spans.StartRunSpan(run.ctx, cfg.graphName, run.threadID)

	var (
		runErr      error
		suspendedAt string
		nodeCount   int
		iterations  int
	)
	defer func() {
		duration := time.Since(startTime)
		durationMs := float64(duration.Milliseconds())
		cfg.spans.EndSpanWithError(runSpan, runErr)

		switch {
		case runErr != nil:
			cfg.metrics.RecordGraphRun(spanCtx, observability.OutcomeFailed, duration)
			observability.LogRunError(cfg.logger, run.threadID, runErr, durationMs, run.current)
		case suspendedAt != "":
			cfg.metrics.RecordGraphRun(spanCtx, observability.OutcomeSuspended, duration)
			observability.LogRunSuspended(cfg.logger, run.threadID, suspendedAt, durationMs, nodeCount)
		case run.current != END:
			cfg.metrics.RecordGraphRun(spanCtx, observability.OutcomeAbandoned, duration)
		default:
			cfg.metrics.RecordGraphRun(spanCtx, observability.OutcomeCompleted, duration)
			observability.LogRunComplete(cfg.logger, run.threadID, durationMs, nodeCount)
		}
	}()

	fail := func(err error) {
		runErr = err
		yield(Event[U]{}, err)
	}

	for run.current != END {
		iterations++
		if iterations > cfg.maxIterations {
			fail(&MaxIterationsError{
				Max:        cfg.maxIterations,
				LastNodeID: run.current,
				State:      run.state,
			})
			return
		}

		if err := run.ctx.Err(); err != nil {
			fail(&CancellationError{
				NodeID: run.current,
				State:  run.state,
				Cause:  err,
			})
			return
		}

		nodeID := run.current
		observability.LogNodeStart(cfg.logger, nodeID)

		nodeSpanCtx, nodeSpan := cfg.spans.StartNodeSpan(spanCtx, nodeID)
		nodeCtx := run.ctx.forNode(nodeSpanCtx, nodeID, run.resume)

		nodeStart := time.Now()
		update, err := cg.executeNode(nodeCtx, nodeID, run.state)
		nodeDuration := time.Since(nodeStart)

		var interrupt *InterruptError
		if errors.As(err, &interrupt) {
			cfg.spans.EndSpanWithError(nodeSpan, nil)
			cfg.metrics.RecordInterrupt(nodeSpanCtx, nodeID)
			observability.LogInterrupt(cfg.logger, nodeID)

			info, err := cg.suspend(nodeSpanCtx, cfg, run, nodeID, interrupt.Payload)
			if err != nil {
				fail(err)
				return
			}
			suspendedAt = nodeID
			yield(Event[U]{NodeID: nodeID, Sequence: run.sequence, Interrupt: info}, nil)
			return
		}

		cfg.metrics.RecordNodeExecution(nodeSpanCtx, nodeID, nodeDuration, err)
		cfg.spans.EndSpanWithError(nodeSpan, err)

		if err != nil {
			observability.LogNodeError(cfg.logger, nodeID, err)
			if cause := run.ctx.Err(); cause != nil && errors.Is(err, cause) {
				err = &CancellationError{
					NodeID:       nodeID,
					State:        run.state,
					Cause:        cause,
					WasExecuting: true,
				}
			}
			fail(err)
			return
		}
		observability.LogNodeComplete(cfg.logger, nodeID, float64(nodeDuration.Milliseconds()))
		nodeCount++

		run.state = cg.reducer(run.state, update)
		run.resume = nil

		next, err := cg.nextNode(nodeCtx, run.state, nodeID)
		if err != nil {
			fail(err)
			return
		}

		if err := cg.saveCheckpoint(nodeSpanCtx, cfg, run, nodeID, next, nil); err != nil {
			fail(err)
			return
		}

		run.prev = nodeID
		run.current = next

		if !yield(Event[U]{NodeID: nodeID, Update: update, Sequence: run.sequence}, nil) {
			return
		}
	}
}

// suspend saves the thread as suspended at nodeID. The saved state is the
// state the node started with, and the node is also the next node.
func (cg *CompiledGraph[S, U]) suspend(ctx context.Context, cfg *runConfig, run *threadRun[S], nodeID string, payload any) (*InterruptInfo, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &CheckpointError{
			NodeID: nodeID,
			Op:     "serialize",
			Err:    fmt.Errorf("interrupt payload: %w", err),
		}
	}

	in := &checkpoint.Interrupt{NodeID: nodeID, Payload: raw}
	if err := cg.saveCheckpoint(ctx, cfg, run, nodeID, nodeID, in); err != nil {
		return nil, err
	}
	return interruptFromCheckpoint(in), nil
}

// saveCheckpoint persists run.state after nodeID. Saves ignore caller
// cancellation so a node that completed is always committed.
func (cg *CompiledGraph[S, U]) saveCheckpoint(ctx context.Context, cfg *runConfig, run *threadRun[S], nodeID, next string, in *checkpoint.Interrupt) error {
	stateBytes, err := json.Marshal(run.state)
	if err != nil {
		return &CheckpointError{
			NodeID: nodeID,
			Op:     "serialize",
			Err:    fmt.Errorf("%w: %v", ErrSerializeState, err),
		}
	}

	cp := checkpoint.New(run.threadID, nodeID, run.sequence+1, stateBytes, next).
		WithPrevNode(run.prev)
	switch {
	case in != nil:
		cp.WithInterrupt(in)
	case next == END:
		cp.WithStatus(checkpoint.StatusDone)
	}

	data, err := cp.Marshal()
	if err != nil {
		return &CheckpointError{
			NodeID: nodeID,
			Op:     "marshal",
			Err:    err,
		}
	}

	if err := cfg.store.Save(context.WithoutCancel(ctx), run.threadID, nodeID, data); err != nil {
		return &CheckpointError{
			NodeID: nodeID,
			Op:     "save",
			Err:    err,
		}
	}
	run.sequence = cp.Sequence

	observability.LogCheckpoint(cfg.logger, nodeID, len(data))
	cfg.metrics.RecordCheckpoint(ctx, nodeID, int64(len(data)))
	return nil
}

// executeNode executes a single node with panic recovery.
// Interrupts are returned unwrapped; other errors are wrapped in NodeError.
func (cg *CompiledGraph[S, U]) executeNode(ctx Context, nodeID string, state S) (update U, err error) {
	fn, exists := cg.getNode(nodeID)
	if !exists {
		return update, &NodeError{
			NodeID: nodeID,
			Op:     "lookup",
			Err:    fmt.Errorf("node not found: %s", nodeID),
		}
	}

	defer func() {
		if r := recover(); r != nil {
			var zero U
			update = zero
			err = &PanicError{
				NodeID: nodeID,
				Value:  r,
				Stack:  string(debug.Stack()),
			}
		}
	}()

	update, err = fn(ctx, state)
	if err != nil {
		var interrupt *InterruptError
		if errors.As(err, &interrupt) {
			return update, interrupt
		}
		return update, &NodeError{
			NodeID: nodeID,
			Op:     "execute",
			Err:    err,
		}
	}
	return update, nil
}

// nextNode determines the next node to execute.
// Checks conditional edges first, then simple edges.
func (cg *CompiledGraph[S, U]) nextNode(ctx Context, state S, current string) (string, error) {
	if router, exists := cg.getRouter(current); exists {
		next := router(ctx, state)

		if next == "" {
			return "", &RouterError{
				FromNode: current,
				Returned: next,
				Err:      ErrInvalidRouterResult,
			}
		}

		if next != END && !cg.HasNode(next) {
			return "", &RouterError{
				FromNode: current,
				Returned: next,
				Err:      ErrRouterTargetNotFound,
			}
		}

		return next, nil
	}

	edges := cg.edges[current]
	if len(edges) == 0 {
		return "", &NodeError{
			NodeID: current,
			Op:     "routing",
			Err:    fmt.Errorf("no outgoing edge from node %s", current),
		}
	}
	return edges[0], nil
}
