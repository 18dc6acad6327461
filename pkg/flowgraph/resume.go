package flowgraph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/checkpoint"
)

// ResumeStream continues a suspended thread and returns its events.
//
// The node that raised the interrupt runs again from the state it started
// with, and Context.ResumeValue returns value. Nodes that completed before
// the interrupt are never re-run. Execution then continues as in Stream.
//
// Fails with ErrNoPendingInterrupt if the thread is unknown or not suspended.
// The thread stays suspended until the resumed node completes.
func (cg *CompiledGraph[S, U]) ResumeStream(ctx Context, threadID string, value any, opts ...RunOption) iter.Seq2[Event[U], error] {
	return func(yield func(Event[U], error) bool) {
		cfg := buildRunConfig(opts)
		run, err := cg.startResume(ctx, &cfg, threadID, value)
		if err != nil {
			yield(Event[U]{}, err)
			return
		}
		cg.execute(&cfg, run, yield)
	}
}

// Resume is ResumeStream without events. It returns the state after the
// last completed node.
//
// Example:
//
//	final, err := compiled.Resume(ctx, "session-1", edited,
//	    flowgraph.WithCheckpointing(store))
func (cg *CompiledGraph[S, U]) Resume(ctx Context, threadID string, value any, opts ...RunOption) (S, error) {
	cfg := buildRunConfig(opts)
	run, err := cg.startResume(ctx, &cfg, threadID, value)
	if err != nil {
		var zero S
		return zero, err
	}
	_, err = Drain(cg.events(&cfg, run))
	return run.state, err
}

func (cg *CompiledGraph[S, U]) startResume(ctx Context, cfg *runConfig, threadID string, value any) (*threadRun[S], error) {
	if err := validateThreadOp(ctx, cfg, threadID); err != nil {
		return nil, err
	}

	cp, state, err := cg.loadLatest(ctx, cfg.store, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, fmt.Errorf("%w: thread %s has no checkpoints", ErrNoPendingInterrupt, threadID)
	}
	if err != nil {
		return nil, err
	}
	if !cp.Suspended() {
		return nil, fmt.Errorf("%w: thread %s is %s", ErrNoPendingInterrupt, threadID, cp.Status)
	}

	nodeID := cp.Interrupt.NodeID
	if !cg.HasNode(nodeID) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidResumeNode, nodeID)
	}

	return &threadRun[S]{
		ctx:      asExecutionContext(ctx).forThread(threadID),
		threadID: threadID,
		state:    state,
		current:  nodeID,
		prev:     cp.PrevNodeID,
		sequence: cp.Sequence,
		resume:   &resumeInput{value: value},
	}, nil
}

// Snapshot returns the latest checkpointed view of a thread.
// found is false for a thread that has no checkpoints.
func (cg *CompiledGraph[S, U]) Snapshot(ctx context.Context, threadID string, opts ...RunOption) (snap Snapshot[S], found bool, err error) {
	cfg := buildRunConfig(opts)
	if cfg.store == nil {
		return snap, false, ErrStoreRequired
	}
	if threadID == "" {
		return snap, false, ErrThreadIDRequired
	}

	cp, state, err := cg.loadLatest(ctx, cfg.store, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return snap, false, nil
	}
	if err != nil {
		return snap, false, err
	}

	return Snapshot[S]{
		State:     state,
		Status:    cp.Status,
		Next:      cp.NextNode,
		Interrupt: interruptFromCheckpoint(cp.Interrupt),
		Sequence:  cp.Sequence,
	}, true, nil
}

// State returns the latest checkpointed state of a thread.
// found is false for a thread that has no checkpoints.
func (cg *CompiledGraph[S, U]) State(ctx context.Context, threadID string, opts ...RunOption) (S, bool, error) {
	snap, found, err := cg.Snapshot(ctx, threadID, opts...)
	return snap.State, found, err
}

// loadLatest reads and decodes the latest checkpoint of a thread.
// Returns checkpoint.ErrNotFound (wrapped) for an unknown thread.
func (cg *CompiledGraph[S, U]) loadLatest(ctx context.Context, store checkpoint.Store, threadID string) (*checkpoint.Checkpoint, S, error) {
	var zero S

	data, err := store.Latest(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, zero, err
	}
	if err != nil {
		return nil, zero, fmt.Errorf("load thread %s: %w", threadID, err)
	}

	cp, err := checkpoint.Unmarshal(data)
	if err != nil {
		return nil, zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}

	if cp.Version != checkpoint.Version {
		return nil, zero, fmt.Errorf("%w: got %d, expected %d",
			ErrCheckpointVersionMismatch, cp.Version, checkpoint.Version)
	}

	var state S
	if err := json.Unmarshal(cp.State, &state); err != nil {
		return nil, zero, fmt.Errorf("%w: %v", ErrDeserializeState, err)
	}
	return cp, state, nil
}
