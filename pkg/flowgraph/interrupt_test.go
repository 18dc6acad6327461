package flowgraph

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reviewPayload struct {
	Draft string `json:"draft"`
}

// reviewGraph is draft -> review (interrupts) -> publish -> END.
// review sets Output to the resume value when it is a non-empty string.
func reviewGraph(t *testing.T, tr *tracker) *CompiledGraph[State, Update] {
	t.Helper()
	graph := NewGraph[State, Update](mergeState).
		AddNode("draft", func(ctx Context, s State) (Update, error) {
			tr.add("draft")
			return Update{Output: ptr("first draft")}, nil
		}).
		AddNode("review", func(ctx Context, s State) (Update, error) {
			tr.add("review")
			v, ok := ctx.ResumeValue()
			if !ok {
				return Update{Progress: []string{"discarded"}}, Interrupt(reviewPayload{Draft: s.Output})
			}
			if edited, _ := v.(string); edited != "" {
				return Update{Output: &edited, Progress: []string{"reviewed"}}, nil
			}
			return Update{Progress: []string{"reviewed"}}, nil
		}).
		AddNode("publish", func(ctx Context, s State) (Update, error) {
			tr.add("publish")
			_, resumed := ctx.ResumeValue()
			assert.False(t, resumed, "only the interrupted node sees the resume value")
			return Update{Done: ptr(true)}, nil
		}).
		AddEdge("draft", "review").
		AddEdge("review", "publish").
		AddEdge("publish", END).
		SetEntry("draft")

	compiled, err := graph.Compile()
	require.NoError(t, err)
	return compiled
}

// TestInterrupt_EndsRunWithInterruptEvent tests the suspension event.
func TestInterrupt_EndsRunWithInterruptEvent(t *testing.T) {
	tr := &tracker{}
	compiled := reviewGraph(t, tr)
	store := newStore(t)

	var events []Event[Update]
	for ev, err := range compiled.Stream(testCtx(), "t1", Update{}, WithCheckpointing(store)) {
		require.NoError(t, err)
		events = append(events, ev)
	}

	require.Len(t, events, 2)
	assert.Equal(t, "draft", events[0].NodeID)
	assert.False(t, events[0].Interrupted())

	last := events[1]
	require.True(t, last.Interrupted())
	assert.Equal(t, "review", last.NodeID)
	assert.Equal(t, "review", last.Interrupt.NodeID)
	assert.Empty(t, last.Update.Progress, "interrupt events carry no update")

	var payload reviewPayload
	require.NoError(t, last.Interrupt.Decode(&payload))
	assert.Equal(t, "first draft", payload.Draft)

	assert.Equal(t, []string{"draft", "review"}, tr.executed())
}

// TestInterrupt_SavesStateBeforeNode tests the suspended checkpoint.
func TestInterrupt_SavesStateBeforeNode(t *testing.T) {
	compiled := reviewGraph(t, &tracker{})
	store := newStore(t)
	opts := []RunOption{WithCheckpointing(store)}

	result, err := compiled.Run(testCtx(), "t1", Update{}, opts...)
	require.NoError(t, err)
	assert.Empty(t, result.Progress, "the interrupted node's update is discarded")

	snap, found, err := compiled.Snapshot(context.Background(), "t1", opts...)
	require.NoError(t, err)
	require.True(t, found)

	assert.True(t, snap.Suspended())
	assert.Equal(t, checkpoint.StatusSuspended, snap.Status)
	assert.Equal(t, "review", snap.Next)
	require.NotNil(t, snap.Interrupt)
	assert.Equal(t, "review", snap.Interrupt.NodeID)
	assert.Equal(t, "first draft", snap.State.Output)
	assert.Empty(t, snap.State.Progress)
}

// TestInterrupt_StreamWhileSuspended tests that no node runs until Resume.
func TestInterrupt_StreamWhileSuspended(t *testing.T) {
	tr := &tracker{}
	compiled := reviewGraph(t, tr)
	store := newStore(t)
	opts := []RunOption{WithCheckpointing(store)}

	_, err := compiled.Run(testCtx(), "t1", Update{}, opts...)
	require.NoError(t, err)

	_, err = compiled.Run(testCtx(), "t1", Update{}, opts...)
	assert.ErrorIs(t, err, ErrInterruptPending)
	assert.Equal(t, []string{"draft", "review"}, tr.executed())
}

// TestResume_WithValue tests resuming with an edited value.
func TestResume_WithValue(t *testing.T) {
	tr := &tracker{}
	compiled := reviewGraph(t, tr)
	store := newStore(t)
	opts := []RunOption{WithCheckpointing(store)}

	_, err := compiled.Run(testCtx(), "t1", Update{}, opts...)
	require.NoError(t, err)

	final, err := compiled.Resume(testCtx(), "t1", "edited draft", opts...)
	require.NoError(t, err)

	assert.Equal(t, "edited draft", final.Output)
	assert.Equal(t, []string{"reviewed"}, final.Progress)
	assert.True(t, final.Done)
	assert.Equal(t, []string{"draft", "review", "review", "publish"}, tr.executed(),
		"nodes completed before the interrupt are not re-run")

	snap, _, err := compiled.Snapshot(context.Background(), "t1", opts...)
	require.NoError(t, err)
	assert.Equal(t, checkpoint.StatusDone, snap.Status)
	assert.Nil(t, snap.Interrupt)
}

// TestResume_EmptyValueKeepsState tests resuming with an empty value.
func TestResume_EmptyValueKeepsState(t *testing.T) {
	compiled := reviewGraph(t, &tracker{})
	store := newStore(t)
	opts := []RunOption{WithCheckpointing(store)}

	_, err := compiled.Run(testCtx(), "t1", Update{}, opts...)
	require.NoError(t, err)

	final, err := compiled.Resume(testCtx(), "t1", "", opts...)
	require.NoError(t, err)
	assert.Equal(t, "first draft", final.Output)

	_, err = compiled.Run(testCtx(), "t2", Update{}, opts...)
	require.NoError(t, err)

	final, err = compiled.Resume(testCtx(), "t2", nil, opts...)
	require.NoError(t, err)
	assert.Equal(t, "first draft", final.Output)
}

// TestResumeStream_Events tests the events of a resumed run.
func TestResumeStream_Events(t *testing.T) {
	compiled := reviewGraph(t, &tracker{})
	store := newStore(t)
	opts := []RunOption{WithCheckpointing(store)}

	_, err := compiled.Run(testCtx(), "t1", Update{}, opts...)
	require.NoError(t, err)

	var nodes []string
	for ev, err := range compiled.ResumeStream(testCtx(), "t1", "x", opts...) {
		require.NoError(t, err)
		nodes = append(nodes, ev.NodeID)
	}
	assert.Equal(t, []string{"review", "publish"}, nodes)
}

// TestResume_NoPendingInterrupt tests Resume on threads that are not suspended.
func TestResume_NoPendingInterrupt(t *testing.T) {
	compiled := reviewGraph(t, &tracker{})
	store := newStore(t)
	opts := []RunOption{WithCheckpointing(store)}

	_, err := compiled.Resume(testCtx(), "unknown", "x", opts...)
	assert.ErrorIs(t, err, ErrNoPendingInterrupt)

	_, err = compiled.Run(testCtx(), "t1", Update{}, opts...)
	require.NoError(t, err)
	_, err = compiled.Resume(testCtx(), "t1", "x", opts...)
	require.NoError(t, err)

	_, err = compiled.Resume(testCtx(), "t1", "again", opts...)
	assert.ErrorIs(t, err, ErrNoPendingInterrupt, "an interrupt is consumed once")
}

// TestResume_FailedNodeStaysSuspended tests that a failing resumed node
// leaves the interrupt pending.
func TestResume_FailedNodeStaysSuspended(t *testing.T) {
	errBoom := errors.New("boom")
	var fail bool
	graph := NewGraph[State, Update](mergeState).
		AddNode("review", func(ctx Context, s State) (Update, error) {
			if _, ok := ctx.ResumeValue(); !ok {
				return Update{}, Interrupt("review?")
			}
			if fail {
				return Update{}, errBoom
			}
			return Update{Output: ptr("ok")}, nil
		}).
		AddEdge("review", END).
		SetEntry("review")
	compiled, err := graph.Compile()
	require.NoError(t, err)
	store := newStore(t)
	opts := []RunOption{WithCheckpointing(store)}

	_, err = compiled.Run(testCtx(), "t1", Update{}, opts...)
	require.NoError(t, err)

	fail = true
	_, err = compiled.Resume(testCtx(), "t1", "v", opts...)
	assert.ErrorIs(t, err, errBoom)

	snap, _, err := compiled.Snapshot(context.Background(), "t1", opts...)
	require.NoError(t, err)
	assert.True(t, snap.Suspended())

	fail = false
	final, err := compiled.Resume(testCtx(), "t1", "v", opts...)
	require.NoError(t, err)
	assert.Equal(t, "ok", final.Output)
}

// TestResume_InterruptAgain tests a resumed node that suspends again.
func TestResume_InterruptAgain(t *testing.T) {
	graph := NewGraph[State, Update](mergeState).
		AddNode("confirm", func(ctx Context, s State) (Update, error) {
			v, ok := ctx.ResumeValue()
			if !ok || v != "yes" {
				return Update{}, Interrupt("confirm?")
			}
			return Update{Done: ptr(true)}, nil
		}).
		AddEdge("confirm", END).
		SetEntry("confirm")
	compiled, err := graph.Compile()
	require.NoError(t, err)
	opts := []RunOption{WithCheckpointing(newStore(t))}

	_, err = compiled.Run(testCtx(), "t1", Update{}, opts...)
	require.NoError(t, err)

	pending, err := Drain(compiled.ResumeStream(testCtx(), "t1", "no", opts...))
	require.NoError(t, err)
	require.NotNil(t, pending)

	final, err := compiled.Resume(testCtx(), "t1", "yes", opts...)
	require.NoError(t, err)
	assert.True(t, final.Done)
}

// TestResume_InvalidResumeNode tests a checkpoint whose node no longer exists.
func TestResume_InvalidResumeNode(t *testing.T) {
	store := newStore(t)
	opts := []RunOption{WithCheckpointing(store)}

	cp := checkpoint.New("t1", "removed", 1, []byte(`{}`), "removed").
		WithInterrupt(&checkpoint.Interrupt{NodeID: "removed"})
	data, err := cp.Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "t1", "removed", data))

	compiled := reviewGraph(t, &tracker{})
	_, err = compiled.Resume(testCtx(), "t1", "x", opts...)
	assert.ErrorIs(t, err, ErrInvalidResumeNode)
}

// TestInterrupt_UnserializablePayload tests payload encoding failures.
func TestInterrupt_UnserializablePayload(t *testing.T) {
	graph := NewGraph[State, Update](mergeState).
		AddNode("bad", func(ctx Context, s State) (Update, error) {
			return Update{}, Interrupt(make(chan int))
		}).
		AddEdge("bad", END).
		SetEntry("bad")
	compiled, err := graph.Compile()
	require.NoError(t, err)
	store := newStore(t)

	_, err = compiled.Run(testCtx(), "t1", Update{}, WithCheckpointing(store))

	var cpErr *CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "bad", cpErr.NodeID)
	assert.Equal(t, "serialize", cpErr.Op)
	assert.Equal(t, 0, store.Len())
}

// TestResume_AcrossStoreReopen tests that a suspended thread survives a restart.
func TestResume_AcrossStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threads.db")
	compiled := reviewGraph(t, &tracker{})

	store, err := checkpoint.NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = compiled.Run(testCtx(), "t1", Update{}, WithCheckpointing(store))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := checkpoint.NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	final, err := compiled.Resume(testCtx(), "t1", "after restart", WithCheckpointing(reopened))
	require.NoError(t, err)
	assert.Equal(t, "after restart", final.Output)
	assert.True(t, final.Done)
}

// TestInterruptError tests the interrupt error helpers.
func TestInterruptError(t *testing.T) {
	err := Interrupt("payload")

	assert.True(t, IsInterrupt(err))
	assert.False(t, IsInterrupt(errors.New("other")))
	assert.Equal(t, "node interrupted", err.Error())

	var ie *InterruptError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "payload", ie.Payload)

	info := &InterruptInfo{NodeID: "n"}
	var v string
	assert.Error(t, info.Decode(&v))
}
