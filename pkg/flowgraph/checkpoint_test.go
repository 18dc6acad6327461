package flowgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingStore fails Save after a number of successful saves.
type failingStore struct {
	checkpoint.Store
	saves     int
	failAfter int
	err       error
}

func (s *failingStore) Save(ctx context.Context, threadID, nodeID string, data []byte) error {
	if s.saves >= s.failAfter {
		return s.err
	}
	s.saves++
	return s.Store.Save(ctx, threadID, nodeID, data)
}

// TestCheckpoint_SaveFailureIsFatal tests that a failed save aborts the run.
func TestCheckpoint_SaveFailureIsFatal(t *testing.T) {
	errDisk := errors.New("disk full")
	store := &failingStore{Store: newStore(t), failAfter: 1, err: errDisk}

	tr := &tracker{}
	graph := NewGraph[State, Update](mergeState).
		AddNode("a", makeTrackingNode("a", tr)).
		AddNode("b", makeTrackingNode("b", tr)).
		AddNode("c", makeTrackingNode("c", tr)).
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", END).
		SetEntry("a")
	compiled, err := graph.Compile()
	require.NoError(t, err)

	var events []string
	var runErr error
	for ev, err := range compiled.Stream(testCtx(), "t1", Update{}, WithCheckpointing(store)) {
		if err != nil {
			runErr = err
			break
		}
		events = append(events, ev.NodeID)
	}

	var cpErr *CheckpointError
	require.ErrorAs(t, runErr, &cpErr)
	assert.Equal(t, "b", cpErr.NodeID)
	assert.Equal(t, "save", cpErr.Op)
	assert.ErrorIs(t, runErr, errDisk)

	assert.Equal(t, []string{"a"}, events, "no event for a node that was not checkpointed")
	assert.Equal(t, []string{"a", "b"}, tr.executed())
}

// unserializable cannot be encoded as JSON.
type unserializable struct {
	Ch chan int
}

// TestCheckpoint_StateSerializationFailure tests state encoding errors.
func TestCheckpoint_StateSerializationFailure(t *testing.T) {
	graph := NewGraph[unserializable, Delta](func(s unserializable, _ Delta) unserializable {
		s.Ch = make(chan int)
		return s
	}).
		AddNode("a", func(ctx Context, s unserializable) (Delta, error) { return Delta{}, nil }).
		AddEdge("a", END).
		SetEntry("a")
	compiled, err := graph.Compile()
	require.NoError(t, err)

	_, err = compiled.Run(testCtx(), "t1", Delta{}, WithCheckpointing(newStore(t)))

	var cpErr *CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "serialize", cpErr.Op)
	assert.ErrorIs(t, err, ErrSerializeState)
}

// TestCheckpoint_CorruptData tests loading garbage from the store.
func TestCheckpoint_CorruptData(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Save(context.Background(), "t1", "a", []byte("not json")))

	compiled := linearCounter(t, "a")

	_, err := compiled.Run(testCtx(), "t1", Delta{}, WithCheckpointing(store))
	assert.ErrorIs(t, err, ErrDeserializeState)

	_, _, err = compiled.Snapshot(context.Background(), "t1", WithCheckpointing(store))
	assert.ErrorIs(t, err, ErrDeserializeState)
}

// TestCheckpoint_VersionMismatch tests that old checkpoints are rejected.
func TestCheckpoint_VersionMismatch(t *testing.T) {
	store := newStore(t)
	cp := checkpoint.New("t1", "a", 1, []byte(`{"Value":3}`), END)
	cp.Version = checkpoint.Version - 1
	data, err := cp.Marshal()
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "t1", "a", data))

	compiled := linearCounter(t, "a")

	_, err = compiled.Run(testCtx(), "t1", Delta{}, WithCheckpointing(store))
	assert.ErrorIs(t, err, ErrCheckpointVersionMismatch)
}

// TestCheckpoint_PrevNodeRecorded tests PrevNodeID chaining.
func TestCheckpoint_PrevNodeRecorded(t *testing.T) {
	store := newStore(t)
	compiled := linearCounter(t, "a", "b")

	_, err := compiled.Run(testCtx(), "t1", Delta{}, WithCheckpointing(store))
	require.NoError(t, err)

	data, err := store.Load(context.Background(), "t1", "b")
	require.NoError(t, err)
	cp, err := checkpoint.Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, "a", cp.PrevNodeID)
	assert.Equal(t, "t1", cp.ThreadID)
	assert.JSONEq(t, `{"Value":2}`, string(cp.State))
}

// TestState_UnknownThread tests State on a thread with no checkpoints.
func TestState_UnknownThread(t *testing.T) {
	compiled := linearCounter(t, "a")

	s, found, err := compiled.State(context.Background(), "nobody", WithCheckpointing(newStore(t)))

	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, Counter{}, s)

	_, _, err = compiled.State(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrStoreRequired)
}

// TestCheckpoint_CachedStore tests the engine over the LRU cache decorator.
func TestCheckpoint_CachedStore(t *testing.T) {
	cached, err := checkpoint.NewCachedStore(newStore(t), 8)
	require.NoError(t, err)
	compiled := linearCounter(t, "a", "b")

	for i := 1; i <= 3; i++ {
		result, err := compiled.Run(testCtx(), "t1", Delta{}, WithCheckpointing(cached))
		require.NoError(t, err)
		assert.Equal(t, 2*i, result.Value)
	}
	assert.Equal(t, 1, cached.Cached())
}
