package checkpoint_test

import (
	"context"
	"sync"
	"testing"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Len(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	assert.Equal(t, 0, store.Len())

	require.NoError(t, store.Save(ctx, "thread-1", "node-a", []byte("a")))
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.Save(ctx, "thread-1", "node-b", []byte("b")))
	assert.Equal(t, 2, store.Len())

	require.NoError(t, store.Save(ctx, "thread-2", "node-a", []byte("x")))
	assert.Equal(t, 3, store.Len())

	require.NoError(t, store.Delete(ctx, "thread-1", "node-a"))
	assert.Equal(t, 2, store.Len())

	require.NoError(t, store.DeleteThread(ctx, "thread-1"))
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	const numGoroutines = 100
	const numOps = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()
			threadID := "thread-" + string(rune('a'+id%26))

			for j := 0; j < numOps; j++ {
				nodeID := "node-" + string(rune('0'+j%10))
				switch j % 5 {
				case 0, 1:
					_ = store.Save(ctx, threadID, nodeID, []byte("data"))
				case 2:
					_, _ = store.Latest(ctx, threadID)
				case 3:
					_, _ = store.List(ctx, threadID)
				case 4:
					_ = store.Delete(ctx, threadID, nodeID)
				}
			}
		}(i)
	}

	wg.Wait()
}

func TestMemoryStore_InfoMetadata(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	require.NoError(t, store.Save(ctx, "thread-1", "node-a", []byte("short")))

	infos, err := store.List(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, infos, 1)

	info := infos[0]
	assert.Equal(t, "thread-1", info.ThreadID)
	assert.Equal(t, "node-a", info.NodeID)
	assert.Equal(t, int64(5), info.Size)
	assert.False(t, info.Timestamp.IsZero())
}
