package checkpoint_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store1, err := checkpoint.NewSQLiteStore(dbPath)
	require.NoError(t, err)

	require.NoError(t, store1.Save(ctx, "thread-1", "node-a", []byte("first")))
	require.NoError(t, store1.Save(ctx, "thread-1", "node-b", []byte("persistent")))
	require.NoError(t, store1.Close())

	// Reopen the database
	store2, err := checkpoint.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store2.Close()

	data, err := store2.Latest(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("persistent"), data)

	// Sequence continues after reopen.
	require.NoError(t, store2.Save(ctx, "thread-1", "node-c", []byte("third")))
	infos, err := store2.List(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, 3, infos[2].Sequence)
}

func TestSQLiteStore_InvalidPath(t *testing.T) {
	_, err := checkpoint.NewSQLiteStore("/nonexistent/path/db.sqlite")
	assert.Error(t, err)
}

func TestSQLiteStore_CloseIdempotent(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)

	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	const numGoroutines = 50
	const numOps = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer wg.Done()

			threadID := "thread-" + string(rune('a'+id%26))
			for j := 0; j < numOps; j++ {
				nodeID := "node-" + string(rune('0'+j%10))

				switch j % 4 {
				case 0, 1:
					_ = store.Save(ctx, threadID, nodeID, []byte("data"))
				case 2:
					_, _ = store.Latest(ctx, threadID)
				case 3:
					_, _ = store.List(ctx, threadID)
				}
			}
		}(i)
	}

	wg.Wait()
}

func TestSQLiteStore_LargeData(t *testing.T) {
	ctx := context.Background()
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	largeData := make([]byte, 1024*1024)
	for i := range largeData {
		largeData[i] = byte(i % 256)
	}

	require.NoError(t, store.Save(ctx, "thread-1", "large", largeData))

	loaded, err := store.Load(ctx, "thread-1", "large")
	require.NoError(t, err)
	assert.Equal(t, largeData, loaded)

	infos, err := store.List(ctx, "thread-1")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, int64(1024*1024), infos[0].Size)
}

func TestSQLiteStore_FileCreated(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	store, err := checkpoint.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "thread-1", "node-a", []byte("x")))
	require.NoError(t, store.Close())

	info, err := os.Stat(dbPath)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestSQLiteStore_CanceledContext(t *testing.T) {
	store, err := checkpoint.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = store.Save(ctx, "thread-1", "node-a", []byte("x"))
	assert.Error(t, err)
}
