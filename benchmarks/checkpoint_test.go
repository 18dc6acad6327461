package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/randalmurphal/medconsult/pkg/consult"
	"github.com/randalmurphal/medconsult/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/medconsult/pkg/flowgraph/llm"
)

// sessionCheckpoint is a consultation-sized checkpoint payload.
func sessionCheckpoint(b *testing.B, turns int) []byte {
	b.Helper()
	state := consult.State{QuestionCount: turns}
	for i := 0; i < turns; i++ {
		state.Messages = append(state.Messages,
			llm.UserMessage(fmt.Sprintf("I have had a headache for %d days and it gets worse in the evening.", i+1)),
			llm.AssistantMessage("Does anything make it better, such as rest or medication?"),
		)
	}
	data, err := json.Marshal(state)
	if err != nil {
		b.Fatal(err)
	}
	return data
}

func sqliteStore(b *testing.B) *checkpoint.SQLiteStore {
	b.Helper()
	store, err := checkpoint.NewSQLiteStore(filepath.Join(b.TempDir(), "bench.db"))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = store.Close() })
	return store
}

func benchmarkSave(b *testing.B, store checkpoint.Store) {
	ctx := context.Background()
	data := sessionCheckpoint(b, 10)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.Save(ctx, "session-1", nodeID(i%5), data)
	}
}

func benchmarkLatest(b *testing.B, store checkpoint.Store) {
	ctx := context.Background()
	if err := store.Save(ctx, "session-1", "question_node", sessionCheckpoint(b, 10)); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Latest(ctx, "session-1")
	}
}

// BenchmarkMemoryStore_Save measures in-memory checkpoint save.
func BenchmarkMemoryStore_Save(b *testing.B) {
	benchmarkSave(b, checkpoint.NewMemoryStore())
}

// BenchmarkMemoryStore_Latest measures in-memory latest-checkpoint load.
func BenchmarkMemoryStore_Latest(b *testing.B) {
	benchmarkLatest(b, checkpoint.NewMemoryStore())
}

// BenchmarkSQLiteStore_Save measures SQLite checkpoint save.
func BenchmarkSQLiteStore_Save(b *testing.B) {
	benchmarkSave(b, sqliteStore(b))
}

// BenchmarkSQLiteStore_Latest measures SQLite latest-checkpoint load.
func BenchmarkSQLiteStore_Latest(b *testing.B) {
	benchmarkLatest(b, sqliteStore(b))
}

// BenchmarkCachedStore_Latest measures a cache hit in front of SQLite.
func BenchmarkCachedStore_Latest(b *testing.B) {
	store, err := checkpoint.NewCachedStore(sqliteStore(b), 128)
	if err != nil {
		b.Fatal(err)
	}
	benchmarkLatest(b, store)
}

// BenchmarkStateUnmarshal measures checkpoint decoding for a long session.
func BenchmarkStateUnmarshal(b *testing.B) {
	data := sessionCheckpoint(b, 10)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var s consult.State
		_ = json.Unmarshal(data, &s)
	}
}
