package consult

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/medconsult/pkg/flowgraph"
	"github.com/randalmurphal/medconsult/pkg/flowgraph/checkpoint"
	"github.com/randalmurphal/medconsult/pkg/flowgraph/llm"
)

// fakeResponder answers every turn with the next scripted reply, or a
// numbered default question.
type fakeResponder struct {
	mu      sync.Mutex
	replies [][]llm.Message
	err     error
	calls   int
	systems []string
	seen    [][]llm.Message
}

func (f *fakeResponder) Respond(_ context.Context, system string, history []llm.Message) ([]llm.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	f.systems = append(f.systems, system)
	f.seen = append(f.seen, history)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.replies) > 0 {
		reply := f.replies[0]
		f.replies = f.replies[1:]
		return reply, nil
	}
	return []llm.Message{llm.AssistantMessage("Any other symptoms?")}, nil
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, models Models, opts ...Option) (*Engine, *checkpoint.MemoryStore) {
	t.Helper()
	store := checkpoint.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	engine, err := NewEngine(models, store, opts...)
	require.NoError(t, err)
	return engine, store
}

// runTurn drains one Run and returns the completed node ids and the pending
// interrupt, if any.
func runTurn(t *testing.T, e *Engine, sessionID, text string, skip bool) ([]string, *flowgraph.InterruptInfo) {
	t.Helper()
	var (
		nodes   []string
		pending *flowgraph.InterruptInfo
	)
	for ev, err := range e.Run(context.Background(), sessionID, text, skip) {
		require.NoError(t, err)
		nodes = append(nodes, ev.NodeID)
		if ev.Interrupted() {
			pending = ev.Interrupt
		}
	}
	return nodes, pending
}

func nodeContext() flowgraph.Context {
	return flowgraph.NewContext(context.Background(), flowgraph.WithLogger(discardLogger()))
}
