package flowgraph

import (
	"context"
	"sync"
	"testing"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/checkpoint"
)

// Test state types used across tests

// Counter is a simple state for testing incrementing.
type Counter struct {
	Value int
}

// Delta is the update type for Counter.
type Delta struct {
	Add int
}

func addDelta(s Counter, d Delta) Counter {
	s.Value += d.Add
	return s
}

// State is a more complex state for testing various scenarios.
type State struct {
	Step     int
	Progress []string
	Output   string
	Done     bool
	GoLeft   bool
	Count    int
}

// Update is the partial update type for State. Nil pointers leave the
// field unchanged; Progress is appended; Count is added.
type Update struct {
	Step     *int
	Progress []string
	Output   *string
	Done     *bool
	GoLeft   *bool
	Count    int
}

func mergeState(s State, u Update) State {
	if u.Step != nil {
		s.Step = *u.Step
	}
	if len(u.Progress) > 0 {
		s.Progress = append(append([]string(nil), s.Progress...), u.Progress...)
	}
	if u.Output != nil {
		s.Output = *u.Output
	}
	if u.Done != nil {
		s.Done = *u.Done
	}
	if u.GoLeft != nil {
		s.GoLeft = *u.GoLeft
	}
	s.Count += u.Count
	return s
}

func ptr[T any](v T) *T {
	return &v
}

// Helper node functions

// increment is a node that adds one to the counter.
func increment(ctx Context, s Counter) (Delta, error) {
	return Delta{Add: 1}, nil
}

// passthrough returns an empty update.
func passthrough(ctx Context, s State) (Update, error) {
	return Update{}, nil
}

// tracker records node executions and is safe for concurrent use.
type tracker struct {
	mu    sync.Mutex
	nodes []string
}

func (tr *tracker) add(name string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.nodes = append(tr.nodes, name)
}

func (tr *tracker) executed() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.nodes...)
}

// makeTrackingNode creates a node that records its execution.
func makeTrackingNode(name string, tr *tracker) NodeFunc[State, Update] {
	return func(ctx Context, s State) (Update, error) {
		tr.add(name)
		return Update{Progress: []string{name}}, nil
	}
}

// makeFailingNode creates a node that returns the given error.
func makeFailingNode(err error) NodeFunc[State, Update] {
	return func(ctx Context, s State) (Update, error) {
		return Update{Progress: []string{"failed"}}, err
	}
}

// makePanicNode creates a node that panics with the given value.
func makePanicNode(value any) NodeFunc[State, Update] {
	return func(ctx Context, s State) (Update, error) {
		panic(value)
	}
}

// testCtx creates a simple test context.
func testCtx() Context {
	return NewContext(context.Background())
}

// newStore returns a memory store closed at test cleanup.
func newStore(t *testing.T) *checkpoint.MemoryStore {
	t.Helper()
	store := checkpoint.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// linearCounter compiles a graph of n increment nodes named n1..nN.
func linearCounter(t *testing.T, names ...string) *CompiledGraph[Counter, Delta] {
	t.Helper()
	g := NewGraph[Counter, Delta](addDelta)
	for i, name := range names {
		g.AddNode(name, increment)
		if i+1 < len(names) {
			g.AddEdge(name, names[i+1])
		} else {
			g.AddEdge(name, END)
		}
	}
	g.SetEntry(names[0])

	compiled, err := g.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return compiled
}
