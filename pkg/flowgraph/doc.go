/*
Package flowgraph provides durable, graph-based orchestration for
conversational LLM workflows.

# Overview

A graph is a set of nodes connected by simple and conditional edges.
Each node reads the current state and returns a partial update; the
graph's reducer merges the update into the state. Execution happens on
threads: a thread is one independent conversation whose state is
checkpointed after every node, so a turn can stop at any node boundary
and the next turn picks up the saved state.

A node can suspend its thread with Interrupt. The thread then waits,
possibly for days, until Resume supplies a value that the same node
reads through Context.ResumeValue.

# Basic Usage

	type State struct {
	    Input  string
	    Output string
	}

	type Update struct {
	    Output *string
	}

	func merge(s State, u Update) State {
	    if u.Output != nil {
	        s.Output = *u.Output
	    }
	    return s
	}

	func process(ctx flowgraph.Context, s State) (Update, error) {
	    out := "Processed: " + s.Input
	    return Update{Output: &out}, nil
	}

	graph := flowgraph.NewGraph[State, Update](merge).
	    AddNode("process", process).
	    AddEdge("process", flowgraph.END).
	    SetEntry("process")

	compiled, err := graph.Compile()
	if err != nil {
	    log.Fatal(err)
	}

	store := checkpoint.NewMemoryStore()
	ctx := flowgraph.NewContext(context.Background())
	for ev, err := range compiled.Stream(ctx, "thread-1", Update{},
	    flowgraph.WithCheckpointing(store)) {
	    if err != nil {
	        log.Fatal(err)
	    }
	    fmt.Println(ev.NodeID)
	}

# Conditional Branching

Use conditional edges for decision points:

	graph.AddConditionalEdge("review", func(ctx flowgraph.Context, s State) string {
	    if s.Approved {
	        return "publish"
	    }
	    return "revise"
	})

The router sees the state after the source node's update was merged and
returns the ID of the next node or END. Unknown IDs are runtime errors.
Loops are protected by max iterations (default 1000).

# Interrupts

	func review(ctx flowgraph.Context, s State) (Update, error) {
	    v, ok := ctx.ResumeValue()
	    if !ok {
	        return Update{}, flowgraph.Interrupt(map[string]string{"draft": s.Output})
	    }
	    edited := v.(string)
	    return Update{Output: &edited}, nil
	}

The run that reaches review ends with an event whose Interrupt is set.
A later ResumeStream(ctx, threadID, "edited text", ...) re-enters review
and continues to END. Stream on a suspended thread fails with
ErrInterruptPending; Resume on a thread that is not suspended fails with
ErrNoPendingInterrupt.

# Concurrency

The engine does not lock threads. Callers must run at most one Stream or
Resume per thread at a time. Different threads can run concurrently on the
same CompiledGraph and store.

# Observability

	compiled.Stream(ctx, threadID, input,
	    flowgraph.WithCheckpointing(store),
	    flowgraph.WithObservabilityLogger(logger),
	    flowgraph.WithMetrics(observability.NewMetricsRecorder(meterProvider)),
	    flowgraph.WithTracing(observability.NewSpanManager(tracerProvider)))

Logs carry thread_id and node_id. OpenTelemetry metrics:
flowgraph.node.executions, flowgraph.node.latency_ms, flowgraph.graph.runs,
flowgraph.checkpoint.size_bytes, flowgraph.interrupts. Spans:
flowgraph.run > flowgraph.node.{id}.

# Error Handling

	var nodeErr *flowgraph.NodeError
	if errors.As(err, &nodeErr) {
	    log.Printf("node %s failed: %v", nodeErr.NodeID, nodeErr.Err)
	}

Panics in nodes are recovered and converted to PanicError with stack trace.
A failed node's update is discarded and nothing after it is checkpointed.

# Subpackages

  - checkpoint: thread checkpoint storage (memory, SQLite, LRU cache)
  - llm: model gateway with providers, retry, timeout and fallback
  - errors: error categories and retry with backoff
  - observability: logging, metrics and tracing helpers
*/
package flowgraph
