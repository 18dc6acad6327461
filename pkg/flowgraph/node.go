package flowgraph

// END is the terminal node identifier.
// Use this as an edge target to indicate the graph should terminate.
const END = "__end__"

// NodeFunc is the signature for all node functions.
// Nodes receive the execution context and the current state and return a
// partial update. The engine merges the update into the state with the
// graph's Reducer once the node returns without error.
//
// The state parameter is passed by value. Nodes must not mutate shared
// slices or maps inside it; everything they change goes into the update.
//
// A node suspends its thread by returning Interrupt(payload) as the error.
//
// Example:
//
//	func count(ctx flowgraph.Context, s Counter) (CounterUpdate, error) {
//	    return CounterUpdate{Delta: 1}, nil
//	}
type NodeFunc[S, U any] func(ctx Context, state S) (U, error)

// RouterFunc determines the next node based on state.
// It is used for conditional edges where the next node depends on runtime state.
// Routers see the state after the source node's update was merged.
//
// The router should return a valid node ID or flowgraph.END.
// Returning an empty string or an unknown node ID will cause a runtime error.
//
// Example:
//
//	func router(ctx flowgraph.Context, s State) string {
//	    if s.Done {
//	        return flowgraph.END
//	    }
//	    return "process"
//	}
type RouterFunc[S any] func(ctx Context, state S) string

// Reducer merges a node's update into the state.
// It must not mutate its state argument in place.
type Reducer[S, U any] func(state S, update U) S
