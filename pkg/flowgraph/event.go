package flowgraph

import (
	"iter"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/checkpoint"
)

// Event is emitted once per completed node, after its update was merged
// and checkpointed. A run that suspends ends with an event whose Interrupt
// is set; that event carries no update.
type Event[U any] struct {
	// NodeID is the node that completed or was interrupted.
	NodeID string
	// Update is the node's partial update.
	Update U
	// Sequence is the thread's checkpoint sequence after this node.
	Sequence int
	// Interrupt is set on the final event of a suspended run.
	Interrupt *InterruptInfo
}

// Interrupted reports whether the event ends the run with a suspension.
func (e Event[U]) Interrupted() bool {
	return e.Interrupt != nil
}

// Snapshot is the latest checkpointed view of a thread.
type Snapshot[S any] struct {
	State     S
	Status    checkpoint.Status
	Next      string
	Interrupt *InterruptInfo
	Sequence  int
}

// Suspended reports whether the thread waits for Resume.
func (s Snapshot[S]) Suspended() bool {
	return s.Status == checkpoint.StatusSuspended && s.Interrupt != nil
}

// Drain consumes an event stream and returns the pending interrupt, if the
// run suspended, or the first error.
func Drain[U any](events iter.Seq2[Event[U], error]) (*InterruptInfo, error) {
	var pending *InterruptInfo
	for ev, err := range events {
		if err != nil {
			return nil, err
		}
		if ev.Interrupt != nil {
			pending = ev.Interrupt
		}
	}
	return pending, nil
}
