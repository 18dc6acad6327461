package flowgraph

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randalmurphal/medconsult/pkg/flowgraph/checkpoint"
)

// InterruptError is returned by a node to suspend its thread.
// Create it with Interrupt.
type InterruptError struct {
	// Payload is shown to whoever resumes the thread.
	// It must be JSON-serializable.
	Payload any
}

// Error implements the error interface.
func (e *InterruptError) Error() string {
	return "node interrupted"
}

// Interrupt suspends the thread at the calling node.
//
// The engine discards the node's update, saves a suspended checkpoint
// holding the state the node started with, and ends the run with an
// interrupt event. Resume re-enters the same node with the resume value
// available through Context.ResumeValue.
//
// Example:
//
//	func review(ctx flowgraph.Context, s State) (Update, error) {
//	    v, ok := ctx.ResumeValue()
//	    if !ok {
//	        return Update{}, flowgraph.Interrupt(ReviewRequest{Draft: s.Draft})
//	    }
//	    ...
//	}
func Interrupt(payload any) error {
	return &InterruptError{Payload: payload}
}

// IsInterrupt reports whether err is an interrupt raised by a node.
func IsInterrupt(err error) bool {
	var ie *InterruptError
	return errors.As(err, &ie)
}

// InterruptInfo describes a pending interrupt.
type InterruptInfo struct {
	// NodeID is the node that raised the interrupt and will be re-entered.
	NodeID string
	// Payload is the JSON encoding of the interrupt payload.
	Payload json.RawMessage
}

// Decode unmarshals the payload into v.
func (i *InterruptInfo) Decode(v any) error {
	if len(i.Payload) == 0 {
		return fmt.Errorf("interrupt at %s has no payload", i.NodeID)
	}
	return json.Unmarshal(i.Payload, v)
}

func interruptFromCheckpoint(in *checkpoint.Interrupt) *InterruptInfo {
	if in == nil {
		return nil
	}
	return &InterruptInfo{NodeID: in.NodeID, Payload: in.Payload}
}
