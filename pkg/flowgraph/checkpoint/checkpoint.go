package checkpoint

import (
	"encoding/json"
	"time"
)

// Version is the current checkpoint format version.
// Increment when making breaking changes to checkpoint structure.
const Version = 2

// Status is the execution status of a thread at a checkpoint.
type Status string

// Thread statuses.
const (
	// StatusRunning means the thread stopped between nodes and NextNode
	// has not executed yet.
	StatusRunning Status = "running"

	// StatusSuspended means a node raised an interrupt and the thread is
	// waiting for a resume value. Interrupt is set.
	StatusSuspended Status = "suspended"

	// StatusDone means the last run reached END.
	StatusDone Status = "done"
)

// Interrupt records where a thread is suspended and what it asked for.
type Interrupt struct {
	NodeID  string          `json:"node_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Checkpoint is the persisted snapshot of a thread.
// The latest checkpoint of a thread is the thread's session record.
type Checkpoint struct {
	// Metadata
	Version   int       `json:"version"`
	ThreadID  string    `json:"thread_id"`
	NodeID    string    `json:"node_id"`
	Sequence  int       `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`

	// Execution state
	State     json.RawMessage `json:"state"`
	NextNode  string          `json:"next_node"`
	Status    Status          `json:"status"`
	Interrupt *Interrupt      `json:"interrupt,omitempty"`

	PrevNodeID string `json:"prev_node_id,omitempty"`
}

// Marshal serializes a checkpoint to JSON.
func (c *Checkpoint) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal deserializes a checkpoint from JSON.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// New creates a running checkpoint. State must already be JSON-serialized.
func New(threadID, nodeID string, sequence int, state []byte, nextNode string) *Checkpoint {
	return &Checkpoint{
		Version:   Version,
		ThreadID:  threadID,
		NodeID:    nodeID,
		Sequence:  sequence,
		Timestamp: time.Now().UTC(),
		State:     state,
		NextNode:  nextNode,
		Status:    StatusRunning,
	}
}

// WithStatus sets the thread status.
func (c *Checkpoint) WithStatus(status Status) *Checkpoint {
	c.Status = status
	return c
}

// WithInterrupt marks the checkpoint as suspended at the interrupt's node.
func (c *Checkpoint) WithInterrupt(in *Interrupt) *Checkpoint {
	c.Interrupt = in
	c.Status = StatusSuspended
	return c
}

// WithPrevNode sets the previous node ID for debugging.
func (c *Checkpoint) WithPrevNode(prevNodeID string) *Checkpoint {
	c.PrevNodeID = prevNodeID
	return c
}

// Suspended reports whether the thread is waiting for a resume value.
func (c *Checkpoint) Suspended() bool {
	return c.Status == StatusSuspended && c.Interrupt != nil
}
