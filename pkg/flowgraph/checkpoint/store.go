// Package checkpoint provides durable per-thread checkpoint storage.
//
// A thread is one independent conversation (session). Every completed node
// writes a checkpoint; the checkpoint with the highest sequence is the
// thread's current record.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

// Store persists checkpoints.
// Implementations must be safe for concurrent use across threads.
type Store interface {
	// Save stores a checkpoint for a thread at a specific node and makes it
	// the thread's latest. Overwrites if (threadID, nodeID) already exists.
	Save(ctx context.Context, threadID, nodeID string, data []byte) error

	// Load retrieves the checkpoint of a specific node.
	// Returns ErrNotFound if it doesn't exist.
	Load(ctx context.Context, threadID, nodeID string) ([]byte, error)

	// Latest retrieves the most recently saved checkpoint of a thread.
	// Returns ErrNotFound if the thread has none.
	Latest(ctx context.Context, threadID string) ([]byte, error)

	// List returns all checkpoints for a thread, ordered by sequence.
	// Returns empty slice (not error) if the thread has no checkpoints.
	List(ctx context.Context, threadID string) ([]Info, error)

	// Delete removes a specific checkpoint.
	// Returns nil if checkpoint doesn't exist.
	Delete(ctx context.Context, threadID, nodeID string) error

	// DeleteThread removes all checkpoints for a thread.
	DeleteThread(ctx context.Context, threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Info provides metadata without loading full state.
type Info struct {
	ThreadID  string
	NodeID    string
	Sequence  int
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a checkpoint (or thread) doesn't exist.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")
)
