// Package storage defines the document store contract the bridge writes to.
package storage

import (
	"context"

	"github.com/CodeByJF/mqbridge/message"
)

// DocumentStore persists documents keyed by path. Put must be idempotent:
// storing the same document at the same path twice leaves the store in the
// same state as storing it once.
type DocumentStore interface {
	// Connect establishes the store connection and verifies reachability.
	Connect(ctx context.Context) error

	// Put durably upserts the document at its path.
	Put(ctx context.Context, doc message.Document) error

	// Ping reports whether the store is currently reachable.
	Ping(ctx context.Context) error

	// Close releases the connection.
	Close(ctx context.Context) error
}
