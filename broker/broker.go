// Package broker defines the abstract publish/subscribe capabilities the
// bridge requires from a broker client. Concrete protocol implementations
// (see natsbroker) satisfy these interfaces; the connector and supervisor
// depend only on them.
package broker

import (
	"context"

	"github.com/CodeByJF/mqbridge/message"
)

// ConnState represents the state of a broker connection. Only one
// connection attempt is in flight per endpoint at a time.
type ConnState int32

// Possible connection states
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateBackoff
)

// String returns the string representation of ConnState
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

// Handler receives each inbound message. It may block to apply
// backpressure; the subscriber must not acknowledge on the handler's
// behalf.
type Handler func(ctx context.Context, msg message.Inbound)

// Subscriber is the receiving side of a broker connection. Implementations
// own exactly one live subscription connection and manage reconnects
// internally.
type Subscriber interface {
	// Connect establishes the connection. It respects ctx for timeout and
	// cancellation and returns a transient error for conditions worth
	// retrying, a fatal one for configuration rejected by the endpoint.
	Connect(ctx context.Context) error

	// Subscribe starts delivering messages to handler. Messages carry a
	// DeliveryHandle; the caller acknowledges through it once downstream
	// confirms durability.
	Subscribe(ctx context.Context, handler Handler) error

	// Unsubscribe stops message delivery without closing the connection,
	// so acknowledgments for already-delivered messages still go through.
	Unsubscribe() error

	// State returns the current connection state.
	State() ConnState

	// Close drains and closes the connection.
	Close(ctx context.Context) error
}

// Publisher is the sending side of a broker connection, used by the
// dead-letter recorder.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}
