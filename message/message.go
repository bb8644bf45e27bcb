// Package message defines the data types that flow through the bridge
// pipeline: inbound broker messages, the documents derived from them, and
// the delivery outcomes reported back for acknowledgment.
package message

import (
	"context"
	"time"
)

// DeliveryHandle is the opaque, broker-specific token attached to an inbound
// message. It is the only way a message is acknowledged (or negatively
// acknowledged) to the broker. Implementations must tolerate repeated calls
// on the same handle.
type DeliveryHandle interface {
	// ID returns a stable identifier for this delivery, unique among
	// messages currently in flight. Used to deduplicate redeliveries.
	ID() string

	// Ack confirms the delivery to the broker.
	Ack(ctx context.Context) error

	// Nak signals the broker that the delivery was not processed and may
	// be redelivered.
	Nak(ctx context.Context) error
}

// Inbound is a message received from the broker, immutable once created.
// The queue owns it from enqueue until the writer claims it.
type Inbound struct {
	Subject    string
	Payload    []byte
	ReceivedAt time.Time
	Handle     DeliveryHandle
}

// Document is the storable form of an inbound message, produced by the
// transformer and consumed by the writer. Path identifies the document in
// the store; writing the same Document twice yields the same store state.
type Document struct {
	Path        string
	Content     []byte
	ContentType string
}

// Outcome is the result of processing one inbound message. The writer
// produces exactly one Outcome per dequeued message; the connector consumes
// it to acknowledge or negatively acknowledge the delivery.
type Outcome struct {
	Handle    DeliveryHandle
	Subject   string
	Success   bool
	Retryable bool
	Attempts  int
	Err       error
}
