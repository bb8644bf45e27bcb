package natsbroker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/CodeByJF/mqbridge/message"
)

// coreHandle is the delivery handle for fire-and-forget core NATS messages.
// Core NATS has no broker-side acknowledgment, so Ack and Nak are no-ops;
// a failed message is simply lost unless dead-lettered downstream.
type coreHandle struct {
	id string
}

func newCoreHandle() coreHandle {
	return coreHandle{id: uuid.NewString()}
}

func (h coreHandle) ID() string                { return h.id }
func (h coreHandle) Ack(context.Context) error { return nil }
func (h coreHandle) Nak(context.Context) error { return nil }

// jsHandle acknowledges a JetStream message. The ID is derived from the
// stream sequence so redeliveries of the same message share an ID, which
// lets the bridge suppress duplicate in-flight processing.
type jsHandle struct {
	msg jetstream.Msg
	id  string
}

func newJetStreamHandle(msg jetstream.Msg, stream string) *jsHandle {
	id := uuid.NewString()
	if meta, err := msg.Metadata(); err == nil {
		id = fmt.Sprintf("%s:%d", stream, meta.Sequence.Stream)
	}
	return &jsHandle{msg: msg, id: id}
}

func (h *jsHandle) ID() string { return h.id }

// Ack confirms the message so the broker never redelivers it.
func (h *jsHandle) Ack(context.Context) error {
	return h.msg.Ack()
}

// Nak asks the broker to redeliver the message.
func (h *jsHandle) Nak(context.Context) error {
	return h.msg.Nak()
}

var (
	_ message.DeliveryHandle = coreHandle{}
	_ message.DeliveryHandle = (*jsHandle)(nil)
)
