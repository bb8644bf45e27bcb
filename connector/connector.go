// Package connector feeds broker messages into the bridge queue and turns
// delivery outcomes back into broker acknowledgments.
package connector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CodeByJF/mqbridge/broker"
	"github.com/CodeByJF/mqbridge/errors"
	"github.com/CodeByJF/mqbridge/message"
	"github.com/CodeByJF/mqbridge/metric"
	"github.com/CodeByJF/mqbridge/pkg/retry"
	"github.com/CodeByJF/mqbridge/queue"
)

// Config holds connector settings.
type Config struct {
	// ConnectRetry governs the initial connection attempt. Reconnects
	// after a drop are handled inside the broker client.
	ConnectRetry retry.Config
	// AckTimeout bounds each individual acknowledgment call.
	AckTimeout time.Duration
	// AckOnFailure acknowledges messages whose write failed terminally
	// instead of negatively acknowledging them. This trades at-least-once
	// delivery for protection against unbounded redelivery loops; failed
	// messages are still dead-lettered by the writer.
	AckOnFailure bool
}

func (c *Config) applyDefaults() {
	if c.ConnectRetry.MaxAttempts <= 0 {
		c.ConnectRetry = retry.Persistent()
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 5 * time.Second
	}
}

// Connector owns the broker subscription side of the bridge. Each received
// message is enqueued exactly once; redeliveries of a message whose first
// delivery is still in flight are suppressed by delivery-handle ID.
type Connector struct {
	cfg        Config
	subscriber broker.Subscriber
	queue      *queue.Queue[message.Inbound]
	outcomes   <-chan message.Outcome
	logger     *slog.Logger
	metrics    *metric.Metrics

	mu      sync.Mutex
	pending map[string]struct{}
}

// New creates a connector. The outcomes channel is closed by the caller
// once the writer has emitted its last outcome. Metrics may be nil.
func New(
	cfg Config,
	subscriber broker.Subscriber,
	q *queue.Queue[message.Inbound],
	outcomes <-chan message.Outcome,
	logger *slog.Logger,
	metrics *metric.Metrics,
) (*Connector, error) {
	if subscriber == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Connector", "New", "subscriber required")
	}
	if q == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Connector", "New", "queue required")
	}
	if outcomes == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Connector", "New", "outcomes channel required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Connector{
		cfg:        cfg,
		subscriber: subscriber,
		queue:      q,
		outcomes:   outcomes,
		logger:     logger,
		metrics:    metrics,
		pending:    make(map[string]struct{}),
	}, nil
}

// Start connects to the broker, retrying transient failures, and begins
// delivering messages into the queue. Fatal connection errors (rejected
// credentials) abort immediately.
func (c *Connector) Start(ctx context.Context) error {
	err := retry.Do(ctx, c.cfg.ConnectRetry, func() error {
		if err := c.subscriber.Connect(ctx); err != nil {
			if errors.IsFatal(err) {
				return retry.NonRetryable(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "Connector", "Start", "connect to broker")
	}

	if err := c.subscriber.Subscribe(ctx, c.receive); err != nil {
		return errors.Wrap(err, "Connector", "Start", "subscribe")
	}
	return nil
}

// receive enqueues one delivered message. Blocks when the queue is full,
// which propagates backpressure to the broker. Acknowledgment never
// happens here; it waits for the writer's outcome.
func (c *Connector) receive(ctx context.Context, in message.Inbound) {
	if in.Handle != nil && !c.markPending(in.Handle.ID()) {
		c.logger.Debug("suppressing duplicate delivery",
			"subject", in.Subject, "handle", in.Handle.ID())
		return
	}

	if c.metrics != nil {
		c.metrics.MessagesReceived.WithLabelValues(in.Subject).Inc()
	}

	if err := c.queue.Enqueue(ctx, in); err != nil {
		if in.Handle != nil {
			c.clearPending(in.Handle.ID())
		}
		c.logger.Warn("message not enqueued",
			"subject", in.Subject, "error", err)
	}
}

// markPending records an in-flight handle ID. Returns false when the ID is
// already in flight.
func (c *Connector) markPending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.pending[id]; exists {
		return false
	}
	c.pending[id] = struct{}{}
	return true
}

func (c *Connector) clearPending(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, id)
}

// PendingCount reports in-flight messages awaiting an outcome.
func (c *Connector) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// RunAcks consumes delivery outcomes until the channel is closed,
// acknowledging each one to the broker. Acknowledgments use their own
// timeout rather than the run context so outcomes resolved during drain
// still reach the broker.
func (c *Connector) RunAcks() {
	for out := range c.outcomes {
		c.acknowledge(out)
	}
}

func (c *Connector) acknowledge(out message.Outcome) {
	if out.Handle != nil {
		defer c.clearPending(out.Handle.ID())
	}
	if out.Handle == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AckTimeout)
	defer cancel()

	ack := out.Success || (!out.Retryable && c.cfg.AckOnFailure)
	if ack {
		if err := out.Handle.Ack(ctx); err != nil {
			c.logger.Warn("acknowledge failed",
				"subject", out.Subject, "handle", out.Handle.ID(), "error", err)
			return
		}
		if c.metrics != nil {
			c.metrics.MessagesAcked.Inc()
		}
		return
	}

	if err := out.Handle.Nak(ctx); err != nil {
		c.logger.Warn("negative acknowledge failed",
			"subject", out.Subject, "handle", out.Handle.ID(), "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.MessagesNaked.Inc()
	}
}

// Drain stops new deliveries while keeping the connection open so
// acknowledgments for in-flight messages still go out.
func (c *Connector) Drain() error {
	if err := c.subscriber.Unsubscribe(); err != nil {
		return errors.Wrap(err, "Connector", "Drain", "unsubscribe")
	}
	return nil
}

// Close closes the broker connection.
func (c *Connector) Close(ctx context.Context) error {
	return c.subscriber.Close(ctx)
}

// State reports the broker connection state.
func (c *Connector) State() broker.ConnState {
	return c.subscriber.State()
}
