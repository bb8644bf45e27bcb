// Package natsbroker implements the broker contract on top of NATS.
//
// Two delivery modes are supported and must be chosen explicitly:
//
//   - core: plain NATS subscriptions. Delivery is fire-and-forget; messages
//     are acknowledged at receive time and durability is best-effort.
//   - jetstream: a durable JetStream consumer with explicit acknowledgment.
//     Messages are acknowledged only after the bridge confirms the write.
package natsbroker

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/CodeByJF/mqbridge/broker"
	"github.com/CodeByJF/mqbridge/errors"
	"github.com/CodeByJF/mqbridge/message"
)

// DeliveryMode selects the acknowledgment contract for the subscription.
type DeliveryMode string

// Supported delivery modes
const (
	// ModeCore subscribes over core NATS: fire-and-forget, ack at receive.
	ModeCore DeliveryMode = "core"
	// ModeJetStream subscribes through a durable JetStream consumer:
	// ack after the downstream write is confirmed.
	ModeJetStream DeliveryMode = "jetstream"
)

// Client owns the subscription connection to NATS. It maintains exactly one
// live connection and reconnects with exponential backoff until closed.
type Client struct {
	url      string
	subjects []string
	mode     DeliveryMode

	// JetStream configuration (ModeJetStream only)
	streamName string
	durable    string
	ackWait    time.Duration

	// Connection options
	timeout      time.Duration
	drainTimeout time.Duration
	pingInterval time.Duration
	backoff      broker.Backoff

	// Authentication
	username string
	password string
	token    string

	// TLS
	tlsCertFile string
	tlsKeyFile  string
	tlsCAFile   string

	clientName string

	logger  *slog.Logger
	onFatal func(error)

	state atomic.Int32 // broker.ConnState

	mu         sync.RWMutex
	conn       *nats.Conn
	js         jetstream.JetStream
	subs       []*nats.Subscription
	consumeCtx jetstream.ConsumeContext
	closed     atomic.Bool
}

// NewClient creates a NATS broker client for the given server URL and
// subject filters.
func NewClient(url string, subjects []string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "broker URL required")
	}
	if len(subjects) == 0 {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient", "at least one subject required")
	}

	c := &Client{
		url:          url,
		subjects:     subjects,
		mode:         ModeJetStream,
		timeout:      5 * time.Second,
		drainTimeout: 30 * time.Second,
		pingInterval: 30 * time.Second,
		ackWait:      30 * time.Second,
		backoff:      broker.DefaultBackoff(),
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	if c.mode == ModeJetStream && c.streamName == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Client", "NewClient",
			"jetstream mode requires a stream name")
	}

	c.setState(broker.StateDisconnected)
	return c, nil
}

// Mode returns the configured delivery mode.
func (c *Client) Mode() DeliveryMode {
	return c.mode
}

// State returns the current connection state.
func (c *Client) State() broker.ConnState {
	return broker.ConnState(c.state.Load())
}

func (c *Client) setState(s broker.ConnState) {
	c.state.Store(int32(s))
}

func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.Timeout(c.timeout),
		nats.PingInterval(c.pingInterval),
		nats.DrainTimeout(c.drainTimeout),
		nats.CustomReconnectDelay(func(attempt int) time.Duration {
			c.setState(broker.StateBackoff)
			delay := c.backoff.Delay(attempt)
			c.logger.Debug("broker reconnect backoff", "attempt", attempt, "delay", delay)
			return delay
		}),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleAsyncError),
	}

	if c.username != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.tlsCertFile != "" && c.tlsKeyFile != "" {
		opts = append(opts, nats.ClientCert(c.tlsCertFile, c.tlsKeyFile))
	}
	if c.tlsCAFile != "" {
		opts = append(opts, nats.RootCAs(c.tlsCAFile))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}

	return opts
}

// Connect establishes the NATS connection. Authentication rejections are
// fatal; everything else is transient and worth retrying.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.WrapInvalid(errors.ErrShuttingDown, "Client", "Connect", "client closed")
	}

	c.setState(broker.StateConnecting)
	c.logger.Info("connecting to broker", "url", c.url)

	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.buildConnectionOptions()...)
		if err != nil {
			connectDone <- err
			return
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		if c.mode == ModeJetStream {
			js, err := jetstream.New(conn)
			if err != nil {
				connectDone <- err
				return
			}
			c.mu.Lock()
			c.js = js
			c.mu.Unlock()
		}

		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			c.setState(broker.StateDisconnected)
			if isAuthError(err) {
				return errors.WrapFatal(err, "Client", "Connect", "authenticate")
			}
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.setState(broker.StateDisconnected)
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.setState(broker.StateConnected)
	c.logger.Info("connected to broker", "url", c.url, "mode", string(c.mode))
	return nil
}

// Subscribe begins delivering messages on the configured subjects. The
// handler may block; blocking propagates as backpressure to the broker.
func (c *Client) Subscribe(ctx context.Context, handler broker.Handler) error {
	if c.State() != broker.StateConnected {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Subscribe", "check connection")
	}

	switch c.mode {
	case ModeCore:
		return c.subscribeCore(ctx, handler)
	case ModeJetStream:
		return c.subscribeJetStream(ctx, handler)
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Client", "Subscribe",
			fmt.Sprintf("unknown delivery mode %q", c.mode))
	}
}

func (c *Client) subscribeCore(ctx context.Context, handler broker.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, subject := range c.subjects {
		sub, err := c.conn.Subscribe(subject, func(m *nats.Msg) {
			handler(ctx, message.Inbound{
				Subject:    m.Subject,
				Payload:    m.Data,
				ReceivedAt: time.Now().UTC(),
				Handle:     newCoreHandle(),
			})
		})
		if err != nil {
			return errors.WrapTransient(err, "Client", "Subscribe",
				fmt.Sprintf("subscribe to %s", subject))
		}
		c.subs = append(c.subs, sub)
	}

	c.logger.Info("subscribed (core)", "subjects", c.subjects)
	return nil
}

func (c *Client) subscribeJetStream(ctx context.Context, handler broker.Handler) error {
	c.mu.Lock()
	js := c.js
	c.mu.Unlock()

	if js == nil {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Subscribe", "jetstream unavailable")
	}

	// Stream creation is idempotent; an existing stream with a compatible
	// configuration is reused.
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     c.streamName,
		Subjects: c.subjects,
	})
	if err != nil {
		if isAuthError(err) {
			return errors.WrapFatal(err, "Client", "Subscribe", "create stream")
		}
		return errors.WrapTransient(err, "Client", "Subscribe", "create stream")
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Durable:        c.durable,
		FilterSubjects: c.subjects,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        c.ackWait,
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "create consumer")
	}

	consumeCtx, err := consumer.Consume(func(m jetstream.Msg) {
		handler(ctx, message.Inbound{
			Subject:    m.Subject(),
			Payload:    m.Data(),
			ReceivedAt: time.Now().UTC(),
			Handle:     newJetStreamHandle(m, c.streamName),
		})
	})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Subscribe", "start consumer")
	}

	c.mu.Lock()
	c.consumeCtx = consumeCtx
	c.mu.Unlock()

	c.logger.Info("subscribed (jetstream)",
		"stream", c.streamName, "durable", c.durable, "subjects", c.subjects)
	return nil
}

// Unsubscribe stops message delivery but keeps the connection open so
// acknowledgments for already-delivered messages still reach the broker.
func (c *Client) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	c.subs = nil

	if c.consumeCtx != nil {
		c.consumeCtx.Stop()
		c.consumeCtx = nil
	}

	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), "Client", "Unsubscribe", "unsubscribe")
	}
	return nil
}

// Publish publishes a message on the given subject. Used by the
// dead-letter recorder.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.WrapTransient(errors.ErrNoConnection, "Client", "Publish", "check connection")
	}

	return conn.Publish(subject, data)
}

// Close drains and closes the connection. Safe to call more than once.
func (c *Client) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	if err := c.Unsubscribe(); err != nil {
		c.logger.Warn("unsubscribe during close", "error", err)
	}

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.js = nil
	c.mu.Unlock()

	if conn == nil {
		c.setState(broker.StateDisconnected)
		return nil
	}

	drainTimeout := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
			drainTimeout = remaining
		}
	}

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- conn.Drain()
	}()

	var drainErr error
	select {
	case err := <-drainDone:
		drainErr = err
	case <-time.After(drainTimeout):
		drainErr = fmt.Errorf("drain timeout after %v", drainTimeout)
	case <-ctx.Done():
		drainErr = ctx.Err()
	}

	conn.Close()

	// Clear credentials
	c.username = ""
	c.password = ""
	c.token = ""

	c.setState(broker.StateDisconnected)

	if drainErr != nil {
		return errors.WrapTransient(drainErr, "Client", "Close", "drain connection")
	}
	return nil
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	c.setState(broker.StateBackoff)
	c.logger.Warn("broker disconnected", "error", err)
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.setState(broker.StateConnected)
	c.logger.Info("broker reconnected", "url", conn.ConnectedUrl())
}

func (c *Client) handleClosed(_ *nats.Conn) {
	if !c.closed.Load() {
		c.setState(broker.StateDisconnected)
		c.logger.Warn("broker connection closed")
	}
}

func (c *Client) handleAsyncError(_ *nats.Conn, _ *nats.Subscription, err error) {
	if err == nil {
		return
	}
	if isAuthError(err) {
		c.logger.Error("broker rejected client", "error", err)
		if c.onFatal != nil {
			c.onFatal(errors.WrapFatal(err, "Client", "receive", "authorization"))
		}
		return
	}
	c.logger.Error("broker error", "error", err)
}

// isAuthError reports whether an error indicates the broker permanently
// rejected our credentials or permissions; retrying cannot fix these.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, nats.ErrAuthorization) || stderrors.Is(err, nats.ErrAuthExpired) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authorization violation") ||
		strings.Contains(msg, "permissions violation") ||
		strings.Contains(msg, "authentication")
}

// Interface guards
var (
	_ broker.Subscriber = (*Client)(nil)
	_ broker.Publisher  = (*Client)(nil)
)
