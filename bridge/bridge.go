// Package bridge supervises the broker-to-store pipeline: it owns the
// queue, the connector, and the writer, and drives the run/shutdown state
// machine across them.
package bridge

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/CodeByJF/mqbridge/broker"
	"github.com/CodeByJF/mqbridge/connector"
	"github.com/CodeByJF/mqbridge/deadletter"
	"github.com/CodeByJF/mqbridge/errors"
	"github.com/CodeByJF/mqbridge/health"
	"github.com/CodeByJF/mqbridge/message"
	"github.com/CodeByJF/mqbridge/metric"
	"github.com/CodeByJF/mqbridge/pkg/retry"
	"github.com/CodeByJF/mqbridge/queue"
	"github.com/CodeByJF/mqbridge/storage"
	"github.com/CodeByJF/mqbridge/transform"
	"github.com/CodeByJF/mqbridge/writer"
)

// State is the supervisor lifecycle state.
type State int32

// Lifecycle states
const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options wires the bridge's collaborators and tuning knobs.
type Options struct {
	Subscriber  broker.Subscriber
	Store       storage.DocumentStore
	Transformer transform.Transformer

	// Publisher carries dead-letter records; nil means log-only.
	Publisher         broker.Publisher
	DeadLetterSubject string

	QueueCapacity int
	QueuePolicy   queue.OverflowPolicy

	Connector connector.Config
	Writer    writer.Config

	// StoreConnectRetry governs the startup connection to the store.
	StoreConnectRetry retry.Config

	// GracePeriod bounds how long Draining waits for the writer to
	// finish the queued backlog before forcing it down.
	GracePeriod time.Duration

	// HealthInterval is how often endpoint health is re-checked.
	HealthInterval time.Duration

	Logger  *slog.Logger
	Metrics *metric.Metrics
	// Registry additionally exposes queue statistics as Prometheus
	// metrics when set.
	Registry *metric.MetricsRegistry
	Health   *health.Monitor
}

func (o *Options) applyDefaults() {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 256
	}
	if o.StoreConnectRetry.MaxAttempts <= 0 {
		o.StoreConnectRetry = retry.Persistent()
	}
	if o.GracePeriod <= 0 {
		o.GracePeriod = 30 * time.Second
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 15 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Health == nil {
		o.Health = health.NewMonitor()
	}
}

// Bridge runs the pipeline. Create with New, drive with Run.
type Bridge struct {
	opts  Options
	state atomic.Int32

	queue     *queue.Queue[message.Inbound]
	outcomes  chan message.Outcome
	connector *connector.Connector
	writer    *writer.Writer

	fatal chan error
}

// New assembles a bridge from its collaborators.
func New(opts Options) (*Bridge, error) {
	if opts.Subscriber == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "New", "subscriber required")
	}
	if opts.Store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "New", "store required")
	}
	if opts.Transformer == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Bridge", "New", "transformer required")
	}
	opts.applyDefaults()

	q, err := queue.New[message.Inbound](opts.QueueCapacity,
		queue.WithPolicy[message.Inbound](opts.QueuePolicy),
		queue.WithMetrics[message.Inbound](opts.Registry, "queue"))
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "New", "create queue")
	}

	outcomes := make(chan message.Outcome, opts.QueueCapacity)

	recorder := deadletter.NewRecorder(opts.Publisher, opts.DeadLetterSubject, opts.Logger)

	w, err := writer.New(opts.Writer, q, opts.Transformer, opts.Store,
		outcomes, recorder, opts.Logger, opts.Metrics)
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "New", "create writer")
	}

	c, err := connector.New(opts.Connector, opts.Subscriber, q, outcomes,
		opts.Logger, opts.Metrics)
	if err != nil {
		return nil, errors.Wrap(err, "Bridge", "New", "create connector")
	}

	return &Bridge{
		opts:      opts,
		queue:     q,
		outcomes:  outcomes,
		connector: c,
		writer:    w,
		fatal:     make(chan error, 1),
	}, nil
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	return State(b.state.Load())
}

func (b *Bridge) setState(s State) {
	b.state.Store(int32(s))
	if b.opts.Metrics != nil {
		b.opts.Metrics.BridgeState.Set(float64(s))
	}
	b.opts.Logger.Info("bridge state changed", "state", s.String())
}

// Fatal reports an unrecoverable runtime condition (for example the broker
// permanently rejecting our credentials). The bridge drains and Run
// returns the error.
func (b *Bridge) Fatal(err error) {
	select {
	case b.fatal <- err:
	default:
	}
}

// Health returns the monitor tracking component health.
func (b *Bridge) Health() *health.Monitor {
	return b.opts.Health
}

// Run starts the pipeline and blocks until ctx is cancelled, a fatal
// condition is reported, or a component fails terminally. A clean drain
// returns nil.
func (b *Bridge) Run(ctx context.Context) error {
	b.setState(StateStarting)
	defer b.setState(StateStopped)

	if err := b.connectStore(ctx); err != nil {
		return err
	}
	if err := b.connector.Start(ctx); err != nil {
		_ = b.opts.Store.Close(context.Background())
		return errors.Wrap(err, "Bridge", "Run", "start connector")
	}

	// The writer runs on its own context so draining can outlive ctx; the
	// grace period bounds it instead.
	writerCtx, cancelWriter := context.WithCancel(context.Background())
	defer cancelWriter()

	writerDone := make(chan error, 1)
	go func() {
		writerDone <- b.writer.Run(writerCtx)
	}()

	ackDone := make(chan struct{})
	go func() {
		b.connector.RunAcks()
		close(ackDone)
	}()

	healthCtx, cancelHealth := context.WithCancel(context.Background())
	go b.watchHealth(healthCtx)

	b.setState(StateRunning)

	var cause error
	writerExited := false
	select {
	case <-ctx.Done():
		b.opts.Logger.Info("shutdown requested")
	case err := <-b.fatal:
		cause = err
		b.opts.Logger.Error("fatal condition reported", "error", err)
	case err := <-writerDone:
		// The writer never stops on its own while running; if it does,
		// something is terminally wrong.
		writerExited = true
		cause = errors.WrapFatal(err, "Bridge", "Run", "writer exited unexpectedly")
		b.opts.Logger.Error("writer exited while running", "error", err)
	}

	b.setState(StateDraining)
	cancelHealth()

	// Stop new deliveries, then let the writer finish the backlog.
	if err := b.connector.Drain(); err != nil {
		b.opts.Logger.Warn("drain failed", "error", err)
	}
	b.queue.Close()

	if !writerExited {
		select {
		case <-writerDone:
		case <-time.After(b.opts.GracePeriod):
			b.opts.Logger.Warn("grace period expired, forcing writer down",
				"grace_period", b.opts.GracePeriod)
			cancelWriter()
			<-writerDone
		}
	}

	// All outcomes are emitted; let the ack loop finish them.
	close(b.outcomes)
	<-ackDone

	closeCtx, cancelClose := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelClose()
	if err := b.connector.Close(closeCtx); err != nil {
		b.opts.Logger.Warn("close broker connection", "error", err)
	}
	if err := b.opts.Store.Close(closeCtx); err != nil {
		b.opts.Logger.Warn("close store connection", "error", err)
	}

	return cause
}

// connectStore establishes the document store connection, retrying
// transient failures. Fatal errors (bad credentials) abort startup.
func (b *Bridge) connectStore(ctx context.Context) error {
	err := retry.Do(ctx, b.opts.StoreConnectRetry, func() error {
		if err := b.opts.Store.Connect(ctx); err != nil {
			if errors.IsFatal(err) {
				return retry.NonRetryable(err)
			}
			b.opts.Logger.Warn("store connection failed, will retry", "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "Bridge", "Run", "connect to store")
	}
	if b.opts.Metrics != nil {
		b.opts.Metrics.StoreConnected.Set(1)
	}
	return nil
}

// watchHealth periodically refreshes endpoint health in the monitor.
func (b *Bridge) watchHealth(ctx context.Context) {
	ticker := time.NewTicker(b.opts.HealthInterval)
	defer ticker.Stop()

	b.refreshHealth(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.refreshHealth(ctx)
		}
	}
}

func (b *Bridge) refreshHealth(ctx context.Context) {
	switch b.connector.State() {
	case broker.StateConnected:
		b.opts.Health.UpdateHealthy("broker", "connected")
		if b.opts.Metrics != nil {
			b.opts.Metrics.BrokerConnected.Set(1)
		}
	case broker.StateBackoff, broker.StateConnecting:
		b.opts.Health.UpdateDegraded("broker", "reconnecting")
		if b.opts.Metrics != nil {
			b.opts.Metrics.BrokerConnected.Set(0)
		}
	default:
		b.opts.Health.UpdateUnhealthy("broker", "disconnected")
		if b.opts.Metrics != nil {
			b.opts.Metrics.BrokerConnected.Set(0)
		}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := b.opts.Store.Ping(pingCtx); err != nil {
		b.opts.Health.UpdateUnhealthy("store", err.Error())
		if b.opts.Metrics != nil {
			b.opts.Metrics.StoreConnected.Set(0)
		}
	} else {
		b.opts.Health.UpdateHealthy("store", "reachable")
		if b.opts.Metrics != nil {
			b.opts.Metrics.StoreConnected.Set(1)
		}
	}

	stats := b.queue.Stats()
	if float64(stats.CurrentSize()) >= 0.9*float64(b.queue.Capacity()) {
		b.opts.Health.UpdateDegraded("queue", "queue nearly full")
	} else {
		b.opts.Health.UpdateHealthy("queue", "ok")
	}
}
