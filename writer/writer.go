// Package writer consumes queued messages, transforms them, and persists
// the resulting documents to the document store.
//
// The writer owns the store connection and the per-message retry policy.
// Every processed message produces exactly one delivery outcome on the
// outcomes channel; the broker connector turns outcomes into broker
// acknowledgments. No message is acknowledged before a write attempt has
// been made for it.
package writer

import (
	"context"
	"log/slog"
	"time"

	"github.com/CodeByJF/mqbridge/deadletter"
	"github.com/CodeByJF/mqbridge/errors"
	"github.com/CodeByJF/mqbridge/message"
	"github.com/CodeByJF/mqbridge/metric"
	"github.com/CodeByJF/mqbridge/pkg/retry"
	"github.com/CodeByJF/mqbridge/queue"
	"github.com/CodeByJF/mqbridge/storage"
	"github.com/CodeByJF/mqbridge/transform"
)

// Config holds writer settings.
type Config struct {
	// Retry governs attempts against the store for transient failures.
	Retry retry.Config
	// WriteTimeout bounds each individual store write attempt.
	WriteTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = retry.DefaultConfig()
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
}

// Writer drains the message queue into the document store.
type Writer struct {
	cfg         Config
	queue       *queue.Queue[message.Inbound]
	transformer transform.Transformer
	store       storage.DocumentStore
	outcomes    chan<- message.Outcome
	deadLetter  *deadletter.Recorder
	logger      *slog.Logger
	metrics     *metric.Metrics
}

// New creates a writer. The outcomes channel is owned by the caller and is
// never closed by the writer. Metrics may be nil.
func New(
	cfg Config,
	q *queue.Queue[message.Inbound],
	transformer transform.Transformer,
	store storage.DocumentStore,
	outcomes chan<- message.Outcome,
	deadLetter *deadletter.Recorder,
	logger *slog.Logger,
	metrics *metric.Metrics,
) (*Writer, error) {
	if q == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Writer", "New", "queue required")
	}
	if transformer == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Writer", "New", "transformer required")
	}
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Writer", "New", "store required")
	}
	if outcomes == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Writer", "New", "outcomes channel required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Writer{
		cfg:         cfg,
		queue:       q,
		transformer: transformer,
		store:       store,
		outcomes:    outcomes,
		deadLetter:  deadLetter,
		logger:      logger,
		metrics:     metrics,
	}, nil
}

// Run processes messages until the queue is closed and drained or the
// context is cancelled. It returns nil on a clean drain.
func (w *Writer) Run(ctx context.Context) error {
	w.logger.Info("writer started")
	defer w.logger.Info("writer stopped")

	for {
		in, ok := w.queue.Dequeue(ctx)
		if !ok {
			if ctx.Err() != nil {
				return errors.WrapTransient(ctx.Err(), "Writer", "Run", "cancelled")
			}
			return nil
		}
		w.process(ctx, in)
	}
}

// process transforms and writes one message and emits its outcome. A
// failure here never stops the loop; subsequent messages keep flowing.
func (w *Writer) process(ctx context.Context, in message.Inbound) {
	doc, err := w.transformer.Transform(in)
	if err != nil {
		w.logger.Error("transform failed",
			"subject", in.Subject, "error", err)
		w.recordError("transform", err)
		w.deadLetterMessage(ctx, in, err)
		w.emit(ctx, message.Outcome{
			Handle:    in.Handle,
			Subject:   in.Subject,
			Success:   false,
			Retryable: false,
			Attempts:  0,
			Err:       err,
		})
		return
	}

	attempts := 0
	start := time.Now()
	writeErr := retry.Do(ctx, w.cfg.Retry, func() error {
		attempts++
		if attempts > 1 && w.metrics != nil {
			w.metrics.WriteRetries.Inc()
		}

		writeCtx, cancel := context.WithTimeout(ctx, w.cfg.WriteTimeout)
		defer cancel()

		if err := w.store.Put(writeCtx, doc); err != nil {
			if !errors.IsTransient(err) {
				return retry.NonRetryable(err)
			}
			w.logger.Warn("store write failed, will retry",
				"subject", in.Subject, "path", doc.Path, "attempt", attempts, "error", err)
			return err
		}
		return nil
	})

	if w.metrics != nil {
		w.metrics.WriteDuration.Observe(time.Since(start).Seconds())
	}

	if writeErr == nil {
		if w.metrics != nil {
			w.metrics.MessagesWritten.WithLabelValues(in.Subject).Inc()
		}
		w.logger.Debug("document written",
			"subject", in.Subject, "path", doc.Path, "attempts", attempts)
		w.emit(ctx, message.Outcome{
			Handle:   in.Handle,
			Subject:  in.Subject,
			Success:  true,
			Attempts: attempts,
		})
		return
	}

	// Cancellation mid-retry is not exhaustion: nothing was written and
	// the retry budget remains. The outcome stays retryable so the broker
	// redelivers after restart. Fatal store errors surface as non-retryable
	// even when the context is done and fall through to the terminal path.
	if ctx.Err() != nil && !retry.IsNonRetryable(writeErr) {
		w.logger.Warn("store write interrupted by shutdown",
			"subject", in.Subject, "path", doc.Path, "attempts", attempts, "error", writeErr)
		w.emit(ctx, message.Outcome{
			Handle:    in.Handle,
			Subject:   in.Subject,
			Success:   false,
			Retryable: true,
			Attempts:  attempts,
			Err:       writeErr,
		})
		return
	}

	// Retries exhausted or the store classified the failure as fatal.
	// Either way the message leaves the pipeline through the dead-letter
	// path; retrying further cannot help.
	w.logger.Error("store write failed terminally",
		"subject", in.Subject, "path", doc.Path, "attempts", attempts, "error", writeErr)
	w.recordError("write", writeErr)
	w.deadLetterMessage(ctx, in, writeErr)
	w.emit(ctx, message.Outcome{
		Handle:    in.Handle,
		Subject:   in.Subject,
		Success:   false,
		Retryable: false,
		Attempts:  attempts,
		Err:       writeErr,
	})
}

// emit delivers the outcome, preferring the buffered channel even when ctx
// is already done so final outcomes are not lost during shutdown.
func (w *Writer) emit(ctx context.Context, out message.Outcome) {
	select {
	case w.outcomes <- out:
		return
	default:
	}
	select {
	case w.outcomes <- out:
	case <-ctx.Done():
		w.logger.Warn("outcome channel full during shutdown, outcome dropped",
			"subject", out.Subject)
	}
}

func (w *Writer) deadLetterMessage(ctx context.Context, in message.Inbound, cause error) {
	if w.deadLetter == nil {
		return
	}
	if w.metrics != nil {
		w.metrics.MessagesDeadLettered.Inc()
	}
	w.deadLetter.Record(ctx, in, cause)
}

func (w *Writer) recordError(stage string, err error) {
	if w.metrics == nil {
		return
	}
	w.metrics.ErrorsTotal.WithLabelValues("writer."+stage, errors.Classify(err).String()).Inc()
}
