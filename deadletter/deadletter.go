// Package deadletter records messages that could not be processed so they
// can be inspected later without blocking the pipeline.
package deadletter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/CodeByJF/mqbridge/broker"
	"github.com/CodeByJF/mqbridge/message"
)

// Record is the persisted shape of a dead-lettered message.
type Record struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
	Error      string    `json:"error"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Recorder publishes dead-letter records to a broker subject. Recording
// must never block or fail the pipeline: if the publisher is absent or the
// publish fails, the record is logged and processing continues.
type Recorder struct {
	publisher broker.Publisher
	subject   string
	logger    *slog.Logger
}

// NewRecorder creates a dead-letter recorder. A nil publisher or empty
// subject yields a log-only recorder.
func NewRecorder(publisher broker.Publisher, subject string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		publisher: publisher,
		subject:   subject,
		logger:    logger,
	}
}

// Record publishes the failed message to the dead-letter subject.
func (r *Recorder) Record(ctx context.Context, in message.Inbound, cause error) {
	rec := Record{
		ID:         uuid.NewString(),
		Subject:    in.Subject,
		Payload:    in.Payload,
		ReceivedAt: in.ReceivedAt,
		RecordedAt: time.Now().UTC(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}

	logger := r.logger.With(
		"dead_letter_id", rec.ID,
		"subject", rec.Subject,
		"error", rec.Error,
	)

	if r.publisher == nil || r.subject == "" {
		logger.Warn("message dead-lettered (log only)")
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		logger.Error("encode dead-letter record", "marshal_error", err)
		return
	}

	if err := r.publisher.Publish(ctx, r.subject, data); err != nil {
		logger.Error("publish dead-letter record", "publish_error", err)
		return
	}

	logger.Warn("message dead-lettered", "dead_letter_subject", r.subject)
}
