// Package transform maps inbound broker messages to storable documents.
//
// Transformers are pure: no I/O, no shared state, and deterministic for a
// given input. A payload the transformer cannot interpret yields an invalid
// classified error; it never panics and never drops silently.
package transform

import (
	"fmt"
	"strings"

	"github.com/CodeByJF/mqbridge/errors"
	"github.com/CodeByJF/mqbridge/message"
)

// Transformer converts one inbound message into one storable document.
type Transformer interface {
	Transform(in message.Inbound) (message.Document, error)
}

// Mode selects the payload interpretation.
type Mode string

// Supported transformer modes
const (
	// ModeJSON stores any valid JSON payload as-is, keyed by subject and
	// a content digest.
	ModeJSON Mode = "json"
	// ModeMeasurement interprets scale measurement payloads (weight, body
	// fat, date) and produces one attribute-update document per day.
	ModeMeasurement Mode = "measurement"
)

// Config holds transformer settings shared across modes.
type Config struct {
	// Mode selects the transformer implementation.
	Mode Mode
	// PathPrefix is prepended to every derived document path.
	PathPrefix string
	// Timezone is the IANA zone used to derive measurement dates,
	// e.g. "America/Toronto". Defaults to UTC. Measurement mode only.
	Timezone string
	// WeightAttribute names the weight attribute in measurement updates.
	WeightAttribute string
	// FatAttribute names the body-fat attribute in measurement updates.
	FatAttribute string
}

// New builds the transformer selected by cfg.Mode.
func New(cfg Config) (Transformer, error) {
	switch cfg.Mode {
	case ModeJSON, "":
		return NewJSON(cfg.PathPrefix), nil
	case ModeMeasurement:
		return NewMeasurement(cfg)
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "transform", "New",
			fmt.Sprintf("unknown transformer mode %q", cfg.Mode))
	}
}

// subjectPath converts a broker subject into a path segment. Both NATS dots
// and MQTT-style slashes collapse to slash-separated segments.
func subjectPath(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

func joinPath(prefix, subject, leaf string) string {
	parts := make([]string, 0, 3)
	if prefix != "" {
		parts = append(parts, strings.Trim(prefix, "/"))
	}
	parts = append(parts, strings.Trim(subjectPath(subject), "/"))
	if leaf != "" {
		parts = append(parts, leaf)
	}
	return strings.Join(parts, "/")
}
