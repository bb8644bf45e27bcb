package transform

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/CodeByJF/mqbridge/errors"
	"github.com/CodeByJF/mqbridge/message"
)

// JSON passes valid JSON payloads through unchanged. The document path is
// derived from the subject plus a truncated content digest, so distinct
// payloads on the same subject land at distinct paths while retries of the
// same payload always hit the same path.
type JSON struct {
	prefix string
}

// NewJSON creates a pass-through JSON transformer.
func NewJSON(prefix string) *JSON {
	return &JSON{prefix: prefix}
}

// Transform validates the payload and derives the target path.
func (t *JSON) Transform(in message.Inbound) (message.Document, error) {
	if !json.Valid(in.Payload) {
		return message.Document{}, errors.WrapInvalid(errors.ErrParsingFailed,
			"JSON", "Transform", "payload is not valid JSON")
	}

	digest := sha256.Sum256(in.Payload)
	leaf := hex.EncodeToString(digest[:])[:16]

	return message.Document{
		Path:        joinPath(t.prefix, in.Subject, leaf),
		Content:     in.Payload,
		ContentType: "application/json",
	}, nil
}

var _ Transformer = (*JSON)(nil)
