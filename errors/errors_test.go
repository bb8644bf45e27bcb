package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestWrapPreservesSentinel(t *testing.T) {
	err := WrapTransient(ErrStorageUnavailable, "Store", "Put", "upsert document")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStorageUnavailable))
	assert.Contains(t, err.Error(), "Store.Put: upsert document failed")
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"classified transient", WrapTransient(errors.New("boom"), "c", "m", "a"), true},
		{"classified fatal", WrapFatal(errors.New("boom"), "c", "m", "a"), false},
		{"sentinel connection lost", ErrConnectionLost, true},
		{"sentinel rate limited", ErrRateLimited, true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"timeout pattern", errors.New("i/o timeout while reading"), true},
		{"unrelated", errors.New("no such field"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrPermissionDenied))
	assert.True(t, IsFatal(ErrDocumentTooLarge))
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", ErrMaxRetriesExceeded)))
	assert.True(t, IsFatal(WrapFatal(errors.New("boom"), "c", "m", "a")))
	assert.False(t, IsFatal(ErrConnectionLost))
	assert.False(t, IsFatal(nil))
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrParsingFailed))
	assert.True(t, IsInvalid(WrapInvalid(errors.New("bad json"), "Transformer", "Transform", "parse payload")))
	assert.False(t, IsInvalid(ErrStorageUnavailable))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorFatal, Classify(ErrInvalidPath))
	assert.Equal(t, ErrorInvalid, Classify(ErrInvalidData))
	assert.Equal(t, ErrorTransient, Classify(ErrStorageUnavailable))
	// Unknown errors default to transient to allow retry
	assert.Equal(t, ErrorTransient, Classify(errors.New("mystery")))
	// Classified errors win over message patterns
	assert.Equal(t, ErrorFatal, Classify(WrapFatal(errors.New("connection refused"), "c", "m", "a")))
}

func TestClassifiedErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := WrapInvalid(inner, "Transformer", "Transform", "decode")

	var ce *ClassifiedError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "Transformer", ce.Component)
	assert.True(t, errors.Is(err, inner))
}
