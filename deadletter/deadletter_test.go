package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeByJF/mqbridge/message"
)

type capturePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
	err      error
}

func (p *capturePublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, data)
	return nil
}

func TestRecorderPublishesRecord(t *testing.T) {
	pub := &capturePublisher{}
	rec := NewRecorder(pub, "dead.letters", nil)

	in := message.Inbound{
		Subject:    "sensors.kitchen.temp",
		Payload:    []byte(`{"bad": }`),
		ReceivedAt: time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC),
	}
	rec.Record(context.Background(), in, fmt.Errorf("payload is not valid JSON"))

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, "dead.letters", pub.subjects[0])

	var stored Record
	require.NoError(t, json.Unmarshal(pub.payloads[0], &stored))
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, "sensors.kitchen.temp", stored.Subject)
	assert.Equal(t, []byte(`{"bad": }`), stored.Payload)
	assert.Equal(t, in.ReceivedAt, stored.ReceivedAt)
	assert.Contains(t, stored.Error, "not valid JSON")
	assert.False(t, stored.RecordedAt.IsZero())
}

func TestRecorderDistinctIDs(t *testing.T) {
	pub := &capturePublisher{}
	rec := NewRecorder(pub, "dead.letters", nil)

	in := message.Inbound{Subject: "a", Payload: []byte("x")}
	rec.Record(context.Background(), in, nil)
	rec.Record(context.Background(), in, nil)

	require.Len(t, pub.payloads, 2)
	var first, second Record
	require.NoError(t, json.Unmarshal(pub.payloads[0], &first))
	require.NoError(t, json.Unmarshal(pub.payloads[1], &second))
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRecorderLogOnlyFallback(t *testing.T) {
	// No publisher configured: must not panic, record goes to the log
	rec := NewRecorder(nil, "", nil)
	rec.Record(context.Background(), message.Inbound{Subject: "a"}, fmt.Errorf("boom"))
}

func TestRecorderPublishFailureDoesNotPropagate(t *testing.T) {
	pub := &capturePublisher{err: fmt.Errorf("no connection")}
	rec := NewRecorder(pub, "dead.letters", nil)

	// Must swallow the publish error
	rec.Record(context.Background(), message.Inbound{Subject: "a"}, fmt.Errorf("boom"))
	assert.Empty(t, pub.payloads)
}
