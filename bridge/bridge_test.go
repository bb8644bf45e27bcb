package bridge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeByJF/mqbridge/broker"
	"github.com/CodeByJF/mqbridge/connector"
	"github.com/CodeByJF/mqbridge/errors"
	"github.com/CodeByJF/mqbridge/message"
	"github.com/CodeByJF/mqbridge/pkg/retry"
	"github.com/CodeByJF/mqbridge/transform"
	"github.com/CodeByJF/mqbridge/writer"
)

type fakeSubscriber struct {
	mu      sync.Mutex
	handler broker.Handler
	state   broker.ConnState
}

func (s *fakeSubscriber) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = broker.StateConnected
	return nil
}

func (s *fakeSubscriber) Subscribe(_ context.Context, h broker.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
	return nil
}

func (s *fakeSubscriber) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = nil
	return nil
}

func (s *fakeSubscriber) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = broker.StateDisconnected
	return nil
}

func (s *fakeSubscriber) State() broker.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// deliver pushes a message through the subscription handler the way the
// broker client would. Returns false when not subscribed.
func (s *fakeSubscriber) deliver(ctx context.Context, in message.Inbound) bool {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		return false
	}
	h(ctx, in)
	return true
}

type fakeStore struct {
	mu          sync.Mutex
	connectErrs []error
	putErrs     []error
	docs        map[string][]byte
	puts        int
	closed      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string][]byte)}
}

func (s *fakeStore) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.connectErrs) > 0 {
		err := s.connectErrs[0]
		s.connectErrs = s.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStore) Put(_ context.Context, doc message.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if len(s.putErrs) > 0 {
		err := s.putErrs[0]
		s.putErrs = s.putErrs[1:]
		if err != nil {
			return err
		}
	}
	s.docs[doc.Path] = doc.Content
	return nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStore) docCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func (s *fakeStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

type ackHandle struct {
	id   string
	acks atomic.Int32
	naks atomic.Int32
}

func (h *ackHandle) ID() string { return h.id }

func (h *ackHandle) Ack(context.Context) error {
	h.acks.Add(1)
	return nil
}

func (h *ackHandle) Nak(context.Context) error {
	h.naks.Add(1)
	return nil
}

func fastRetry(attempts int) retry.Config {
	return retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func testOptions(sub *fakeSubscriber, store *fakeStore) Options {
	return Options{
		Subscriber:        sub,
		Store:             store,
		Transformer:       transform.NewJSON("bridge"),
		QueueCapacity:     16,
		Connector:         connector.Config{ConnectRetry: fastRetry(3), AckOnFailure: true},
		Writer:            writer.Config{Retry: fastRetry(3)},
		StoreConnectRetry: fastRetry(3),
		GracePeriod:       5 * time.Second,
		HealthInterval:    50 * time.Millisecond,
	}
}

// startBridge runs the bridge and waits for it to reach Running.
func startBridge(t *testing.T, b *Bridge, ctx context.Context) chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool {
		return b.State() == StateRunning
	}, 5*time.Second, 10*time.Millisecond, "bridge did not reach running state")
	return done
}

func TestNewValidation(t *testing.T) {
	sub := &fakeSubscriber{}
	store := newFakeStore()
	tr := transform.NewJSON("")

	_, err := New(Options{Store: store, Transformer: tr})
	assert.Error(t, err)
	_, err = New(Options{Subscriber: sub, Transformer: tr})
	assert.Error(t, err)
	_, err = New(Options{Subscriber: sub, Store: store})
	assert.Error(t, err)

	b, err := New(Options{Subscriber: sub, Store: store, Transformer: tr})
	require.NoError(t, err)
	assert.Equal(t, StateStarting, b.State())
}

func TestEndToEndDeliveryAndAck(t *testing.T) {
	sub := &fakeSubscriber{}
	store := newFakeStore()
	b, err := New(testOptions(sub, store))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := startBridge(t, b, ctx)

	h := &ackHandle{id: "m1"}
	require.True(t, sub.deliver(ctx, message.Inbound{
		Subject:    "sensors.kitchen.temp",
		Payload:    []byte(`{"v":21.5}`),
		ReceivedAt: time.Now(),
		Handle:     h,
	}))

	require.Eventually(t, func() bool {
		return h.acks.Load() == 1
	}, 5*time.Second, 10*time.Millisecond, "message not acknowledged")
	assert.Equal(t, 1, store.docCount())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop")
	}
	assert.Equal(t, StateStopped, b.State())
	assert.True(t, store.closed)
}

func TestTwoTimeoutsThenSuccessEndToEnd(t *testing.T) {
	transient := errors.WrapTransient(fmt.Errorf("i/o timeout"), "Store", "Put", "upsert")
	sub := &fakeSubscriber{}
	store := newFakeStore()
	store.putErrs = []error{transient, transient, nil}

	b, err := New(testOptions(sub, store))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startBridge(t, b, ctx)

	h := &ackHandle{id: "m1"}
	sub.deliver(ctx, message.Inbound{
		Subject: "sensors.kitchen.temp",
		Payload: []byte(`{"v":21.5}`),
		Handle:  h,
	})

	require.Eventually(t, func() bool {
		return h.acks.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// Exactly one document and one acknowledgment despite the retries
	assert.Equal(t, 1, store.docCount())
	assert.Equal(t, 3, store.putCount())
	assert.Equal(t, int32(1), h.acks.Load())
	assert.Equal(t, int32(0), h.naks.Load())

	cancel()
	<-done
}

func TestMalformedMessageAckedAndBridgeContinues(t *testing.T) {
	sub := &fakeSubscriber{}
	store := newFakeStore()
	b, err := New(testOptions(sub, store))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startBridge(t, b, ctx)

	bad := &ackHandle{id: "bad"}
	sub.deliver(ctx, message.Inbound{
		Subject: "sensors.kitchen.temp",
		Payload: []byte(`{"bad": }`),
		Handle:  bad,
	})
	good := &ackHandle{id: "good"}
	sub.deliver(ctx, message.Inbound{
		Subject: "sensors.kitchen.temp",
		Payload: []byte(`{"v":21.5}`),
		Handle:  good,
	})

	require.Eventually(t, func() bool {
		return good.acks.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)

	// The malformed message is acked (AckOnFailure) rather than redelivered
	// forever, and never reached the store
	assert.Equal(t, int32(1), bad.acks.Load())
	assert.Equal(t, 1, store.docCount())

	cancel()
	<-done
}

func TestDrainWritesBacklog(t *testing.T) {
	sub := &fakeSubscriber{}
	store := newFakeStore()
	b, err := New(testOptions(sub, store))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := startBridge(t, b, ctx)

	handles := make([]*ackHandle, 0, 5)
	for i := 0; i < 5; i++ {
		h := &ackHandle{id: fmt.Sprintf("m%d", i)}
		handles = append(handles, h)
		sub.deliver(ctx, message.Inbound{
			Subject: "sensors.a",
			Payload: []byte(fmt.Sprintf(`{"v":%d}`, i)),
			Handle:  h,
		})
	}

	// Shut down immediately; the backlog must still be written and acked
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not drain")
	}

	assert.Equal(t, 5, store.docCount())
	for _, h := range handles {
		assert.Equal(t, int32(1), h.acks.Load(), "handle %s not acked during drain", h.id)
	}
}

func TestFatalConditionStopsBridge(t *testing.T) {
	sub := &fakeSubscriber{}
	store := newFakeStore()
	b, err := New(testOptions(sub, store))
	require.NoError(t, err)

	ctx := context.Background()
	done := startBridge(t, b, ctx)

	cause := errors.WrapFatal(fmt.Errorf("authorization violation"), "Client", "receive", "authorization")
	b.Fatal(cause)

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.IsFatal(err))
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop on fatal condition")
	}
	assert.Equal(t, StateStopped, b.State())
}

func TestStoreConnectRetriesTransient(t *testing.T) {
	transient := errors.WrapTransient(fmt.Errorf("connection refused"), "Store", "Connect", "dial")
	sub := &fakeSubscriber{}
	store := newFakeStore()
	store.connectErrs = []error{transient, transient, nil}

	b, err := New(testOptions(sub, store))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := startBridge(t, b, ctx)

	cancel()
	assert.NoError(t, <-done)
}

func TestStoreConnectFatalAbortsStartup(t *testing.T) {
	fatal := errors.WrapFatal(fmt.Errorf("authentication failed"), "Store", "Connect", "ping")
	sub := &fakeSubscriber{}
	store := newFakeStore()
	store.connectErrs = []error{fatal}

	b, err := New(testOptions(sub, store))
	require.NoError(t, err)

	runErr := b.Run(context.Background())
	require.Error(t, runErr)
	assert.Equal(t, StateStopped, b.State())
}

func TestHealthReflectsComponentState(t *testing.T) {
	sub := &fakeSubscriber{}
	store := newFakeStore()
	b, err := New(testOptions(sub, store))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startBridge(t, b, ctx)

	require.Eventually(t, func() bool {
		status, ok := b.Health().Get("broker")
		return ok && status.IsHealthy()
	}, 5*time.Second, 10*time.Millisecond)

	agg := b.Health().Aggregate("bridge")
	assert.True(t, agg.IsHealthy())

	cancel()
	<-done
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "draining", StateDraining.String())
	assert.Equal(t, "stopped", StateStopped.String())
}
