package natsbroker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/CodeByJF/mqbridge/broker"
	"github.com/CodeByJF/mqbridge/message"
)

func TestIntegration_CoreSubscribe(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, natsURL := startNATSContainer(ctx, t)
	defer container.Terminate(ctx)

	client, err := NewClient(natsURL, []string{"sensors.>"},
		WithDeliveryMode(ModeCore))
	require.NoError(t, err)

	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)
	assert.Equal(t, broker.StateConnected, client.State())

	var mu sync.Mutex
	var received []message.Inbound
	err = client.Subscribe(ctx, func(_ context.Context, in message.Inbound) {
		mu.Lock()
		received = append(received, in)
		mu.Unlock()
	})
	require.NoError(t, err)

	pub, err := nats.Connect(natsURL)
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish("sensors.kitchen.temp", []byte(`{"v":21.5}`)))
	require.NoError(t, pub.Flush())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 5*time.Second, 50*time.Millisecond)

	mu.Lock()
	in := received[0]
	mu.Unlock()
	assert.Equal(t, "sensors.kitchen.temp", in.Subject)
	assert.Equal(t, []byte(`{"v":21.5}`), in.Payload)
	assert.NotEmpty(t, in.Handle.ID())
}

func TestIntegration_JetStreamAckAndRedelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, natsURL := startNATSContainerWithJS(ctx, t)
	defer container.Terminate(ctx)

	client, err := NewClient(natsURL, []string{"sensors.>"},
		WithDeliveryMode(ModeJetStream),
		WithStream("SENSORS", "bridge"),
		WithAckWait(time.Second))
	require.NoError(t, err)

	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	var mu sync.Mutex
	deliveries := make(map[string]int) // handle ID -> delivery count
	var handles []message.DeliveryHandle
	err = client.Subscribe(ctx, func(_ context.Context, in message.Inbound) {
		mu.Lock()
		deliveries[in.Handle.ID()]++
		handles = append(handles, in.Handle)
		mu.Unlock()
	})
	require.NoError(t, err)

	pub, err := nats.Connect(natsURL)
	require.NoError(t, err)
	defer pub.Close()
	require.NoError(t, pub.Publish("sensors.scale.weight", []byte(`{"weight":82.4}`)))
	require.NoError(t, pub.Flush())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handles) >= 1
	}, 5*time.Second, 50*time.Millisecond)

	// Nak forces a redelivery with the same handle ID
	mu.Lock()
	first := handles[0]
	mu.Unlock()
	require.NoError(t, first.Nak(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return deliveries[first.ID()] >= 2
	}, 5*time.Second, 50*time.Millisecond)

	// Ack stops further redeliveries
	mu.Lock()
	last := handles[len(handles)-1]
	mu.Unlock()
	require.NoError(t, last.Ack(ctx))

	mu.Lock()
	count := deliveries[first.ID()]
	mu.Unlock()
	time.Sleep(2 * time.Second)
	mu.Lock()
	assert.Equal(t, count, deliveries[first.ID()], "message redelivered after ack")
	mu.Unlock()
}

func TestIntegration_UnsubscribeStopsDelivery(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, natsURL := startNATSContainer(ctx, t)
	defer container.Terminate(ctx)

	client, err := NewClient(natsURL, []string{"sensors.>"},
		WithDeliveryMode(ModeCore))
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	var mu sync.Mutex
	count := 0
	require.NoError(t, client.Subscribe(ctx, func(context.Context, message.Inbound) {
		mu.Lock()
		count++
		mu.Unlock()
	}))

	pub, err := nats.Connect(natsURL)
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Publish("sensors.a", []byte("1")))
	require.NoError(t, pub.Flush())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, client.Unsubscribe())

	require.NoError(t, pub.Publish("sensors.a", []byte("2")))
	require.NoError(t, pub.Flush())
	time.Sleep(500 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, count, "delivery continued after unsubscribe")
	mu.Unlock()

	// Connection stays usable for publishes after unsubscribe
	assert.NoError(t, client.Publish(ctx, "dead.letters", []byte("x")))
}

func TestIntegration_PublishRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, natsURL := startNATSContainer(ctx, t)
	defer container.Terminate(ctx)

	client, err := NewClient(natsURL, []string{"sensors.>"},
		WithDeliveryMode(ModeCore))
	require.NoError(t, err)
	require.NoError(t, client.Connect(ctx))
	defer client.Close(ctx)

	sub, err := nats.Connect(natsURL)
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe("dead.letters", msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	require.NoError(t, client.Publish(ctx, "dead.letters", []byte(`{"id":"x"}`)))

	select {
	case m := <-msgs:
		assert.Equal(t, []byte(`{"id":"x"}`), m.Data)
	case <-time.After(5 * time.Second):
		t.Fatal("dead letter not received")
	}
}

// Helper to start a plain NATS container
func startNATSContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
	}

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := natsContainer.Host(ctx)
	require.NoError(t, err)
	port, err := natsContainer.MappedPort(ctx, "4222")
	require.NoError(t, err)

	natsURL := fmt.Sprintf("nats://%s:%s", host, port.Port())

	// Wait for NATS to be fully ready
	time.Sleep(100 * time.Millisecond)

	return natsContainer, natsURL
}

// Helper to start a NATS container with JetStream enabled
func startNATSContainerWithJS(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "nats:latest",
		ExposedPorts: []string{"4222/tcp"},
		WaitingFor:   wait.ForListeningPort("4222/tcp"),
		Cmd:          []string{"-js"},
	}

	natsContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := natsContainer.Host(ctx)
	require.NoError(t, err)
	port, err := natsContainer.MappedPort(ctx, "4222")
	require.NoError(t, err)

	natsURL := fmt.Sprintf("nats://%s:%s", host, port.Port())

	time.Sleep(200 * time.Millisecond)

	return natsContainer, natsURL
}
