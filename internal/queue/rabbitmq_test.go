package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// fakeAcknowledger records how a delivery was settled.
type fakeAcknowledger struct {
	mu      sync.Mutex
	acked   int
	nacked  int
	requeue bool
}

func (f *fakeAcknowledger) Ack(uint64, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked++
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked++
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

func delivery(t *testing.T, ack amqp.Acknowledger, body any) amqp.Delivery {
	t.Helper()
	raw, ok := body.([]byte)
	if !ok {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: raw}
}

func TestMessage_WireFormat(t *testing.T) {
	id := uuid.MustParse("66666666-6666-6666-6666-666666666666")
	raw, err := json.Marshal(Message{JobID: id, Prompt: "classify spam"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"job_id":"66666666-6666-6666-6666-666666666666","prompt":"classify spam"}`, string(raw))
}

func TestHandleDelivery_SuccessAcks(t *testing.T) {
	ack := &fakeAcknowledger{}
	msg := Message{JobID: uuid.New(), Prompt: "predict sales"}

	var got Message
	handleDelivery(context.Background(), delivery(t, ack, msg), func(_ context.Context, m Message) error {
		got = m
		return nil
	})

	assert.Equal(t, msg, got)
	assert.Equal(t, 1, ack.acked)
	assert.Equal(t, 0, ack.nacked)
}

func TestHandleDelivery_RequeueNacksWithRequeue(t *testing.T) {
	ack := &fakeAcknowledger{}
	handleDelivery(context.Background(), delivery(t, ack, Message{JobID: uuid.New()}), func(context.Context, Message) error {
		return fmt.Errorf("database down: %w", ErrRequeue)
	})

	assert.Equal(t, 0, ack.acked)
	assert.Equal(t, 1, ack.nacked)
	assert.True(t, ack.requeue)
}

func TestHandleDelivery_OtherErrorDrops(t *testing.T) {
	ack := &fakeAcknowledger{}
	handleDelivery(context.Background(), delivery(t, ack, Message{JobID: uuid.New()}), func(context.Context, Message) error {
		return errors.New("job not found")
	})

	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeue)
}

func TestHandleDelivery_UndecodableDrops(t *testing.T) {
	ack := &fakeAcknowledger{}
	called := false
	handleDelivery(context.Background(), delivery(t, ack, []byte("{not json")), func(context.Context, Message) error {
		called = true
		return nil
	})

	assert.False(t, called)
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeue)
}

// setupRabbitMQ starts a broker container and returns its AMQP URL.
func setupRabbitMQ(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5672")
	require.NoError(t, err)

	return fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
}

func TestRabbitMQ_EnqueueAndConsume(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := setupRabbitMQ(t)

	r, err := Dial(url, "ml_queue_test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.Ping(context.Background()))

	ctx := context.Background()
	sent := []Message{
		{JobID: uuid.New(), Prompt: "classify spam"},
		{JobID: uuid.New(), Prompt: "cluster users"},
	}
	for _, m := range sent {
		require.NoError(t, r.Enqueue(ctx, m))
	}

	status, err := r.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ml_queue_test", status.Queue)
	assert.Equal(t, 2, status.Messages)
	assert.Equal(t, 0, status.Consumers)

	consumeCtx, cancel := context.WithCancel(ctx)
	received := make(chan Message, len(sent))
	done := make(chan error, 1)
	go func() {
		done <- r.Consume(consumeCtx, "test-worker", 2, func(_ context.Context, m Message) error {
			received <- m
			return nil
		})
	}()

	got := map[uuid.UUID]string{}
	for range sent {
		select {
		case m := <-received:
			got[m.JobID] = m.Prompt
		case <-time.After(10 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	for _, m := range sent {
		assert.Equal(t, m.Prompt, got[m.JobID])
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("consumer did not stop")
	}

	status, err = r.Inspect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Messages)
}

func TestRabbitMQ_RequeuedMessageIsRedelivered(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	url := setupRabbitMQ(t)

	r, err := Dial(url, "ml_queue_requeue")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msg := Message{JobID: uuid.New(), Prompt: "forecast demand"}
	require.NoError(t, r.Enqueue(ctx, msg))

	var mu sync.Mutex
	attempts := 0
	finished := make(chan struct{})
	go func() {
		_ = r.Consume(ctx, "requeue-worker", 1, func(_ context.Context, m Message) error {
			mu.Lock()
			defer mu.Unlock()
			attempts++
			if attempts == 1 {
				return ErrRequeue
			}
			close(finished)
			return nil
		})
	}()

	select {
	case <-finished:
	case <-time.After(10 * time.Second):
		t.Fatal("message was not redelivered")
	}
	mu.Lock()
	assert.Equal(t, 2, attempts)
	mu.Unlock()
}
