package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ publishes and consumes task messages on a durable queue bound to Exchange.
type RabbitMQ struct {
	conn  *amqp.Connection
	queue string

	mu  sync.Mutex
	pub *amqp.Channel
}

var _ Publisher = (*RabbitMQ)(nil)

// Dial connects to the broker and declares the exchange, queue and binding.
func Dial(url, queue string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	r := &RabbitMQ{conn: conn, queue: queue}
	if err := r.declareTopology(); err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

func (r *RabbitMQ) declareTopology() error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", Exchange, err)
	}
	if _, err := ch.QueueDeclare(r.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", r.queue, err)
	}
	if err := ch.QueueBind(r.queue, RoutingKey, Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", r.queue, err)
	}
	return nil
}

// publishChannel returns the confirm-mode channel used for Enqueue, reopening it if the broker closed it.
// Callers must hold r.mu.
func (r *RabbitMQ) publishChannel() (*amqp.Channel, error) {
	if r.pub != nil && !r.pub.IsClosed() {
		return r.pub, nil
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open publish channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	r.pub = ch
	return ch, nil
}

// Enqueue publishes msg as a persistent message and waits for the broker to confirm it.
func (r *RabbitMQ) Enqueue(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	r.mu.Lock()
	ch, err := r.publishChannel()
	if err != nil {
		r.mu.Unlock()
		return err
	}
	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, Exchange, RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.JobID.String(),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish job %s: %w", msg.JobID, err)
	}

	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm job %s: %w", msg.JobID, err)
	}
	if !acked {
		return fmt.Errorf("broker rejected job %s", msg.JobID)
	}
	return nil
}

// Consume delivers messages to handler on up to concurrency goroutines until ctx is
// cancelled. In-flight handlers finish and settle their messages before it returns.
func (r *RabbitMQ) Consume(ctx context.Context, consumerTag string, concurrency int, handler Handler) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consume channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(r.queue, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer on %s: %w", r.queue, err)
	}

	slog.Info("consuming tasks", "queue", r.queue, "consumer", consumerTag, "concurrency", concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					handleDelivery(ctx, d, handler)
				}
			}
		}()
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	var chErr error
	select {
	case <-ctx.Done():
		_ = ch.Cancel(consumerTag, false)
	case amqpErr := <-closed:
		if amqpErr != nil {
			chErr = fmt.Errorf("consume channel closed: %w", amqpErr)
		} else {
			chErr = errors.New("consume channel closed")
		}
	}
	wg.Wait()
	return chErr
}

// handleDelivery decodes one delivery, runs handler and settles the message.
func handleDelivery(ctx context.Context, d amqp.Delivery, handler Handler) {
	var msg Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		slog.Error("dropping undecodable task", "error", err, "message_id", d.MessageId)
		_ = d.Nack(false, false)
		return
	}

	err := handler(ctx, msg)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			slog.Error("ack task", "error", ackErr, "job_id", msg.JobID)
		}
	case errors.Is(err, ErrRequeue):
		slog.Warn("requeueing task", "error", err, "job_id", msg.JobID)
		_ = d.Nack(false, true)
	default:
		slog.Error("dropping task", "error", err, "job_id", msg.JobID)
		_ = d.Nack(false, false)
	}
}

// Inspect reports the queue depth and consumer count.
func (r *RabbitMQ) Inspect(_ context.Context) (Status, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return Status{}, fmt.Errorf("open inspect channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(r.queue, true, false, false, false, nil)
	if err != nil {
		return Status{}, fmt.Errorf("inspect queue %s: %w", r.queue, err)
	}
	return Status{Queue: q.Name, Messages: q.Messages, Consumers: q.Consumers}, nil
}

// Ping reports whether the broker connection is still open.
func (r *RabbitMQ) Ping(_ context.Context) error {
	if r.conn.IsClosed() {
		return errors.New("rabbitmq connection closed")
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	if r.pub != nil {
		_ = r.pub.Close()
	}
	r.mu.Unlock()
	return r.conn.Close()
}
