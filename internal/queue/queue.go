// Package queue carries training tasks from the API to the workers over RabbitMQ.
package queue

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

const (
	Exchange   = "ml.exchange"
	RoutingKey = "ml_tasks.process_prompt"
)

// ErrRequeue tells the consumer to hand the message back to the broker.
var ErrRequeue = errors.New("requeue message")

// Message is the task payload: which job to run and the prompt it was submitted with.
type Message struct {
	JobID  uuid.UUID `json:"job_id"`
	Prompt string    `json:"prompt"`
}

// Publisher enqueues tasks. Delivery is at-least-once.
type Publisher interface {
	Enqueue(ctx context.Context, msg Message) error
}

// Handler processes one delivered message. Returning nil acks it, an error
// wrapping ErrRequeue requeues it, and any other error drops it.
type Handler func(ctx context.Context, msg Message) error

// Status is a point-in-time view of the task queue.
type Status struct {
	Queue     string `json:"queue"`
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
}
