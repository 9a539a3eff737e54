// Package queue carries extraction jobs, send jobs, active schedules and channel
// events between the scheduler, the API and the workers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// Client is the minimal queue surface shared by SQS, Kafka and the in-memory queue.
type Client interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is one received queue item.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

// Publisher wraps a Client with JSON encoding.
type Publisher struct {
	client Client
}

// NewPublisher returns a JSON publisher over client.
func NewPublisher(client Client) *Publisher {
	if client == nil {
		panic("queue: client cannot be nil")
	}
	return &Publisher{client: client}
}

// Publish encodes v and sends it.
func (p *Publisher) Publish(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("queue: encode payload: %w", err)
	}
	if err := p.client.Send(ctx, string(body)); err != nil {
		return fmt.Errorf("queue: publish: %w", err)
	}
	return nil
}
