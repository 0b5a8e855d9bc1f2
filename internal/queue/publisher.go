package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"stylizer/internal/pipeline"
)

const routingKey = "step.execute"

// Publisher pushes execution payloads onto a durable RabbitMQ queue. It
// implements pipeline.Dispatcher.
type Publisher struct {
	channel  *amqp.Channel
	exchange string
}

// NewPublisher opens a channel and declares the durable exchange.
func NewPublisher(conn *amqp.Connection, exchange string) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("queue: declare exchange: %w", err)
	}
	return &Publisher{channel: ch, exchange: exchange}, nil
}

// Dispatch publishes the payload with persistent delivery so it survives a
// broker restart. Delivery is at-least-once; the execution step's
// idempotency check absorbs duplicates.
func (p *Publisher) Dispatch(ctx context.Context, payload pipeline.StepPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: encode payload: %w", err)
	}
	err = p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("queue: publish: %w", err)
	}
	return nil
}

var _ pipeline.Dispatcher = (*Publisher)(nil)
