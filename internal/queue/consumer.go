package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"stylizer/internal/infra"
	"stylizer/internal/pipeline"
)

// StepHandler executes one payload; it is pipeline.Service.ExecuteStep in
// production.
type StepHandler func(ctx context.Context, payload pipeline.StepPayload) error

// Consumer drains execution payloads from the durable queue. Ack/nack
// translates the step's classification: terminal outcomes are acked so
// unwinnable work is never redelivered, retryable ones are nacked back
// onto the queue unless the step asked to back off until the sweep.
type Consumer struct {
	channel  *amqp.Channel
	queue    string
	handler  StepHandler
	log      infra.Logger
	prefetch int
}

// NewConsumer declares the durable queue, binds it and applies prefetch,
// which bounds how many steps run concurrently in one worker.
func NewConsumer(conn *amqp.Connection, exchange, queueName string, prefetch int, handler StepHandler, log infra.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("queue: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("queue: declare queue: %w", err)
	}
	if err := ch.QueueBind(queueName, routingKey, exchange, false, nil); err != nil {
		return nil, fmt.Errorf("queue: bind queue: %w", err)
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("queue: set prefetch: %w", err)
	}
	return &Consumer{channel: ch, queue: queueName, handler: handler, log: log, prefetch: prefetch}, nil
}

// Start consumes until the context is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue: consume: %w", err)
	}
	c.log.Info().Str("queue", c.queue).Int("prefetch", c.prefetch).Msg("queue: consumer started")

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("queue: consumer stopped")
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				c.log.Warn().Msg("queue: channel closed")
				return nil
			}
			go c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	var payload pipeline.StepPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.log.Error().Err(err).Msg("queue: undecodable payload, dropping")
		_ = msg.Nack(false, false)
		return
	}

	err := c.handler(ctx, payload)
	switch {
	case err == nil:
		_ = msg.Ack(false)
	case pipeline.IsRetryable(err) && !pipeline.WantsBackoff(err):
		c.log.Warn().Err(err).Str("job_id", payload.JobID).Msg("queue: retryable failure, redelivering")
		_ = msg.Nack(false, true)
	case pipeline.IsRetryable(err):
		// Rate limits back off: the job stays queued in the record store
		// and the recovery sweep re-drives it later.
		c.log.Warn().Err(err).Str("job_id", payload.JobID).Msg("queue: backing off, deferring to sweep")
		_ = msg.Ack(false)
	default:
		// Terminal classification: never redeliver unwinnable work.
		c.log.Warn().Err(err).Str("job_id", payload.JobID).Msg("queue: terminal failure, acked")
		_ = msg.Ack(false)
	}
}
