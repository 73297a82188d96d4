package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
	"nuclight.org/batch-share-bot/pkg/logger"
)

// RabbitMQ publishes events as persistent JSON messages to a topic exchange,
// the event key is the routing key.
type RabbitMQ struct {
	log      logger.Logger
	conn     *amqp091.Connection
	exchange string
}

func NewRabbitMQ(url, exchange string, log logger.Logger) (*RabbitMQ, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	err = ch.ExchangeDeclare(exchange, amqp091.ExchangeTopic, true, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declaring exchange: %w", err)
	}

	return &RabbitMQ{
		log:      log,
		conn:     conn,
		exchange: exchange,
	}, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, key string, env Envelope) error {
	fillMeta(&env, key)

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	err = ch.PublishWithContext(ctx, r.exchange, key, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    env.Meta.ID,
		Timestamp:    env.Meta.OccurredAt,
		Type:         key,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	r.log.Debug("event published", "key", key, "exchange", r.exchange, "event_id", env.Meta.ID)
	return nil
}

func (r *RabbitMQ) Close() error {
	return r.conn.Close()
}

func fillMeta(env *Envelope, key string) {
	if env.Meta.ID == "" {
		env.Meta.ID = uuid.NewString()
	}
	if env.Meta.Type == "" {
		env.Meta.Type = key
	}
	if env.Meta.OccurredAt.IsZero() {
		env.Meta.OccurredAt = time.Now().UTC()
	}
}
