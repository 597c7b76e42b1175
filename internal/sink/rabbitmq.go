// Package sink delivers rendered payloads to destinations. The RabbitMQ
// sink hands payloads to a message queue; a downstream chat worker consumes
// them and posts to the actual channels.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"threadfeed/internal/domain"
)

type RabbitMQ struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string

	embedDefault bool
	embedByDest  map[string]bool
	accentColor  int
	logger       *slog.Logger
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string

	// EmbedDefault is the ambient rendering preference; EmbedByDestination
	// overrides it per destination. Feed-level overrides win over both.
	EmbedDefault       bool
	EmbedByDestination map[string]bool
	AccentColor        int
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		cfg.QueueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}

	err = ch.QueueBind(
		q.Name,
		cfg.RoutingKey,
		cfg.Exchange,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("bind queue: %w", err)
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:         conn,
		channel:      ch,
		exchange:     cfg.Exchange,
		routingKey:   cfg.RoutingKey,
		embedDefault: cfg.EmbedDefault,
		embedByDest:  cfg.EmbedByDestination,
		accentColor:  cfg.AccentColor,
		logger:       logger,
	}, nil
}

// DeliveryMessage is the queue envelope for one rendered post.
type DeliveryMessage struct {
	DestinationID string         `json:"destination_id"`
	Payload       domain.Payload `json:"payload"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Deliver publishes one payload for the destination. An error means the
// payload was not accepted and the caller must not advance its cursor.
func (r *RabbitMQ) Deliver(ctx context.Context, destinationID string, payload domain.Payload) error {
	msg := DeliveryMessage{
		DestinationID: destinationID,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = r.channel.PublishWithContext(
		ctx,
		r.exchange,
		r.routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}

	r.logger.Debug("delivered payload",
		"destination", destinationID,
		"embed", payload.Card != nil,
	)

	return nil
}

// EmbedDefault returns the destination's ambient rendering preference.
func (r *RabbitMQ) EmbedDefault(ctx context.Context, destinationID string) (bool, error) {
	if v, ok := r.embedByDest[destinationID]; ok {
		return v, nil
	}
	return r.embedDefault, nil
}

// AccentColor returns the accent color used for rich cards sent to the
// destination.
func (r *RabbitMQ) AccentColor(destinationID string) int {
	return r.accentColor
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
