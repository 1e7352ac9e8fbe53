// Package events fans job transitions out to websocket subscribers and to
// the RabbitMQ job events exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/matrixai/api/internal/model"
)

// RoutingKey returns the topic routing key for a job status, e.g. "jobs.completed"
func RoutingKey(status model.JobStatus) string {
	return "jobs." + string(status)
}

// RabbitPublisher publishes job events to a topic exchange
type RabbitPublisher struct {
	channel  *amqp.Channel
	exchange string
}

// NewRabbitPublisher opens a channel on conn and declares the exchange
func NewRabbitPublisher(conn *amqp.Connection, exchange string) (*RabbitPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true, // durable
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &RabbitPublisher{
		channel:  ch,
		exchange: exchange,
	}, nil
}

// Publish sends one job event
func (p *RabbitPublisher) Publish(ctx context.Context, event model.JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.channel.PublishWithContext(ctx,
		p.exchange,
		RoutingKey(event.Status),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.JobID + ":" + string(event.Status),
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
}

// Close releases the channel
func (p *RabbitPublisher) Close() error {
	return p.channel.Close()
}

const publishTimeout = 5 * time.Second
