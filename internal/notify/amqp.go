package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rabbitmq/amqp091-go"
)

// AMQPEmitter publishes lifecycle events to a topic exchange. Routing key is
// the lower-cased event type, so consumers can bind per concern
// (e.g. "cancel_request" for the staff inbox).
type AMQPEmitter struct {
	channel  *amqp091.Channel
	exchange string
}

func NewAMQPEmitter(conn *amqp091.Connection, exchange string) (*AMQPEmitter, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPEmitter{channel: ch, exchange: exchange}, nil
}

func (e *AMQPEmitter) Emit(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	routingKey := strings.ToLower(string(ev.Type))

	err = e.channel.PublishWithContext(ctx, e.exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

func (e *AMQPEmitter) Close() error {
	return e.channel.Close()
}

// Dial connects to the broker.
func Dial(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	return conn, nil
}
