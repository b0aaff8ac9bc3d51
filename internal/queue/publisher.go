// Package queue connects the booking engine to RabbitMQ.  Completed
// payments are published as JSON messages on a durable queue; a consumer
// appends them to an audit log.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Zookegger/bus-ticket-booking/internal/service"
)

const PaymentEventsQueue = "payment.events"

// Publisher pushes payment events onto the queue.  It satisfies
// service.EventPublisher.
type Publisher struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	name string
}

// NewPublisher dials the broker and declares the durable queue.
func NewPublisher(url, name string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", name, err)
	}
	return &Publisher{conn: conn, ch: ch, name: name}, nil
}

func (p *Publisher) PublishPaymentEvent(ctx context.Context, ev service.PaymentEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.ch.PublishWithContext(ctx, "", p.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (p *Publisher) Close() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
