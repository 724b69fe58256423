package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueMailer publishes messages as JSON to a durable RabbitMQ queue.
// A separate worker consumes the queue and does the actual sending.
type QueueMailer struct {
	url   string
	queue string
	dial  func(url string) (amqpConnection, error)
}

// amqpConnection and amqpChannel are the parts of the amqp091 client
// QueueMailer uses, so tests can swap the broker out.
type amqpConnection interface {
	Channel() (amqpChannel, error)
	Close() error
}

type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type amqpConn struct{ *amqp.Connection }

func (c amqpConn) Channel() (amqpChannel, error) { return c.Connection.Channel() }

func dialAMQP(url string) (amqpConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return amqpConn{conn}, nil
}

func NewQueueMailer(url, queue string) *QueueMailer {
	return &QueueMailer{url: url, queue: queue, dial: dialAMQP}
}

// Send opens a connection, declares the queue (idempotent) and publishes a
// persistent message routed through the default exchange.
func (m *QueueMailer) Send(ctx context.Context, msg Message) error {
	conn, err := m.dial(m.url)
	if err != nil {
		return fmt.Errorf("mail: amqp dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("mail: amqp channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		m.queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		return fmt.Errorf("mail: amqp queue declare: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mail: encoding message: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         msg.Kind,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", m.queue, false, false, pub); err != nil {
		return fmt.Errorf("mail: amqp publish: %w", err)
	}
	return nil
}
