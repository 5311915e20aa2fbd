//go:build rabbitmq

package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type rabbitMQBroker struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	confirm chan amqp.Confirmation
}

func openRabbitMQ(cfg Config) (Broker, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("broker: rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("broker: rabbitmq channel: %w", err)
	}
	closeAll := func() {
		_ = ch.Close()
		_ = conn.Close()
	}

	if _, err := ch.QueueDeclare(cfg.Topic, true, false, false, false, nil); err != nil {
		closeAll()
		return nil, fmt.Errorf("broker: rabbitmq queue declare: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		closeAll()
		return nil, fmt.Errorf("broker: rabbitmq confirm mode: %w", err)
	}
	confirm := ch.NotifyPublish(make(chan amqp.Confirmation, 1))

	return &rabbitMQBroker{conn: conn, ch: ch, queue: cfg.Topic, confirm: confirm}, nil
}

// Publish waits for the broker's confirmation of each message.
func (b *rabbitMQBroker) Publish(ctx context.Context, msg Message) error {
	pub := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		MessageId:    msg.Key,
		Type:         msg.Kind,
		Timestamp:    time.Now().UTC(),
		Body:         msg.Value,
	}
	if err := b.ch.PublishWithContext(ctx, "", b.queue, false, false, pub); err != nil {
		return fmt.Errorf("broker: rabbitmq publish %s: %w", msg.Kind, err)
	}
	select {
	case c, ok := <-b.confirm:
		if !ok {
			return fmt.Errorf("broker: rabbitmq channel closed before confirm")
		}
		if !c.Ack {
			return fmt.Errorf("broker: rabbitmq nacked delivery %d", c.DeliveryTag)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *rabbitMQBroker) Close() error {
	if b == nil {
		return nil
	}
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
