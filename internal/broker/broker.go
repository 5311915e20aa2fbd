package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Broker publishes keyed messages to a single topic. Adapters are compiled in
// with the kafka, nats and rabbitmq build tags.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Message is one published event. Key groups the messages of one ticket so
// partitioned brokers keep them in order.
type Message struct {
	Key   string
	Kind  string
	Value []byte
}

type Config struct {
	Driver string
	URL    string
	Topic  string
}

// Open returns a nil Broker for the "" and "none" drivers.
func Open(ctx context.Context, cfg Config) (Broker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none":
		return nil, nil
	}

	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("broker: url is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("broker: topic is required")
	}

	switch driver {
	case "kafka":
		return openKafka(cfg)
	case "nats":
		return openNATS(cfg)
	case "rabbitmq":
		return openRabbitMQ(cfg)
	default:
		return nil, fmt.Errorf("broker: unsupported driver %q", cfg.Driver)
	}
}

