//go:build kafka

package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

type kafkaBroker struct {
	w *kafka.Writer
}

func openKafka(cfg Config) (Broker, error) {
	brokers := splitCommaList(cfg.URL)
	if len(brokers) == 0 {
		return nil, errors.New("broker: kafka url must be a comma-separated list of brokers")
	}
	w := &kafka.Writer{
		Addr:  kafka.TCP(brokers...),
		Topic: cfg.Topic,
		// Hash keeps every event of one ticket on one partition.
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &kafkaBroker{w: w}, nil
}

func (b *kafkaBroker) Publish(ctx context.Context, msg Message) error {
	m := kafka.Message{Value: msg.Value}
	if msg.Key != "" {
		m.Key = []byte(msg.Key)
	}
	if msg.Kind != "" {
		m.Headers = []kafka.Header{{Key: "kind", Value: []byte(msg.Kind)}}
	}
	if err := b.w.WriteMessages(ctx, m); err != nil {
		return fmt.Errorf("broker: kafka publish %s: %w", msg.Kind, err)
	}
	return nil
}

func (b *kafkaBroker) Close() error {
	if b == nil || b.w == nil {
		return nil
	}
	return b.w.Close()
}

func splitCommaList(s string) []string {
	var out []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}
