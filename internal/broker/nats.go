//go:build nats

package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type natsBroker struct {
	nc      *nats.Conn
	subject string
}

func openNATS(cfg Config) (Broker, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("ticket-scan"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("broker: nats connect: %w", err)
	}
	return &natsBroker{nc: nc, subject: cfg.Topic}, nil
}

// Publish flushes after every message so the caller's cursor only advances
// once the server has the event.
func (b *natsBroker) Publish(ctx context.Context, msg Message) error {
	m := nats.NewMsg(b.subject)
	m.Data = msg.Value
	if msg.Key != "" {
		m.Header.Set("x-key", msg.Key)
	}
	if msg.Kind != "" {
		m.Header.Set("x-kind", msg.Kind)
	}
	if err := b.nc.PublishMsg(m); err != nil {
		return fmt.Errorf("broker: nats publish %s: %w", msg.Kind, err)
	}
	if err := b.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("broker: nats flush: %w", err)
	}
	return nil
}

func (b *natsBroker) Close() error {
	if b == nil || b.nc == nil {
		return nil
	}
	return b.nc.Drain()
}
