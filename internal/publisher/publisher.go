// Package publisher drains the event outbox to a message broker, advancing a
// persisted cursor after every delivered event.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Abdullah1738/ticket-scan/internal/broker"
	"github.com/Abdullah1738/ticket-scan/internal/events"
	"github.com/Abdullah1738/ticket-scan/internal/kv"
	"github.com/Abdullah1738/ticket-scan/internal/logging"
	"github.com/Abdullah1738/ticket-scan/internal/metrics"
)

// CursorName is the meta row holding the last published sequence number.
const CursorName = "publish_cursor"

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Logger       *slog.Logger
}

type Publisher struct {
	st  kv.Store
	br  broker.Broker
	log *slog.Logger

	pollInterval time.Duration
	batchSize    int
}

func New(st kv.Store, br broker.Broker, cfg Config) (*Publisher, error) {
	if st == nil {
		return nil, errors.New("publisher: store is nil")
	}
	if br == nil {
		return nil, errors.New("publisher: broker is nil")
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > 5000 {
		batchSize = 1000
	}

	return &Publisher{
		st:           st,
		br:           br,
		log:          logging.OrDiscard(cfg.Logger).With("component", "publisher"),
		pollInterval: poll,
		batchSize:    batchSize,
	}, nil
}

func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		if err := p.publishOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Publisher) publishOnce(ctx context.Context) error {
	cursor, err := events.Cursor(ctx, p.st, CursorName)
	if err != nil {
		return fmt.Errorf("publisher: load cursor: %w", err)
	}

	for {
		batch, err := events.List(ctx, p.st, cursor, p.batchSize)
		if err != nil {
			return fmt.Errorf("publisher: list events: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}

		for _, e := range batch {
			value, err := json.Marshal(broker.Envelope{
				Version: "v1",
				Seq:     e.Seq,
				Kind:    e.Kind,
				Height:  e.Height,
				Payload: e.Payload,
			})
			if err != nil {
				return fmt.Errorf("publisher: marshal envelope: %w", err)
			}

			msg := broker.Message{Key: eventKey(e), Kind: e.Kind, Value: value}
			if err := p.br.Publish(ctx, msg); err != nil {
				return err
			}
			metrics.EventsPublished.WithLabelValues(e.Kind).Inc()

			cursor = e.Seq
			if err := events.SetCursor(ctx, p.st, CursorName, cursor); err != nil {
				return fmt.Errorf("publisher: store cursor: %w", err)
			}
		}
		p.log.Debug("published events", "count", len(batch), "cursor", cursor)
	}
}

// eventKey is the ticket's txid when the payload carries one.
func eventKey(e events.Event) string {
	var tx struct {
		TxID string `json:"txid"`
	}
	if err := json.Unmarshal(e.Payload, &tx); err == nil && tx.TxID != "" {
		return tx.TxID
	}
	return strconv.FormatUint(e.Seq, 10)
}
