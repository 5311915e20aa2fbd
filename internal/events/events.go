// Package events is the delivery journal of the ticket index. Events are
// appended inside the same batch that changes the index, so a published
// stream never disagrees with committed state.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Abdullah1738/ticket-scan/internal/kv"
	"github.com/Abdullah1738/ticket-scan/internal/layout"
)

const (
	KindTicketIssued         = "TicketIssued"
	KindTicketRedeemed       = "TicketRedeemed"
	KindTicketIssueOrphaned  = "TicketIssueOrphaned"
	KindTicketRedeemOrphaned = "TicketRedeemOrphaned"
)

const seqName = "event_seq"

type TicketIssuedPayload struct {
	TxID     string   `json:"txid"`
	Height   int64    `json:"height"`
	Position uint32   `json:"position"`
	Index    uint32   `json:"index"`
	Payouts  []string `json:"payouts"`
}

type TicketRedeemedPayload struct {
	TxID       string   `json:"txid"`
	Height     int64    `json:"height"`
	Position   uint32   `json:"position"`
	Index      uint32   `json:"index"`
	IssueTxID  string   `json:"issue_txid"`
	IssueIndex uint32   `json:"issue_index"`
	Payouts    []string `json:"payouts,omitempty"`
}

type TicketIssueOrphanedPayload struct {
	TicketIssuedPayload
	OrphanedAtHeight int64 `json:"orphaned_at_height"`
}

type TicketRedeemOrphanedPayload struct {
	TicketRedeemedPayload
	OrphanedAtHeight int64 `json:"orphaned_at_height"`
}

type Event struct {
	Seq     uint64          `json:"seq"`
	Kind    string          `json:"kind"`
	Height  int64           `json:"height"`
	Payload json.RawMessage `json:"payload"`
}

// Append journals one event in b and returns its sequence number.
func Append(ctx context.Context, b kv.Batch, kind string, height int64, payload any) (uint64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("events: marshal %s: %w", kind, err)
	}

	seq, err := Cursor(ctx, b, seqName)
	if err != nil {
		return 0, err
	}
	seq++

	value, err := json.Marshal(Event{Seq: seq, Kind: kind, Height: height, Payload: raw})
	if err != nil {
		return 0, fmt.Errorf("events: marshal event: %w", err)
	}
	if err := b.Put(ctx, layout.OutboxKey(seq), value); err != nil {
		return 0, fmt.Errorf("events: put: %w", err)
	}
	if err := b.Put(ctx, layout.MetaKey(seqName), layout.EncodeUint64(seq)); err != nil {
		return 0, fmt.Errorf("events: put seq: %w", err)
	}
	return seq, nil
}

// List returns up to limit events with a sequence greater than after.
func List(ctx context.Context, r kv.Reader, after uint64, limit int) ([]Event, error) {
	var out []Event
	err := r.Scan(ctx, kv.ScanOptions{
		Gt:    layout.OutboxKey(after),
		Lt:    []byte{layout.TagOutbox + 1},
		Limit: limit,
	}, func(_, value []byte) error {
		var e Event
		if err := json.Unmarshal(value, &e); err != nil {
			return fmt.Errorf("events: decode: %w", err)
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cursor reads a named sequence row. A missing row is zero.
func Cursor(ctx context.Context, r kv.Reader, name string) (uint64, error) {
	raw, err := r.Get(ctx, layout.MetaKey(name))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("events: read %s: %w", name, err)
	}
	v, err := layout.DecodeUint64(raw)
	if err != nil {
		return 0, fmt.Errorf("events: %s: %w", name, err)
	}
	return v, nil
}

func SetCursor(ctx context.Context, st kv.Store, name string, v uint64) error {
	return st.Update(ctx, func(b kv.Batch) error {
		return b.Put(ctx, layout.MetaKey(name), layout.EncodeUint64(v))
	})
}
