package indexer

import (
	"context"
	"errors"
	"fmt"

	"github.com/Abdullah1738/ticket-scan/internal/events"
	"github.com/Abdullah1738/ticket-scan/internal/kv"
	"github.com/Abdullah1738/ticket-scan/internal/layout"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func (w *blockWriter) lookupIndex(ctx context.Context, kind layout.Kind, h chainhash.Hash) (uint32, bool, error) {
	raw, err := w.b.Get(ctx, layout.HashKey(kind, h))
	if errors.Is(err, kv.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	idx, err := layout.DecodeIndex(raw)
	if err != nil {
		return 0, false, err
	}
	return idx, true, nil
}

func (w *blockWriter) putIndex(ctx context.Context, kind layout.Kind, h chainhash.Hash, idx uint32) error {
	if err := w.b.Put(ctx, layout.HashKey(kind, h), layout.EncodeIndex(idx)); err != nil {
		return err
	}
	return w.b.Put(ctx, layout.IndexKey(kind, idx), h[:])
}

func (w *blockWriter) deleteIndex(ctx context.Context, kind layout.Kind, h chainhash.Hash, idx uint32) error {
	if err := w.b.Delete(ctx, layout.HashKey(kind, h)); err != nil {
		return err
	}
	return w.b.Delete(ctx, layout.IndexKey(kind, idx))
}

func (w *blockWriter) putPosition(ctx context.Context, h chainhash.Hash, pos uint32) error {
	if err := w.b.Put(ctx, layout.HeightPosKey(w.height, pos), h[:]); err != nil {
		return err
	}
	return w.b.Put(ctx, layout.CountKey(h), layout.EncodeCount(layout.Count{Height: w.height, Pos: pos}))
}

func (w *blockWriter) deletePosition(ctx context.Context, h chainhash.Hash, pos uint32) error {
	if err := w.b.Delete(ctx, layout.HeightPosKey(w.height, pos)); err != nil {
		return err
	}
	return w.b.Delete(ctx, layout.CountKey(h))
}

func (w *blockWriter) position(ctx context.Context, h chainhash.Hash) (layout.Count, error) {
	raw, err := w.b.Get(ctx, layout.CountKey(h))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return layout.Count{}, fmt.Errorf("%w: no position for %s", ErrMissingState, h)
		}
		return layout.Count{}, err
	}
	return layout.DecodeCount(raw)
}

func (w *blockWriter) payouts(ctx context.Context, issueIdx uint32) ([]layout.Address, error) {
	raw, err := w.b.Get(ctx, layout.PayoutsKey(issueIdx))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("%w: no payouts for issue index %d", ErrMissingState, issueIdx)
		}
		return nil, err
	}
	return layout.DecodePayouts(raw)
}

// hashAt resolves an index the block's range claims. A gap is fatal.
func (w *blockWriter) hashAt(ctx context.Context, kind layout.Kind, idx uint32) (chainhash.Hash, error) {
	raw, err := w.b.Get(ctx, layout.IndexKey(kind, idx))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return chainhash.Hash{}, fmt.Errorf("%w: %s index %d unresolved at height %d", ErrMissingState, kind, idx, w.height)
		}
		return chainhash.Hash{}, err
	}
	return layout.DecodeHash(raw)
}

func (w *blockWriter) index32(ctx context.Context, key []byte, what string) (uint32, error) {
	raw, err := w.b.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, fmt.Errorf("%w: no %s at height %d", ErrMissingState, what, w.height)
		}
		return 0, err
	}
	return layout.DecodeIndex(raw)
}

func (w *blockWriter) blockRange(ctx context.Context, kind layout.Kind) (layout.BlockRange, error) {
	raw, err := w.b.Get(ctx, layout.RangeKey(kind, w.height))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return layout.BlockRange{}, fmt.Errorf("%w: no %s range at height %d", ErrMissingState, kind, w.height)
		}
		return layout.BlockRange{}, err
	}
	return layout.DecodeRange(raw)
}

func addressStrings(addrs []layout.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

func issuedPayload(h chainhash.Hash, height, pos, idx uint32, payouts []layout.Address) events.TicketIssuedPayload {
	return events.TicketIssuedPayload{
		TxID:     h.String(),
		Height:   int64(height),
		Position: pos,
		Index:    idx,
		Payouts:  addressStrings(payouts),
	}
}

func redeemedPayload(h chainhash.Hash, height, pos, idx uint32, issueHash chainhash.Hash, issueIdx uint32, addrs []layout.Address) events.TicketRedeemedPayload {
	return events.TicketRedeemedPayload{
		TxID:       h.String(),
		Height:     int64(height),
		Position:   pos,
		Index:      idx,
		IssueTxID:  issueHash.String(),
		IssueIndex: issueIdx,
		Payouts:    addressStrings(addrs),
	}
}
