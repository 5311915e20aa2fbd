package indexer

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/Abdullah1738/ticket-scan/internal/alloc"
	"github.com/Abdullah1738/ticket-scan/internal/events"
	"github.com/Abdullah1738/ticket-scan/internal/kv"
	"github.com/Abdullah1738/ticket-scan/internal/layout"
	"github.com/Abdullah1738/ticket-scan/internal/metrics"
	"github.com/Abdullah1738/ticket-scan/internal/ticket"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// blockWriter carries the state of one block batch.
type blockWriter struct {
	x      *TicketIndexer
	b      kv.Batch
	height uint32
	stats  blockStats
}

type blockTx struct {
	tx  *wire.MsgTx
	pos uint32
}

func (w *blockWriter) index(ctx context.Context, meta BlockMeta, block *wire.MsgBlock) error {
	if ok, err := w.b.Has(ctx, layout.RangeKey(layout.Issue, w.height)); err != nil {
		return err
	} else if ok {
		return ErrAlreadyIndexed
	}

	issueRng, err := w.x.alloc.Begin(ctx, w.b, w.height, layout.Issue)
	if err != nil {
		return err
	}
	redeemRng, err := w.x.alloc.Begin(ctx, w.b, w.height, layout.Redeem)
	if err != nil {
		return err
	}

	for i, tx := range block.Transactions {
		pos := uint32(i)
		hash := tx.TxHash()

		if prev, ok := ticket.SpentIssuance(tx); ok {
			issueIdx, found, err := w.lookupIndex(ctx, layout.Issue, prev.Hash)
			if err != nil {
				return err
			}
			if found {
				if err := w.indexRedemption(ctx, redeemRng, tx, hash, pos, prev.Hash, issueIdx); err != nil {
					return err
				}
				continue
			}
		}

		iss, err := w.x.validator.ValidateIssuance(tx)
		if err != nil {
			code, ok := ticket.Code(err)
			if !ok {
				return err
			}
			if paysCovenant(code) {
				metrics.Rejected.WithLabelValues(string(code)).Inc()
				w.x.log.Warn("rejected ticket candidate", "height", w.height, "txid", hash, "code", code)
			}
			continue
		}
		if err := w.indexIssuance(ctx, issueRng, hash, pos, iss.Payouts); err != nil {
			return err
		}
	}

	if err := w.b.Put(ctx, layout.RangeKey(layout.Issue, w.height), layout.EncodeRange(issueRng.Record())); err != nil {
		return err
	}
	if err := w.b.Put(ctx, layout.RangeKey(layout.Redeem, w.height), layout.EncodeRange(redeemRng.Record())); err != nil {
		return err
	}

	var hdr bytes.Buffer
	if err := block.Header.Serialize(&hdr); err != nil {
		return fmt.Errorf("serialize header: %w", err)
	}

	if err := w.b.Put(ctx, layout.HeightKey(w.height), meta.Hash[:]); err != nil {
		return err
	}
	if err := w.b.Put(ctx, layout.HeaderKey(meta.Hash), hdr.Bytes()); err != nil {
		return err
	}
	return w.b.Put(ctx, layout.TipKey(), layout.EncodeTip(layout.Tip{Height: w.height, Hash: meta.Hash}))
}

// paysCovenant reports whether a rejected transaction got as far as paying a
// trusted covenant. Everything earlier is ordinary traffic.
func paysCovenant(code ticket.ErrorCode) bool {
	switch code {
	case ticket.ErrTooFewOutputs, ticket.ErrNoInputs, ticket.ErrNotScriptHash, ticket.ErrUnknownAuthority:
		return false
	}
	return true
}

func (w *blockWriter) indexIssuance(ctx context.Context, rng *alloc.Range, hash chainhash.Hash, pos uint32, payouts []layout.Address) error {
	idx, fresh, err := w.x.alloc.ResolveOrAllocate(ctx, w.b, hash, rng)
	if err != nil {
		return err
	}
	if !fresh {
		w.x.log.Warn("issuance already indexed", "height", w.height, "txid", hash, "index", idx)
		return nil
	}

	if err := w.putIndex(ctx, layout.Issue, hash, idx); err != nil {
		return err
	}
	if err := w.b.Put(ctx, layout.PayoutsKey(idx), layout.EncodePayouts(payouts)); err != nil {
		return err
	}
	for _, a := range payouts {
		if err := w.b.Put(ctx, layout.AddressKey(layout.Issue, a, w.height, pos), nil); err != nil {
			return err
		}
	}
	if err := w.putPosition(ctx, hash, pos); err != nil {
		return err
	}

	w.stats.issued++
	_, err = events.Append(ctx, w.b, events.KindTicketIssued, int64(w.height), issuedPayload(hash, w.height, pos, idx, payouts))
	return err
}

func (w *blockWriter) indexRedemption(ctx context.Context, rng *alloc.Range, tx *wire.MsgTx, hash chainhash.Hash, pos uint32, issueHash chainhash.Hash, issueIdx uint32) error {
	idx, fresh, err := w.x.alloc.ResolveOrAllocate(ctx, w.b, hash, rng)
	if err != nil {
		return err
	}
	if !fresh {
		w.x.log.Warn("redemption already indexed", "height", w.height, "txid", hash, "index", idx)
		return nil
	}

	if err := w.putIndex(ctx, layout.Redeem, hash, idx); err != nil {
		return err
	}
	if err := w.b.Put(ctx, layout.RedeemOfKey(issueIdx), layout.EncodeIndex(idx)); err != nil {
		return err
	}
	if err := w.b.Put(ctx, layout.IssueOfKey(idx), layout.EncodeIndex(issueIdx)); err != nil {
		return err
	}
	addrs := w.x.validator.RedemptionAddresses(tx)
	for _, a := range addrs {
		if err := w.b.Put(ctx, layout.AddressKey(layout.Redeem, a, w.height, pos), nil); err != nil {
			return err
		}
	}
	if err := w.putPosition(ctx, hash, pos); err != nil {
		return err
	}

	// Retire the issuance: its markers live at the issuing height.
	issuedAt, err := w.position(ctx, issueHash)
	if err != nil {
		return err
	}
	payouts, err := w.payouts(ctx, issueIdx)
	if err != nil {
		return err
	}
	for _, a := range payouts {
		if err := w.b.Delete(ctx, layout.AddressKey(layout.Issue, a, issuedAt.Height, issuedAt.Pos)); err != nil {
			return err
		}
	}
	if err := w.deleteIndex(ctx, layout.Issue, issueHash, issueIdx); err != nil {
		return err
	}
	if err := w.b.Delete(ctx, layout.PayoutsKey(issueIdx)); err != nil {
		return err
	}
	if err := w.b.Put(ctx, layout.ConsumedKey(issueHash), layout.EncodeIndex(issueIdx)); err != nil {
		return err
	}

	w.stats.redeemed++
	_, err = events.Append(ctx, w.b, events.KindTicketRedeemed, int64(w.height), redeemedPayload(hash, w.height, pos, idx, issueHash, issueIdx, addrs))
	return err
}

func (w *blockWriter) unindex(ctx context.Context, meta BlockMeta, block *wire.MsgBlock) error {
	raw, err := w.b.Get(ctx, layout.TipKey())
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return fmt.Errorf("%w: no tip", ErrNotTip)
		}
		return err
	}
	tip, err := layout.DecodeTip(raw)
	if err != nil {
		return err
	}
	if tip.Height != w.height || tip.Hash != meta.Hash {
		return fmt.Errorf("%w: tip is %d %s", ErrNotTip, tip.Height, tip.Hash)
	}

	issueRng, err := w.blockRange(ctx, layout.Issue)
	if err != nil {
		return err
	}
	redeemRng, err := w.blockRange(ctx, layout.Redeem)
	if err != nil {
		return err
	}

	byHash := make(map[chainhash.Hash]blockTx, len(block.Transactions))
	for i, tx := range block.Transactions {
		byHash[tx.TxHash()] = blockTx{tx: tx, pos: uint32(i)}
	}

	// Redemptions first: an issuance redeemed in its own block must be
	// restored before its rows can be removed.
	for idx := redeemRng.Last; idx > redeemRng.Start; idx-- {
		if err := w.unindexRedemption(ctx, idx, byHash); err != nil {
			return err
		}
	}
	for idx := issueRng.Last; idx > issueRng.Start; idx-- {
		if err := w.unindexIssuance(ctx, idx, byHash); err != nil {
			return err
		}
	}

	for _, k := range [][]byte{
		layout.RangeKey(layout.Issue, w.height),
		layout.RangeKey(layout.Redeem, w.height),
		layout.HeightKey(w.height),
		layout.HeaderKey(meta.Hash),
	} {
		if err := w.b.Delete(ctx, k); err != nil {
			return err
		}
	}

	if w.height == 0 || w.height-1 < w.x.alloc.ActivationHeight() {
		return w.b.Delete(ctx, layout.TipKey())
	}
	prevRaw, err := w.b.Get(ctx, layout.HeightKey(w.height-1))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return fmt.Errorf("%w: no block hash at height %d", ErrMissingState, w.height-1)
		}
		return err
	}
	prev, err := layout.DecodeHash(prevRaw)
	if err != nil {
		return err
	}
	return w.b.Put(ctx, layout.TipKey(), layout.EncodeTip(layout.Tip{Height: w.height - 1, Hash: prev}))
}

func (w *blockWriter) unindexRedemption(ctx context.Context, idx uint32, byHash map[chainhash.Hash]blockTx) error {
	hash, err := w.hashAt(ctx, layout.Redeem, idx)
	if err != nil {
		return err
	}
	bt, ok := byHash[hash]
	if !ok {
		return fmt.Errorf("%w: redemption %s not in block %d", ErrMissingState, hash, w.height)
	}
	issueIdx, err := w.index32(ctx, layout.IssueOfKey(idx), "issue link")
	if err != nil {
		return err
	}
	prev, _ := ticket.SpentIssuance(bt.tx)
	issueHash := prev.Hash

	// Restore the issuance exactly as it was before the redemption.
	issueTx, err := w.issuanceTx(ctx, issueHash, byHash)
	if err != nil {
		return err
	}
	iss, err := w.x.validator.ValidateIssuance(issueTx)
	if err != nil {
		return fmt.Errorf("%w: revalidate issuance %s: %v", ErrMissingState, issueHash, err)
	}
	issuedAt, err := w.position(ctx, issueHash)
	if err != nil {
		return err
	}
	if err := w.putIndex(ctx, layout.Issue, issueHash, issueIdx); err != nil {
		return err
	}
	if err := w.b.Put(ctx, layout.PayoutsKey(issueIdx), layout.EncodePayouts(iss.Payouts)); err != nil {
		return err
	}
	for _, a := range iss.Payouts {
		if err := w.b.Put(ctx, layout.AddressKey(layout.Issue, a, issuedAt.Height, issuedAt.Pos), nil); err != nil {
			return err
		}
	}
	if err := w.b.Delete(ctx, layout.ConsumedKey(issueHash)); err != nil {
		return err
	}

	addrs := w.x.validator.RedemptionAddresses(bt.tx)
	for _, a := range addrs {
		if err := w.b.Delete(ctx, layout.AddressKey(layout.Redeem, a, w.height, bt.pos)); err != nil {
			return err
		}
	}
	if err := w.deleteIndex(ctx, layout.Redeem, hash, idx); err != nil {
		return err
	}
	if err := w.b.Delete(ctx, layout.RedeemOfKey(issueIdx)); err != nil {
		return err
	}
	if err := w.b.Delete(ctx, layout.IssueOfKey(idx)); err != nil {
		return err
	}
	if err := w.deletePosition(ctx, hash, bt.pos); err != nil {
		return err
	}

	w.stats.redeemed++
	_, err = events.Append(ctx, w.b, events.KindTicketRedeemOrphaned, int64(w.height), events.TicketRedeemOrphanedPayload{
		TicketRedeemedPayload: redeemedPayload(hash, w.height, bt.pos, idx, issueHash, issueIdx, addrs),
		OrphanedAtHeight:      int64(w.height),
	})
	return err
}

func (w *blockWriter) unindexIssuance(ctx context.Context, idx uint32, byHash map[chainhash.Hash]blockTx) error {
	hash, err := w.hashAt(ctx, layout.Issue, idx)
	if err != nil {
		return err
	}
	bt, ok := byHash[hash]
	if !ok {
		return fmt.Errorf("%w: issuance %s not in block %d", ErrMissingState, hash, w.height)
	}
	iss, err := w.x.validator.ValidateIssuance(bt.tx)
	if err != nil {
		return fmt.Errorf("%w: revalidate issuance %s: %v", ErrMissingState, hash, err)
	}

	for _, a := range iss.Payouts {
		if err := w.b.Delete(ctx, layout.AddressKey(layout.Issue, a, w.height, bt.pos)); err != nil {
			return err
		}
	}
	if err := w.deleteIndex(ctx, layout.Issue, hash, idx); err != nil {
		return err
	}
	if err := w.b.Delete(ctx, layout.PayoutsKey(idx)); err != nil {
		return err
	}
	if err := w.deletePosition(ctx, hash, bt.pos); err != nil {
		return err
	}

	w.stats.issued++
	_, err = events.Append(ctx, w.b, events.KindTicketIssueOrphaned, int64(w.height), events.TicketIssueOrphanedPayload{
		TicketIssuedPayload: issuedPayload(hash, w.height, bt.pos, idx, iss.Payouts),
		OrphanedAtHeight:    int64(w.height),
	})
	return err
}

// issuanceTx finds the transaction of a consumed issuance, preferring the
// block being reverted.
func (w *blockWriter) issuanceTx(ctx context.Context, hash chainhash.Hash, byHash map[chainhash.Hash]blockTx) (*wire.MsgTx, error) {
	if bt, ok := byHash[hash]; ok {
		return bt.tx, nil
	}
	if w.x.txMeta == nil {
		return nil, fmt.Errorf("%w: no tx metadata provider to restore issuance %s", ErrMissingState, hash)
	}
	m, err := w.x.txMeta.TxMeta(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("indexer: tx meta %s: %w", hash, err)
	}
	if m.Tx == nil {
		return nil, fmt.Errorf("%w: tx meta %s has no transaction", ErrMissingState, hash)
	}
	return m.Tx, nil
}
