package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/Abdullah1738/ticket-scan/internal/layout"
	"github.com/Abdullah1738/ticket-scan/internal/query"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/spf13/pflag"
)

type ticketsQuery struct {
	address   *string
	kind      *string
	after     *string
	limit     *int
	ascending *bool
	meta      *bool
}

func ticketsFlags(fs *pflag.FlagSet) *ticketsQuery {
	return &ticketsQuery{
		address:   fs.String("address", "", "Payout address"),
		kind:      fs.String("kind", "issue", "Ticket kind (issue, redeem)"),
		after:     fs.String("after", "", "Resume after this txid"),
		limit:     fs.Int("limit", query.DefaultLimit, "Maximum results"),
		ascending: fs.Bool("asc", false, "Oldest first"),
		meta:      fs.Bool("meta", false, "Resolve each txid to its transaction through the node"),
	}
}

type hashesQuery struct {
	start *uint32
	end   *uint32
	kind  *string
}

func hashesFlags(fs *pflag.FlagSet) *hashesQuery {
	return &hashesQuery{
		start: fs.Uint32("start", 0, "First height"),
		end:   fs.Uint32("end", 0, "Last height"),
		kind:  fs.String("kind", "issue", "Ticket kind (issue, redeem)"),
	}
}

func (a *app) querier(cfg query.Config) (*query.Querier, error) {
	return query.New(a.st, cfg)
}

func (a *app) tickets(ctx context.Context, tq *ticketsQuery) error {
	params, err := a.cfg.Params()
	if err != nil {
		return err
	}
	addr, err := layout.ParseAddress(*tq.address, params)
	if err != nil {
		return err
	}
	kind, err := layout.ParseKind(*tq.kind)
	if err != nil {
		return err
	}
	opts := query.Options{Limit: *tq.limit, Ascending: *tq.ascending}
	if *tq.after != "" {
		h, err := chainhash.NewHashFromStr(*tq.after)
		if err != nil {
			return fmt.Errorf("-after: %w", err)
		}
		opts.After = h
	}

	if *tq.meta {
		return a.ticketMetas(ctx, kind, addr, opts)
	}

	q, err := a.querier(query.Config{})
	if err != nil {
		return err
	}
	var hashes []chainhash.Hash
	if kind == layout.Issue {
		hashes, err = q.IssueHashesByAddress(ctx, addr, opts)
	} else {
		hashes, err = q.RedeemHashesByAddress(ctx, addr, opts)
	}
	if err != nil {
		return err
	}
	return a.writeJSON(struct {
		Address string   `json:"address"`
		Kind    string   `json:"kind"`
		TxIDs   []string `json:"txids"`
	}{addr.String(), kind.String(), hashStrings(hashes)})
}

type txMeta struct {
	TxID     string `json:"txid"`
	Height   uint32 `json:"height"`
	Position uint32 `json:"position"`
	Hex      string `json:"hex"`
}

func (a *app) ticketMetas(ctx context.Context, kind layout.Kind, addr layout.Address, opts query.Options) error {
	n, err := a.node()
	if err != nil {
		return err
	}
	q, err := a.querier(query.Config{TxMeta: n})
	if err != nil {
		return err
	}
	metas, err := q.MetasByAddress(ctx, kind, addr, opts)
	if err != nil {
		return err
	}
	out := make([]txMeta, 0, len(metas))
	for _, m := range metas {
		var buf bytes.Buffer
		if err := m.Tx.Serialize(&buf); err != nil {
			return err
		}
		out = append(out, txMeta{m.Tx.TxHash().String(), m.Height, m.Pos, hex.EncodeToString(buf.Bytes())})
	}
	return a.writeJSON(struct {
		Address      string   `json:"address"`
		Kind         string   `json:"kind"`
		Transactions []txMeta `json:"transactions"`
	}{addr.String(), kind.String(), out})
}

func (a *app) redeemed(ctx context.Context, s string) error {
	h, err := chainhash.NewHashFromStr(s)
	if err != nil {
		return fmt.Errorf("-hash: %w", err)
	}
	q, err := a.querier(query.Config{})
	if err != nil {
		return err
	}
	r, ok, err := q.RedemptionByIssueHash(ctx, *h)
	if err != nil {
		return err
	}
	type redemption struct {
		TxID       string `json:"txid"`
		Index      uint32 `json:"index"`
		IssueIndex uint32 `json:"issue_index"`
		Height     uint32 `json:"height"`
		Position   uint32 `json:"position"`
	}
	out := struct {
		IssueTxID  string      `json:"issue_txid"`
		Redeemed   bool        `json:"redeemed"`
		Redemption *redemption `json:"redemption,omitempty"`
	}{IssueTxID: h.String(), Redeemed: ok}
	if ok {
		out.Redemption = &redemption{r.Hash.String(), r.Index, r.IssueIndex, r.Height, r.Pos}
	}
	return a.writeJSON(out)
}

func (a *app) header(ctx context.Context, height uint32) error {
	q, err := a.querier(query.Config{HeaderCacheSize: 1})
	if err != nil {
		return err
	}
	hdr, h, err := q.BlockHeaderByHeight(ctx, height)
	if err != nil {
		return err
	}
	return a.writeJSON(struct {
		Height     uint32 `json:"height"`
		Hash       string `json:"hash"`
		Version    int32  `json:"version"`
		PrevBlock  string `json:"previousblockhash"`
		MerkleRoot string `json:"merkleroot"`
		Time       int64  `json:"time"`
		Bits       uint32 `json:"bits"`
		Nonce      uint32 `json:"nonce"`
	}{height, h.String(), hdr.Version, hdr.PrevBlock.String(), hdr.MerkleRoot.String(), hdr.Timestamp.Unix(), hdr.Bits, hdr.Nonce})
}

func (a *app) hashes(ctx context.Context, hq *hashesQuery) error {
	kind, err := layout.ParseKind(*hq.kind)
	if err != nil {
		return err
	}
	q, err := a.querier(query.Config{})
	if err != nil {
		return err
	}
	hashes, err := q.HashesByHeight(ctx, *hq.start, *hq.end, kind)
	if err != nil {
		return err
	}
	return a.writeJSON(struct {
		Start uint32   `json:"start"`
		End   uint32   `json:"end"`
		Kind  string   `json:"kind"`
		TxIDs []string `json:"txids"`
	}{*hq.start, *hq.end, kind.String(), hashStrings(hashes)})
}

// rollback rewinds through the scanner so reverted blocks are fetched from
// the node.
func (a *app) rollback(ctx context.Context, height uint32) error {
	idx, sc, err := a.wire(ctx, nil)
	if err != nil {
		return err
	}
	q, err := a.querier(query.Config{Rollbacker: sc})
	if err != nil {
		return err
	}
	if err := q.Rollback(ctx, height); err != nil {
		return err
	}
	tip, ok, err := idx.Tip(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return a.writeJSON(struct {
			Indexed bool `json:"indexed"`
		}{false})
	}
	return a.writeJSON(struct {
		Indexed bool   `json:"indexed"`
		Height  uint32 `json:"height"`
		Hash    string `json:"hash"`
	}{true, tip.Height, tip.Hash.String()})
}

func hashStrings(hs []chainhash.Hash) []string {
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.String())
	}
	return out
}
