package testutil

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/Abdullah1738/ticket-scan/internal/ticket"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// Authority signs fixture issuances.
type Authority struct {
	Priv      *btcec.PrivateKey
	PubHex    string
	PayScript []byte
}

func NewAuthority(seed byte) *Authority {
	priv, pub := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
	raw := pub.SerializeCompressed()
	pay, err := ticket.CovenantPayScript(raw)
	if err != nil {
		panic(err)
	}
	return &Authority{Priv: priv, PubHex: hex.EncodeToString(raw), PayScript: pay}
}

// P2PKH returns a pay-to-pubkey-hash script for a hash derived from seed.
func P2PKH(seed byte) []byte {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).AddOp(txscript.OP_HASH160).
		AddData(bytes.Repeat([]byte{seed}, 20)).
		AddOp(txscript.OP_EQUALVERIFY).AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		panic(err)
	}
	return script
}

// SerializeOutputs packs payout scripts into the fixed-size outputs blob of
// an auth code, padding with an unspendable output. At most three P2PKH
// payouts fit.
func SerializeOutputs(payouts [][]byte) []byte {
	var buf bytes.Buffer
	for _, s := range payouts {
		if err := wire.WriteTxOut(&buf, 0, 0, wire.NewTxOut(1000, s)); err != nil {
			panic(err)
		}
	}
	rest := ticket.SerializedOutputsLen - buf.Len()
	switch {
	case rest == 0:
	case rest >= 9+1 && rest-9 < 0xfd:
		pad := make([]byte, rest-9)
		pad[0] = txscript.OP_RETURN
		if err := wire.WriteTxOut(&buf, 0, 0, wire.NewTxOut(0, pad)); err != nil {
			panic(err)
		}
	default:
		panic(fmt.Sprintf("testutil: payouts leave %d bytes", rest))
	}
	return buf.Bytes()
}

type IssuanceOptions struct {
	// Signer overrides the key that signs the auth code.
	Signer *btcec.PrivateKey
	// AuthCode replaces the generated auth code entirely.
	AuthCode []byte
	// CovenantScript replaces output 1.
	CovenantScript []byte
}

// IssuanceTx builds a ticket issuance spending prev and paying payouts.
func (a *Authority) IssuanceTx(prev wire.OutPoint, payouts [][]byte, opts *IssuanceOptions) *wire.MsgTx {
	if opts == nil {
		opts = &IssuanceOptions{}
	}

	code := opts.AuthCode
	if code == nil {
		header := SerializeOutputs(payouts)
		header = append(header, 0x00, 0x00, 0x01, 0x1d) // raised bits
		header = append(header, 0x00, 0x00, 0x00, 0x07) // minter numbers
		signer := a.Priv
		if opts.Signer != nil {
			signer = opts.Signer
		}
		digest := ticket.SignatureHash(prev, header)
		code = append(header, ecdsa.Sign(signer, digest[:]).Serialize()...)
	}

	opReturn, err := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN).AddData(code).Script()
	if err != nil {
		panic(err)
	}
	covenant := a.PayScript
	if opts.CovenantScript != nil {
		covenant = opts.CovenantScript
	}

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&prev, []byte{txscript.OP_TRUE}, nil))
	tx.AddTxOut(wire.NewTxOut(0, opReturn))
	tx.AddTxOut(wire.NewTxOut(5000, covenant))
	return tx
}

// RedemptionTx spends output 1 of issuance and pays payouts.
func RedemptionTx(issuance chainhash.Hash, payouts [][]byte) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&issuance, 1), []byte{txscript.OP_TRUE}, nil))
	for _, s := range payouts {
		tx.AddTxOut(wire.NewTxOut(2500, s))
	}
	return tx
}

// PlainTx spends an arbitrary outpoint and pays payouts.
func PlainTx(seed byte, payouts [][]byte) *wire.MsgTx {
	prev := chainhash.HashH([]byte{seed})
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prev, 0), nil, nil))
	for _, s := range payouts {
		tx.AddTxOut(wire.NewTxOut(100, s))
	}
	return tx
}

// Outpoint returns a funding outpoint distinct per seed.
func Outpoint(seed byte) wire.OutPoint {
	return wire.OutPoint{Hash: chainhash.HashH([]byte{'f', seed}), Index: uint32(seed)}
}

// Block wraps txs behind a coinbase. Nonce keeps sibling blocks at the same
// height distinct.
func Block(prev chainhash.Hash, nonce uint32, txs ...*wire.MsgTx) *wire.MsgBlock {
	coinbase := wire.NewMsgTx(1)
	coinbase.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex), []byte{0x01, byte(nonce)}, nil))
	coinbase.AddTxOut(wire.NewTxOut(50, P2PKH(0xCB)))

	hdr := wire.NewBlockHeader(1, &prev, &chainhash.Hash{}, 0x207fffff, nonce)
	hdr.Timestamp = time.Unix(1700000000+int64(nonce), 0)
	blk := wire.NewMsgBlock(hdr)
	_ = blk.AddTransaction(coinbase)
	for _, tx := range txs {
		_ = blk.AddTransaction(tx)
	}
	return blk
}
