package ticket

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
)

// Opcodes the covenant uses under their post-2018 names. btcd still knows
// these byte values by their retired Bitcoin names.
const (
	opSplit              = txscript.OP_SUBSTR
	opNum2Bin            = txscript.OP_LEFT
	opBin2Num            = txscript.OP_RIGHT
	opCheckDataSigVerify = txscript.OP_UNKNOWN187
	opReverseBytes       = txscript.OP_UNKNOWN188
)

// Payout multipliers checked by the covenant, lowest first.
var payTable = []int64{1, 5, 7, 12}

type scriptWriter struct {
	b *txscript.ScriptBuilder
}

func (w scriptWriter) op(ops ...byte) scriptWriter {
	for _, o := range ops {
		w.b.AddOp(o)
	}
	return w
}

func (w scriptWriter) num(n int64) scriptWriter {
	w.b.AddInt64(n)
	return w
}

func (w scriptWriter) data(d []byte) scriptWriter {
	w.b.AddData(d)
	return w
}

// zero pushes the single byte 0x00 as data. AddData would fold it into OP_0.
func (w scriptWriter) zero() scriptWriter {
	w.b.AddOps([]byte{txscript.OP_DATA_1, 0x00})
	return w
}

// CovenantScript rebuilds the redeem script every ticket issued by authPub
// pays to. The script is only reproduced for hashing, never executed.
func CovenantScript(authPub []byte) ([]byte, error) {
	w := scriptWriter{b: txscript.NewScriptBuilder()}

	w.op(txscript.OP_3DUP, txscript.OP_HASH256, txscript.OP_DUP, txscript.OP_ROT, txscript.OP_HASH256, txscript.OP_CAT).
		num(6).op(txscript.OP_ROLL, txscript.OP_OVER).
		data(authPub).
		op(txscript.OP_DUP, txscript.OP_TOALTSTACK, opCheckDataSigVerify, txscript.OP_HASH256)

	// preimage
	w.op(txscript.OP_ROT).num(4).op(opSplit, txscript.OP_NIP).
		num(32).op(opSplit).
		num(3).op(txscript.OP_ROLL).
		data([]byte{0x01, 0x00, 0x00, 0x00}).
		op(txscript.OP_CAT, txscript.OP_HASH256, txscript.OP_ROT, txscript.OP_EQUALVERIFY, txscript.OP_SIZE).
		num(40).op(txscript.OP_SUB, opSplit, txscript.OP_NIP).
		num(32).op(opSplit, txscript.OP_DROP)

	// ticket tx
	w.op(txscript.OP_ROT).num(5).op(opSplit, txscript.OP_NIP).
		num(36).op(opSplit).
		num(1).op(opSplit, txscript.OP_SWAP, opSplit, txscript.OP_NIP).
		num(13).op(opSplit, txscript.OP_NIP).
		num(1).op(opSplit, txscript.OP_SWAP).
		zero().op(txscript.OP_CAT, opSplit, txscript.OP_DROP).
		num(3).op(opSplit, txscript.OP_NIP).
		num(147).op(opSplit, txscript.OP_ROT).
		num(2).op(txscript.OP_PICK, txscript.OP_CAT, txscript.OP_FROMALTSTACK, opCheckDataSigVerify).
		num(139).op(opSplit).
		num(4).op(opSplit)

	// random number
	w.num(3).op(opSplit, txscript.OP_SWAP).
		num(2).op(opSplit, txscript.OP_SWAP).
		num(1).op(opSplit).
		num(7).op(txscript.OP_ROLL)

	w.num(31).op(opSplit, txscript.OP_ROT, txscript.OP_CAT).num(16).op(txscript.OP_MOD, txscript.OP_SWAP)
	w.num(30).op(opSplit).num(3).op(txscript.OP_ROLL, txscript.OP_CAT).num(16).op(txscript.OP_MOD, txscript.OP_SWAP)
	w.num(29).op(opSplit).num(4).op(txscript.OP_ROLL, txscript.OP_CAT).num(16).op(txscript.OP_MOD, txscript.OP_SWAP)
	w.num(28).op(opSplit, txscript.OP_NIP).num(4).op(txscript.OP_ROLL, txscript.OP_CAT).num(16).op(txscript.OP_MOD)
	w.op(txscript.OP_ADD, txscript.OP_ADD, txscript.OP_ADD)

	w.op(txscript.OP_ROT).num(73).op(opSplit, txscript.OP_SWAP).
		num(65).op(opSplit, opReverseBytes, opBin2Num).
		num(3).op(txscript.OP_ROLL, txscript.OP_TUCK)

	// payout
	for i, v := range payTable {
		w.num(v).op(txscript.OP_GREATERTHANOREQUAL, txscript.OP_IF).num(2).op(txscript.OP_DIV, txscript.OP_ENDIF)
		if i == len(payTable)-1 {
			w.op(txscript.OP_SWAP)
		} else {
			w.op(txscript.OP_OVER)
		}
	}

	w.num(36).op(txscript.OP_GREATERTHANOREQUAL, txscript.OP_IF, txscript.OP_DROP).zero().op(txscript.OP_ENDIF)

	w.num(8).op(opNum2Bin, opReverseBytes, txscript.OP_ROT, txscript.OP_CAT, txscript.OP_CAT, txscript.OP_HASH256, txscript.OP_ROT, txscript.OP_EQUALVERIFY).
		num(3).op(opSplit, txscript.OP_DUP).
		num(32).op(txscript.OP_SWAP, txscript.OP_SUB).
		zero().op(txscript.OP_SWAP, opNum2Bin).
		num(3).op(txscript.OP_ROLL, txscript.OP_HASH256, txscript.OP_ROT, opSplit, txscript.OP_ROT, txscript.OP_EQUALVERIFY, txscript.OP_SIZE).
		num(3).op(txscript.OP_SUB, opSplit, txscript.OP_NIP).
		zero().op(txscript.OP_CAT, opBin2Num, txscript.OP_SWAP).
		zero().op(txscript.OP_CAT, opBin2Num, txscript.OP_LESSTHANOREQUAL, txscript.OP_VERIFY)

	// preimage check, then anyone can spend
	w.op(txscript.OP_SHA256, txscript.OP_3DUP, txscript.OP_ROT, txscript.OP_SIZE, txscript.OP_1SUB, opSplit, txscript.OP_DROP,
		txscript.OP_SWAP, txscript.OP_ROT, opCheckDataSigVerify, txscript.OP_DROP, txscript.OP_CHECKSIG)

	return w.b.Script()
}

// CovenantPayScript is the P2SH output script paying to the covenant of
// authPub.
func CovenantPayScript(authPub []byte) ([]byte, error) {
	script, err := CovenantScript(authPub)
	if err != nil {
		return nil, err
	}
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_HASH160).
		AddData(btcutil.Hash160(script)).
		AddOp(txscript.OP_EQUAL).
		Script()
}
