// Package ticket recognizes ticket transactions. An issuance pays output 1 to
// the covenant of a trusted authority and carries, in an OP_RETURN at output
// 0, the payout outputs signed by that authority. A redemption spends an
// indexed issuance through input 0.
package ticket

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/Abdullah1738/ticket-scan/internal/layout"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DefaultAuthorityKey is the authority that signs mainnet tickets.
const DefaultAuthorityKey = "023ad0f8ca0f6aa26e276e790a8a5c5983bfa544261369fc4495326284b23b7c48"

const (
	SerializedOutputsLen = 139
	raisedBitsLen        = 4
	minterNumbersLen     = 4
	authCodeHeaderLen    = SerializedOutputsLen + raisedBitsLen + minterNumbersLen
)

type ErrorCode string

const (
	ErrTooFewOutputs     ErrorCode = "too_few_outputs"
	ErrNoInputs          ErrorCode = "no_inputs"
	ErrNotScriptHash     ErrorCode = "output1_not_p2sh"
	ErrUnknownAuthority  ErrorCode = "unknown_authority"
	ErrAuthCodeMissing   ErrorCode = "authcode_missing"
	ErrAuthCodeTruncated ErrorCode = "authcode_truncated"
	ErrOutputsMalformed  ErrorCode = "outputs_malformed"
	ErrSignatureInvalid  ErrorCode = "signature_invalid"
)

// Error rejects a candidate transaction. Rejected transactions are skipped,
// never indexed.
type Error struct {
	Code ErrorCode
}

func (e *Error) Error() string {
	return fmt.Sprintf("ticket: %s", e.Code)
}

func reject(code ErrorCode) error { return &Error{Code: code} }

// Code returns the rejection code carried by err, if any.
func Code(err error) (ErrorCode, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te.Code, true
	}
	return "", false
}

type authority struct {
	pub       *btcec.PublicKey
	payScript []byte
}

type Validator struct {
	params      *chaincfg.Params
	authorities []authority
}

// NewValidator trusts the given compressed authority keys (hex). With no keys
// it trusts DefaultAuthorityKey.
func NewValidator(params *chaincfg.Params, authorityKeys []string) (*Validator, error) {
	if params == nil {
		return nil, errors.New("ticket: params is nil")
	}
	if len(authorityKeys) == 0 {
		authorityKeys = []string{DefaultAuthorityKey}
	}

	v := &Validator{params: params}
	for _, s := range authorityKeys {
		raw, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("ticket: authority key %q: %w", s, err)
		}
		pub, err := btcec.ParsePubKey(raw)
		if err != nil {
			return nil, fmt.Errorf("ticket: authority key %q: %w", s, err)
		}
		pay, err := CovenantPayScript(raw)
		if err != nil {
			return nil, fmt.Errorf("ticket: covenant for %q: %w", s, err)
		}
		v.authorities = append(v.authorities, authority{pub: pub, payScript: pay})
	}
	return v, nil
}

func (v *Validator) Params() *chaincfg.Params { return v.params }

// Issuance is an authenticated ticket issuance.
type Issuance struct {
	Payouts       []layout.Address
	RaisedBits    [raisedBitsLen]byte
	MinterNumbers [minterNumbersLen]byte
	Authority     *btcec.PublicKey
}

// ValidateIssuance authenticates tx as an issuance. Any failure is a
// *Error; the validator never accepts a transaction it could not fully check.
func (v *Validator) ValidateIssuance(tx *wire.MsgTx) (*Issuance, error) {
	if len(tx.TxOut) < 2 {
		return nil, reject(ErrTooFewOutputs)
	}
	if len(tx.TxIn) == 0 {
		return nil, reject(ErrNoInputs)
	}

	covenantOut := tx.TxOut[1].PkScript
	if !txscript.IsPayToScriptHash(covenantOut) {
		return nil, reject(ErrNotScriptHash)
	}
	var auth *authority
	for i := range v.authorities {
		if bytes.Equal(v.authorities[i].payScript, covenantOut) {
			auth = &v.authorities[i]
			break
		}
	}
	if auth == nil {
		return nil, reject(ErrUnknownAuthority)
	}

	code, err := authCode(tx.TxOut[0].PkScript)
	if err != nil {
		return nil, err
	}
	if len(code) <= authCodeHeaderLen {
		return nil, reject(ErrAuthCodeTruncated)
	}
	serializedOutputs := code[:SerializedOutputsLen]
	sigBytes := code[authCodeHeaderLen:]

	sig, err := ecdsa.ParseDERSignature(sigBytes)
	if err != nil {
		return nil, reject(ErrSignatureInvalid)
	}
	digest := SignatureHash(tx.TxIn[0].PreviousOutPoint, code[:authCodeHeaderLen])
	if !sig.Verify(digest[:], auth.pub) {
		return nil, reject(ErrSignatureInvalid)
	}

	outs, err := parseOutputs(serializedOutputs)
	if err != nil {
		return nil, reject(ErrOutputsMalformed)
	}

	iss := &Issuance{Authority: auth.pub}
	copy(iss.RaisedBits[:], code[SerializedOutputsLen:])
	copy(iss.MinterNumbers[:], code[SerializedOutputsLen+raisedBitsLen:])
	for _, out := range outs {
		iss.Payouts = append(iss.Payouts, layout.ScriptAddresses(out.PkScript, v.params)...)
	}
	return iss, nil
}

// RedemptionAddresses returns the addresses a redemption pays.
func (v *Validator) RedemptionAddresses(tx *wire.MsgTx) []layout.Address {
	var out []layout.Address
	for _, o := range tx.TxOut {
		out = append(out, layout.ScriptAddresses(o.PkScript, v.params)...)
	}
	return out
}

// SpentIssuance returns the outpoint a redemption candidate spends through
// input 0.
func SpentIssuance(tx *wire.MsgTx) (wire.OutPoint, bool) {
	if len(tx.TxIn) == 0 {
		return wire.OutPoint{}, false
	}
	return tx.TxIn[0].PreviousOutPoint, true
}

// SignatureHash is the digest the authority signs: SHA-256 over the spent
// outpoint followed by the outputs, raised bits and minter numbers of the
// auth code.
func SignatureHash(prev wire.OutPoint, header []byte) [32]byte {
	msg := make([]byte, 0, 36+len(header))
	msg = append(msg, prev.Hash[:]...)
	msg = binary.LittleEndian.AppendUint32(msg, prev.Index)
	msg = append(msg, header...)
	return sha256.Sum256(msg)
}

func authCode(script []byte) ([]byte, error) {
	tok := txscript.MakeScriptTokenizer(0, script)
	if !tok.Next() || tok.Opcode() != txscript.OP_RETURN {
		return nil, reject(ErrAuthCodeMissing)
	}
	if !tok.Next() || tok.Data() == nil {
		return nil, reject(ErrAuthCodeMissing)
	}
	return tok.Data(), nil
}

func parseOutputs(b []byte) ([]*wire.TxOut, error) {
	r := bytes.NewReader(b)
	var outs []*wire.TxOut
	for r.Len() > 0 {
		var value int64
		if err := binary.Read(r, binary.LittleEndian, &value); err != nil {
			return nil, err
		}
		script, err := wire.ReadVarBytes(r, 0, uint32(len(b)), "pkScript")
		if err != nil {
			return nil, err
		}
		outs = append(outs, wire.NewTxOut(value, script))
	}
	if len(outs) == 0 {
		return nil, io.ErrUnexpectedEOF
	}
	return outs, nil
}
