package ticket_test

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/Abdullah1738/ticket-scan/internal/testutil"
	"github.com/Abdullah1738/ticket-scan/internal/ticket"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

func newValidator(t *testing.T, auth *testutil.Authority) *ticket.Validator {
	t.Helper()
	v, err := ticket.NewValidator(&chaincfg.MainNetParams, []string{auth.PubHex})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidateIssuance_Valid(t *testing.T) {
	auth := testutil.NewAuthority(0x42)
	v := newValidator(t, auth)

	tx := auth.IssuanceTx(testutil.Outpoint(1), [][]byte{testutil.P2PKH(0xA1), testutil.P2PKH(0xA2)}, nil)
	iss, err := v.ValidateIssuance(tx)
	if err != nil {
		t.Fatalf("ValidateIssuance: %v", err)
	}
	if len(iss.Payouts) != 2 {
		t.Fatalf("payouts=%d want 2", len(iss.Payouts))
	}
	if iss.Payouts[0].Prefix != chaincfg.MainNetParams.PubKeyHashAddrID || !bytes.Equal(iss.Payouts[0].Hash, bytes.Repeat([]byte{0xA1}, 20)) {
		t.Fatalf("payout[0]=%+v", iss.Payouts[0])
	}
	if iss.MinterNumbers != [4]byte{0, 0, 0, 7} {
		t.Fatalf("minter numbers=%x", iss.MinterNumbers)
	}
}

func TestValidateIssuance_Rejections(t *testing.T) {
	auth := testutil.NewAuthority(0x42)
	v := newValidator(t, auth)
	payouts := [][]byte{testutil.P2PKH(0xA1)}
	prev := testutil.Outpoint(1)

	singleOutput := auth.IssuanceTx(prev, payouts, nil)
	singleOutput.TxOut = singleOutput.TxOut[:1]

	plainOutput1 := auth.IssuanceTx(prev, payouts, &testutil.IssuanceOptions{CovenantScript: testutil.P2PKH(0x01)})

	otherCovenant, err := ticket.CovenantPayScript(testutil.NewAuthority(0x07).Priv.PubKey().SerializeCompressed())
	if err != nil {
		t.Fatalf("CovenantPayScript: %v", err)
	}
	foreign := auth.IssuanceTx(prev, payouts, &testutil.IssuanceOptions{CovenantScript: otherCovenant})

	truncated := auth.IssuanceTx(prev, payouts, &testutil.IssuanceOptions{AuthCode: bytes.Repeat([]byte{1}, 147)})

	wrongSigner, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x09}, 32))
	badSig := auth.IssuanceTx(prev, payouts, &testutil.IssuanceOptions{Signer: wrongSigner})

	// Signed for one outpoint, spending another.
	replayed := auth.IssuanceTx(prev, payouts, nil)
	replayed.TxIn[0].PreviousOutPoint = testutil.Outpoint(2)

	garbageSig := auth.IssuanceTx(prev, payouts, nil)
	code := authCodeOf(t, garbageSig)
	code[len(code)-3] ^= 0xFF
	setAuthCode(t, garbageSig, code)

	notOpReturn := auth.IssuanceTx(prev, payouts, nil)
	notOpReturn.TxOut[0].PkScript = testutil.P2PKH(0x03)

	noInputs := auth.IssuanceTx(prev, payouts, nil)
	noInputs.TxIn = nil

	tests := []struct {
		name string
		tx   *wire.MsgTx
		code ticket.ErrorCode
	}{
		{"single output", singleOutput, ticket.ErrTooFewOutputs},
		{"output 1 plain address", plainOutput1, ticket.ErrNotScriptHash},
		{"foreign covenant", foreign, ticket.ErrUnknownAuthority},
		{"truncated payload", truncated, ticket.ErrAuthCodeTruncated},
		{"wrong signer", badSig, ticket.ErrSignatureInvalid},
		{"replayed outpoint", replayed, ticket.ErrSignatureInvalid},
		{"corrupt signature", garbageSig, ticket.ErrSignatureInvalid},
		{"output 0 not op_return", notOpReturn, ticket.ErrAuthCodeMissing},
		{"no inputs", noInputs, ticket.ErrNoInputs},
	}
	for _, tc := range tests {
		iss, err := v.ValidateIssuance(tc.tx)
		if iss != nil {
			t.Fatalf("%s: accepted", tc.name)
		}
		got, ok := ticket.Code(err)
		if !ok || got != tc.code {
			t.Fatalf("%s: err=%v want code %s", tc.name, err, tc.code)
		}
	}
}

func authCodeOf(t *testing.T, tx *wire.MsgTx) []byte {
	t.Helper()
	tok := txscript.MakeScriptTokenizer(0, tx.TxOut[0].PkScript)
	if !tok.Next() || !tok.Next() {
		t.Fatalf("no auth code push")
	}
	return append([]byte(nil), tok.Data()...)
}

func setAuthCode(t *testing.T, tx *wire.MsgTx, code []byte) {
	t.Helper()
	script, err := txscript.NewScriptBuilder().AddOp(txscript.OP_RETURN).AddData(code).Script()
	if err != nil {
		t.Fatalf("Script: %v", err)
	}
	tx.TxOut[0].PkScript = script
}

// Vectors produced by the bcash covenant builder and an independent
// secp256k1 signer over the same message layout.
const (
	defaultCovenantHex = "" +
		"6faa767baa7e567a7821023ad0f8ca0f6aa26e276e790a8a5c5983bfa544261369fc4495326284b23b7c48766bbbaa7b" +
		"547f7701207f537a04010000007eaa7b88820128947f7701207f757b557f7701247f517f7c7f775d7f77517f7c01007e" +
		"7f75537f770293007f7b52797e6cbb028b007f547f537f7c527f7c517f577a011f7f7b7e60977c011e7f537a7e60977c" +
		"011d7f547a7e60977c011c7f77547a7e60979393937b01497f7c01417fbc81537a7d51a2635296687855a26352966878" +
		"57a263529668785ca2635296687c0124a263750100685880bc7b7e7eaa7b88537f7601207c9401007c80537aaa7b7f7b" +
		"888253947f7701007e817c01007e81a169a86f7b828c7f757c7bbb75ac"

	goldenAuthorityKey = "029c5530e4385ebc41cdaf8257edf9a2baaf8506a4099103211e6ed7382103ed67"
	goldenIssuanceID   = "689ee2440b4448aa670aa0a9359ac67e243e69ffe8d82d8fb517abf3235b9f32"
	goldenIssuanceHex  = "" +
		"020000000100ffeeddccbbaa998877665544332211908f7e6d5c4b3a291807f6e5d4c3b2a1030000000151ffffffff02" +
		"0000000000000000dc6a4cd9e8030000000000001976a91476a04053bda0a88bda5177b86a15c3b29f55987388acd007" +
		"0000000000001976a914cb481232299cd5743151ac4b2d63ae198e7bb0a988ac00000000000000003e6aeeeeeeeeeeee" +
		"eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee" +
		"eeeeeeeeeeeeee0000011d03070b0d3044022061291b9a7c83e348187f84e6d82f2b5da0636deac85f76167279cca5fc" +
		"2b5d9c0220647bfea73bc2af1f856c50aee81028152c25d3cc271d23223dabfac7c8250f20881300000000000017a914" +
		"5ce98607de2df3f1de2713532c46f3564c76aea58700000000"

	goldenAuthHeaderHex = "" +
		"e8030000000000001976a91476a04053bda0a88bda5177b86a15c3b29f55987388acd0070000000000001976a914cb48" +
		"1232299cd5743151ac4b2d63ae198e7bb0a988ac00000000000000003e6aeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee" +
		"eeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeeee0000011d03" +
	"070b0d"
	goldenDigestHex = "30aefda6cd31bad0f6354e291a6cc55c004404f59cd21fb8c269180379f6a5e5"
)

func TestCovenantScript_Golden(t *testing.T) {
	pub, _ := hex.DecodeString(ticket.DefaultAuthorityKey)
	script, err := ticket.CovenantScript(pub)
	if err != nil {
		t.Fatalf("CovenantScript: %v", err)
	}
	if got := hex.EncodeToString(script); got != defaultCovenantHex {
		t.Fatalf("covenant mismatch\n got %s\nwant %s", got, defaultCovenantHex)
	}

	pay, err := ticket.CovenantPayScript(pub)
	if err != nil {
		t.Fatalf("CovenantPayScript: %v", err)
	}
	if got := hex.EncodeToString(pay); got != "a91492e113b144b5cafee0397426624532e4d220275a87" {
		t.Fatalf("pay script %s", got)
	}
}

func TestSignatureHash_Golden(t *testing.T) {
	prevHash, err := chainhash.NewHashFromStr("a1b2c3d4e5f60718293a4b5c6d7e8f90112233445566778899aabbccddeeff00")
	if err != nil {
		t.Fatalf("NewHashFromStr: %v", err)
	}
	header, _ := hex.DecodeString(goldenAuthHeaderHex)
	digest := ticket.SignatureHash(*wire.NewOutPoint(prevHash, 3), header)
	if got := hex.EncodeToString(digest[:]); got != goldenDigestHex {
		t.Fatalf("digest %s want %s", got, goldenDigestHex)
	}
}

func TestValidateIssuance_Golden(t *testing.T) {
	raw, _ := hex.DecodeString(goldenIssuanceHex)
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if got := tx.TxHash().String(); got != goldenIssuanceID {
		t.Fatalf("txid %s want %s", got, goldenIssuanceID)
	}

	v, err := ticket.NewValidator(&chaincfg.MainNetParams, []string{goldenAuthorityKey})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	iss, err := v.ValidateIssuance(&tx)
	if err != nil {
		t.Fatalf("ValidateIssuance: %v", err)
	}
	var got []string
	for _, a := range iss.Payouts {
		got = append(got, a.String())
	}
	want := []string{"1BpEi6DfDAUFd7GtittLSdBeYJvcoaVggu", "1KXrWXciRDZUpQwQmuM1DbwsKDLYAYsVLR"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("payouts=%v want %v", got, want)
	}
	if iss.RaisedBits != [4]byte{0x00, 0x00, 0x01, 0x1d} || iss.MinterNumbers != [4]byte{0x03, 0x07, 0x0b, 0x0d} {
		t.Fatalf("raised bits %x minter numbers %x", iss.RaisedBits, iss.MinterNumbers)
	}

	// The default authority did not sign it.
	def, err := ticket.NewValidator(&chaincfg.MainNetParams, nil)
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	if _, err := def.ValidateIssuance(&tx); err == nil {
		t.Fatalf("accepted under the default authority")
	}
}

func TestNewValidator_RejectsBadKeys(t *testing.T) {
	if _, err := ticket.NewValidator(&chaincfg.MainNetParams, []string{"zz"}); err == nil {
		t.Fatalf("expected hex error")
	}
	if _, err := ticket.NewValidator(&chaincfg.MainNetParams, []string{"02" + hex.EncodeToString(make([]byte, 32))}); err == nil {
		t.Fatalf("expected invalid point error")
	}
	if _, err := ticket.NewValidator(&chaincfg.MainNetParams, nil); err != nil {
		t.Fatalf("default authority: %v", err)
	}
}

func TestRedemptionAddresses(t *testing.T) {
	auth := testutil.NewAuthority(0x42)
	v := newValidator(t, auth)

	red := testutil.RedemptionTx(auth.IssuanceTx(testutil.Outpoint(1), nil, nil).TxHash(), [][]byte{testutil.P2PKH(0xB1), {txscript.OP_RETURN}})
	addrs := v.RedemptionAddresses(red)
	if len(addrs) != 1 || !bytes.Equal(addrs[0].Hash, bytes.Repeat([]byte{0xB1}, 20)) {
		t.Fatalf("addrs=%+v", addrs)
	}
	if op, ok := ticket.SpentIssuance(red); !ok || op.Index != 1 {
		t.Fatalf("SpentIssuance=%v,%v", op, ok)
	}
}
