package layout

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	bchcfg "github.com/gcash/bchd/chaincfg"
	"github.com/gcash/bchutil"
)

// Address is the (prefix, hash) pair address markers are keyed by. Prefix is
// the base58 version byte of the network the address belongs to.
type Address struct {
	Prefix byte
	Hash   []byte
}

func (a Address) String() string { return base58.CheckEncode(a.Hash, a.Prefix) }

func (a Address) Equal(b Address) bool {
	return a.Prefix == b.Prefix && bytes.Equal(a.Hash, b.Hash)
}

// ParseAddress decodes a legacy base58check address or a cashaddr, with or
// without its network prefix. Both forms of the same hash yield the same
// Address. The version byte must be one of the network's P2PKH or P2SH
// prefixes.
func ParseAddress(s string, params *chaincfg.Params) (Address, error) {
	hash, version, err := base58.CheckDecode(s)
	if err != nil {
		if params == nil {
			return Address{}, fmt.Errorf("layout: parse address: %w", err)
		}
		a, cerr := parseCashAddress(s, params)
		if cerr != nil {
			return Address{}, fmt.Errorf("layout: parse address: %w", errors.Join(err, cerr))
		}
		return a, nil
	}
	if len(hash) == 0 || len(hash) > 0xFF {
		return Address{}, fmt.Errorf("layout: parse address: bad hash length %d", len(hash))
	}
	if params != nil && version != params.PubKeyHashAddrID && version != params.ScriptHashAddrID {
		return Address{}, fmt.Errorf("layout: parse address: version 0x%02x not valid for %s", version, params.Name)
	}
	return Address{Prefix: version, Hash: hash}, nil
}

func cashParams(params *chaincfg.Params) (*bchcfg.Params, error) {
	switch params.Name {
	case chaincfg.MainNetParams.Name:
		return &bchcfg.MainNetParams, nil
	case chaincfg.TestNet3Params.Name:
		return &bchcfg.TestNet3Params, nil
	case chaincfg.RegressionNetParams.Name:
		return &bchcfg.RegressionNetParams, nil
	case chaincfg.SimNetParams.Name:
		return &bchcfg.SimNetParams, nil
	}
	return nil, fmt.Errorf("no cashaddr prefix for %s", params.Name)
}

// parseCashAddress maps a cashaddr onto the legacy version byte of the same
// network.
func parseCashAddress(s string, params *chaincfg.Params) (Address, error) {
	net, err := cashParams(params)
	if err != nil {
		return Address{}, err
	}
	if prefix, _, ok := strings.Cut(s, ":"); ok && !strings.EqualFold(prefix, net.CashAddressPrefix) {
		return Address{}, fmt.Errorf("cashaddr prefix %q not valid for %s", prefix, params.Name)
	}
	decoded, err := bchutil.DecodeAddress(s, net)
	if err != nil {
		return Address{}, err
	}
	if !decoded.IsForNet(net) {
		return Address{}, fmt.Errorf("cashaddr %q not valid for %s", s, params.Name)
	}
	switch a := decoded.(type) {
	case *bchutil.AddressPubKeyHash:
		return Address{Prefix: params.PubKeyHashAddrID, Hash: append([]byte(nil), a.Hash160()[:]...)}, nil
	case *bchutil.AddressScriptHash:
		return Address{Prefix: params.ScriptHashAddrID, Hash: append([]byte(nil), a.Hash160()[:]...)}, nil
	}
	return Address{}, fmt.Errorf("unsupported address %q", s)
}

// ScriptAddresses extracts the address paid by a single-key output script.
// Bare pubkey outputs are indexed under their pubkey hash. Multisig and
// nonstandard scripts yield nothing.
func ScriptAddresses(pkScript []byte, params *chaincfg.Params) []Address {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(pkScript, params)
	if err != nil || class == txscript.MultiSigTy {
		return nil
	}
	var out []Address
	for _, a := range addrs {
		switch a := a.(type) {
		case *btcutil.AddressPubKeyHash:
			out = append(out, Address{Prefix: params.PubKeyHashAddrID, Hash: append([]byte(nil), a.ScriptAddress()...)})
		case *btcutil.AddressScriptHash:
			out = append(out, Address{Prefix: params.ScriptHashAddrID, Hash: append([]byte(nil), a.ScriptAddress()...)})
		case *btcutil.AddressPubKey:
			pkh := a.AddressPubKeyHash()
			out = append(out, Address{Prefix: params.PubKeyHashAddrID, Hash: append([]byte(nil), pkh.ScriptAddress()...)})
		}
	}
	return out
}

// EncodePayouts serializes the payout addresses of an issuance (A value).
func EncodePayouts(addrs []Address) []byte {
	b := []byte{byte(len(addrs))}
	for _, a := range addrs {
		b = append(b, a.Prefix, byte(len(a.Hash)))
		b = append(b, a.Hash...)
	}
	return b
}

func DecodePayouts(b []byte) ([]Address, error) {
	if len(b) < 1 {
		return nil, fmt.Errorf("%w: payouts", ErrMalformed)
	}
	n := int(b[0])
	b = b[1:]
	out := make([]Address, 0, n)
	for i := 0; i < n; i++ {
		if len(b) < 2 || len(b) < 2+int(b[1]) {
			return nil, fmt.Errorf("%w: payouts entry %d", ErrMalformed, i)
		}
		hl := int(b[1])
		out = append(out, Address{Prefix: b[0], Hash: append([]byte(nil), b[2:2+hl]...)})
		b = b[2+hl:]
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("%w: payouts trailing bytes", ErrMalformed)
	}
	return out, nil
}
