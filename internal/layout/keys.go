package layout

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func u32(b []byte, v uint32) []byte { return binary.BigEndian.AppendUint32(b, v) }

func withTag(tag byte, size int) []byte {
	b := make([]byte, 1, 1+size)
	b[0] = tag
	return b
}

func checkKey(key []byte, tag byte, size int) error {
	if len(key) != 1+size || key[0] != tag {
		return fmt.Errorf("%w: family %q len %d", ErrMalformed, tag, len(key))
	}
	return nil
}

func hashAt(b []byte) chainhash.Hash {
	var h chainhash.Hash
	copy(h[:], b)
	return h
}

func VersionKey() []byte { return []byte{TagVersion} }

func EncodeVersion(v uint32) []byte { return u32(nil, v) }

func DecodeVersion(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: version value len %d", ErrMalformed, len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

// Tip is the last block applied to the index.
type Tip struct {
	Height uint32
	Hash   chainhash.Hash
}

func TipKey() []byte { return []byte{TagTip} }

func EncodeTip(t Tip) []byte {
	b := u32(make([]byte, 0, 4+chainhash.HashSize), t.Height)
	return append(b, t.Hash[:]...)
}

func DecodeTip(b []byte) (Tip, error) {
	if len(b) != 4+chainhash.HashSize {
		return Tip{}, fmt.Errorf("%w: tip value len %d", ErrMalformed, len(b))
	}
	return Tip{Height: binary.BigEndian.Uint32(b), Hash: hashAt(b[4:])}, nil
}

// HeightKey maps a height to its block hash (h).
func HeightKey(height uint32) []byte { return u32(withTag(TagHeight, 4), height) }

func DecodeHeightKey(key []byte) (uint32, error) {
	if err := checkKey(key, TagHeight, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(key[1:]), nil
}

func DecodeHash(b []byte) (chainhash.Hash, error) {
	if len(b) != chainhash.HashSize {
		return chainhash.Hash{}, fmt.Errorf("%w: hash len %d", ErrMalformed, len(b))
	}
	return hashAt(b), nil
}

// HeaderKey maps a block hash to its raw 80-byte header (B).
func HeaderKey(blockHash chainhash.Hash) []byte {
	return append(withTag(TagHeader, chainhash.HashSize), blockHash[:]...)
}

// HeightPosKey maps (height, position) to a tx hash (C).
func HeightPosKey(height, pos uint32) []byte {
	return u32(u32(withTag(TagHeightPos, 8), height), pos)
}

func DecodeHeightPosKey(key []byte) (height, pos uint32, err error) {
	if err := checkKey(key, TagHeightPos, 8); err != nil {
		return 0, 0, err
	}
	return binary.BigEndian.Uint32(key[1:]), binary.BigEndian.Uint32(key[5:]), nil
}

// CountKey maps a tx hash to its (height, position) (c).
func CountKey(txHash chainhash.Hash) []byte {
	return append(withTag(TagCount, chainhash.HashSize), txHash[:]...)
}

type Count struct {
	Height uint32
	Pos    uint32
}

func EncodeCount(c Count) []byte { return u32(u32(make([]byte, 0, 8), c.Height), c.Pos) }

func DecodeCount(b []byte) (Count, error) {
	if len(b) != 8 {
		return Count{}, fmt.Errorf("%w: count value len %d", ErrMalformed, len(b))
	}
	return Count{Height: binary.BigEndian.Uint32(b), Pos: binary.BigEndian.Uint32(b[4:])}, nil
}

// IndexKey maps a dense index to its hash (D for issue, E for redeem).
func IndexKey(kind Kind, idx uint32) []byte {
	_, tag, _, _ := kind.tags()
	return u32(withTag(tag, 4), idx)
}

func DecodeIndexKey(kind Kind, key []byte) (uint32, error) {
	_, tag, _, _ := kind.tags()
	if err := checkKey(key, tag, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(key[1:]), nil
}

// HashKey maps a hash to its dense index (d for issue, e for redeem).
func HashKey(kind Kind, h chainhash.Hash) []byte {
	_, _, tag, _ := kind.tags()
	return append(withTag(tag, chainhash.HashSize), h[:]...)
}

// ConsumedKey keeps the index of an issuance whose d/D rows were retired by
// its redemption (u).
func ConsumedKey(issueHash chainhash.Hash) []byte {
	return append(withTag(TagConsumed, chainhash.HashSize), issueHash[:]...)
}

func EncodeIndex(idx uint32) []byte { return u32(make([]byte, 0, 4), idx) }

func DecodeIndex(b []byte) (uint32, error) {
	if len(b) != 4 {
		return 0, fmt.Errorf("%w: index value len %d", ErrMalformed, len(b))
	}
	return binary.BigEndian.Uint32(b), nil
}

// RangeKey holds the allocation range of a block (I for issue, P for redeem).
func RangeKey(kind Kind, height uint32) []byte {
	tag, _, _, _ := kind.tags()
	return u32(withTag(tag, 4), height)
}

func DecodeRangeKey(kind Kind, key []byte) (uint32, error) {
	tag, _, _, _ := kind.tags()
	if err := checkKey(key, tag, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(key[1:]), nil
}

// RangeBounds returns the [gte, lte] keys covering heights start..end of kind.
func RangeBounds(kind Kind, start, end uint32) (gte, lte []byte) {
	return RangeKey(kind, start), RangeKey(kind, end)
}

// BlockRange is the half-open allocation range (Start, Last] of one block.
type BlockRange struct {
	Start uint32
	Last  uint32
}

func (r BlockRange) Empty() bool { return r.Last == r.Start }

func EncodeRange(r BlockRange) []byte { return u32(u32(make([]byte, 0, 8), r.Start), r.Last) }

func DecodeRange(b []byte) (BlockRange, error) {
	if len(b) != 8 {
		return BlockRange{}, fmt.Errorf("%w: range value len %d", ErrMalformed, len(b))
	}
	r := BlockRange{Start: binary.BigEndian.Uint32(b), Last: binary.BigEndian.Uint32(b[4:])}
	if r.Last < r.Start {
		return BlockRange{}, fmt.Errorf("%w: range last %d < start %d", ErrMalformed, r.Last, r.Start)
	}
	return r, nil
}

// RedeemOfKey links an issue index to its redeem index (r).
func RedeemOfKey(issueIdx uint32) []byte { return u32(withTag(TagRedeemOf, 4), issueIdx) }

// IssueOfKey links a redeem index back to its issue index (L).
func IssueOfKey(redeemIdx uint32) []byte { return u32(withTag(TagIssueOf, 4), redeemIdx) }

// PayoutsKey holds the payout addresses of a live issuance (A).
func PayoutsKey(issueIdx uint32) []byte { return u32(withTag(TagPayouts, 4), issueIdx) }

// AddressEntry is a key-only marker under M or N.
type AddressEntry struct {
	Kind    Kind
	Address Address
	Height  uint32
	Pos     uint32
}

func AddressKey(kind Kind, addr Address, height, pos uint32) []byte {
	_, _, _, tag := kind.tags()
	b := withTag(tag, 2+len(addr.Hash)+8)
	b = append(b, addr.Prefix, byte(len(addr.Hash)))
	b = append(b, addr.Hash...)
	return u32(u32(b, height), pos)
}

func DecodeAddressKey(kind Kind, key []byte) (AddressEntry, error) {
	_, _, _, tag := kind.tags()
	if len(key) < 3 || key[0] != tag {
		return AddressEntry{}, fmt.Errorf("%w: address key", ErrMalformed)
	}
	n := int(key[2])
	if len(key) != 3+n+8 {
		return AddressEntry{}, fmt.Errorf("%w: address key len %d", ErrMalformed, len(key))
	}
	rest := key[3+n:]
	return AddressEntry{
		Kind:    kind,
		Address: Address{Prefix: key[1], Hash: append([]byte(nil), key[3:3+n]...)},
		Height:  binary.BigEndian.Uint32(rest),
		Pos:     binary.BigEndian.Uint32(rest[4:]),
	}, nil
}

// AddressMin and AddressMax bound every marker of addr.
func AddressMin(kind Kind, addr Address) []byte { return AddressKey(kind, addr, 0, 0) }

func AddressMax(kind Kind, addr Address) []byte {
	return AddressKey(kind, addr, math.MaxUint32, math.MaxUint32)
}

// OutboxKey orders journal events by sequence (Q).
func OutboxKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(withTag(TagOutbox, 8), seq)
}

func DecodeOutboxKey(key []byte) (uint64, error) {
	if err := checkKey(key, TagOutbox, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(key[1:]), nil
}

// MetaKey names a journal bookkeeping row (m).
func MetaKey(name string) []byte {
	return append([]byte{TagMeta}, name...)
}

func EncodeUint64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

func DecodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("%w: uint64 value len %d", ErrMalformed, len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
