// Package layout is the key schema of the ticket index. Every family is a
// one-byte tag followed by fixed-width big-endian fields so that byte order
// matches (prefix, hash, height, position) order.
package layout

import (
	"errors"
	"fmt"
	"sort"
)

var ErrMalformed = errors.New("layout: malformed key or value")

// SchemaVersion is stored under the V row and checked when the index opens.
const SchemaVersion uint32 = 1

const (
	TagVersion     byte = 'V'
	TagTip         byte = 'R'
	TagHeight      byte = 'h'
	TagHeader      byte = 'B'
	TagIssueAddr   byte = 'M'
	TagRedeemAddr  byte = 'N'
	TagHeightPos   byte = 'C'
	TagCount       byte = 'c'
	TagIssueHash   byte = 'D'
	TagIssueIndex  byte = 'd'
	TagIssueRange  byte = 'I'
	TagRedeemHash  byte = 'E'
	TagRedeemIndex byte = 'e'
	TagRedeemRange byte = 'P'
	TagRedeemOf    byte = 'r'
	TagIssueOf     byte = 'L'
	TagPayouts     byte = 'A'
	TagConsumed    byte = 'u'
	TagOutbox      byte = 'Q'
	TagMeta        byte = 'm'
)

type Family struct {
	Tag  byte
	Name string

	// Journal families carry delivery bookkeeping rather than index state.
	// They are append-only and survive a rollback.
	Journal bool
}

// Min and Max bound every key of the family.
func (f Family) Min() []byte { return []byte{f.Tag} }
func (f Family) Max() []byte { return []byte{f.Tag + 1} }

type Registry struct {
	byTag   map[byte]Family
	ordered []Family
}

// NewRegistry panics when two families share a tag.
func NewRegistry(families ...Family) *Registry {
	r := &Registry{byTag: make(map[byte]Family, len(families))}
	for _, f := range families {
		if prev, ok := r.byTag[f.Tag]; ok {
			panic(fmt.Sprintf("layout: tag %q used by %s and %s", f.Tag, prev.Name, f.Name))
		}
		r.byTag[f.Tag] = f
		r.ordered = append(r.ordered, f)
	}
	sort.Slice(r.ordered, func(i, j int) bool { return r.ordered[i].Tag < r.ordered[j].Tag })
	return r
}

func (r *Registry) Lookup(tag byte) (Family, bool) {
	f, ok := r.byTag[tag]
	return f, ok
}

// Families returns the registered families in tag order.
func (r *Registry) Families() []Family {
	return append([]Family(nil), r.ordered...)
}

// FamilyOf reports the family a stored key belongs to.
func (r *Registry) FamilyOf(key []byte) (Family, bool) {
	if len(key) == 0 {
		return Family{}, false
	}
	return r.Lookup(key[0])
}

var Default = NewRegistry(
	Family{Tag: TagVersion, Name: "version"},
	Family{Tag: TagTip, Name: "tip"},
	Family{Tag: TagHeight, Name: "height"},
	Family{Tag: TagHeader, Name: "header"},
	Family{Tag: TagIssueAddr, Name: "issue-address"},
	Family{Tag: TagRedeemAddr, Name: "redeem-address"},
	Family{Tag: TagHeightPos, Name: "height-position"},
	Family{Tag: TagCount, Name: "count"},
	Family{Tag: TagIssueHash, Name: "issue-hash"},
	Family{Tag: TagIssueIndex, Name: "issue-index"},
	Family{Tag: TagIssueRange, Name: "issue-range"},
	Family{Tag: TagRedeemHash, Name: "redeem-hash"},
	Family{Tag: TagRedeemIndex, Name: "redeem-index"},
	Family{Tag: TagRedeemRange, Name: "redeem-range"},
	Family{Tag: TagRedeemOf, Name: "redeem-of"},
	Family{Tag: TagIssueOf, Name: "issue-of"},
	Family{Tag: TagPayouts, Name: "payouts"},
	Family{Tag: TagConsumed, Name: "consumed"},
	Family{Tag: TagOutbox, Name: "outbox", Journal: true},
	Family{Tag: TagMeta, Name: "meta", Journal: true},
)

// Kind distinguishes the issue and redeem halves of the index.
type Kind uint8

const (
	Issue Kind = iota + 1
	Redeem
)

func (k Kind) String() string {
	switch k {
	case Issue:
		return "issue"
	case Redeem:
		return "redeem"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch s {
	case "issue", "issued":
		return Issue, nil
	case "redeem", "redeemed":
		return Redeem, nil
	default:
		return 0, fmt.Errorf("layout: unknown kind %q", s)
	}
}

func (k Kind) tags() (rangeTag, indexTag, hashTag, addrTag byte) {
	if k == Redeem {
		return TagRedeemRange, TagRedeemHash, TagRedeemIndex, TagRedeemAddr
	}
	return TagIssueRange, TagIssueHash, TagIssueIndex, TagIssueAddr
}
