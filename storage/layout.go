// Package storage holds the durable engine state, independent of the behavior code
// operating on it.
//
// The layout is append-only. Every persisted field carries a fixed CBOR integer key,
// and each schema version lists its fields in key order. A later version may only add
// fields with new keys after the existing ones; it never renames, reorders, or removes a
// field. The upgrade controller relies on Schema.Extends to enforce this for every
// behavior it installs.
package storage

import (
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/crossbid/core"
)

// Field is one persisted layout entry.
type Field struct {
	Key  uint16 `cbor:"1,keyasint" json:"key"`
	Name string `cbor:"2,keyasint" json:"name"`
}

// Schema describes a layout version.
type Schema struct {
	Version uint32  `cbor:"1,keyasint" json:"version"`
	Fields  []Field `cbor:"2,keyasint" json:"fields"`
}

// Extends reports whether s keeps every field of base at the same position with the
// same key and name, optionally appending new fields.
func (s Schema) Extends(base Schema) bool {
	if s.Version < base.Version || len(s.Fields) < len(base.Fields) {
		return false
	}
	for i, f := range base.Fields {
		if s.Fields[i] != f {
			return false
		}
	}
	for i := 1; i < len(s.Fields); i++ {
		if s.Fields[i].Key <= s.Fields[i-1].Key {
			return false
		}
	}
	return true
}

// Has reports whether the schema includes the named field.
func (s Schema) Has(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func (s Schema) String() string {
	return fmt.Sprintf("v%d(%d fields)", s.Version, len(s.Fields))
}

var (
	SchemaV1 = Schema{Version: 1, Fields: []Field{
		{Key: 1, Name: "schema"},
		{Key: 2, Name: "owner"},
		{Key: 3, Name: "next_auction_id"},
		{Key: 4, Name: "auctions"},
		{Key: 5, Name: "feeds"},
		{Key: 6, Name: "pending"},
		{Key: 7, Name: "active_assets"},
	}}

	SchemaV2 = Schema{Version: 2, Fields: append(append([]Field{}, SchemaV1.Fields...),
		Field{Key: 8, Name: "bid_counts"},
	)}
)

// Latest is the newest schema this build can decode.
var Latest = SchemaV2

// Layout is the persisted engine state. Pending is keyed currency ID, then bidder.
type Layout struct {
	Schema        Schema                         `cbor:"1,keyasint"`
	Owner         string                         `cbor:"2,keyasint"`
	NextAuctionID uint64                         `cbor:"3,keyasint"`
	Auctions      map[uint64]*core.AuctionRecord `cbor:"4,keyasint"`
	Feeds         map[string]core.CurrencyFeed   `cbor:"5,keyasint"`
	Pending       map[string]map[string]*big.Int `cbor:"6,keyasint"`
	ActiveAssets  map[string]uint64              `cbor:"7,keyasint"`

	// Appended in schema version 2.
	BidCounts map[uint64]uint64 `cbor:"8,keyasint,omitempty"`
}

// NewLayout returns an empty, uninitialized layout. Auction ids start at 1.
func NewLayout() *Layout {
	l := &Layout{NextAuctionID: 1}
	l.ensureMaps()
	return l
}

func (l *Layout) ensureMaps() {
	if l.Auctions == nil {
		l.Auctions = make(map[uint64]*core.AuctionRecord)
	}
	if l.Feeds == nil {
		l.Feeds = make(map[string]core.CurrencyFeed)
	}
	if l.Pending == nil {
		l.Pending = make(map[string]map[string]*big.Int)
	}
	if l.ActiveAssets == nil {
		l.ActiveAssets = make(map[string]uint64)
	}
	if l.BidCounts == nil {
		l.BidCounts = make(map[uint64]uint64)
	}
	if l.NextAuctionID == 0 {
		l.NextAuctionID = 1
	}
}

var encMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("storage: invalid cbor options: %v", err))
	}
	return em
}()

// Encode serializes the layout deterministically.
func Encode(l *Layout) ([]byte, error) {
	data, err := encMode.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("encode layout: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot written by Encode. Snapshots from newer schemas than Latest
// are rejected; snapshots from older schemas decode with their appended fields empty.
func Decode(data []byte) (*Layout, error) {
	var l Layout
	if err := cbor.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode layout: %w", err)
	}
	if l.Schema.Version != 0 && !Latest.Extends(l.Schema) {
		return nil, fmt.Errorf("snapshot schema %s is not readable by %s", l.Schema, Latest)
	}
	l.ensureMaps()
	return &l, nil
}
