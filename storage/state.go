package storage

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/currency"
	"github.com/cloudx-io/crossbid/journal"
)

// State is the journaled accessor over a Layout. Every mutation records its undo in the
// journal so a failed engine call leaves the layout untouched. Reads return copies.
type State struct {
	l *Layout
	j *journal.Journal
}

// NewState wraps l. A nil journal makes mutations permanent immediately.
func NewState(l *Layout, j *journal.Journal) *State {
	if l == nil {
		l = NewLayout()
	}
	l.ensureMaps()
	return &State{l: l, j: j}
}

// Layout exposes the underlying layout for encoding and auditing. Callers must not
// mutate it.
func (s *State) Layout() *Layout { return s.l }

func (s *State) Journal() *journal.Journal { return s.j }

func (s *State) record(undo func()) {
	if s.j != nil {
		s.j.Record(undo)
	}
}

func (s *State) Owner() string { return s.l.Owner }

func (s *State) SetOwner(owner string) {
	prev := s.l.Owner
	s.l.Owner = owner
	s.record(func() { s.l.Owner = prev })
}

// Initialized reports whether an owner has been installed.
func (s *State) Initialized() bool { return s.l.Owner != "" }

func (s *State) Schema() Schema { return s.l.Schema }

// SetSchema installs a new schema. The caller checks compatibility.
func (s *State) SetSchema(schema Schema) {
	prev := s.l.Schema
	s.l.Schema = Schema{Version: schema.Version, Fields: append([]Field(nil), schema.Fields...)}
	s.record(func() { s.l.Schema = prev })
}

// AllocateAuctionID returns the next sequential auction id.
func (s *State) AllocateAuctionID() uint64 {
	id := s.l.NextAuctionID
	s.l.NextAuctionID++
	s.record(func() { s.l.NextAuctionID = id })
	return id
}

// Auction returns a copy of the record with the given id.
func (s *State) Auction(id uint64) (*core.AuctionRecord, bool) {
	rec, ok := s.l.Auctions[id]
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// PutAuction stores a copy of rec. A settled record can never be replaced.
func (s *State) PutAuction(rec *core.AuctionRecord) error {
	if prev, ok := s.l.Auctions[rec.ID]; ok && prev.Settled {
		return fmt.Errorf("auction %d: %w", rec.ID, core.ErrAlreadySettled)
	}
	journal.Set(s.j, s.l.Auctions, rec.ID, rec.Clone())
	return nil
}

// AuctionIDs lists every stored auction id in ascending order.
func (s *State) AuctionIDs() []uint64 {
	ids := make([]uint64, 0, len(s.l.Auctions))
	for id := range s.l.Auctions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *State) Feed(c currency.Currency) (core.CurrencyFeed, bool) {
	f, ok := s.l.Feeds[c.ID()]
	return f, ok
}

func (s *State) SetFeed(c currency.Currency, feed core.CurrencyFeed) {
	journal.Set(s.j, s.l.Feeds, c.ID(), feed)
}

// Pending returns the raw amount owed to bidder in c.
func (s *State) Pending(bidder string, c currency.Currency) *big.Int {
	if v, ok := s.l.Pending[c.ID()][bidder]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// SetPending stores amount as bidder's balance in c. Zero removes the entry.
func (s *State) SetPending(bidder string, c currency.Currency, amount *big.Int) {
	key := c.ID()
	byBidder, ok := s.l.Pending[key]
	if !ok {
		if amount.Sign() == 0 {
			return
		}
		byBidder = make(map[string]*big.Int)
		journal.Set(s.j, s.l.Pending, key, byBidder)
	}
	if amount.Sign() == 0 {
		journal.Delete(s.j, byBidder, bidder)
		return
	}
	journal.Set(s.j, byBidder, bidder, new(big.Int).Set(amount))
}

// PendingTotal sums every balance owed in c.
func (s *State) PendingTotal(c currency.Currency) *big.Int {
	total := new(big.Int)
	for _, v := range s.l.Pending[c.ID()] {
		total.Add(total, v)
	}
	return total
}

// PendingEntry is one non-zero balance in the refund ledger.
type PendingEntry struct {
	Currency currency.Currency
	Bidder   string
	Amount   *big.Int
}

// PendingEntries lists every balance sorted by currency then bidder.
func (s *State) PendingEntries() ([]PendingEntry, error) {
	var out []PendingEntry
	for id, byBidder := range s.l.Pending {
		c, err := currency.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("pending ledger: %w", err)
		}
		for bidder, amount := range byBidder {
			if amount.Sign() == 0 {
				continue
			}
			out = append(out, PendingEntry{Currency: c, Bidder: bidder, Amount: new(big.Int).Set(amount)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if a, b := out[i].Currency.ID(), out[j].Currency.ID(); a != b {
			return a < b
		}
		return out[i].Bidder < out[j].Bidder
	})
	return out, nil
}

// ActiveAuction returns the id of the unsettled auction holding the asset, if any.
func (s *State) ActiveAuction(assetRef string, assetID *big.Int) (uint64, bool) {
	id, ok := s.l.ActiveAssets[core.AssetKey(assetRef, assetID)]
	return id, ok
}

func (s *State) SetActiveAsset(assetRef string, assetID *big.Int, auctionID uint64) {
	journal.Set(s.j, s.l.ActiveAssets, core.AssetKey(assetRef, assetID), auctionID)
}

func (s *State) ClearActiveAsset(assetRef string, assetID *big.Int) {
	journal.Delete(s.j, s.l.ActiveAssets, core.AssetKey(assetRef, assetID))
}

// BidCount is the number of accepted bids recorded for an auction. Only maintained
// once the layout carries the bid_counts field.
func (s *State) BidCount(auctionID uint64) uint64 {
	return s.l.BidCounts[auctionID]
}

func (s *State) IncrementBidCount(auctionID uint64) {
	journal.Set(s.j, s.l.BidCounts, auctionID, s.l.BidCounts[auctionID]+1)
}
