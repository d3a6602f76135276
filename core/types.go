package core

import (
	"math/big"
	"time"

	"github.com/cloudx-io/crossbid/currency"
)

// CanonicalDecimals is the fixed precision of the accounting unit every bid is
// normalized into.
const CanonicalDecimals = 18

// MaxAmountBits bounds raw amounts and prices to unsigned 256-bit values.
const MaxAmountBits = 256

// Phase is the lifecycle position of an auction at a given instant.
type Phase int

const (
	// PhaseActive accepts bids.
	PhaseActive Phase = iota + 1
	// PhaseAwaitingSettlement is past its deadline but not yet settled. Bids are
	// rejected and anyone may settle.
	PhaseAwaitingSettlement
	// PhaseEnded is settled and immutable.
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseActive:
		return "active"
	case PhaseAwaitingSettlement:
		return "awaiting_settlement"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// AuctionRecord is the durable state of one listing. Field keys are part of the
// storage layout: new fields are appended with new keys, existing keys never change.
type AuctionRecord struct {
	ID               uint64            `cbor:"1,keyasint" json:"id"`
	Seller           string            `cbor:"2,keyasint" json:"seller"`
	AssetRef         string            `cbor:"3,keyasint" json:"asset_ref"`
	AssetID          *big.Int          `cbor:"4,keyasint" json:"asset_id"`
	MinAcceptedValue *big.Int          `cbor:"5,keyasint" json:"min_accepted_value"`
	StartTime        time.Time         `cbor:"6,keyasint" json:"start_time"`
	Duration         time.Duration     `cbor:"7,keyasint" json:"duration"`
	HighestBidder    string            `cbor:"8,keyasint" json:"highest_bidder,omitempty"`
	HighestBidValue  *big.Int          `cbor:"9,keyasint" json:"highest_bid_value"`
	PaymentCurrency  currency.Currency `cbor:"10,keyasint" json:"payment_currency"`
	PaymentAmountRaw *big.Int          `cbor:"11,keyasint" json:"payment_amount_raw"`
	Settled          bool              `cbor:"12,keyasint" json:"settled"`
}

// EndTime is the bidding deadline.
func (r *AuctionRecord) EndTime() time.Time {
	return r.StartTime.Add(r.Duration)
}

// HasBid reports whether any bid has been accepted.
func (r *AuctionRecord) HasBid() bool {
	return r.HighestBidder != ""
}

// Phase evaluates the lifecycle state at now.
func (r *AuctionRecord) Phase(now time.Time) Phase {
	switch {
	case r.Settled:
		return PhaseEnded
	case now.Before(r.EndTime()):
		return PhaseActive
	default:
		return PhaseAwaitingSettlement
	}
}

// Clone returns a deep copy so callers cannot mutate stored big.Int values.
func (r *AuctionRecord) Clone() *AuctionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.AssetID = cloneInt(r.AssetID)
	c.MinAcceptedValue = cloneInt(r.MinAcceptedValue)
	c.HighestBidValue = cloneInt(r.HighestBidValue)
	c.PaymentAmountRaw = cloneInt(r.PaymentAmountRaw)
	return &c
}

// AssetKey identifies the listed asset across collections.
func (r *AuctionRecord) AssetKey() string {
	return AssetKey(r.AssetRef, r.AssetID)
}

// AssetKey builds the index key for an asset reference and id.
func AssetKey(assetRef string, assetID *big.Int) string {
	return assetRef + "#" + cloneInt(assetID).String()
}

// CurrencyFeed binds a currency to its price feed and caches the currency's decimal
// precision.
type CurrencyFeed struct {
	FeedRef  string `cbor:"1,keyasint" json:"feed_ref"`
	Decimals uint8  `cbor:"2,keyasint" json:"decimals"`
}

// Clock supplies the current time. Injected so tests can move past deadlines.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
