package engine

import (
	"fmt"
	"math/big"
	"time"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/currency"
	"github.com/cloudx-io/crossbid/events"
	"github.com/cloudx-io/crossbid/storage"
)

// Behavior is the replaceable code the upgrade controller delegates to. A behavior owns
// no state: everything it reads and writes goes through the Tx.
type Behavior interface {
	Version() string
	// Schema is the storage layout the behavior reads and writes.
	Schema() storage.Schema

	CreateAuction(tx *Tx, assetRef string, assetID, minAcceptedValue *big.Int, duration time.Duration) (uint64, error)
	BidNative(tx *Tx, auctionID uint64) error
	BidToken(tx *Tx, auctionID uint64, tokenRef string, amount *big.Int) error
	EndAuction(tx *Tx, auctionID uint64) error
	Withdraw(tx *Tx, c currency.Currency) (*big.Int, error)
	SetCurrencyFeed(tx *Tx, c currency.Currency, feedRef string) error
}

// Greeter is implemented by behaviors that answer the greeting read operation.
type Greeter interface {
	Greeting() string
}

// V1 is the initial auction behavior.
type V1 struct{}

func (V1) Version() string { return "v1" }

func (V1) Schema() storage.Schema { return storage.SchemaV1 }

// SetCurrencyFeed binds c to feedRef. The feed has to pass the same checks a bid
// would apply, and the currency's decimals are cached next to the binding.
func (V1) SetCurrencyFeed(tx *Tx, c currency.Currency, feedRef string) error {
	if tx.Msg.Sender != tx.State.Owner() {
		return fmt.Errorf("%s may not configure feeds: %w", tx.Msg.Sender, core.ErrNotOwner)
	}
	fungible, err := tx.Custody.Fungible(c)
	if err != nil {
		return err
	}
	if _, err := tx.Normalizer.Reading(tx.Context(), c, core.CurrencyFeed{FeedRef: feedRef}); err != nil {
		return err
	}

	tx.State.SetFeed(c, core.CurrencyFeed{FeedRef: feedRef, Decimals: fungible.Decimals()})

	ev := tx.event(events.CurrencyFeedSet).WithCurrency(c)
	ev.Account = tx.Msg.Sender
	ev.Detail = feedRef
	tx.Emit(ev)
	return nil
}

// V2 appends per-auction bid counters to the layout and answers the greeting.
type V2 struct {
	V1
}

func (V2) Version() string { return "v2" }

func (V2) Schema() storage.Schema { return storage.SchemaV2 }

func (v V2) BidNative(tx *Tx, auctionID uint64) error {
	if err := v.V1.BidNative(tx, auctionID); err != nil {
		return err
	}
	tx.State.IncrementBidCount(auctionID)
	return nil
}

func (v V2) BidToken(tx *Tx, auctionID uint64, tokenRef string, amount *big.Int) error {
	if err := v.V1.BidToken(tx, auctionID, tokenRef, amount); err != nil {
		return err
	}
	tx.State.IncrementBidCount(auctionID)
	return nil
}

func (V2) Greeting() string { return "Hello from auction engine v2" }

// Behaviors lists the behaviors this build can install, by version.
func Behaviors() map[string]Behavior {
	return map[string]Behavior{
		"v1": V1{},
		"v2": V2{},
	}
}
