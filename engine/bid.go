package engine

import (
	"fmt"
	"math/big"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/currency"
	"github.com/cloudx-io/crossbid/events"
)

// BidNative bids the native value attached to the call. The proxy has already moved
// that value into engine custody; a rejected bid reverts the move.
func (V1) BidNative(tx *Tx, auctionID uint64) error {
	if !tx.Msg.hasValue() {
		return fmt.Errorf("native bid without value: %w", core.ErrZeroAmount)
	}
	return placeBid(tx, auctionID, currency.Native(), tx.Msg.Value, false)
}

// BidToken pulls amount of tokenRef from the bidder's allowance after the bid has been
// checked.
func (V1) BidToken(tx *Tx, auctionID uint64, tokenRef string, amount *big.Int) error {
	if tokenRef == "" {
		return fmt.Errorf("empty token reference: %w", core.ErrUnsupportedCurrency)
	}
	return placeBid(tx, auctionID, currency.Token(tokenRef), amount, true)
}

func placeBid(tx *Tx, auctionID uint64, c currency.Currency, amount *big.Int, pull bool) error {
	rec, err := activeAuction(tx, auctionID)
	if err != nil {
		return err
	}
	if tx.Msg.Sender == rec.Seller {
		return fmt.Errorf("%s is the seller of auction %d: %w", tx.Msg.Sender, auctionID, core.ErrSellerCannotBid)
	}

	fungible, err := tx.Custody.Fungible(c)
	if err != nil {
		return err
	}
	feed, ok := tx.State.Feed(c)
	if !ok {
		return fmt.Errorf("no price feed registered for %s: %w", c, core.ErrUnsupportedCurrency)
	}

	value, err := tx.Normalizer.Value(tx.Context(), c, feed, amount)
	if err != nil {
		return err
	}
	if !core.BidOutranks(rec, value) {
		return fmt.Errorf("bid worth %s does not beat %s (reserve %s): %w",
			value, rec.HighestBidValue, rec.MinAcceptedValue, core.ErrBidTooLow)
	}

	if pull {
		if err := fungible.TransferIn(tx.Context(), tx.Msg.Sender, tx.Engine(), amount); err != nil {
			return fmt.Errorf("collect %s %s: %w", amount, c, err)
		}
	}

	// Re-read after the pull: a collaborator hook may have re-entered the engine.
	rec, err = activeAuction(tx, auctionID)
	if err != nil {
		return err
	}
	if !core.BidOutranks(rec, value) {
		return fmt.Errorf("bid worth %s outranked during transfer: %w", value, core.ErrBidTooLow)
	}

	if rec.HasBid() {
		credit(tx, rec.HighestBidder, rec.PaymentCurrency, rec.PaymentAmountRaw)
	}

	rec.HighestBidder = tx.Msg.Sender
	rec.HighestBidValue = value
	rec.PaymentCurrency = c
	rec.PaymentAmountRaw = new(big.Int).Set(amount)
	if err := tx.State.PutAuction(rec); err != nil {
		return err
	}

	ev := tx.event(events.BidAccepted).WithCurrency(c)
	ev.AuctionID = auctionID
	ev.Account = tx.Msg.Sender
	ev.Amount = new(big.Int).Set(amount)
	ev.Value = new(big.Int).Set(value)
	tx.Emit(ev)

	return nil
}
