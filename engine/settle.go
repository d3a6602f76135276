package engine

import (
	"fmt"
	"math/big"
	"time"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/events"
)

// EndAuction settles an auction past its deadline. Anyone may call it. The record is
// marked settled before the asset and payout move, so a re-entrant settle call fails
// with ErrAlreadySettled.
func (V1) EndAuction(tx *Tx, auctionID uint64) error {
	rec, ok := tx.State.Auction(auctionID)
	if !ok {
		return fmt.Errorf("auction %d: %w", auctionID, core.ErrAuctionNotFound)
	}
	switch rec.Phase(tx.Now) {
	case core.PhaseEnded:
		return fmt.Errorf("auction %d: %w", auctionID, core.ErrAlreadySettled)
	case core.PhaseActive:
		return fmt.Errorf("auction %d ends at %s: %w", auctionID, rec.EndTime().Format(time.RFC3339), core.ErrAuctionStillActive)
	}

	nft, err := tx.Custody.Asset(rec.AssetRef)
	if err != nil {
		return err
	}

	rec.Settled = true
	if err := tx.State.PutAuction(rec); err != nil {
		return err
	}
	tx.State.ClearActiveAsset(rec.AssetRef, rec.AssetID)

	recipient := rec.Seller
	if rec.HasBid() {
		recipient = rec.HighestBidder
	}
	if err := nft.TransferFrom(tx.Context(), tx.Engine(), tx.Engine(), recipient, rec.AssetID); err != nil {
		return fmt.Errorf("deliver %s to %s: %w", rec.AssetKey(), recipient, err)
	}

	payout := new(big.Int)
	if rec.HasBid() {
		fungible, err := tx.Custody.Fungible(rec.PaymentCurrency)
		if err != nil {
			return err
		}
		payout.Set(rec.PaymentAmountRaw)
		if err := fungible.TransferOut(tx.Context(), tx.Engine(), rec.Seller, payout); err != nil {
			return fmt.Errorf("pay seller %s %s: %v: %w", payout, rec.PaymentCurrency, err, core.ErrTransferFailed)
		}
	}

	ev := tx.event(events.AuctionEnded)
	ev.AuctionID = auctionID
	ev.Account = rec.HighestBidder
	ev.Amount = payout
	ev.Value = new(big.Int).Set(rec.HighestBidValue)
	if rec.HasBid() {
		ev = ev.WithCurrency(rec.PaymentCurrency)
	}
	tx.Emit(ev)

	return nil
}
