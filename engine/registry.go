package engine

import (
	"fmt"
	"math/big"
	"time"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/events"
)

func (V1) CreateAuction(tx *Tx, assetRef string, assetID, minAcceptedValue *big.Int, duration time.Duration) (uint64, error) {
	if duration <= 0 || duration > tx.MaxDuration() {
		return 0, fmt.Errorf("duration %s outside (0, %s]: %w", duration, tx.MaxDuration(), core.ErrInvalidDuration)
	}
	if assetID == nil || assetID.Sign() < 0 {
		return 0, fmt.Errorf("asset id: %w", core.ErrUnknownAsset)
	}
	if minAcceptedValue == nil {
		minAcceptedValue = new(big.Int)
	}
	if minAcceptedValue.Sign() < 0 || minAcceptedValue.BitLen() > core.MaxAmountBits {
		return 0, fmt.Errorf("reserve %s: %w", minAcceptedValue, core.ErrInvalidReserve)
	}

	nft, err := tx.Custody.Asset(assetRef)
	if err != nil {
		return 0, err
	}
	owner, err := nft.OwnerOf(assetID)
	if err != nil {
		return 0, err
	}
	if owner != tx.Msg.Sender {
		return 0, fmt.Errorf("%s is not the owner of %s: %w", tx.Msg.Sender, core.AssetKey(assetRef, assetID), core.ErrNotAssetOwner)
	}
	if !nft.IsApproved(owner, tx.Engine(), assetID) {
		return 0, fmt.Errorf("engine not approved for %s: %w", core.AssetKey(assetRef, assetID), core.ErrNotAssetOwner)
	}
	if id, listed := tx.State.ActiveAuction(assetRef, assetID); listed {
		return 0, fmt.Errorf("%s is held by auction %d: %w", core.AssetKey(assetRef, assetID), id, core.ErrAssetAlreadyListed)
	}

	rec := &core.AuctionRecord{
		ID:               tx.State.AllocateAuctionID(),
		Seller:           tx.Msg.Sender,
		AssetRef:         assetRef,
		AssetID:          new(big.Int).Set(assetID),
		MinAcceptedValue: new(big.Int).Set(minAcceptedValue),
		StartTime:        tx.Now,
		Duration:         duration,
		HighestBidValue:  new(big.Int),
		PaymentAmountRaw: new(big.Int),
	}
	if err := tx.State.PutAuction(rec); err != nil {
		return 0, err
	}
	tx.State.SetActiveAsset(assetRef, assetID, rec.ID)

	if err := nft.TransferFrom(tx.Context(), tx.Engine(), owner, tx.Engine(), assetID); err != nil {
		return 0, fmt.Errorf("escrow %s: %w", rec.AssetKey(), err)
	}

	ev := tx.event(events.AuctionCreated)
	ev.AuctionID = rec.ID
	ev.Account = rec.Seller
	ev.Value = new(big.Int).Set(rec.MinAcceptedValue)
	ev.Detail = rec.AssetKey()
	tx.Emit(ev)

	return rec.ID, nil
}

// activeAuction loads an auction that still accepts bids.
func activeAuction(tx *Tx, id uint64) (*core.AuctionRecord, error) {
	rec, ok := tx.State.Auction(id)
	if !ok {
		return nil, fmt.Errorf("auction %d: %w", id, core.ErrAuctionNotFound)
	}
	if phase := rec.Phase(tx.Now); phase != core.PhaseActive {
		return nil, fmt.Errorf("auction %d is %s: %w", id, phase, core.ErrAuctionNotActive)
	}
	return rec, nil
}
