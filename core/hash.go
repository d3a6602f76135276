package core

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// ComputeRecordHash digests every persisted field of an auction record.
// Used to prove that records read back unchanged across behavior upgrades and restarts.
//
// Formula: SHA256(id|seller|asset_ref|asset_id|min|start_unix_nano|duration_ns|bidder|value|currency|amount|settled)
func ComputeRecordHash(rec *AuctionRecord) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%s|%d|%d|%s|%s|%s|%s|%t",
		rec.ID,
		rec.Seller,
		rec.AssetRef,
		intString(rec.AssetID),
		intString(rec.MinAcceptedValue),
		rec.StartTime.UnixNano(),
		int64(rec.Duration),
		rec.HighestBidder,
		intString(rec.HighestBidValue),
		rec.PaymentCurrency.ID(),
		intString(rec.PaymentAmountRaw),
		rec.Settled,
	)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ComputePendingHash digests a currency → bidder → amount ledger.
//
// Formula: SHA256(sorted "currency:bidder:amount" entries joined by "|"), zero entries skipped
func ComputePendingHash(pending map[string]map[string]*big.Int) string {
	entries := make([]string, 0)
	for currencyID, byBidder := range pending {
		for bidder, amount := range byBidder {
			if amount == nil || amount.Sign() == 0 {
				continue
			}
			entries = append(entries, fmt.Sprintf("%s:%s:%s", currencyID, bidder, amount.String()))
		}
	}
	// Sort to ensure deterministic hash calculation
	sort.Strings(entries)

	hash := sha256.Sum256([]byte(strings.Join(entries, "|")))
	return fmt.Sprintf("%x", hash)
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
