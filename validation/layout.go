// Package validation audits engine snapshots offline: structural consistency of a
// storage layout and the conservation law between custodied balances, escrowed highest
// bids, and the refund ledger.
package validation

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/currency"
	"github.com/cloudx-io/crossbid/storage"
)

// ValidateLayout checks the internal consistency of a layout.
//
// Returns:
//   - LayoutValidationResult with detailed results (call result.IsValid() to check overall status)
//   - error if the layout is missing
func ValidateLayout(l *storage.Layout) (*LayoutValidationResult, error) {
	if l == nil {
		return nil, fmt.Errorf("layout is nil")
	}

	result := &LayoutValidationResult{}
	result.SchemaValid = validateSchema(l, result)
	result.AuctionsValid = validateAuctions(l, result)
	result.ActiveIndexValid = validateActiveIndex(l, result)
	result.PendingValid = validatePending(l, result)
	return result, nil
}

func validateSchema(l *storage.Layout, result *LayoutValidationResult) bool {
	if len(l.Schema.Fields) == 0 {
		result.ValidationDetails = append(result.ValidationDetails, "Schema: layout has no schema")
		return false
	}
	if !storage.Latest.Extends(l.Schema) {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Schema: %s is not a prefix of %s", l.Schema, storage.Latest))
		return false
	}
	if len(l.BidCounts) > 0 && !l.Schema.Has("bid_counts") {
		result.ValidationDetails = append(result.ValidationDetails,
			fmt.Sprintf("Schema: bid counters present but %s does not declare them", l.Schema))
		return false
	}
	result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Schema: %s", l.Schema))
	return true
}

func validateAuctions(l *storage.Layout, result *LayoutValidationResult) bool {
	valid := true
	fail := func(format string, args ...any) {
		valid = false
		result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Auction: "+format, args...))
	}

	for _, id := range sortedIDs(l) {
		rec := l.Auctions[id]
		if rec == nil {
			fail("%d: record missing", id)
			continue
		}
		if rec.ID != id {
			fail("%d: stored under id %d", rec.ID, id)
		}
		if id == 0 || id >= l.NextAuctionID {
			fail("%d: outside allocated range [1, %d)", id, l.NextAuctionID)
		}
		if rec.Duration <= 0 {
			fail("%d: non-positive duration %s", id, rec.Duration)
		}
		if !rec.HasBid() {
			if sign(rec.HighestBidValue) != 0 || sign(rec.PaymentAmountRaw) != 0 {
				fail("%d: payment recorded without a bidder", id)
			}
			continue
		}
		if rec.HighestBidder == rec.Seller {
			fail("%d: seller is the highest bidder", id)
		}
		if !core.BidMeetsReserve(orZero(rec.HighestBidValue), rec.MinAcceptedValue) {
			fail("%d: highest value %s below reserve %s", id, orZero(rec.HighestBidValue), orZero(rec.MinAcceptedValue))
		}
		if !rec.PaymentCurrency.IsValid() {
			fail("%d: highest bid has no currency", id)
		}
		if sign(rec.PaymentAmountRaw) <= 0 {
			fail("%d: highest bid has no raw amount", id)
		}
	}
	return valid
}

func validateActiveIndex(l *storage.Layout, result *LayoutValidationResult) bool {
	valid := true
	for key, id := range l.ActiveAssets {
		rec, ok := l.Auctions[id]
		switch {
		case !ok || rec == nil:
			valid = false
			result.ValidationDetails = append(result.ValidationDetails,
				fmt.Sprintf("Active index: %s points to missing auction %d", key, id))
		case rec.Settled:
			valid = false
			result.ValidationDetails = append(result.ValidationDetails,
				fmt.Sprintf("Active index: %s points to settled auction %d", key, id))
		case rec.AssetKey() != key:
			valid = false
			result.ValidationDetails = append(result.ValidationDetails,
				fmt.Sprintf("Active index: %s points to auction %d holding %s", key, id, rec.AssetKey()))
		}
	}
	for _, id := range sortedIDs(l) {
		rec := l.Auctions[id]
		if rec == nil || rec.Settled {
			continue
		}
		if indexed, ok := l.ActiveAssets[rec.AssetKey()]; !ok || indexed != id {
			valid = false
			result.ValidationDetails = append(result.ValidationDetails,
				fmt.Sprintf("Active index: unsettled auction %d is not indexed", id))
		}
	}
	return valid
}

func validatePending(l *storage.Layout, result *LayoutValidationResult) bool {
	valid := true
	for id, byBidder := range l.Pending {
		if _, err := currency.Parse(id); err != nil {
			valid = false
			result.ValidationDetails = append(result.ValidationDetails, fmt.Sprintf("Pending: %v", err))
			continue
		}
		for bidder, amount := range byBidder {
			if sign(amount) <= 0 {
				valid = false
				result.ValidationDetails = append(result.ValidationDetails,
					fmt.Sprintf("Pending: %s owed non-positive %s in %s", bidder, orZero(amount), id))
			} else if amount.BitLen() > core.MaxAmountBits {
				valid = false
				result.ValidationDetails = append(result.ValidationDetails,
					fmt.Sprintf("Pending: %s owed more than %d bits in %s", bidder, core.MaxAmountBits, id))
			}
		}
	}
	return valid
}

// CheckConservation verifies, per currency, that the custodied balance equals the
// highest bids of unsettled auctions plus every pending return. balances maps currency
// id to the engine's custody balance; a missing entry counts as zero.
func CheckConservation(l *storage.Layout, balances map[string]*big.Int) (*ConservationResult, error) {
	if l == nil {
		return nil, fmt.Errorf("layout is nil")
	}

	escrowed := make(map[string]*big.Int)
	pending := make(map[string]*big.Int)
	ids := make(map[string]struct{})

	for id := range balances {
		if _, err := currency.Parse(id); err != nil {
			return nil, fmt.Errorf("balances: %w", err)
		}
		ids[id] = struct{}{}
	}
	for _, rec := range l.Auctions {
		if rec == nil || rec.Settled || !rec.HasBid() {
			continue
		}
		id := rec.PaymentCurrency.ID()
		ids[id] = struct{}{}
		escrowed[id] = add(escrowed[id], rec.PaymentAmountRaw)
	}
	for id, byBidder := range l.Pending {
		for _, amount := range byBidder {
			ids[id] = struct{}{}
			pending[id] = add(pending[id], amount)
		}
	}

	sorted := make([]string, 0, len(ids))
	for id := range ids {
		sorted = append(sorted, id)
	}
	sort.Strings(sorted)

	result := &ConservationResult{}
	for _, id := range sorted {
		cb := CurrencyBalance{
			Currency:  id,
			Custodied: orZero(balances[id]),
			Escrowed:  orZero(escrowed[id]),
			Pending:   orZero(pending[id]),
		}
		owed := new(big.Int).Add(cb.Escrowed, cb.Pending)
		cb.Balanced = cb.Custodied.Cmp(owed) == 0
		if cb.Balanced {
			result.ValidationDetails = append(result.ValidationDetails,
				fmt.Sprintf("Conservation: %s balanced at %s", id, cb.Custodied))
		} else {
			result.ValidationDetails = append(result.ValidationDetails,
				fmt.Sprintf("Conservation: %s custodies %s, owes %s (escrowed %s + pending %s)",
					id, cb.Custodied, owed, cb.Escrowed, cb.Pending))
		}
		result.Currencies = append(result.Currencies, cb)
	}
	return result, nil
}

func sortedIDs(l *storage.Layout) []uint64 {
	ids := make([]uint64, 0, len(l.Auctions))
	for id := range l.Auctions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func add(total, v *big.Int) *big.Int {
	if total == nil {
		total = new(big.Int)
	}
	if v != nil {
		total.Add(total, v)
	}
	return total
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func sign(v *big.Int) int {
	if v == nil {
		return 0
	}
	return v.Sign()
}
