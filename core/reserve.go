package core

import "math/big"

// BidMeetsReserve returns true if value meets or exceeds the auction's minimum accepted
// value. A nil reserve means no reserve.
func BidMeetsReserve(value, reserve *big.Int) bool {
	if reserve == nil {
		return true
	}
	return value.Cmp(reserve) >= 0
}

// BidOutranks reports whether a normalized bid value may replace the current leader of
// rec: it must be strictly higher than the current highest value and, for the first
// bid, also meet the reserve.
func BidOutranks(rec *AuctionRecord, value *big.Int) bool {
	highest := rec.HighestBidValue
	if highest == nil {
		highest = new(big.Int)
	}
	if value.Cmp(highest) <= 0 {
		return false
	}
	if !rec.HasBid() {
		return BidMeetsReserve(value, rec.MinAcceptedValue)
	}
	return true
}
