package core

import (
	"math/big"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestBidMeetsReserve(t *testing.T) {
	tests := []struct {
		name     string
		value    int64
		reserve  *big.Int
		expected bool
	}{
		{"bid above reserve", 120, big.NewInt(100), true},
		{"bid at reserve", 100, big.NewInt(100), true},
		{"bid below reserve", 99, big.NewInt(100), false},
		{"zero reserve - always passes", 1, big.NewInt(0), true},
		{"nil reserve - always passes", 1, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := BidMeetsReserve(big.NewInt(tt.value), tt.reserve)
			check.Equal(t, tt.expected, result)
		})
	}
}

func TestBidOutranks(t *testing.T) {
	tests := []struct {
		name     string
		record   *AuctionRecord
		value    int64
		expected bool
	}{
		{
			name:     "first bid meets reserve",
			record:   &AuctionRecord{MinAcceptedValue: big.NewInt(100)},
			value:    100,
			expected: true,
		},
		{
			name:     "first bid below reserve",
			record:   &AuctionRecord{MinAcceptedValue: big.NewInt(100)},
			value:    99,
			expected: false,
		},
		{
			name:     "equal to highest is rejected",
			record:   &AuctionRecord{MinAcceptedValue: big.NewInt(100), HighestBidder: "a", HighestBidValue: big.NewInt(120)},
			value:    120,
			expected: false,
		},
		{
			name:     "strictly higher wins",
			record:   &AuctionRecord{MinAcceptedValue: big.NewInt(100), HighestBidder: "a", HighestBidValue: big.NewInt(120)},
			value:    121,
			expected: true,
		},
		{
			name:     "zero value never outranks empty auction",
			record:   &AuctionRecord{},
			value:    0,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.expected, BidOutranks(tt.record, big.NewInt(tt.value)))
		})
	}
}
