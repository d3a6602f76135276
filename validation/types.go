package validation

import "math/big"

// LayoutValidationResult contains the outcome of auditing a storage layout
type LayoutValidationResult struct {
	SchemaValid       bool
	AuctionsValid     bool
	ActiveIndexValid  bool
	PendingValid      bool
	ValidationDetails []string
}

// IsValid returns true if all layout checks passed
func (r *LayoutValidationResult) IsValid() bool {
	return r.SchemaValid && r.AuctionsValid && r.ActiveIndexValid && r.PendingValid
}

// CurrencyBalance is the conservation check of one currency
type CurrencyBalance struct {
	Currency  string   `json:"currency"`
	Custodied *big.Int `json:"custodied"`
	Escrowed  *big.Int `json:"escrowed"` // highest bids of unsettled auctions
	Pending   *big.Int `json:"pending"`
	Balanced  bool     `json:"balanced"`
}

// ConservationResult contains the per-currency conservation checks
type ConservationResult struct {
	Currencies        []CurrencyBalance
	ValidationDetails []string
}

// IsValid returns true if every currency balances
func (r *ConservationResult) IsValid() bool {
	for _, c := range r.Currencies {
		if !c.Balanced {
			return false
		}
	}
	return true
}
