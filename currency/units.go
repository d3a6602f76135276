package currency

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseUnits converts a human-readable amount such as "0.05" into raw base units of a
// currency with the given number of decimals. Amounts with more fractional digits than
// the currency supports are rejected rather than rounded.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q is negative", amount)
	}

	raw := d.Shift(int32(decimals))
	if !raw.Equal(raw.Truncate(0)) {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}
	return raw.BigInt(), nil
}

// MustParseUnits is ParseUnits for constants in tests and fixtures.
func MustParseUnits(amount string, decimals uint8) *big.Int {
	raw, err := ParseUnits(amount, decimals)
	if err != nil {
		panic(err)
	}
	return raw
}

// FormatUnits renders raw base units as a decimal string.
func FormatUnits(raw *big.Int, decimals uint8) string {
	if raw == nil {
		return "0"
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).String()
}
