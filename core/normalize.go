package core

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/crossbid/currency"
	"github.com/cloudx-io/crossbid/oracle"
)

// Normalizer converts raw bid amounts into the canonical accounting unit using the
// currency's price feed.
type Normalizer struct {
	Feeds oracle.Resolver
	// MaxAge rejects readings older than this. Zero disables the staleness check.
	MaxAge time.Duration
	Clock  Clock
}

// Value returns floor(raw * price * 10^18 / (10^currencyDecimals * 10^priceDecimals)).
//
// The product is formed first and shifted once; decimal keeps an arbitrary-precision
// integer coefficient so no intermediate value is rounded.
func (n *Normalizer) Value(ctx context.Context, c currency.Currency, feed CurrencyFeed, raw *big.Int) (*big.Int, error) {
	if raw == nil || raw.Sign() == 0 {
		return nil, fmt.Errorf("bid in %s: %w", c, ErrZeroAmount)
	}
	if raw.Sign() < 0 || raw.BitLen() > MaxAmountBits {
		return nil, fmt.Errorf("bid in %s out of range: %w", c, ErrAmountTooLarge)
	}

	reading, err := n.Reading(ctx, c, feed)
	if err != nil {
		return nil, err
	}

	exp := int32(CanonicalDecimals) - int32(feed.Decimals) - int32(reading.Decimals)
	value := decimal.NewFromBigInt(raw, 0).
		Mul(decimal.NewFromBigInt(reading.Price, 0)).
		Shift(exp).
		Truncate(0)

	return value.BigInt(), nil
}

// Reading fetches the feed bound to c and rejects missing or stale feeds and
// non-positive or out-of-range prices.
func (n *Normalizer) Reading(ctx context.Context, c currency.Currency, feed CurrencyFeed) (oracle.Reading, error) {
	if n.Feeds == nil || feed.FeedRef == "" {
		return oracle.Reading{}, fmt.Errorf("no feed for %s: %w", c, ErrOracleUnavailable)
	}
	f, ok := n.Feeds.Feed(feed.FeedRef)
	if !ok {
		return oracle.Reading{}, fmt.Errorf("feed %s for %s not found: %w", feed.FeedRef, c, ErrOracleUnavailable)
	}

	reading, err := f.LatestPrice(ctx)
	if err != nil {
		return oracle.Reading{}, fmt.Errorf("feed %s: %v: %w", feed.FeedRef, err, ErrOracleUnavailable)
	}
	if reading.Price == nil || reading.Price.Sign() <= 0 {
		return oracle.Reading{}, fmt.Errorf("feed %s reported non-positive price: %w", feed.FeedRef, ErrOracleUnavailable)
	}
	if reading.Price.BitLen() > MaxAmountBits {
		return oracle.Reading{}, fmt.Errorf("feed %s price out of range: %w", feed.FeedRef, ErrOracleUnavailable)
	}

	if n.MaxAge > 0 {
		clock := n.Clock
		if clock == nil {
			clock = SystemClock
		}
		if age := clock.Now().Sub(reading.UpdatedAt); age > n.MaxAge {
			return oracle.Reading{}, fmt.Errorf("feed %s stale by %s: %w", feed.FeedRef, age-n.MaxAge, ErrOracleUnavailable)
		}
	}

	return reading, nil
}
