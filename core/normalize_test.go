package core

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/crossbid/currency"
	"github.com/cloudx-io/crossbid/oracle"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestNormalizer(now time.Time) (*Normalizer, *oracle.StaticFeed, *oracle.StaticFeed) {
	eth := oracle.NewStaticFeed(big.NewInt(2000_00000000), 8, now)
	usd := oracle.NewStaticFeed(big.NewInt(2_00000000), 8, now)
	n := &Normalizer{
		Feeds:  oracle.NewDirectory(map[string]oracle.Feed{"eth-usd": eth, "tok-usd": usd}),
		MaxAge: time.Hour,
		Clock:  fixedClock{now: now},
	}
	return n, eth, usd
}

func TestNormalizerValue(t *testing.T) {
	now := time.Unix(1700000000, 0)
	n, _, _ := newTestNormalizer(now)
	ctx := context.Background()

	tests := []struct {
		name     string
		currency currency.Currency
		feed     CurrencyFeed
		raw      *big.Int
		want     *big.Int
	}{
		{
			name:     "0.05 native at 2000",
			currency: currency.Native(),
			feed:     CurrencyFeed{FeedRef: "eth-usd", Decimals: 18},
			raw:      currency.MustParseUnits("0.05", 18),
			want:     currency.MustParseUnits("100", 18),
		},
		{
			name:     "0.061 native at 2000",
			currency: currency.Native(),
			feed:     CurrencyFeed{FeedRef: "eth-usd", Decimals: 18},
			raw:      currency.MustParseUnits("0.061", 18),
			want:     currency.MustParseUnits("122", 18),
		},
		{
			name:     "60 eighteen-decimal tokens at 2",
			currency: currency.Token("usdt"),
			feed:     CurrencyFeed{FeedRef: "tok-usd", Decimals: 18},
			raw:      currency.MustParseUnits("60", 18),
			want:     currency.MustParseUnits("120", 18),
		},
		{
			name:     "50 six-decimal tokens at 2",
			currency: currency.Token("usdt6"),
			feed:     CurrencyFeed{FeedRef: "tok-usd", Decimals: 6},
			raw:      currency.MustParseUnits("50", 6),
			want:     currency.MustParseUnits("100", 18),
		},
		{
			name:     "fractional result rounds down",
			currency: currency.Token("fine"),
			feed:     CurrencyFeed{FeedRef: "tok-usd", Decimals: 24},
			raw:      big.NewInt(1_234_567),
			want:     big.NewInt(2),
		},
		{
			name:     "dust rounds down to zero",
			currency: currency.Token("fine"),
			feed:     CurrencyFeed{FeedRef: "tok-usd", Decimals: 24},
			raw:      big.NewInt(1),
			want:     big.NewInt(0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Value(ctx, tt.currency, tt.feed, tt.raw)
			assert.NoError(t, err)
			check.Equal(t, tt.want.String(), got.String())
		})
	}
}

func TestNormalizerCrossCurrencyOrdering(t *testing.T) {
	// A smaller raw amount in one currency can outrank a larger raw amount in another.
	now := time.Unix(1700000000, 0)
	n, _, _ := newTestNormalizer(now)
	ctx := context.Background()

	tokenValue, err := n.Value(ctx, currency.Token("usdt"), CurrencyFeed{FeedRef: "tok-usd", Decimals: 18}, currency.MustParseUnits("60", 18))
	assert.NoError(t, err)
	nativeValue, err := n.Value(ctx, currency.Native(), CurrencyFeed{FeedRef: "eth-usd", Decimals: 18}, currency.MustParseUnits("0.061", 18))
	assert.NoError(t, err)

	check.True(t, nativeValue.Cmp(tokenValue) > 0)
}

func TestNormalizerRejections(t *testing.T) {
	now := time.Unix(1700000000, 0)
	ctx := context.Background()
	ethFeed := CurrencyFeed{FeedRef: "eth-usd", Decimals: 18}
	one := big.NewInt(1)

	tests := []struct {
		name    string
		setup   func(eth *oracle.StaticFeed)
		feed    CurrencyFeed
		raw     *big.Int
		wantErr error
	}{
		{"zero amount", nil, ethFeed, big.NewInt(0), ErrZeroAmount},
		{"nil amount", nil, ethFeed, nil, ErrZeroAmount},
		{"negative amount", nil, ethFeed, big.NewInt(-1), ErrAmountTooLarge},
		{"amount over 256 bits", nil, ethFeed, new(big.Int).Lsh(one, 256), ErrAmountTooLarge},
		{"no feed registered", nil, CurrencyFeed{}, one, ErrOracleUnavailable},
		{"unknown feed ref", nil, CurrencyFeed{FeedRef: "nope"}, one, ErrOracleUnavailable},
		{"zero price", func(eth *oracle.StaticFeed) { eth.Set(big.NewInt(0), now) }, ethFeed, one, ErrOracleUnavailable},
		{"negative price", func(eth *oracle.StaticFeed) { eth.Set(big.NewInt(-5), now) }, ethFeed, one, ErrOracleUnavailable},
		{"stale price", func(eth *oracle.StaticFeed) { eth.Set(big.NewInt(1), now.Add(-2*time.Hour)) }, ethFeed, one, ErrOracleUnavailable},
		{"feed error", func(eth *oracle.StaticFeed) { eth.Fail(errors.New("down")) }, ethFeed, one, ErrOracleUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, eth, _ := newTestNormalizer(now)
			if tt.setup != nil {
				tt.setup(eth)
			}
			_, err := n.Value(ctx, currency.Native(), tt.feed, tt.raw)
			check.True(t, errors.Is(err, tt.wantErr))
		})
	}
}

func TestNormalizerStalenessDisabled(t *testing.T) {
	now := time.Unix(1700000000, 0)
	n, eth, _ := newTestNormalizer(now)
	n.MaxAge = 0
	eth.Set(big.NewInt(1), now.Add(-24*time.Hour))

	_, err := n.Value(context.Background(), currency.Native(), CurrencyFeed{FeedRef: "eth-usd", Decimals: 18}, big.NewInt(1))
	check.NoError(t, err)
}

func TestAuctionRecordPhase(t *testing.T) {
	start := time.Unix(1700000000, 0)
	rec := &AuctionRecord{StartTime: start, Duration: time.Minute}

	check.Equal(t, PhaseActive, rec.Phase(start))
	check.Equal(t, PhaseActive, rec.Phase(start.Add(59*time.Second)))
	check.Equal(t, PhaseAwaitingSettlement, rec.Phase(start.Add(time.Minute)))

	rec.Settled = true
	check.Equal(t, PhaseEnded, rec.Phase(start))
}

func TestErrorKinds(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), ErrBidTooLow)
	check.Equal(t, KindValidation, KindOf(wrapped))
	check.Equal(t, "BidTooLow", CodeOf(wrapped))
	check.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	check.Equal(t, KindTransfer, KindOf(ErrInsufficientAllowance))
	check.Equal(t, "oracle", KindOracle.String())
}
