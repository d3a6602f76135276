// Package oracle adapts external price feeds. A feed reports the price of one currency
// in the canonical accounting unit as an integer with its own decimal precision.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// Reading is one price observation.
type Reading struct {
	Price     *big.Int
	Decimals  uint8
	UpdatedAt time.Time
}

// Feed returns the latest reading for a single currency.
type Feed interface {
	LatestPrice(ctx context.Context) (Reading, error)
}

// Resolver looks up a feed by the reference stored in currency configuration.
type Resolver interface {
	Feed(ref string) (Feed, bool)
}

// Directory is a fixed Resolver backed by a map.
type Directory struct {
	mu    sync.RWMutex
	feeds map[string]Feed
}

// NewDirectory creates a directory from an initial set of feeds.
func NewDirectory(feeds map[string]Feed) *Directory {
	d := &Directory{feeds: make(map[string]Feed, len(feeds))}
	for ref, f := range feeds {
		d.feeds[ref] = f
	}
	return d
}

// Register adds or replaces a feed.
func (d *Directory) Register(ref string, feed Feed) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.feeds[ref] = feed
}

func (d *Directory) Feed(ref string) (Feed, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.feeds[ref]
	return f, ok
}

// StaticFeed serves a price set by its owner. Used for fixed-rate feeds and tests.
type StaticFeed struct {
	mu      sync.RWMutex
	reading Reading
	err     error
	now     func() time.Time // non-nil for fixed-rate feeds
}

// NewStaticFeed creates a feed reporting price with the given decimals, updated at
// updatedAt.
func NewStaticFeed(price *big.Int, decimals uint8, updatedAt time.Time) *StaticFeed {
	return &StaticFeed{reading: Reading{Price: new(big.Int).Set(price), Decimals: decimals, UpdatedAt: updatedAt}}
}

// NewFixedRateFeed creates a feed whose price never changes. Every reading is stamped
// with now(), so the feed never goes stale.
func NewFixedRateFeed(price *big.Int, decimals uint8, now func() time.Time) *StaticFeed {
	f := NewStaticFeed(price, decimals, now())
	f.now = now
	return f
}

// Set replaces the current reading.
func (f *StaticFeed) Set(price *big.Int, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reading.Price = new(big.Int).Set(price)
	f.reading.UpdatedAt = updatedAt
	f.err = nil
}

// Fail makes every subsequent read return err until the next Set.
func (f *StaticFeed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *StaticFeed) LatestPrice(_ context.Context) (Reading, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return Reading{}, f.err
	}
	r := f.reading
	r.Price = new(big.Int).Set(f.reading.Price)
	if f.now != nil {
		r.UpdatedAt = f.now()
	}
	return r, nil
}

// ParsePrice parses an integer price string such as "200000000000".
func ParsePrice(s string) (*big.Int, error) {
	price, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid price %q", s)
	}
	return price, nil
}
