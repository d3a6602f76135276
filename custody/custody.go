// Package custody defines the boundary with the asset and currency collaborators the
// engine holds value in, and provides in-memory implementations of them.
package custody

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/currency"
)

// Fungible is the uniform capability set of a bid currency.
type Fungible interface {
	// Decimals is the precision of raw amounts.
	Decimals() uint8
	// BalanceOf returns the raw balance held by account.
	BalanceOf(account string) *big.Int
	// TransferIn pulls amount from `from` into `to`. For tokens this consumes an
	// allowance `from` granted to `to`.
	TransferIn(ctx context.Context, from, to string, amount *big.Int) error
	// TransferOut pushes amount held by `from` to `to`.
	TransferOut(ctx context.Context, from, to string, amount *big.Int) error
}

// NFT is the custody interface of a unique-asset collection.
type NFT interface {
	OwnerOf(assetID *big.Int) (string, error)
	// IsApproved reports whether operator may move assetID on behalf of owner.
	IsApproved(owner, operator string, assetID *big.Int) bool
	TransferFrom(ctx context.Context, operator, from, to string, assetID *big.Int) error
}

// Directory resolves currencies and asset references to their collaborators.
type Directory struct {
	Native Fungible
	Tokens map[string]Fungible
	Assets map[string]NFT
}

// Fungible returns the collaborator holding c.
func (d *Directory) Fungible(c currency.Currency) (Fungible, error) {
	if !c.IsValid() {
		return nil, fmt.Errorf("currency %s: %w", c, core.ErrUnsupportedCurrency)
	}
	if c.IsNative() {
		if d.Native == nil {
			return nil, fmt.Errorf("native currency not configured: %w", core.ErrUnsupportedCurrency)
		}
		return d.Native, nil
	}
	f, ok := d.Tokens[c.Ref()]
	if !ok {
		return nil, fmt.Errorf("token %s: %w", c.Ref(), core.ErrUnsupportedCurrency)
	}
	return f, nil
}

// Asset returns the collection for ref.
func (d *Directory) Asset(ref string) (NFT, error) {
	n, ok := d.Assets[ref]
	if !ok {
		return nil, fmt.Errorf("asset collection %s: %w", ref, core.ErrUnknownAsset)
	}
	return n, nil
}

// Currencies lists every configured currency, native first.
func (d *Directory) Currencies() []currency.Currency {
	out := make([]currency.Currency, 0, len(d.Tokens)+1)
	if d.Native != nil {
		out = append(out, currency.Native())
	}
	refs := make([]string, 0, len(d.Tokens))
	for ref := range d.Tokens {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	for _, ref := range refs {
		out = append(out, currency.Token(ref))
	}
	return out
}
