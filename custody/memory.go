package custody

import (
	"context"
	"fmt"
	"math/big"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/journal"
)

// ReceiveFunc runs after fungible value lands in a hooked account, while the calling
// engine operation is still in progress. It may call back into the engine with ctx.
// Returning an error rejects the transfer.
type ReceiveFunc func(ctx context.Context, from string, amount *big.Int) error

// AssetReceiveFunc is the asset counterpart of ReceiveFunc.
type AssetReceiveFunc func(ctx context.Context, operator, from string, assetID *big.Int) error

// book is a journaled balance sheet shared by Bank and Token.
type book struct {
	j         *journal.Journal
	balances  map[string]*big.Int
	receivers map[string]ReceiveFunc
}

func newBook(j *journal.Journal) book {
	return book{j: j, balances: make(map[string]*big.Int), receivers: make(map[string]ReceiveFunc)}
}

func (b *book) balance(account string) *big.Int {
	if v, ok := b.balances[account]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (b *book) mint(account string, amount *big.Int) {
	journal.Set(b.j, b.balances, account, new(big.Int).Add(b.balance(account), amount))
}

func (b *book) move(from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("invalid transfer amount: %w", core.ErrTransferFailed)
	}
	fromBal := b.balance(from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%s holds %s, needs %s: %w", from, fromBal, amount, core.ErrInsufficientBalance)
	}
	journal.Set(b.j, b.balances, from, fromBal.Sub(fromBal, amount))
	journal.Set(b.j, b.balances, to, new(big.Int).Add(b.balance(to), amount))
	return nil
}

func (b *book) deliver(ctx context.Context, from, to string, amount *big.Int) error {
	hook, ok := b.receivers[to]
	if !ok {
		return nil
	}
	if err := hook(ctx, from, amount); err != nil {
		return fmt.Errorf("receiver %s rejected transfer: %v: %w", to, err, core.ErrTransferFailed)
	}
	return nil
}

// transfer moves amount and runs the receiver hook. A rejected delivery undoes the
// move along with anything the hook changed.
func (b *book) transfer(ctx context.Context, from, to string, amount *big.Int) error {
	mark := b.j.Snapshot()
	if err := b.move(from, to, amount); err != nil {
		return err
	}
	if err := b.deliver(ctx, from, to, amount); err != nil {
		b.j.RevertTo(mark)
		return err
	}
	return nil
}

// Bank is an in-memory native coin. TransferIn is how attached call value moves into
// engine custody; it needs no allowance.
type Bank struct {
	book
	decimals uint8
}

// NewBank creates a native coin ledger journaled by j.
func NewBank(j *journal.Journal, decimals uint8) *Bank {
	return &Bank{book: newBook(j), decimals: decimals}
}

// Mint credits account out of thin air. Used to fund accounts.
func (b *Bank) Mint(account string, amount *big.Int) { b.mint(account, amount) }

// SetReceiver installs a hook for transfers into account. A nil fn removes it.
func (b *Bank) SetReceiver(account string, fn ReceiveFunc) {
	if fn == nil {
		delete(b.receivers, account)
		return
	}
	b.receivers[account] = fn
}

func (b *Bank) Decimals() uint8 { return b.decimals }

func (b *Bank) BalanceOf(account string) *big.Int { return b.balance(account) }

func (b *Bank) TransferIn(ctx context.Context, from, to string, amount *big.Int) error {
	return b.transfer(ctx, from, to, amount)
}

func (b *Bank) TransferOut(ctx context.Context, from, to string, amount *big.Int) error {
	return b.transfer(ctx, from, to, amount)
}

type allowanceKey struct {
	owner   string
	spender string
}

// Token is an in-memory fungible token with allowances.
type Token struct {
	book
	ref        string
	decimals   uint8
	allowances map[allowanceKey]*big.Int
}

// NewToken creates a token ledger journaled by j.
func NewToken(j *journal.Journal, ref string, decimals uint8) *Token {
	return &Token{book: newBook(j), ref: ref, decimals: decimals, allowances: make(map[allowanceKey]*big.Int)}
}

func (t *Token) Ref() string { return t.ref }

func (t *Token) Mint(account string, amount *big.Int) { t.mint(account, amount) }

// Approve sets the amount spender may pull from owner.
func (t *Token) Approve(owner, spender string, amount *big.Int) {
	journal.Set(t.j, t.allowances, allowanceKey{owner, spender}, new(big.Int).Set(amount))
}

func (t *Token) Allowance(owner, spender string) *big.Int {
	if v, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// SetReceiver installs a hook for transfers into account. A nil fn removes it.
func (t *Token) SetReceiver(account string, fn ReceiveFunc) {
	if fn == nil {
		delete(t.receivers, account)
		return
	}
	t.receivers[account] = fn
}

func (t *Token) Decimals() uint8 { return t.decimals }

func (t *Token) BalanceOf(account string) *big.Int { return t.balance(account) }

func (t *Token) TransferIn(ctx context.Context, from, to string, amount *big.Int) error {
	allowed := t.Allowance(from, to)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%s allows %s to pull %s %s, needs %s: %w", from, to, allowed, t.ref, amount, core.ErrInsufficientAllowance)
	}
	mark := t.j.Snapshot()
	if err := t.move(from, to, amount); err != nil {
		return err
	}
	journal.Set(t.j, t.allowances, allowanceKey{from, to}, allowed.Sub(allowed, amount))
	if err := t.deliver(ctx, from, to, amount); err != nil {
		t.j.RevertTo(mark)
		return err
	}
	return nil
}

func (t *Token) TransferOut(ctx context.Context, from, to string, amount *big.Int) error {
	return t.transfer(ctx, from, to, amount)
}

type operatorKey struct {
	owner    string
	operator string
}

// Collection is an in-memory unique-asset collection.
type Collection struct {
	j         *journal.Journal
	ref       string
	owners    map[string]string
	approvals map[string]string
	operators map[operatorKey]bool
	receivers map[string]AssetReceiveFunc
}

// NewCollection creates a collection journaled by j.
func NewCollection(j *journal.Journal, ref string) *Collection {
	return &Collection{
		j:         j,
		ref:       ref,
		owners:    make(map[string]string),
		approvals: make(map[string]string),
		operators: make(map[operatorKey]bool),
		receivers: make(map[string]AssetReceiveFunc),
	}
}

func (c *Collection) Ref() string { return c.ref }

// Mint creates assetID owned by to.
func (c *Collection) Mint(to string, assetID *big.Int) error {
	key := assetID.String()
	if _, exists := c.owners[key]; exists {
		return fmt.Errorf("asset %s#%s already minted", c.ref, key)
	}
	journal.Set(c.j, c.owners, key, to)
	return nil
}

// Approve lets operator move a single asset of owner.
func (c *Collection) Approve(owner, operator string, assetID *big.Int) error {
	key := assetID.String()
	if c.owners[key] != owner {
		return fmt.Errorf("%s does not own %s#%s: %w", owner, c.ref, key, core.ErrNotAssetOwner)
	}
	journal.Set(c.j, c.approvals, key, operator)
	return nil
}

// SetApprovalForAll lets operator move every asset of owner.
func (c *Collection) SetApprovalForAll(owner, operator string, approved bool) {
	journal.Set(c.j, c.operators, operatorKey{owner, operator}, approved)
}

// SetReceiver installs a hook for assets transferred to account. A nil fn removes it.
func (c *Collection) SetReceiver(account string, fn AssetReceiveFunc) {
	if fn == nil {
		delete(c.receivers, account)
		return
	}
	c.receivers[account] = fn
}

func (c *Collection) OwnerOf(assetID *big.Int) (string, error) {
	owner, ok := c.owners[assetID.String()]
	if !ok {
		return "", fmt.Errorf("asset %s#%s does not exist: %w", c.ref, assetID, core.ErrUnknownAsset)
	}
	return owner, nil
}

func (c *Collection) IsApproved(owner, operator string, assetID *big.Int) bool {
	if operator == owner {
		return true
	}
	if c.approvals[assetID.String()] == operator {
		return true
	}
	return c.operators[operatorKey{owner, operator}]
}

func (c *Collection) TransferFrom(ctx context.Context, operator, from, to string, assetID *big.Int) error {
	key := assetID.String()
	owner, ok := c.owners[key]
	if !ok || owner != from {
		return fmt.Errorf("%s does not own %s#%s: %w", from, c.ref, key, core.ErrTransferFailed)
	}
	if !c.IsApproved(owner, operator, assetID) {
		return fmt.Errorf("%s may not move %s#%s: %w", operator, c.ref, key, core.ErrTransferFailed)
	}

	mark := c.j.Snapshot()
	journal.Set(c.j, c.owners, key, to)
	journal.Delete(c.j, c.approvals, key)

	if hook, ok := c.receivers[to]; ok {
		if err := hook(ctx, operator, from, assetID); err != nil {
			c.j.RevertTo(mark)
			return fmt.Errorf("receiver %s rejected %s#%s: %v: %w", to, c.ref, key, err, core.ErrTransferFailed)
		}
	}
	return nil
}
