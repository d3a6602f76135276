package custody

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/currency"
	"github.com/cloudx-io/crossbid/journal"
)

func TestBankTransferAndRevert(t *testing.T) {
	ctx := context.Background()
	j := journal.New()
	bank := NewBank(j, 18)
	bank.Mint("alice", big.NewInt(100))
	j.Commit()

	snap := j.Snapshot()
	assert.NoError(t, bank.TransferIn(ctx, "alice", "engine", big.NewInt(40)))
	check.Equal(t, "60", bank.BalanceOf("alice").String())
	check.Equal(t, "40", bank.BalanceOf("engine").String())

	j.RevertTo(snap)
	check.Equal(t, "100", bank.BalanceOf("alice").String())
	check.Equal(t, "0", bank.BalanceOf("engine").String())
}

func TestBankInsufficientBalance(t *testing.T) {
	bank := NewBank(journal.New(), 18)
	err := bank.TransferOut(context.Background(), "engine", "bob", big.NewInt(1))
	check.True(t, errors.Is(err, core.ErrInsufficientBalance))
}

func TestBankReceiverRejects(t *testing.T) {
	ctx := context.Background()
	bank := NewBank(journal.New(), 18)
	bank.Mint("engine", big.NewInt(10))
	bank.SetReceiver("hostile", func(context.Context, string, *big.Int) error {
		return errors.New("no thanks")
	})

	err := bank.TransferOut(ctx, "engine", "hostile", big.NewInt(10))
	check.True(t, errors.Is(err, core.ErrTransferFailed))
	check.Equal(t, "10", bank.BalanceOf("engine").String())
	check.Equal(t, "0", bank.BalanceOf("hostile").String())

	bank.SetReceiver("hostile", nil)
	check.NoError(t, bank.TransferOut(ctx, "engine", "hostile", big.NewInt(10)))
}

func TestTokenReceiverRejects(t *testing.T) {
	ctx := context.Background()
	j := journal.New()
	token := NewToken(j, "usdt", 6)
	token.Mint("alice", big.NewInt(50))
	token.Mint("engine", big.NewInt(10))
	token.Approve("alice", "engine", big.NewInt(50))
	j.Commit()

	refuse := func(context.Context, string, *big.Int) error { return errors.New("no thanks") }
	token.SetReceiver("hostile", refuse)
	err := token.TransferOut(ctx, "engine", "hostile", big.NewInt(10))
	check.True(t, errors.Is(err, core.ErrTransferFailed))
	check.Equal(t, "10", token.BalanceOf("engine").String())
	check.Equal(t, "0", token.BalanceOf("hostile").String())

	// A rejected pull keeps both the balance and the allowance.
	token.SetReceiver("engine", refuse)
	err = token.TransferIn(ctx, "alice", "engine", big.NewInt(20))
	check.True(t, errors.Is(err, core.ErrTransferFailed))
	check.Equal(t, "50", token.BalanceOf("alice").String())
	check.Equal(t, "50", token.Allowance("alice", "engine").String())
	check.Equal(t, 0, j.Len())
}

func TestTokenAllowance(t *testing.T) {
	ctx := context.Background()
	j := journal.New()
	token := NewToken(j, "usdt", 6)
	token.Mint("alice", big.NewInt(200))

	err := token.TransferIn(ctx, "alice", "engine", big.NewInt(50))
	check.True(t, errors.Is(err, core.ErrInsufficientAllowance))

	token.Approve("alice", "engine", big.NewInt(80))
	assert.NoError(t, token.TransferIn(ctx, "alice", "engine", big.NewInt(50)))
	check.Equal(t, "30", token.Allowance("alice", "engine").String())
	check.Equal(t, "150", token.BalanceOf("alice").String())
	check.Equal(t, "50", token.BalanceOf("engine").String())

	err = token.TransferIn(ctx, "alice", "engine", big.NewInt(31))
	check.True(t, errors.Is(err, core.ErrInsufficientAllowance))
}

func TestTokenInsufficientBalanceWithAllowance(t *testing.T) {
	token := NewToken(journal.New(), "usdt", 6)
	token.Approve("alice", "engine", big.NewInt(10))

	err := token.TransferIn(context.Background(), "alice", "engine", big.NewInt(10))
	check.True(t, errors.Is(err, core.ErrInsufficientBalance))
	check.Equal(t, "10", token.Allowance("alice", "engine").String())
}

func TestCollectionTransfer(t *testing.T) {
	ctx := context.Background()
	j := journal.New()
	nft := NewCollection(j, "demo")
	id := big.NewInt(1)
	assert.NoError(t, nft.Mint("seller", id))
	check.Error(t, nft.Mint("seller", id))

	check.False(t, nft.IsApproved("seller", "engine", id))
	err := nft.TransferFrom(ctx, "engine", "seller", "engine", id)
	check.True(t, errors.Is(err, core.ErrTransferFailed))

	nft.SetApprovalForAll("seller", "engine", true)
	check.True(t, nft.IsApproved("seller", "engine", id))

	snap := j.Snapshot()
	assert.NoError(t, nft.TransferFrom(ctx, "engine", "seller", "engine", id))
	owner, err := nft.OwnerOf(id)
	assert.NoError(t, err)
	check.Equal(t, "engine", owner)

	j.RevertTo(snap)
	owner, err = nft.OwnerOf(id)
	assert.NoError(t, err)
	check.Equal(t, "seller", owner)
}

func TestCollectionReceiverRejects(t *testing.T) {
	ctx := context.Background()
	nft := NewCollection(journal.New(), "demo")
	id := big.NewInt(3)
	assert.NoError(t, nft.Mint("seller", id))
	assert.NoError(t, nft.Approve("seller", "engine", id))
	nft.SetReceiver("hostile", func(context.Context, string, string, *big.Int) error {
		return errors.New("no thanks")
	})

	err := nft.TransferFrom(ctx, "engine", "seller", "hostile", id)
	check.True(t, errors.Is(err, core.ErrTransferFailed))
	owner, err := nft.OwnerOf(id)
	assert.NoError(t, err)
	check.Equal(t, "seller", owner)
	check.True(t, nft.IsApproved("seller", "engine", id))
}

func TestCollectionSingleApprovalClearedOnTransfer(t *testing.T) {
	ctx := context.Background()
	nft := NewCollection(journal.New(), "demo")
	id := big.NewInt(9)
	assert.NoError(t, nft.Mint("seller", id))
	assert.NoError(t, nft.Approve("seller", "engine", id))
	check.Error(t, nft.Approve("mallory", "engine", id))

	assert.NoError(t, nft.TransferFrom(ctx, "engine", "seller", "engine", id))
	assert.NoError(t, nft.TransferFrom(ctx, "engine", "engine", "winner", id))
	check.False(t, nft.IsApproved("winner", "engine", id))

	_, err := nft.OwnerOf(big.NewInt(10))
	check.True(t, errors.Is(err, core.ErrUnknownAsset))
}

func TestDirectory(t *testing.T) {
	j := journal.New()
	d := &Directory{
		Native: NewBank(j, 18),
		Tokens: map[string]Fungible{"usdt": NewToken(j, "usdt", 6), "dai": NewToken(j, "dai", 18)},
		Assets: map[string]NFT{"demo": NewCollection(j, "demo")},
	}

	f, err := d.Fungible(currency.Token("usdt"))
	assert.NoError(t, err)
	check.Equal(t, uint8(6), f.Decimals())

	_, err = d.Fungible(currency.Token("btc"))
	check.True(t, errors.Is(err, core.ErrUnsupportedCurrency))
	_, err = d.Fungible(currency.Currency{})
	check.True(t, errors.Is(err, core.ErrUnsupportedCurrency))

	_, err = d.Asset("other")
	check.True(t, errors.Is(err, core.ErrUnknownAsset))

	ids := make([]string, 0)
	for _, c := range d.Currencies() {
		ids = append(ids, c.ID())
	}
	check.Equal(t, []string{"native", "token:dai", "token:usdt"}, ids)
}
