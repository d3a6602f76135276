package engine

import (
	"fmt"
	"math/big"

	"github.com/cloudx-io/crossbid/core"
	"github.com/cloudx-io/crossbid/currency"
	"github.com/cloudx-io/crossbid/events"
)

// credit adds amount to the refund owed to bidder in c. Overflowing the amount bound
// cannot happen while custody holds the funds, so it is treated as a broken invariant.
func credit(tx *Tx, bidder string, c currency.Currency, amount *big.Int) {
	if amount.Sign() <= 0 {
		return
	}
	total := new(big.Int).Add(tx.State.Pending(bidder, c), amount)
	if total.BitLen() > core.MaxAmountBits {
		panic(fmt.Sprintf("engine: pending return of %s in %s exceeds %d bits", bidder, c, core.MaxAmountBits))
	}
	tx.State.SetPending(bidder, c, total)
}

func (V1) Withdraw(tx *Tx, c currency.Currency) (*big.Int, error) {
	fungible, err := tx.Custody.Fungible(c)
	if err != nil {
		return nil, err
	}
	amount := tx.State.Pending(tx.Msg.Sender, c)
	if amount.Sign() == 0 {
		return nil, fmt.Errorf("%s has no pending %s: %w", tx.Msg.Sender, c, core.ErrNothingToWithdraw)
	}

	tx.State.SetPending(tx.Msg.Sender, c, new(big.Int))

	if err := fungible.TransferOut(tx.Context(), tx.Engine(), tx.Msg.Sender, amount); err != nil {
		return nil, fmt.Errorf("withdraw %s %s: %v: %w", amount, c, err, core.ErrTransferFailed)
	}

	ev := tx.event(events.WithdrawalCompleted).WithCurrency(c)
	ev.Account = tx.Msg.Sender
	ev.Amount = new(big.Int).Set(amount)
	tx.Emit(ev)

	return amount, nil
}
