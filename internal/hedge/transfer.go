package hedge

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// microUSD converts a USD amount to the venue's integer unit, rounding half
// away from zero.
func microUSD(amount decimal.Decimal) int64 {
	return amount.Shift(6).Round(0).IntPart()
}

func (o *Orchestrator) transferMargin(ctx context.Context, st *State, log *zap.Logger) error {
	amount := microUSD(st.RequiredMargin)
	if amount <= 0 {
		return &MarginTransferError{AmountMicroUSD: amount, Err: errors.New("amount rounds to zero")}
	}
	if err := o.venue.TransferMargin(ctx, st.Owner, st.Subaccount.Address, true, amount); err != nil {
		return &MarginTransferError{AmountMicroUSD: amount, Err: err}
	}
	st.Transfer = &MarginTransfer{
		SubaccountAddress: st.Subaccount.Address,
		AmountMicroUSD:    amount,
		Direction:         DirectionDeposit,
	}
	st.advance(StageMarginTransferred)
	log.Info("margin transferred", zap.String("subaccount", st.Subaccount.Address), zap.Int64("amount_micro_usd", amount))
	return nil
}
