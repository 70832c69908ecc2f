package hedge

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var one = decimal.NewFromInt(1)

// requiredMargin is notional / leverage plus the configured buffer.
func requiredMargin(notional decimal.Decimal, leverage int, buffer decimal.Decimal) decimal.Decimal {
	return notional.Div(decimal.NewFromInt(int64(leverage))).Mul(one.Add(buffer))
}

func (o *Orchestrator) checkBalance(ctx context.Context, st *State, log *zap.Logger) error {
	st.RequiredMargin = requiredMargin(st.Request.NotionalValueUSD, st.Request.Leverage, o.cfg.MarginBuffer)
	acct, err := o.venue.AccountState(ctx, st.Owner)
	if err != nil {
		return fmt.Errorf("read account state: %w", err)
	}
	if acct.Withdrawable.LessThan(st.RequiredMargin) {
		return &InsufficientBalanceError{Required: st.RequiredMargin, Available: acct.Withdrawable}
	}
	st.advance(StageBalanceChecked)
	log.Debug("balance checked",
		zap.String("required", st.RequiredMargin.String()),
		zap.String("available", acct.Withdrawable.String()),
	)
	return nil
}
