package hedge

import (
	"context"
	"errors"
	"fmt"

	"hl-hedger/internal/alerts"

	"go.uber.org/zap"
)

// rollback compensates according to the last completed stage. Every step is
// attempted once; failures are collected, never returned as the saga error.
func (o *Orchestrator) rollback(ctx context.Context, st *State, cause error, log *zap.Logger) *RollbackReport {
	ctx = context.WithoutCancel(ctx)
	report := &RollbackReport{}
	switch st.Completed {
	case StageMarginTransferred, StageOrderPlaced:
		if o.positionOpened(ctx, st, cause, report, log) {
			break
		}
		o.releaseSubaccount(ctx, st, report, log)
		o.withdrawMargin(ctx, st, report, log)
	case StageSubaccountPrepared:
		o.releaseSubaccount(ctx, st, report, log)
	default:
		return nil
	}
	o.metrics.Rollbacks.Inc()
	if report.Failed() {
		o.metrics.RollbackFailures.Inc()
		log.Error("hedge rollback incomplete", zap.Error(report.Err()))
		o.alert(ctx, alerts.Event{
			Title:      "hedge rollback incomplete",
			SagaID:     st.ID,
			Code:       ErrorCode(cause),
			Stage:      st.Completed.String(),
			Owner:      st.Owner,
			Subaccount: st.Subaccount.Address,
			Coin:       st.Request.Coin,
			Detail:     report.Err().Error(),
		})
	} else {
		log.Info("hedge rolled back", zap.String("released_as", report.ReleasedAs), zap.Int64("withdrawn_micro_usd", report.WithdrawnMicroUSD))
	}
	return report
}

// releaseSubaccount renames the claimed subaccount back into the idle pool as
// unused-<count+1>, skipping indexes already taken.
func (o *Orchestrator) releaseSubaccount(ctx context.Context, st *State, report *RollbackReport, log *zap.Logger) {
	subs, err := o.venue.ListSubaccounts(ctx, st.Owner)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("list subaccounts: %w", err))
		log.Warn("rollback: list subaccounts failed", zap.Error(err))
		return
	}
	idle := idleSubaccounts(subs, o.cfg.IdlePrefix)
	taken := make(map[int]bool, len(idle))
	for _, sub := range idle {
		taken[sub.index] = true
	}
	n := len(idle) + 1
	for taken[n] {
		n++
	}
	name := fmt.Sprintf("%s%d", o.cfg.IdlePrefix, n)
	if err := o.venue.RenameSubaccount(ctx, st.Owner, st.Subaccount.Address, name); err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("release %s as %s: %w", st.Subaccount.Address, name, err))
		log.Warn("rollback: release subaccount failed", zap.String("name", name), zap.Error(err))
		return
	}
	report.ReleasedAs = name
}

// withdrawMargin reverses exactly the recorded transfer.
func (o *Orchestrator) withdrawMargin(ctx context.Context, st *State, report *RollbackReport, log *zap.Logger) {
	if st.Transfer == nil || st.Transfer.AmountMicroUSD <= 0 {
		return
	}
	amount := st.Transfer.AmountMicroUSD
	if err := o.venue.TransferMargin(ctx, st.Owner, st.Transfer.SubaccountAddress, false, amount); err != nil {
		report.Errors = append(report.Errors, fmt.Errorf("withdraw %d micro-usd: %w", amount, err))
		log.Warn("rollback: withdraw margin failed", zap.Int64("amount_micro_usd", amount), zap.Error(err))
		return
	}
	report.WithdrawnMicroUSD = amount
}

// positionOpened guards against releasing a subaccount whose order may have
// filled even though the placement response was lost. A subaccount holding a
// position stays claimed with its margin, and the report is marked failed.
func (o *Orchestrator) positionOpened(ctx context.Context, st *State, cause error, report *RollbackReport, log *zap.Logger) bool {
	var unknown *UnknownOrderStatusError
	if !errors.As(cause, &unknown) {
		return false
	}
	pos, ok, err := o.venue.Position(ctx, st.Subaccount.Address, st.Request.Coin)
	if err != nil {
		log.Warn("rollback: position check failed; compensating anyway", zap.Error(err))
		return false
	}
	if !ok || pos.Size.IsZero() {
		return false
	}
	report.Errors = append(report.Errors, fmt.Errorf("subaccount %s holds %s position %s after unknown placement outcome; left claimed",
		st.Subaccount.Address, pos.Coin, pos.Size.String()))
	log.Error("rollback: open position after unknown placement outcome",
		zap.String("subaccount", st.Subaccount.Address),
		zap.String("size", pos.Size.String()),
		zap.String("entry_price", pos.EntryPrice.String()),
	)
	return true
}
