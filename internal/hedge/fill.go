package hedge

import (
	"context"
	"fmt"
	"time"

	"hl-hedger/internal/alerts"
	"hl-hedger/internal/venue"

	"go.uber.org/zap"
)

func (o *Orchestrator) awaitFill(ctx context.Context, st *State, status venue.OrderStatus, log *zap.Logger) error {
	switch s := status.(type) {
	case venue.Filled:
		st.Fill = &Fill{OrderID: s.OrderID, Price: s.AvgPrice, Size: s.Size}
		st.advance(StageFilled)
		return nil
	case venue.Resting:
		return o.pollFill(ctx, st, s.OrderID, log)
	default:
		return &UnknownOrderStatusError{Raw: fmt.Sprintf("%T", status)}
	}
}

// pollFill polls a resting order until it fills, closes, or the fill timeout
// elapses. The interval is FastPollInterval inside FastPollWindow and
// SlowPollInterval after it. No poll starts once FillTimeout has elapsed.
func (o *Orchestrator) pollFill(ctx context.Context, st *State, orderID int64, log *zap.Logger) error {
	addr := st.Subaccount.Address
	start := o.clock.Now()
	polls := 0
	for {
		elapsed := o.clock.Now().Sub(start)
		if elapsed >= o.cfg.FillTimeout {
			break
		}
		polls++
		state, err := o.venue.OrderState(ctx, addr, orderID)
		if err != nil {
			log.Warn("order status poll failed", zap.Int64("oid", orderID), zap.Duration("elapsed", elapsed), zap.Error(err))
		} else if state.Known {
			if state.Filled || (state.OriginalSize.IsPositive() && state.RemainingSize.IsZero()) {
				st.Fill = &Fill{OrderID: orderID, Price: state.LimitPrice, Size: state.OriginalSize}
				st.advance(StageFilled)
				log.Info("resting order filled", zap.Int64("oid", orderID), zap.Int("polls", polls), zap.Duration("elapsed", elapsed))
				return nil
			}
			if state.Terminal {
				log.Info("order closed before filling", zap.Int64("oid", orderID), zap.String("status", state.Status))
				break
			}
		}
		interval := o.cfg.SlowPollInterval
		if elapsed < o.cfg.FastPollWindow {
			interval = o.cfg.FastPollInterval
		}
		if err := o.clock.Sleep(ctx, interval); err != nil {
			return &FillTimeoutError{OrderID: orderID, Waited: o.clock.Now().Sub(start), Err: err}
		}
	}
	waited := o.clock.Now().Sub(start)
	return o.reconcileFill(ctx, st, orderID, waited, log)
}

// reconcileFill treats a non-zero position in the subaccount as the fill.
// The entry price stands in for the execution price, so the fill is marked
// approximate.
func (o *Orchestrator) reconcileFill(ctx context.Context, st *State, orderID int64, waited time.Duration, log *zap.Logger) error {
	pos, ok, err := o.venue.Position(ctx, st.Subaccount.Address, st.Request.Coin)
	if err != nil {
		return &FillTimeoutError{OrderID: orderID, Waited: waited, Err: fmt.Errorf("position reconciliation: %w", err)}
	}
	if !ok || pos.Size.IsZero() {
		return &FillTimeoutError{OrderID: orderID, Waited: waited}
	}
	st.Fill = &Fill{OrderID: orderID, Price: pos.EntryPrice, Size: pos.Size.Abs(), Approximate: true}
	st.advance(StageFilled)
	o.metrics.FillFallbacks.Inc()
	log.Warn("fill reconstructed from position",
		zap.Int64("oid", orderID),
		zap.String("size", st.Fill.Size.String()),
		zap.String("entry_price", pos.EntryPrice.String()),
	)
	o.alert(ctx, alerts.Event{
		Title:      "hedge fill reconstructed from position",
		SagaID:     st.ID,
		Stage:      StageFilled.String(),
		Owner:      st.Owner,
		Subaccount: st.Subaccount.Address,
		Coin:       st.Request.Coin,
		Detail:     fmt.Sprintf("oid %d size %s entry %s (approximate)", orderID, st.Fill.Size.String(), pos.EntryPrice.String()),
	})
	return nil
}
