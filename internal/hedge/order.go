package hedge

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"hl-hedger/internal/venue"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// shortLimitPrice sits below mark so an IOC sell crosses the book.
func shortLimitPrice(mark, slippage decimal.Decimal) decimal.Decimal {
	return mark.Mul(one.Sub(slippage))
}

// clientOrderID encodes the saga id as a 128-bit cloid.
func clientOrderID(id uuid.UUID) string {
	return "0x" + hex.EncodeToString(id[:])
}

func (o *Orchestrator) placeOrder(ctx context.Context, st *State, cloid string, log *zap.Logger) (venue.OrderStatus, error) {
	coin := st.Request.Coin
	idx, err := o.venue.ResolveAssetIndex(ctx, coin)
	if err != nil {
		if errors.Is(err, venue.ErrAssetNotFound) {
			return nil, &AssetNotFoundError{Coin: coin, Err: err}
		}
		return nil, fmt.Errorf("resolve asset %s: %w", coin, err)
	}
	order := venue.Order{
		Coin:          coin,
		AssetIndex:    idx,
		IsBuy:         false,
		LimitPrice:    shortLimitPrice(st.Request.MarkPrice, o.cfg.PriceSlippage),
		Size:          st.Request.HedgeSize,
		TIF:           venue.TIFImmediateOrCancel,
		ReduceOnly:    false,
		ClientOrderID: cloid,
	}
	st.Order = &order
	status, err := o.venue.PlaceOrder(ctx, st.Owner, order, st.Subaccount.Address)
	if errors.Is(err, venue.ErrOrderNotSent) {
		o.metrics.OrdersRejected.Inc()
		return nil, &OrderRejectedError{Reason: err.Error(), Err: err}
	}
	if err != nil {
		return nil, &UnknownOrderStatusError{Err: err}
	}
	switch s := status.(type) {
	case venue.Rejected:
		o.metrics.OrdersRejected.Inc()
		return nil, &OrderRejectedError{Reason: s.Reason}
	case venue.Filled:
		st.OrderID = s.OrderID
	case venue.Resting:
		st.OrderID = s.OrderID
	case venue.Unrecognized:
		return nil, &UnknownOrderStatusError{Raw: s.Raw}
	default:
		return nil, &UnknownOrderStatusError{Raw: fmt.Sprintf("%T", status)}
	}
	o.metrics.OrdersPlaced.Inc()
	st.advance(StageOrderPlaced)
	log.Info("order placed",
		zap.Int64("oid", st.OrderID),
		zap.String("price", order.LimitPrice.String()),
		zap.String("size", order.Size.String()),
		zap.String("status", fmt.Sprintf("%T", status)),
	)
	return status, nil
}
