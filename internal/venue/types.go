// Package venue is the hedger's view of the perpetual-futures exchange.
// Types here are exchange-neutral; hyperliquid.go maps them onto the
// Hyperliquid info and exchange endpoints.
package venue

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrClaimConflict means the subaccount no longer carried the expected
	// idle name when the claim ran.
	ErrClaimConflict = errors.New("subaccount claim conflict")
	ErrAssetNotFound = errors.New("asset not found")
	// ErrOrderNotSent wraps PlaceOrder failures raised before the order
	// reached the exchange. Anything else may have been accepted.
	ErrOrderNotSent = errors.New("order not sent")
)

type TimeInForce string

const (
	TIFImmediateOrCancel TimeInForce = "Ioc"
	TIFGoodTilCancel     TimeInForce = "Gtc"
	TIFAddLiquidityOnly  TimeInForce = "Alo"
)

type AccountState struct {
	Withdrawable decimal.Decimal
	AccountValue decimal.Decimal
}

type Subaccount struct {
	Address string
	Name    string
	Owner   string
}

type Order struct {
	Coin          string
	AssetIndex    int
	IsBuy         bool
	LimitPrice    decimal.Decimal
	Size          decimal.Decimal
	TIF           TimeInForce
	ReduceOnly    bool
	ClientOrderID string
}

// OrderStatus is the placement outcome: Rejected, Filled, Resting or
// Unrecognized.
type OrderStatus interface {
	orderStatus()
}

type Rejected struct {
	Reason string
}

type Filled struct {
	OrderID  int64
	AvgPrice decimal.Decimal
	Size     decimal.Decimal
}

type Resting struct {
	OrderID int64
}

// Unrecognized carries a placement status the adapter could not classify.
type Unrecognized struct {
	Raw string
}

func (Rejected) orderStatus()     {}
func (Filled) orderStatus()       {}
func (Resting) orderStatus()      {}
func (Unrecognized) orderStatus() {}

// OrderState is a point-in-time poll of a resting order.
type OrderState struct {
	Known         bool
	Status        string
	Filled        bool
	Terminal      bool
	RemainingSize decimal.Decimal
	OriginalSize  decimal.Decimal
	LimitPrice    decimal.Decimal
}

type Position struct {
	Coin       string
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
}
