package hedge

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Stable error codes returned to API callers.
const (
	CodeValidation            = "validation_error"
	CodeInsufficientBalance   = "insufficient_balance"
	CodeWalletUnavailable     = "wallet_unavailable"
	CodeSubaccountPreparation = "subaccount_preparation_failed"
	CodeMarginTransfer        = "margin_transfer_failed"
	CodeAssetNotFound         = "asset_not_found"
	CodeOrderRejected         = "order_rejected"
	CodeFillTimeout           = "fill_timeout"
	CodeUnknownOrderStatus    = "unknown_order_status"
	CodeInternal              = "internal_error"
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type InsufficientBalanceError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, available %s", e.Required.String(), e.Available.String())
}

type WalletUnavailableError struct {
	Owner string
	Err   error
}

func (e *WalletUnavailableError) Error() string {
	return fmt.Sprintf("wallet %s unavailable: %v", e.Owner, e.Err)
}

func (e *WalletUnavailableError) Unwrap() error { return e.Err }

type SubaccountPreparationError struct {
	Err error
}

func (e *SubaccountPreparationError) Error() string {
	return fmt.Sprintf("prepare subaccount: %v", e.Err)
}

func (e *SubaccountPreparationError) Unwrap() error { return e.Err }

type MarginTransferError struct {
	AmountMicroUSD int64
	Err            error
}

func (e *MarginTransferError) Error() string {
	return fmt.Sprintf("transfer %d micro-usd: %v", e.AmountMicroUSD, e.Err)
}

func (e *MarginTransferError) Unwrap() error { return e.Err }

type AssetNotFoundError struct {
	Coin string
	Err  error
}

func (e *AssetNotFoundError) Error() string {
	return fmt.Sprintf("asset %s not listed", e.Coin)
}

func (e *AssetNotFoundError) Unwrap() error { return e.Err }

// OrderRejectedError covers venue rejections and orders refused before they
// were sent; Err is set only for the latter.
type OrderRejectedError struct {
	Reason string
	Err    error
}

func (e *OrderRejectedError) Error() string {
	return "order rejected: " + e.Reason
}

func (e *OrderRejectedError) Unwrap() error { return e.Err }

type FillTimeoutError struct {
	OrderID int64
	Waited  time.Duration
	Err     error
}

func (e *FillTimeoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order %d not filled after %s: %v", e.OrderID, e.Waited, e.Err)
	}
	return fmt.Sprintf("order %d not filled after %s", e.OrderID, e.Waited)
}

func (e *FillTimeoutError) Unwrap() error { return e.Err }

// UnknownOrderStatusError covers placement outcomes that cannot be
// classified, including a lost placement response.
type UnknownOrderStatusError struct {
	Raw string
	Err error
}

func (e *UnknownOrderStatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("order status unknown: %v", e.Err)
	}
	return fmt.Sprintf("order status unknown: %q", e.Raw)
}

func (e *UnknownOrderStatusError) Unwrap() error { return e.Err }

// SagaError is returned for every failure after validation. Err is the root
// cause; Rollback describes compensation and is nil when nothing was
// compensated.
type SagaError struct {
	SagaID   string
	Stage    Stage
	Err      error
	Rollback *RollbackReport
}

func (e *SagaError) Error() string {
	msg := fmt.Sprintf("hedge saga %s failed after %s: %v", e.SagaID, e.Stage, e.Err)
	if e.RollbackFailed() {
		msg += " (rollback incomplete)"
	}
	return msg
}

func (e *SagaError) Unwrap() error { return e.Err }

func (e *SagaError) RollbackFailed() bool {
	return e.Rollback != nil && e.Rollback.Failed()
}

// ErrorCode maps err onto one of the Code constants.
func ErrorCode(err error) string {
	var (
		validation *ValidationError
		balance    *InsufficientBalanceError
		wallet     *WalletUnavailableError
		prepare    *SubaccountPreparationError
		transfer   *MarginTransferError
		asset      *AssetNotFoundError
		rejected   *OrderRejectedError
		timeout    *FillTimeoutError
		unknown    *UnknownOrderStatusError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &validation):
		return CodeValidation
	case errors.As(err, &balance):
		return CodeInsufficientBalance
	case errors.As(err, &wallet):
		return CodeWalletUnavailable
	case errors.As(err, &prepare):
		return CodeSubaccountPreparation
	case errors.As(err, &transfer):
		return CodeMarginTransfer
	case errors.As(err, &asset):
		return CodeAssetNotFound
	case errors.As(err, &rejected):
		return CodeOrderRejected
	case errors.As(err, &timeout):
		return CodeFillTimeout
	case errors.As(err, &unknown):
		return CodeUnknownOrderStatus
	default:
		return CodeInternal
	}
}
