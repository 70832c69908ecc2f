package hedge

import (
	"errors"
	"strings"

	"hl-hedger/internal/venue"

	"github.com/shopspring/decimal"
)

type Stage int

const (
	StageInit Stage = iota
	StageBalanceChecked
	StageSubaccountPrepared
	StageMarginTransferred
	StageOrderPlaced
	StageFilled
	StageRolledBack
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageBalanceChecked:
		return "balance_checked"
	case StageSubaccountPrepared:
		return "subaccount_prepared"
	case StageMarginTransferred:
		return "margin_transferred"
	case StageOrderPlaced:
		return "order_placed"
	case StageFilled:
		return "filled"
	case StageRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Request is a validated hedge-open request. It is never mutated by the saga.
type Request struct {
	PositionHash     string
	Coin             string
	Leverage         int
	NotionalValueUSD decimal.Decimal
	HedgeSize        decimal.Decimal
	MarkPrice        decimal.Decimal
}

func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.PositionHash) == "":
		return &ValidationError{Field: "positionHash", Reason: "is required"}
	case strings.TrimSpace(r.Coin) == "":
		return &ValidationError{Field: "coin", Reason: "is required"}
	case r.Leverage <= 0:
		return &ValidationError{Field: "leverage", Reason: "must be a positive integer"}
	case !r.NotionalValueUSD.IsPositive():
		return &ValidationError{Field: "notionalValueUsd", Reason: "must be > 0"}
	case !r.HedgeSize.IsPositive():
		return &ValidationError{Field: "hedgeSize", Reason: "must be > 0"}
	case !r.MarkPrice.IsPositive():
		return &ValidationError{Field: "markPrice", Reason: "must be > 0"}
	}
	return nil
}

type Direction string

const (
	DirectionDeposit  Direction = "deposit"
	DirectionWithdraw Direction = "withdraw"
)

// MarginTransfer is recorded only after the venue accepted the transfer.
type MarginTransfer struct {
	SubaccountAddress string
	AmountMicroUSD    int64
	Direction         Direction
}

func (t MarginTransfer) USD() decimal.Decimal {
	return decimal.New(t.AmountMicroUSD, -6)
}

type Fill struct {
	OrderID     int64
	Price       decimal.Decimal
	Size        decimal.Decimal
	Approximate bool
}

// State is the single record a saga threads through its stages. Completed
// only moves forward; Stage additionally becomes StageRolledBack on failure.
type State struct {
	ID             string
	Owner          string
	Request        Request
	Stage          Stage
	Completed      Stage
	RequiredMargin decimal.Decimal
	Subaccount     venue.Subaccount
	Transfer       *MarginTransfer
	Order          *venue.Order
	OrderID        int64
	Fill           *Fill
	Err            error
	Rollback       *RollbackReport
}

func (s *State) advance(to Stage) {
	if to <= s.Completed {
		return
	}
	s.Completed = to
	s.Stage = to
}

// Prepared reports whether a subaccount claim committed, which arms rollback.
func (s *State) Prepared() bool {
	return s.Completed >= StageSubaccountPrepared
}

func (s *State) fail(err error, report *RollbackReport) {
	s.Err = err
	s.Rollback = report
	s.Stage = StageRolledBack
}

// RollbackReport lists what compensation achieved. A non-empty Errors is the
// rollback-attempt-failed condition.
type RollbackReport struct {
	ReleasedAs        string
	WithdrawnMicroUSD int64
	Errors            []error
}

func (r *RollbackReport) Failed() bool {
	return r != nil && len(r.Errors) > 0
}

func (r *RollbackReport) Err() error {
	if r == nil {
		return nil
	}
	return errors.Join(r.Errors...)
}

// Result is returned for a filled hedge. Approximate marks a fill rebuilt
// from the subaccount position rather than from the order itself.
type Result struct {
	SagaID            string
	SubaccountAddress string
	SubaccountName    string
	OrderID           int64
	FillPrice         decimal.Decimal
	FillSize          decimal.Decimal
	MarginTransferred decimal.Decimal
	Market            string
	Approximate       bool
}

func resultFromState(st *State) Result {
	res := Result{
		SagaID:            st.ID,
		SubaccountAddress: st.Subaccount.Address,
		SubaccountName:    st.Subaccount.Name,
		Market:            st.Request.Coin,
	}
	if st.Transfer != nil {
		res.MarginTransferred = st.Transfer.USD()
	}
	if st.Fill != nil {
		res.OrderID = st.Fill.OrderID
		res.FillPrice = st.Fill.Price
		res.FillSize = st.Fill.Size
		res.Approximate = st.Fill.Approximate
	}
	return res
}
