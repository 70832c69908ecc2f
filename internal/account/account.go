package account

import (
	"context"
	"errors"
	"strings"

	"hl-hedger/internal/hl/rest"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Account reads per-user state from the info endpoint. It holds no cache:
// every call reflects the venue at request time.
type Account struct {
	rest *rest.Client
	log  *zap.Logger
}

type Position struct {
	Coin       string
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
}

type State struct {
	Withdrawable decimal.Decimal
	AccountValue decimal.Decimal
	Positions    map[string]Position
}

type SubAccount struct {
	Name    string
	Address string
	Master  string
}

// OrderStatus is the orderStatus answer for a single oid. Known is false when
// the venue does not recognise the oid.
type OrderStatus struct {
	Known         bool
	OrderID       int64
	Coin          string
	Status        string
	LimitPrice    decimal.Decimal
	RemainingSize decimal.Decimal
	OriginalSize  decimal.Decimal
}

func New(restClient *rest.Client, log *zap.Logger) *Account {
	if log == nil {
		log = zap.NewNop()
	}
	return &Account{rest: restClient, log: log}
}

func (a *Account) ClearinghouseState(ctx context.Context, user string) (State, error) {
	if a.rest == nil {
		return State{}, errors.New("rest client is required")
	}
	var payload map[string]any
	if err := a.rest.Info(ctx, rest.InfoRequest{Type: "clearinghouseState", User: normalizeAddr(user)}, &payload); err != nil {
		return State{}, err
	}
	return parseClearinghouse(payload)
}

func (a *Account) SubAccounts(ctx context.Context, master string) ([]SubAccount, error) {
	if a.rest == nil {
		return nil, errors.New("rest client is required")
	}
	var payload any
	if err := a.rest.Info(ctx, rest.InfoRequest{Type: "subAccounts", User: normalizeAddr(master)}, &payload); err != nil {
		return nil, err
	}
	return parseSubAccounts(payload), nil
}

func (a *Account) OrderStatus(ctx context.Context, user string, orderID int64) (OrderStatus, error) {
	if a.rest == nil {
		return OrderStatus{}, errors.New("rest client is required")
	}
	var payload map[string]any
	req := rest.InfoRequest{Type: "orderStatus", User: normalizeAddr(user), Oid: &orderID}
	if err := a.rest.Info(ctx, req, &payload); err != nil {
		return OrderStatus{}, err
	}
	status := parseOrderStatus(payload)
	if !status.Known {
		a.log.Debug("order status unknown", zap.Int64("oid", orderID), zap.String("user", req.User))
	}
	return status, nil
}

// Filled reports whether nothing of the order remains on the book.
func (s OrderStatus) Filled() bool {
	if !s.Known {
		return false
	}
	if strings.EqualFold(s.Status, "filled") {
		return true
	}
	return s.OriginalSize.IsPositive() && s.RemainingSize.IsZero() && !s.Terminal()
}

// Terminal reports a status from which the order can no longer fill.
func (s OrderStatus) Terminal() bool {
	if !s.Known {
		return false
	}
	switch strings.ToLower(s.Status) {
	case "", "open", "filled", "triggered":
		return false
	default:
		return true
	}
}

func normalizeAddr(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
