package exchange

import (
	"encoding/json"
	"fmt"
)

type Tif string

const (
	TifAlo Tif = "Alo"
	TifIoc Tif = "Ioc"
	TifGtc Tif = "Gtc"
)

type LimitOrderType struct {
	Tif Tif `json:"tif"`
}

type OrderTypeWire struct {
	Limit *LimitOrderType `json:"limit,omitempty"`
}

type OrderWire struct {
	Asset      int           `json:"a"`
	IsBuy      bool          `json:"b"`
	Price      string        `json:"p"`
	Size       string        `json:"s"`
	ReduceOnly bool          `json:"r"`
	OrderType  OrderTypeWire `json:"t"`
	Cloid      string        `json:"c,omitempty"`
}

type OrderAction struct {
	Type     string      `json:"type"`
	Orders   []OrderWire `json:"orders"`
	Grouping string      `json:"grouping"`
}

type CreateSubAccountAction struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type SubAccountModifyAction struct {
	Type           string `json:"type"`
	SubAccountUser string `json:"subAccountUser"`
	Name           string `json:"name"`
}

// SubAccountTransferAction moves perp USDC between a master account and one
// of its subaccounts. Usd is in micro-dollars (1 USD = 1_000_000).
type SubAccountTransferAction struct {
	Type           string `json:"type"`
	SubAccountUser string `json:"subAccountUser"`
	IsDeposit      bool   `json:"isDeposit"`
	Usd            int64  `json:"usd"`
}

type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

type SignedAction struct {
	Action       any       `json:"action"`
	Nonce        uint64    `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress"`
	ExpiresAfter *uint64   `json:"expiresAfter"`
}

type RestingOrder struct {
	OrderID int64  `json:"oid"`
	Cloid   string `json:"cloid,omitempty"`
}

type FilledOrder struct {
	TotalSz string `json:"totalSz"`
	AvgPx   string `json:"avgPx"`
	OrderID int64  `json:"oid"`
	Cloid   string `json:"cloid,omitempty"`
}

// OrderStatus is one entry of an order response. Exactly one of Resting,
// Filled or Error is set for limit orders; anything else lands in Other.
type OrderStatus struct {
	Resting *RestingOrder `json:"resting,omitempty"`
	Filled  *FilledOrder  `json:"filled,omitempty"`
	Error   string        `json:"error,omitempty"`
	Other   string        `json:"-"`
}

func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		*s = OrderStatus{Other: bare}
		return nil
	}
	type alias OrderStatus
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("order status: %w", err)
	}
	*s = OrderStatus(decoded)
	return nil
}

// APIError is returned when the exchange answers with {"status":"err"}.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "exchange error: " + e.Message
}
