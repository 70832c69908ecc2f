package exchange

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeAction msgpack-encodes an L1 action with the key order the venue
// hashes. Go maps would randomize it, so every action is written by hand.
func EncodeAction(action any) ([]byte, error) {
	var buf bytes.Buffer
	w := &mapWriter{enc: msgpack.NewEncoder(&buf)}
	switch a := action.(type) {
	case OrderAction:
		if len(a.Orders) == 0 {
			return nil, errors.New("action orders are required")
		}
		grouping := a.Grouping
		if grouping == "" {
			grouping = "na"
		}
		w.begin(3)
		w.str("type", actionType(a.Type, "order"))
		w.key("orders")
		w.array(len(a.Orders))
		for _, order := range a.Orders {
			w.order(order)
		}
		w.str("grouping", grouping)
	case CreateSubAccountAction:
		if a.Name == "" {
			return nil, errors.New("subaccount name is required")
		}
		w.begin(2)
		w.str("type", actionType(a.Type, "createSubAccount"))
		w.str("name", a.Name)
	case SubAccountModifyAction:
		if a.SubAccountUser == "" {
			return nil, errors.New("subaccount user is required")
		}
		w.begin(3)
		w.str("type", actionType(a.Type, "subAccountModify"))
		w.str("subAccountUser", a.SubAccountUser)
		w.str("name", a.Name)
	case SubAccountTransferAction:
		if a.SubAccountUser == "" {
			return nil, errors.New("subaccount user is required")
		}
		if a.Usd <= 0 {
			return nil, errors.New("transfer amount must be > 0")
		}
		w.begin(4)
		w.str("type", actionType(a.Type, "subAccountTransfer"))
		w.str("subAccountUser", a.SubAccountUser)
		w.boolean("isDeposit", a.IsDeposit)
		w.integer("usd", a.Usd)
	default:
		return nil, fmt.Errorf("unsupported action %T", action)
	}
	if w.err != nil {
		return nil, w.err
	}
	return buf.Bytes(), nil
}

func actionType(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

// mapWriter keeps the first encoder error so callers can chain writes.
type mapWriter struct {
	enc *msgpack.Encoder
	err error
}

func (w *mapWriter) do(fn func() error) {
	if w.err == nil {
		w.err = fn()
	}
}

func (w *mapWriter) begin(n int) { w.do(func() error { return w.enc.EncodeMapLen(n) }) }
func (w *mapWriter) array(n int) { w.do(func() error { return w.enc.EncodeArrayLen(n) }) }
func (w *mapWriter) key(k string) { w.do(func() error { return w.enc.EncodeString(k) }) }

func (w *mapWriter) str(k, v string) {
	w.key(k)
	w.do(func() error { return w.enc.EncodeString(v) })
}

func (w *mapWriter) boolean(k string, v bool) {
	w.key(k)
	w.do(func() error { return w.enc.EncodeBool(v) })
}

func (w *mapWriter) integer(k string, v int64) {
	w.key(k)
	w.do(func() error { return w.enc.EncodeInt(v) })
}

func (w *mapWriter) order(order OrderWire) {
	if order.OrderType.Limit == nil {
		w.do(func() error { return errors.New("limit order type required") })
		return
	}
	fields := 6
	if order.Cloid != "" {
		fields++
	}
	w.begin(fields)
	w.integer("a", int64(order.Asset))
	w.boolean("b", order.IsBuy)
	w.str("p", order.Price)
	w.str("s", order.Size)
	w.boolean("r", order.ReduceOnly)
	w.key("t")
	w.begin(1)
	w.key("limit")
	w.begin(1)
	w.str("tif", string(order.OrderType.Limit.Tif))
	if order.Cloid != "" {
		w.str("c", order.Cloid)
	}
}
