package account

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// parseClearinghouse requires withdrawable; without it a malformed response
// would read as a zero balance.
func parseClearinghouse(payload map[string]any) (State, error) {
	state := State{Positions: make(map[string]Position)}
	if payload == nil {
		return state, errors.New("clearinghouse state is empty")
	}
	withdrawable, ok := decimalFromAny(payload["withdrawable"])
	if !ok {
		return state, errors.New("clearinghouse state has no valid withdrawable")
	}
	state.Withdrawable = withdrawable
	if summary, ok := payload["marginSummary"].(map[string]any); ok {
		state.AccountValue, _ = decimalFromAny(summary["accountValue"])
	}
	raw, _ := payload["assetPositions"].([]any)
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		pos := entry
		if nested, ok := entry["position"].(map[string]any); ok {
			pos = nested
		}
		coin := stringFromAny(pos["coin"])
		if coin == "" {
			continue
		}
		size, ok := decimalFromAny(pos["szi"])
		if !ok {
			size, _ = decimalFromAny(pos["size"])
		}
		entryPx, _ := decimalFromAny(pos["entryPx"])
		state.Positions[coin] = Position{Coin: coin, Size: size, EntryPrice: entryPx}
	}
	return state, nil
}

func parseSubAccounts(payload any) []SubAccount {
	raw, _ := payload.([]any)
	out := make([]SubAccount, 0, len(raw))
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		addr := normalizeAddr(stringFromAny(entry["subAccountUser"]))
		if addr == "" {
			continue
		}
		out = append(out, SubAccount{
			Name:    stringFromAny(entry["name"]),
			Address: addr,
			Master:  normalizeAddr(stringFromAny(entry["master"])),
		})
	}
	return out
}

// parseOrderStatus reads {"status":"order","order":{"order":{...},"status":"open"}}.
// Any other top-level status (e.g. "unknownOid") yields Known=false.
func parseOrderStatus(payload map[string]any) OrderStatus {
	if payload == nil || stringFromAny(payload["status"]) != "order" {
		return OrderStatus{}
	}
	wrapper, ok := payload["order"].(map[string]any)
	if !ok {
		return OrderStatus{}
	}
	order, ok := wrapper["order"].(map[string]any)
	if !ok {
		return OrderStatus{}
	}
	status := OrderStatus{
		Known:   true,
		OrderID: int64FromAny(order["oid"]),
		Coin:    stringFromAny(order["coin"]),
		Status:  stringFromAny(wrapper["status"]),
	}
	status.LimitPrice, _ = decimalFromAny(order["limitPx"])
	status.RemainingSize, _ = decimalFromAny(order["sz"])
	if orig, ok := decimalFromAny(order["origSz"]); ok {
		status.OriginalSize = orig
	} else {
		status.OriginalSize = status.RemainingSize
	}
	return status
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

func decimalFromAny(v any) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(val), true
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

func int64FromAny(v any) int64 {
	switch val := v.(type) {
	case float64:
		return int64(val)
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return i
		}
	}
	return 0
}
