package market

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

func parsePerpContexts(payload any) (map[string]PerpContext, error) {
	universe, ctxs := extractUniverseAndCtxs(payload)
	if len(universe) == 0 {
		return nil, errors.New("metaAndAssetCtxs missing universe")
	}
	result := make(map[string]PerpContext, len(universe))
	for i, entry := range universe {
		meta, ok := toMap(entry)
		if !ok {
			continue
		}
		name := stringFromMap(meta, "name", "coin")
		if name == "" {
			continue
		}
		pc := PerpContext{
			Name:        name,
			Index:       intFromAny(meta["index"], i),
			SzDecimals:  intFromAny(meta["szDecimals"], 0),
			MaxLeverage: intFromAny(meta["maxLeverage"], 0),
			Delisted:    boolFromAny(meta["isDelisted"]),
		}
		if ctx, ok := indexedMap(ctxs, i); ok {
			pc.MarkPrice = decimalFromMap(ctx, "markPx", "markPrice")
			pc.OraclePrice = decimalFromMap(ctx, "oraclePx", "oraclePrice")
		}
		result[name] = pc
	}
	if len(result) == 0 {
		return nil, errors.New("no perp contexts parsed")
	}
	return result, nil
}

// extractUniverseAndCtxs accepts the documented [meta, ctxs] pair as well as
// a flattened {"universe":..,"assetCtxs":..} object.
func extractUniverseAndCtxs(payload any) ([]any, []any) {
	if arr, ok := toSlice(payload); ok && len(arr) >= 1 {
		metaMap, _ := toMap(arr[0])
		universe, _ := toSlice(metaMap["universe"])
		var ctxs []any
		if len(arr) >= 2 {
			ctxs, _ = toSlice(arr[1])
		}
		return universe, ctxs
	}
	if metaMap, ok := toMap(payload); ok {
		universe, _ := toSlice(metaMap["universe"])
		ctxs, _ := toSlice(metaMap["assetCtxs"])
		return universe, ctxs
	}
	return nil, nil
}

func indexedMap(items []any, idx int) (map[string]any, bool) {
	if idx < 0 || idx >= len(items) {
		return nil, false
	}
	return toMap(items[idx])
}

func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func stringFromMap(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func decimalFromMap(m map[string]any, keys ...string) decimal.Decimal {
	for _, key := range keys {
		switch val := m[key].(type) {
		case string:
			if d, err := decimal.NewFromString(strings.TrimSpace(val)); err == nil {
				return d
			}
		case float64:
			return decimal.NewFromFloat(val)
		case json.Number:
			if d, err := decimal.NewFromString(val.String()); err == nil {
				return d
			}
		}
	}
	return decimal.Zero
}

func boolFromAny(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(val))
		return b
	default:
		return false
	}
}

func intFromAny(v any, fallback int) int {
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return int(i)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return fallback
}
