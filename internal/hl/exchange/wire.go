package exchange

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	priceSigFigs       = 5
	perpPriceDecimals  = 6
	wireDecimals int32 = 8
)

func LimitOrderWire(asset int, isBuy bool, size, limit decimal.Decimal, reduceOnly bool, tif Tif, cloid string) (OrderWire, error) {
	if tif == "" {
		return OrderWire{}, errors.New("tif is required")
	}
	if !size.IsPositive() {
		return OrderWire{}, errors.New("size must be > 0")
	}
	if !limit.IsPositive() {
		return OrderWire{}, errors.New("limit price must be > 0")
	}
	price, err := decimalToWire(limit)
	if err != nil {
		return OrderWire{}, fmt.Errorf("limit price: %w", err)
	}
	sizeWire, err := decimalToWire(size)
	if err != nil {
		return OrderWire{}, fmt.Errorf("size: %w", err)
	}
	return OrderWire{
		Asset:      asset,
		IsBuy:      isBuy,
		Price:      price,
		Size:       sizeWire,
		ReduceOnly: reduceOnly,
		OrderType:  OrderTypeWire{Limit: &LimitOrderType{Tif: tif}},
		Cloid:      cloid,
	}, nil
}

// NormalizePerpPrice rounds a perp price to five significant figures and at
// most 6-szDecimals decimal places.
func NormalizePerpPrice(price decimal.Decimal, szDecimals int) decimal.Decimal {
	if price.IsZero() {
		return price
	}
	magnitude := price.NumDigits() + int(price.Exponent())
	places := priceSigFigs - magnitude
	maxPlaces := perpPriceDecimals - szDecimals
	if maxPlaces < 0 {
		maxPlaces = 0
	}
	if places > maxPlaces {
		places = maxPlaces
	}
	return price.Round(int32(places))
}

// NormalizeSize truncates toward zero so the order never exceeds the
// requested size.
func NormalizeSize(size decimal.Decimal, szDecimals int) decimal.Decimal {
	if szDecimals < 0 {
		return size
	}
	return size.Truncate(int32(szDecimals))
}

func decimalToWire(x decimal.Decimal) (string, error) {
	rounded := x.Round(wireDecimals)
	if !rounded.Equal(x) {
		return "", fmt.Errorf("wire encoding would round %s", x.String())
	}
	if rounded.IsZero() {
		return "0", nil
	}
	return rounded.String(), nil
}
