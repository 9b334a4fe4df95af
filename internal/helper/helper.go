package helper

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FloorToTick rounds px down to a multiple of tick. Used for buy prices.
func FloorToTick(px, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return px
	}
	return px.Div(tick).Floor().Mul(tick)
}

// CeilToTick rounds px up to a multiple of tick. Used for sell prices.
func CeilToTick(px, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return px
	}
	return px.Div(tick).Ceil().Mul(tick)
}

// RoundToLot rounds qty to the nearest multiple of lot.
func RoundToLot(qty, lot decimal.Decimal) decimal.Decimal {
	if !lot.IsPositive() {
		return qty
	}
	return qty.Div(lot).Round(0).Mul(lot)
}

// PositionKey builds the valuation key instId:mgnMode:posSide:ccy. The currency is always last.
func PositionKey(instID, mgnMode, posSide, ccy string) string {
	return strings.Join([]string{instID, mgnMode, posSide, ccy}, ":")
}

// KeyCcy returns the currency suffix of a valuation key.
func KeyCcy(key string) string {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return key
	}
	return key[i+1:]
}
