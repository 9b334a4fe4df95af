package helper

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestTickRoundingIsDirectional(t *testing.T) {
	tick := d("0.1")

	assert.True(t, FloorToTick(d("100.19"), tick).Equal(d("100.1")))
	assert.True(t, CeilToTick(d("100.11"), tick).Equal(d("100.2")))
	assert.True(t, FloorToTick(d("100.1"), tick).Equal(d("100.1")))
	assert.True(t, CeilToTick(d("100.1"), tick).Equal(d("100.1")))
}

func TestRoundToLot(t *testing.T) {
	lot := d("0.01")

	assert.True(t, RoundToLot(d("0.014"), lot).Equal(d("0.01")))
	assert.True(t, RoundToLot(d("0.016"), lot).Equal(d("0.02")))
	assert.True(t, RoundToLot(d("3"), decimal.Zero).Equal(d("3")))
}

func TestKeyCcy(t *testing.T) {
	key := PositionKey("BTC-USDT-SWAP", "cross", "net", "USDT")

	assert.Equal(t, "BTC-USDT-SWAP:cross:net:USDT", key)
	assert.Equal(t, "USDT", KeyCcy(key))
	assert.Equal(t, "BTC", KeyCcy("BTC"))
}
