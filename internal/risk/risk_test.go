package risk

import (
	"context"
	"testing"
	"time"

	"market_maker/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePrices struct {
	usdt  map[string]float64
	marks map[string]float64
}

func (p fakePrices) USDTPrice(ccy string) (float64, error) {
	if v, ok := p.usdt[ccy]; ok {
		return v, nil
	}
	return 0, errors.Errorf("no price for %s", ccy)
}

func (p fakePrices) MarkPrice(instID string) (float64, bool) {
	v, ok := p.marks[instID]
	return v, ok
}

func (p fakePrices) USDTToUSD() float64 { return 1 }

type fakeInstruments map[string]models.Instrument

func (f fakeInstruments) Instrument(_ context.Context, instID string, _ models.InstType) (models.Instrument, error) {
	inst, ok := f[instID]
	if !ok {
		return models.Instrument{}, errors.Errorf("unknown %s", instID)
	}
	return inst, nil
}

var (
	btcSpot = models.Instrument{InstID: "BTC-USDT", Type: models.InstSpot, BaseCcy: "BTC", QuoteCcy: "USDT"}
	btcSwap = models.Instrument{
		InstID: "BTC-USDT-SWAP", Type: models.InstSwap, CtType: models.CtLinear, CtVal: 1, CtMult: 1, SettleCcy: "USDT",
	}
	swapKey = "BTC-USDT-SWAP:cross:net:USDT"
)

func TestPnLSpotRegression(t *testing.T) {
	prices := fakePrices{usdt: map[string]float64{"BTC": 36000, "USDT": 1}}
	m := NewMeasurement(btcSpot, prices, zap.NewNop())

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, m.Consume(Snapshot{
		At:       t0,
		Cash:     map[string]float64{"BTC": 1, "USDT": 30000},
		PriceUSD: map[string]float64{"BTC": 30000, "USDT": 1},
		AssetUSD: 60000,
	}))
	require.NoError(t, m.Consume(Snapshot{
		At:       t0.Add(time.Hour),
		Cash:     map[string]float64{"BTC": 1.5, "USDT": 15000},
		PriceUSD: map[string]float64{"BTC": 36000, "USDT": 1},
		AssetUSD: 69000,
	}))

	s := m.Summary()
	assert.InDelta(t, 3000, s.PnLUSD, 1e-9)
	assert.InDelta(t, 9000, s.AssetChangeUSD, 1e-9)
	assert.InDelta(t, 0.5, s.ExposureBase, 1e-12)
	assert.InDelta(t, 18000, s.ExposureQuote, 1e-9)
	assert.Equal(t, "BTC", s.ExposureCcy)
	assert.Equal(t, t0, s.Inception)
}

func TestPnLRevaluesInceptionPositionsAtCurrentMark(t *testing.T) {
	prices := fakePrices{usdt: map[string]float64{"USDT": 1, "BTC": 29000}}
	m := NewMeasurement(btcSwap, prices, zap.NewNop())

	require.NoError(t, m.Consume(Snapshot{
		Cash:     map[string]float64{"USDT": 30000},
		Values:   map[string]InstValue{swapKey: {Instrument: btcSwap, Pos: 1, Ccy: "USDT", AvgPx: 30000, Value: 1000}},
		Deltas:   map[string]float64{swapKey: 1},
		Marks:    map[string]float64{"BTC-USDT-SWAP": 31000},
		PriceUSD: map[string]float64{"USDT": 1, "BTC": 31000},
	}))
	require.NoError(t, m.Consume(Snapshot{
		Cash:     map[string]float64{"USDT": 30000},
		Values:   map[string]InstValue{swapKey: {Instrument: btcSwap, Pos: 2, Ccy: "USDT", AvgPx: 28000, Value: 2000}},
		Deltas:   map[string]float64{swapKey: 2},
		Marks:    map[string]float64{"BTC-USDT-SWAP": 29000},
		PriceUSD: map[string]float64{"USDT": 1, "BTC": 29000},
	}))

	s := m.Summary()
	assert.InDelta(t, 3000, s.PnLUSD, 1e-9)
	assert.InDelta(t, 1, s.ExposureBase, 1e-12)
	assert.InDelta(t, 29000, s.ExposureQuote, 1e-9)
}

func TestExposureCountsOnlyOwnInstrument(t *testing.T) {
	btcMargin := models.Instrument{InstID: "BTC-USDT", Type: models.InstMargin, BaseCcy: "BTC", QuoteCcy: "USDT"}
	marginKey := "BTC-USDT:cross:net:BTC"
	prices := fakePrices{usdt: map[string]float64{"BTC": 30000, "USDT": 1}}
	m := NewMeasurement(btcMargin, prices, zap.NewNop())

	snap := func(swapDelta float64) Snapshot {
		return Snapshot{
			Cash:     map[string]float64{"USDT": 1000},
			Deltas:   map[string]float64{marginKey: 2, swapKey: swapDelta},
			PriceUSD: map[string]float64{"BTC": 30000, "USDT": 1},
		}
	}
	require.NoError(t, m.Consume(snap(0)))
	require.NoError(t, m.Consume(snap(5)))

	s := m.Summary()
	assert.Zero(t, s.ExposureBase)
	assert.Zero(t, s.ExposureQuote)
}

func TestFirstSnapshotIsNeverReplaced(t *testing.T) {
	prices := fakePrices{usdt: map[string]float64{"BTC": 100, "USDT": 1}}
	m := NewMeasurement(btcSpot, prices, zap.NewNop())

	first := Snapshot{At: time.Unix(1, 0), Cash: map[string]float64{"BTC": 1}, PriceUSD: map[string]float64{"BTC": 100, "USDT": 1}}
	require.NoError(t, m.Consume(first))
	for i := 2; i < 5; i++ {
		require.NoError(t, m.Consume(Snapshot{
			At:       time.Unix(int64(i), 0),
			Cash:     map[string]float64{"BTC": float64(i)},
			PriceUSD: map[string]float64{"BTC": 100, "USDT": 1},
		}))
	}
	s := m.Summary()
	assert.Equal(t, time.Unix(1, 0), s.Inception)
	assert.InDelta(t, 300, s.PnLUSD, 1e-9)
	assert.InDelta(t, 3, s.ExposureBase, 1e-12)
}

func TestMissingMarkIsFatal(t *testing.T) {
	prices := fakePrices{usdt: map[string]float64{"USDT": 1}}
	m := NewMeasurement(btcSwap, prices, zap.NewNop())

	require.NoError(t, m.Consume(Snapshot{
		Values: map[string]InstValue{swapKey: {Instrument: btcSwap, Pos: 1, Ccy: "USDT", AvgPx: 30000, Value: 10}},
		Marks:  map[string]float64{"BTC-USDT-SWAP": 30000},
	}))
	err := m.Consume(Snapshot{Cash: map[string]float64{"USDT": 1}})
	assert.ErrorIs(t, err, ErrNoMarkPrice)
}

func TestMarkFallsBackToPriceBook(t *testing.T) {
	prices := fakePrices{usdt: map[string]float64{"USDT": 1}, marks: map[string]float64{"BTC-USDT-SWAP": 30500}}
	m := NewMeasurement(btcSwap, prices, zap.NewNop())

	require.NoError(t, m.Consume(Snapshot{
		Values: map[string]InstValue{swapKey: {Instrument: btcSwap, Pos: 1, Ccy: "USDT", AvgPx: 30000, Value: 0}},
	}))
	require.NoError(t, m.Consume(Snapshot{Cash: map[string]float64{}}))
	assert.InDelta(t, -500, m.Summary().PnLUSD, 1e-9)
}

func TestAssumedValue(t *testing.T) {
	margin := models.Instrument{InstID: "BTC-USDT", Type: models.InstMargin}
	inverse := models.Instrument{InstID: "BTC-USD-SWAP", Type: models.InstSwap, CtType: models.CtInverse, CtVal: 100, CtMult: 1}
	option := models.Instrument{InstID: "BTC-USD-240628-30000-C", Type: models.InstOption, CtVal: 0.1, CtMult: 1}

	cases := []struct {
		name string
		v    InstValue
		mark float64
		want float64
	}{
		{"margin base in base", InstValue{Instrument: margin, PosCcy: "BTC", Ccy: "BTC", Pos: 1, Liab: -100}, 20000, 0.995},
		{"margin quote in quote", InstValue{Instrument: margin, PosCcy: "USDT", Ccy: "USDT", Pos: 1000, Liab: -0.01}, 20000, 800},
		{"margin base in quote", InstValue{Instrument: margin, PosCcy: "BTC", Ccy: "USDT", Pos: 1, Liab: -15000}, 20000, 5000},
		{"margin quote in base", InstValue{Instrument: margin, PosCcy: "USDT", Ccy: "BTC", Pos: 20000, Liab: -0.5}, 20000, 0.5},
		{"linear swap", InstValue{Instrument: btcSwap, Pos: 2, AvgPx: 100, Margin: 5}, 110, 25},
		{"inverse swap", InstValue{Instrument: inverse, Pos: 10, AvgPx: 20000, Margin: 0.01}, 25000, 0.02},
		{"option", InstValue{Instrument: option, Pos: 2, Margin: 0}, 0.05, 0.01},
		{"spot has no assumed value", InstValue{Instrument: btcSpot, Pos: 1}, 100, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, AssumedValue(tc.v, tc.mark), 1e-9)
		})
	}
}

func TestCalculatorSnapshot(t *testing.T) {
	prices := fakePrices{usdt: map[string]float64{"BTC": 36000, "USDT": 1}}
	inst := btcSwap
	inst.CtVal = 0.01
	calc := NewCalculator(fakeInstruments{"BTC-USDT-SWAP": inst}, prices, zap.NewNop())

	s, err := calc.Snapshot(t.Context(), models.Account{
		TotalEqUSD: 37000,
		Balances:   []models.Balance{{Ccy: "BTC", CashBal: 1}, {Ccy: "USDT", CashBal: 1000}},
	}, []models.Position{{
		InstID: "BTC-USDT-SWAP", InstType: models.InstSwap, MgnMode: "cross", PosSide: "net", Ccy: "USDT",
		Pos: 2, AvgPx: 35000, MarkPx: 36000, Margin: 100, Upl: 20,
	}})
	require.NoError(t, err)

	assert.Equal(t, 37000.0, s.AssetUSD)
	assert.Equal(t, 1.0, s.Cash["BTC"])
	assert.Equal(t, 36000.0, s.PriceUSD["BTC"])
	assert.Equal(t, 36000.0, s.Marks["BTC-USDT-SWAP"])
	require.Contains(t, s.Values, swapKey)
	assert.InDelta(t, 120, s.Values[swapKey].Value, 1e-9)
	assert.InDelta(t, 0.02, s.Deltas[swapKey], 1e-12)
}

func TestCalculatorSnapshotUnknownInstrument(t *testing.T) {
	calc := NewCalculator(fakeInstruments{}, fakePrices{}, zap.NewNop())
	_, err := calc.Snapshot(t.Context(), models.Account{}, []models.Position{{InstID: "ETH-USDT-SWAP"}})
	assert.Error(t, err)
}

func TestRecordFill(t *testing.T) {
	m := NewMeasurement(btcSpot, fakePrices{}, zap.NewNop())
	m.RecordFill(models.SideBuy, decimal.NewFromInt(3))
	m.RecordFill(models.SideSell, decimal.NewFromInt(1))

	s := m.Summary()
	assert.True(t, s.NetFilled.Equal(decimal.NewFromInt(2)))
	assert.True(t, s.Volume.Equal(decimal.NewFromInt(4)))
	assert.True(t, s.BuyFilled.Equal(decimal.NewFromInt(3)))
	assert.True(t, s.SellFilled.Equal(decimal.NewFromInt(1)))
	assert.True(t, m.NetFilled().Equal(decimal.NewFromInt(2)))
}
