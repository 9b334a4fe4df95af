package risk

import (
	"context"
	"time"

	"market_maker/internal/helper"
	"market_maker/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Prices is the valuation side of the price book.
type Prices interface {
	USDTPrice(ccy string) (float64, error)
	MarkPrice(instID string) (float64, bool)
	USDTToUSD() float64
}

type Instruments interface {
	Instrument(ctx context.Context, instID string, instType models.InstType) (models.Instrument, error)
}

// InstValue is one position as captured in a snapshot. It keeps the raw
// position fields so an old snapshot can be re-valued at a newer mark.
type InstValue struct {
	Instrument models.Instrument
	Pos        float64
	PosCcy     string
	Ccy        string
	AvgPx      float64
	Liab       float64
	Margin     float64
	Value      float64
}

// Snapshot is an immutable valuation of the account at one moment.
type Snapshot struct {
	At       time.Time
	Cash     map[string]float64
	Values   map[string]InstValue
	Deltas   map[string]float64
	Marks    map[string]float64
	PriceUSD map[string]float64
	AssetUSD float64
}

// Calculator builds snapshots from the account caches.
type Calculator struct {
	instruments Instruments
	prices      Prices
	log         *zap.Logger
	now         func() time.Time
}

func NewCalculator(instruments Instruments, prices Prices, log *zap.Logger) *Calculator {
	return &Calculator{instruments: instruments, prices: prices, log: log.Named("risk"), now: time.Now}
}

func (c *Calculator) Snapshot(ctx context.Context, acc models.Account, positions []models.Position) (Snapshot, error) {
	s := Snapshot{
		At:       c.now(),
		Cash:     make(map[string]float64, len(acc.Balances)),
		Values:   make(map[string]InstValue, len(positions)),
		Deltas:   make(map[string]float64, len(positions)),
		Marks:    make(map[string]float64, len(positions)),
		PriceUSD: make(map[string]float64, len(acc.Balances)),
		AssetUSD: acc.TotalEqUSD,
	}
	usdtUSD := c.prices.USDTToUSD()

	price := func(ccy string) {
		if _, ok := s.PriceUSD[ccy]; ok || ccy == "" {
			return
		}
		px, err := c.prices.USDTPrice(ccy)
		if err != nil {
			c.log.Debug("no usd price", zap.String("ccy", ccy), zap.Error(err))
			return
		}
		s.PriceUSD[ccy] = px * usdtUSD
	}

	for _, b := range acc.Balances {
		s.Cash[b.Ccy] += b.CashBal
		price(b.Ccy)
	}

	for _, p := range positions {
		inst, err := c.instruments.Instrument(ctx, p.InstID, p.InstType)
		if err != nil {
			return Snapshot{}, errors.Wrapf(err, "instrument %s", p.InstID)
		}

		mark := p.MarkPx
		if mark == 0 {
			mark, _ = c.prices.MarkPrice(p.InstID)
		}
		if mark != 0 {
			s.Marks[p.InstID] = mark
		}

		key := helper.PositionKey(p.InstID, p.MgnMode, p.PosSide, p.Ccy)
		v := InstValue{
			Instrument: inst,
			Pos:        p.Pos,
			PosCcy:     p.PosCcy,
			Ccy:        p.Ccy,
			AvgPx:      p.AvgPx,
			Liab:       p.Liab,
			Margin:     p.Margin,
		}
		if mark != 0 {
			v.Value = AssumedValue(v, mark)
		}
		if v.Value == 0 {
			v.Value = p.Upl + p.Margin
		}
		s.Values[key] = v
		s.Deltas[key] = delta(inst, p, mark)
		price(p.Ccy)
	}
	return s, nil
}

// AssumedValue re-values a captured position at mark, in the position's
// value currency. Unknown shapes return 0.
func AssumedValue(v InstValue, mark float64) float64 {
	inst := v.Instrument
	switch inst.Type {
	case models.InstMargin:
		base, quote := inst.ExposureCcy(), inst.QuoteCcyOfID()
		switch {
		case v.PosCcy == base && v.PosCcy == v.Ccy:
			return v.Pos + v.Liab/mark
		case v.PosCcy == quote && v.PosCcy == v.Ccy:
			return v.Pos + v.Liab*mark
		case v.PosCcy == base:
			return v.Pos*mark + v.Liab
		case v.PosCcy == quote:
			return v.Pos/mark + v.Liab
		}
	case models.InstSwap, models.InstFutures:
		notional := v.Pos * inst.CtMult * inst.CtVal
		switch inst.CtType {
		case models.CtLinear:
			return notional*(mark-v.AvgPx) + v.Margin
		case models.CtInverse:
			if v.AvgPx == 0 {
				return 0
			}
			return notional*(1/v.AvgPx-1/mark) + v.Margin
		}
	case models.InstOption:
		return v.Pos*inst.CtMult*inst.CtVal*mark + v.Margin
	}
	return 0
}

// delta is the position's exposure in units of the exposure currency.
func delta(inst models.Instrument, p models.Position, mark float64) float64 {
	switch inst.Type {
	case models.InstMargin:
		if p.PosCcy == inst.ExposureCcy() {
			return p.Pos
		}
		return p.Liab
	case models.InstOption:
		return p.DeltaBS
	case models.InstSwap, models.InstFutures:
		contracts := p.Pos * inst.CtVal * inst.CtMult
		if inst.CtType == models.CtInverse {
			if mark == 0 {
				return 0
			}
			return contracts / mark
		}
		return contracts
	}
	return 0
}
