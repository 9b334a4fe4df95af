package risk

import (
	"strings"
	"sync"
	"time"

	"market_maker/internal/helper"
	"market_maker/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrNoMarkPrice = errors.New("no current mark price")

// Summary is a point-in-time copy of the measurement.
type Summary struct {
	At             time.Time
	Inception      time.Time
	InstID         string
	InstType       models.InstType
	PnLUSD         float64
	AssetChangeUSD float64
	ExposureCcy    string
	QuoteCcy       string
	ExposureBase   float64
	ExposureQuote  float64
	NetFilled      decimal.Decimal
	BuyFilled      decimal.Decimal
	SellFilled     decimal.Decimal
	Volume         decimal.Decimal
}

// Measurement tracks fills and attributes value change since the first
// snapshot it consumed.
type Measurement struct {
	inst   models.Instrument
	prices Prices
	log    *zap.Logger

	mu         sync.Mutex
	netFilled  decimal.Decimal
	buyFilled  decimal.Decimal
	sellFilled decimal.Decimal
	volume     decimal.Decimal

	pnlUSD         float64
	assetChangeUSD float64
	exposureBase   float64
	exposureQuote  float64

	inception *Snapshot
	current   *Snapshot
}

func NewMeasurement(inst models.Instrument, prices Prices, log *zap.Logger) *Measurement {
	return &Measurement{inst: inst, prices: prices, log: log.Named("measurement")}
}

func (m *Measurement) RecordFill(side models.Side, qty decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.netFilled = m.netFilled.Add(side.Sign().Mul(qty))
	m.volume = m.volume.Add(qty)
	if side == models.SideBuy {
		m.buyFilled = m.buyFilled.Add(qty)
	} else {
		m.sellFilled = m.sellFilled.Add(qty)
	}
}

func (m *Measurement) NetFilled() decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.netFilled
}

// Consume stores s as the current snapshot and recomputes PnL and exposure.
// The first snapshot becomes the inception and is kept for the life of the
// process.
func (m *Measurement) Consume(s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inception == nil {
		m.inception = &s
		return nil
	}

	pnl, err := m.pnl(&s)
	if err != nil {
		return err
	}
	m.current = &s
	m.pnlUSD = pnl
	m.assetChangeUSD = s.AssetUSD - m.inception.AssetUSD
	m.exposureBase, m.exposureQuote = m.exposure(&s)
	return nil
}

func (m *Measurement) pnl(cur *Snapshot) (float64, error) {
	byCcy := make(map[string]float64)

	for ccy, v := range cur.Cash {
		byCcy[ccy] += v
	}
	for key, v := range cur.Values {
		byCcy[helper.KeyCcy(key)] += v.Value
	}
	for ccy, v := range m.inception.Cash {
		byCcy[ccy] -= v
	}
	for key, v := range m.inception.Values {
		instID := v.Instrument.InstID
		mark, ok := cur.Marks[instID]
		if !ok || mark == 0 {
			mark, ok = m.prices.MarkPrice(instID)
		}
		if !ok || mark == 0 {
			return 0, errors.Wrapf(ErrNoMarkPrice, "%s, the instrument may be retired", instID)
		}
		assumed := AssumedValue(v, mark)
		if assumed == 0 {
			assumed = v.Value
		}
		byCcy[helper.KeyCcy(key)] -= assumed
	}

	var pnl float64
	for ccy, diff := range byCcy {
		if diff == 0 {
			continue
		}
		px, ok := cur.PriceUSD[ccy]
		if !ok {
			usdt, err := m.prices.USDTPrice(ccy)
			if err != nil {
				return 0, errors.Wrapf(err, "price %s", ccy)
			}
			px = usdt * m.prices.USDTToUSD()
		}
		pnl += px * diff
	}
	return pnl, nil
}

func (m *Measurement) exposure(cur *Snapshot) (base, quote float64) {
	expCcy, quoteCcy := m.inst.ExposureCcy(), m.inst.QuoteCcyOfID()

	switch m.inst.Type {
	case models.InstSpot:
		base = cur.Cash[expCcy] - m.inception.Cash[expCcy]
	default:
		base = sumDeltas(cur.Deltas, m.inst.InstID) - sumDeltas(m.inception.Deltas, m.inst.InstID)
	}

	if qp := cur.PriceUSD[quoteCcy]; qp != 0 {
		quote = base * cur.PriceUSD[expCcy] / qp
	}
	return base, quote
}

func sumDeltas(deltas map[string]float64, instID string) float64 {
	var sum float64
	for key, v := range deltas {
		if strings.HasPrefix(key, instID+":") {
			sum += v
		}
	}
	return sum
}

func (m *Measurement) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Summary{
		InstID:         m.inst.InstID,
		InstType:       m.inst.Type,
		PnLUSD:         m.pnlUSD,
		AssetChangeUSD: m.assetChangeUSD,
		ExposureCcy:    m.inst.ExposureCcy(),
		QuoteCcy:       m.inst.QuoteCcyOfID(),
		ExposureBase:   m.exposureBase,
		ExposureQuote:  m.exposureQuote,
		NetFilled:      m.netFilled,
		BuyFilled:      m.buyFilled,
		SellFilled:     m.sellFilled,
		Volume:         m.volume,
	}
	if m.current != nil {
		s.At = m.current.At
	}
	if m.inception != nil {
		s.Inception = m.inception.At
	}
	return s
}

// LogSummary writes the periodic risk summary line.
func (m *Measurement) LogSummary() {
	s := m.Summary()
	if s.At.IsZero() {
		return
	}
	m.log.Info("risk summary",
		zap.Time("inception", s.Inception),
		zap.String("inst", s.InstID),
		zap.String("instType", string(s.InstType)),
		zap.Float64("pnlUsd", s.PnLUSD),
		zap.Float64("assetChangeUsd", s.AssetChangeUSD),
		zap.Float64("exposure_"+s.ExposureCcy, s.ExposureBase),
		zap.Float64("exposure_"+s.QuoteCcy, s.ExposureQuote),
		zap.String("netFilled", s.NetFilled.String()),
		zap.String("volume", s.Volume.String()),
	)
}
