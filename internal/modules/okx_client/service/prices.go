package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"market_maker/internal/models"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Intermediate quotes tried when a currency has no direct USDT market, most liquid first.
var bridgeQuotes = []string{"USDC", "BTC", "ETH", "DAI", "OKB", "DOT", "EURT"}

type spotTicker struct {
	Last  float64
	BidPx float64
	AskPx float64
}

func (t spotTicker) mid() float64 {
	if t.BidPx > 0 && t.AskPx > 0 {
		return (t.BidPx + t.AskPx) / 2
	}
	return t.Last
}

type spotTickerData struct {
	InstId string `json:"instId"`
	Last   string `json:"last"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
}

// PriceBook caches spot tickers, mark prices and the USDT/USD index refreshed over REST.
type PriceBook struct {
	client   *Client
	riskFree map[string]struct{}
	log      *zap.Logger

	mu        sync.RWMutex
	tickers   map[string]spotTicker
	marks     map[string]float64
	usdtUSD   float64
	updatedAt time.Time
}

func NewPriceBook(client *Client, riskFree []string, log *zap.Logger) *PriceBook {
	rf := make(map[string]struct{}, len(riskFree))
	for _, c := range riskFree {
		rf[strings.ToUpper(c)] = struct{}{}
	}
	return &PriceBook{
		client:   client,
		riskFree: rf,
		log:      log.Named("prices"),
		tickers:  make(map[string]spotTicker),
		marks:    make(map[string]float64),
		usdtUSD:  1,
	}
}

// Refresh reloads spot tickers, mark prices of every derivative type and the USDT-USD index.
func (p *PriceBook) Refresh(ctx context.Context) error {
	spot, err := get[spotTickerData](ctx, p.client, "/api/v5/market/tickers?instType=SPOT", false)
	if err != nil {
		return errors.Wrap(err, "spot tickers")
	}
	tickers := make(map[string]spotTicker, len(spot))
	for _, t := range spot {
		tickers[t.InstId] = spotTicker{Last: parseFloat(t.Last), BidPx: parseFloat(t.BidPx), AskPx: parseFloat(t.AskPx)}
	}

	marks := make(map[string]float64)
	for _, it := range []models.InstType{models.InstMargin, models.InstSwap, models.InstFutures, models.InstOption} {
		data, err := get[markPriceData](ctx, p.client, "/api/v5/public/mark-price?instType="+string(it), false)
		if err != nil {
			return errors.Wrapf(err, "mark price %s", it)
		}
		for _, m := range data {
			if px := parseFloat(m.MarkPx); px > 0 {
				marks[m.InstId] = px
			}
		}
	}

	usdtUSD := 1.0
	idx, err := get[indexTickerData](ctx, p.client, "/api/v5/market/index-tickers?instId=USDT-USD", false)
	if err != nil {
		p.log.Warn("usdt-usd index unavailable, using 1", zap.Error(err))
	} else if len(idx) > 0 && parseFloat(idx[0].IdxPx) > 0 {
		usdtUSD = parseFloat(idx[0].IdxPx)
	}

	p.mu.Lock()
	p.tickers = tickers
	p.marks = marks
	p.usdtUSD = usdtUSD
	p.updatedAt = time.Now()
	p.mu.Unlock()
	return nil
}

// Run refreshes every interval until ctx is done.
func (p *PriceBook) Run(ctx context.Context, interval time.Duration) {
	if err := p.Refresh(ctx); err != nil {
		p.log.Warn("initial refresh failed", zap.Error(err))
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.Refresh(ctx); err != nil {
				p.log.Warn("refresh failed", zap.Error(err))
			}
		}
	}
}

// USDTPrice prices ccy in USDT, directly or through one intermediate quote. Risk-free
// stable coins are 1.
func (p *PriceBook) USDTPrice(ccy string) (float64, error) {
	ccy = strings.ToUpper(ccy)
	if ccy == "USDT" {
		return 1, nil
	}
	if _, ok := p.riskFree[ccy]; ok {
		return 1, nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if t, ok := p.tickers[ccy+"-USDT"]; ok && t.mid() > 0 {
		return t.mid(), nil
	}
	for _, q := range bridgeQuotes {
		leg, ok1 := p.tickers[ccy+"-"+q]
		quote, ok2 := p.tickers[q+"-USDT"]
		if ok1 && ok2 && leg.mid() > 0 && quote.mid() > 0 {
			return leg.mid() * quote.mid(), nil
		}
	}
	return 0, errors.Errorf("no usdt price for %s", ccy)
}

func (p *PriceBook) MarkPrice(instID string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	px, ok := p.marks[instID]
	return px, ok && px > 0
}

func (p *PriceBook) USDTToUSD() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.usdtUSD
}

func (p *PriceBook) UpdatedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.updatedAt
}

// SetMark records a mark price pushed by the websocket.
func (p *PriceBook) SetMark(instID string, px float64) {
	p.mu.Lock()
	p.marks[instID] = px
	p.mu.Unlock()
}
