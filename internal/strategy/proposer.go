package strategy

import (
	"market_maker/internal/helper"
	"market_maker/internal/models"
	"market_maker/internal/modules/config"

	"github.com/shopspring/decimal"
)

// Book is the top-of-book read side of the market data cache.
type Book interface {
	BestBid(level int) (models.BookLevel, bool)
	BestAsk(level int) (models.BookLevel, bool)
}

// Ladder is the proposal for both sides, each ordered outward from the touch.
type Ladder struct {
	Bids []models.QuoteLevel
	Asks []models.QuoteLevel
}

// Propose builds the quote ladder around the best bid and ask.
func Propose(book Book, inst models.Instrument, p config.StrategyParams, netFilled decimal.Decimal) (Ladder, error) {
	bid, hasBid := book.BestBid(1)
	ask, hasAsk := book.BestAsk(1)
	switch {
	case !hasBid && !hasAsk:
		return Ladder{}, models.ErrBookEmpty
	case !hasAsk:
		ask = bid
	case !hasBid:
		bid = ask
	}

	size := decimal.NewFromFloat(p.SizeMultiple).Mul(inst.LotSz)
	if size.LessThan(inst.MinSz) {
		size = inst.MinSz
	}
	size = helper.RoundToLot(size, inst.LotSz)

	buyCount, sellCount := dampedCounts(p, netFilled)
	step := decimal.NewFromFloat(p.StepPct)

	return Ladder{
		Bids: ladderSide(models.SideBuy, bid.Price, step, buyCount, size, inst.TickSz),
		Asks: ladderSide(models.SideSell, ask.Price, step, sellCount, size, inst.TickSz),
	}, nil
}

// dampedCounts shrinks the side that would grow the net position. The count is rounded
// up so some interest stays on that side until the limit is fully used.
func dampedCounts(p config.StrategyParams, net decimal.Decimal) (buy, sell int) {
	n := decimal.NewFromInt(int64(p.OrdersPerSide))
	buy, sell = p.OrdersPerSide, p.OrdersPerSide
	one := decimal.NewFromInt(1)

	if net.IsPositive() {
		factor := decimal.Max(one.Sub(net.Div(decimal.NewFromFloat(p.MaxNetBuy))), decimal.Zero)
		buy = int(n.Mul(factor).Ceil().IntPart())
	}
	if net.IsNegative() {
		factor := decimal.Max(one.Add(net.Div(decimal.NewFromFloat(p.MaxNetSell))), decimal.Zero)
		sell = int(n.Mul(factor).Ceil().IntPart())
	}
	return buy, sell
}

func ladderSide(side models.Side, touch, step decimal.Decimal, count int, size, tick decimal.Decimal) []models.QuoteLevel {
	levels := make([]models.QuoteLevel, 0, count)
	one := decimal.NewFromInt(1)
	for i := 0; i < count; i++ {
		offset := step.Mul(decimal.NewFromInt(int64(i + 1)))
		var px decimal.Decimal
		if side == models.SideBuy {
			px = helper.FloorToTick(touch.Mul(one.Sub(offset)), tick)
		} else {
			px = helper.CeilToTick(touch.Mul(one.Add(offset)), tick)
		}

		// Coarse ticks can collapse neighbouring rungs; push them one tick outward.
		if n := len(levels); n > 0 {
			prev := levels[n-1].Price
			if side == models.SideBuy && !px.LessThan(prev) {
				px = prev.Sub(tick)
			}
			if side == models.SideSell && !px.GreaterThan(prev) {
				px = prev.Add(tick)
			}
		}
		if !px.IsPositive() {
			break
		}
		levels = append(levels, models.QuoteLevel{Price: px, Size: size})
	}
	return levels
}
