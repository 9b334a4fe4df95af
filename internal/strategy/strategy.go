package strategy

import (
	"context"
	"sort"

	"market_maker/internal/models"
	"market_maker/internal/modules/config"

	"github.com/shopspring/decimal"
)

// State is everything a strategy sees for one decision.
type State struct {
	Book       Book
	Instrument models.Instrument
	TdMode     models.TdMode
	Params     config.StrategyParams
	NetFilled  decimal.Decimal
	Orders     []models.StrategyOrder
}

// Strategy is what the runner calls once per healthy cycle.
type Strategy interface {
	Decide(ctx context.Context, s State) (models.Actions, error)
	Name() string
}

// LadderStrategy quotes a symmetric ladder around the touch and reconciles it
// against the working orders.
type LadderStrategy struct {
	rec *Reconciler
}

func NewLadderStrategy() *LadderStrategy {
	return &LadderStrategy{rec: NewReconciler()}
}

func (s *LadderStrategy) Name() string { return "ladder" }

func (s *LadderStrategy) Decide(_ context.Context, st State) (models.Actions, error) {
	ladder, err := Propose(st.Book, st.Instrument, st.Params, st.NetFilled)
	if err != nil {
		return models.Actions{}, err
	}

	bids, asks := SplitActive(st.Orders)
	actions := s.rec.Reconcile(models.SideBuy, ladder.Bids, bids, st.Instrument, st.TdMode)
	actions.Merge(s.rec.Reconcile(models.SideSell, ladder.Asks, asks, st.Instrument, st.TdMode))
	return actions, nil
}

// SplitActive returns the orders the reconciler may touch: bids best first
// (price descending) and asks best first (price ascending). Orders with a
// cancel in flight are left out.
func SplitActive(orders []models.StrategyOrder) (bids, asks []models.StrategyOrder) {
	for _, o := range orders {
		if o.Status.Canceling() || o.Status.Terminal() {
			continue
		}
		if o.Side == models.SideBuy {
			bids = append(bids, o)
		} else {
			asks = append(asks, o)
		}
	}
	sort.SliceStable(bids, func(i, j int) bool {
		if c := bids[i].Price.Cmp(bids[j].Price); c != 0 {
			return c > 0
		}
		return bids[i].ClientID < bids[j].ClientID
	})
	sort.SliceStable(asks, func(i, j int) bool {
		if c := asks[i].Price.Cmp(asks[j].Price); c != 0 {
			return c < 0
		}
		return asks[i].ClientID < asks[j].ClientID
	})
	return bids, asks
}
