package orders

import (
	"sort"
	"sync"
	"time"

	"market_maker/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrLostUpdate = errors.New("venue filled size went backwards")

// OrderView is the venue-side order cache fed by the private orders stream.
type OrderView interface {
	Order(clientID string) (models.VenueOrder, bool)
	Remove(clientIDs ...string)
}

type FillRecorder interface {
	RecordFill(side models.Side, qty decimal.Decimal)
}

type Fill struct {
	At       time.Time
	ClientID string
	Side     models.Side
	Qty      decimal.Decimal
	AvgPx    decimal.Decimal
}

// SyncReport describes what one Sync changed.
type SyncReport struct {
	At        time.Time
	Fills     []Fill
	Untracked []string
	Removed   []models.StrategyOrder
}

// Tracker owns the active strategy order set, keyed by client id.
type Tracker struct {
	fills FillRecorder
	log   *zap.Logger
	now   func() time.Time

	mu      sync.RWMutex
	orders  map[string]*models.StrategyOrder
	// consecutive syncs an order was absent from the venue view
	missing map[string]int
}

func NewTracker(fills FillRecorder, log *zap.Logger) *Tracker {
	return &Tracker{
		fills:   fills,
		log:     log.Named("tracker"),
		now:     time.Now,
		orders:  make(map[string]*models.StrategyOrder),
		missing: make(map[string]int),
	}
}

func (t *Tracker) Add(o models.StrategyOrder) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.orders[o.ClientID] = &o
}

func (t *Tracker) Get(clientID string) (models.StrategyOrder, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	o, ok := t.orders[clientID]
	if !ok {
		return models.StrategyOrder{}, false
	}
	return *o, true
}

// Update applies fn to the tracked order. It reports false if the order is unknown.
func (t *Tracker) Update(clientID string, fn func(o *models.StrategyOrder)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	o, ok := t.orders[clientID]
	if !ok {
		return false
	}
	fn(o)
	return true
}

func (t *Tracker) Remove(clientIDs ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range clientIDs {
		delete(t.orders, id)
		delete(t.missing, id)
	}
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.orders)
}

// Snapshot returns a copy of every tracked order ordered by client id.
func (t *Tracker) Snapshot() []models.StrategyOrder {
	t.mu.RLock()
	out := make([]models.StrategyOrder, 0, len(t.orders))
	for _, o := range t.orders {
		out = append(out, *o)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// Sync folds the venue order view into the tracked orders. Fill increments
// go to the fill recorder; terminal orders are dropped here and in view.
// A venue fill size below the local one is reported as ErrLostUpdate after
// every other order has been processed.
func (t *Tracker) Sync(view OrderView) (SyncReport, error) {
	var (
		report = SyncReport{At: t.now()}
		lost   []string
		prune  []string
		stale  []string
	)

	t.mu.Lock()
	for id, o := range t.orders {
		vo, ok := view.Order(id)
		if !ok {
			report.Untracked = append(report.Untracked, id)
			t.missing[id]++
			if o.Status != models.StatusSent || t.missing[id] > 1 {
				stale = append(stale, id)
			}
			continue
		}
		delete(t.missing, id)

		delta := vo.AccFillSz.Sub(o.FilledSize)
		switch {
		case delta.IsNegative():
			lost = append(lost, id)
		case delta.IsPositive():
			t.fills.RecordFill(o.Side, delta)
			o.FilledSize = vo.AccFillSz
			o.AvgFillPrice = vo.AvgPx
			report.Fills = append(report.Fills, Fill{At: report.At, ClientID: id, Side: o.Side, Qty: delta, AvgPx: vo.AvgPx})
		}

		if o.OrderID == "" {
			o.OrderID = vo.OrderID
		}

		switch {
		case vo.State.Terminal():
			o.Status = vo.State
			report.Removed = append(report.Removed, *o)
			delete(t.orders, id)
			prune = append(prune, id)
		case vo.State == models.StatusLive || vo.State == models.StatusPartiallyFilled:
			// A cancel in flight stays visible until the venue confirms it.
			if !o.Status.Canceling() && o.Status != models.StatusAmendSent {
				o.Status = vo.State
				o.AmendReqID = ""
				// the venue's price and size win over a locally restored amend
				if vo.Price.IsPositive() {
					o.Price = vo.Price
				}
				if vo.Size.IsPositive() {
					o.Size = vo.Size
				}
			}
		}
	}
	t.mu.Unlock()

	if len(prune) > 0 {
		view.Remove(prune...)
	}

	sort.Strings(report.Untracked)
	sort.Strings(stale)
	if len(stale) > 0 {
		t.log.Warn("orders missing from venue view", zap.Strings("clOrdIds", stale))
	}
	if n := len(report.Untracked) - len(stale); n > 0 {
		t.log.Debug("orders not yet in venue view", zap.Int("orders", n))
	}
	for _, f := range report.Fills {
		t.log.Info("fill",
			zap.String("clOrdId", f.ClientID),
			zap.String("side", string(f.Side)),
			zap.String("qty", f.Qty.String()),
			zap.String("avgPx", f.AvgPx.String()),
		)
	}

	if len(lost) > 0 {
		sort.Strings(lost)
		t.log.Error("lost order update", zap.Strings("clOrdIds", lost))
		return report, errors.Wrapf(ErrLostUpdate, "orders %v", lost)
	}
	return report, nil
}
