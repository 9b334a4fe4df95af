package orders

import (
	"context"
	"time"

	"market_maker/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const BatchSize = 20

// Transport is the venue's batch order API.
type Transport interface {
	PlaceOrders(ctx context.Context, reqs []models.PlaceRequest) (models.BatchResult, error)
	AmendOrders(ctx context.Context, reqs []models.AmendRequest) (models.BatchResult, error)
	CancelOrders(ctx context.Context, reqs []models.CancelRequest) (models.BatchResult, error)
}

// Event is one audited outcome of an order action.
type Event struct {
	At       time.Time
	Action   string
	ClientID string
	OrderID  string
	Side     models.Side
	Price    decimal.Decimal
	Size     decimal.Decimal
	Code     string
	Msg      string
}

type Recorder interface {
	RecordOrderEvents(ctx context.Context, events []Event)
}

type nopRecorder struct{}

func (nopRecorder) RecordOrderEvents(context.Context, []Event) {}

type GatewayConfig struct {
	PlacePause  time.Duration
	CallTimeout time.Duration
}

// Gateway sends actions to the venue in fixed-size sequential batches and
// writes the outcome back into the tracker.
type Gateway struct {
	transport Transport
	tracker   *Tracker
	journal   Recorder
	cfg       GatewayConfig
	log       *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewGateway(transport Transport, tracker *Tracker, journal Recorder, cfg GatewayConfig, log *zap.Logger) *Gateway {
	if journal == nil {
		journal = nopRecorder{}
	}
	return &Gateway{
		transport: transport,
		tracker:   tracker,
		journal:   journal,
		cfg:       cfg,
		log:       log.Named("gateway"),
		sleep:     sleepCtx,
		now:       time.Now,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute runs place, then amend, then cancel. It stops at the first
// transport error.
func (g *Gateway) Execute(ctx context.Context, a models.Actions) error {
	if err := g.Place(ctx, a.Place); err != nil {
		return err
	}
	if err := g.Amend(ctx, a.Amend); err != nil {
		return err
	}
	return g.Cancel(ctx, a.Cancel)
}

func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for len(items) > size {
		out = append(out, items[:size:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

func (g *Gateway) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.cfg.CallTimeout)
}

func itemsByID(res models.BatchResult) map[string]models.BatchItem {
	m := make(map[string]models.BatchItem, len(res.Items))
	for _, it := range res.Items {
		m[it.ClientID] = it
	}
	return m
}

func (g *Gateway) Place(ctx context.Context, reqs []models.PlaceRequest) error {
	for _, batch := range chunks(reqs, BatchSize) {
		for _, r := range batch {
			g.tracker.Add(models.StrategyOrder{
				ClientID: r.ClientID,
				InstID:   r.InstID,
				Side:     r.Side,
				Type:     r.Type,
				Price:    r.Price,
				Size:     r.Size,
				Status:   models.StatusSent,
			})
		}

		callCtx, cancel := g.callCtx(ctx)
		res, err := g.transport.PlaceOrders(callCtx, batch)
		cancel()
		if err != nil {
			return errors.Wrap(err, "place batch")
		}

		events := make([]Event, 0, len(batch))
		items := itemsByID(res)
		for _, r := range batch {
			it, ok := items[r.ClientID]
			ev := Event{At: g.now(), Action: "place", ClientID: r.ClientID, Side: r.Side, Price: r.Price, Size: r.Size, Code: it.Code, Msg: it.Msg}
			switch {
			case res.Failed():
				g.tracker.Remove(r.ClientID)
				if !ok {
					ev.Code, ev.Msg = res.Code, res.Msg
				}
			case !ok:
				// Unknown outcome; the orders stream settles it.
				g.log.Warn("place result missing item", zap.String("clOrdId", r.ClientID))
				continue
			case !it.OK():
				g.tracker.Remove(r.ClientID)
			default:
				g.tracker.Update(r.ClientID, func(o *models.StrategyOrder) {
					o.OrderID = it.OrderID
					if o.Status == models.StatusSent {
						o.Status = models.StatusAck
					}
				})
				ev.OrderID = it.OrderID
			}
			events = append(events, ev)
		}
		if res.Failed() {
			g.log.Warn("place batch rejected", zap.String("code", res.Code), zap.String("msg", res.Msg), zap.Int("orders", len(batch)))
		}
		g.journal.RecordOrderEvents(ctx, events)

		if err := g.sleep(ctx, g.cfg.PlacePause); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) Amend(ctx context.Context, reqs []models.AmendRequest) error {
	var eligible []models.AmendRequest
	for _, r := range reqs {
		o, ok := g.tracker.Get(r.ClientID)
		if !ok || o.Status == models.StatusAmendSent || o.Status.Canceling() {
			g.log.Debug("skip amend", zap.String("clOrdId", r.ClientID), zap.String("status", string(o.Status)))
			continue
		}
		eligible = append(eligible, r)
	}

	for _, batch := range chunks(eligible, BatchSize) {
		prior := make(map[string]models.StrategyOrder, len(batch))
		for _, r := range batch {
			g.tracker.Update(r.ClientID, func(o *models.StrategyOrder) {
				prior[r.ClientID] = *o
				if r.NewPrice.Valid {
					o.Price = r.NewPrice.Decimal
				}
				if r.NewSize.Valid {
					o.Size = r.NewSize.Decimal
				}
				o.AmendReqID = r.ReqID
				o.Status = models.StatusAmendSent
			})
		}
		restore := func(id string) {
			p := prior[id]
			g.tracker.Update(id, func(o *models.StrategyOrder) {
				o.Price, o.Size, o.Status, o.AmendReqID = p.Price, p.Size, p.Status, p.AmendReqID
			})
		}

		callCtx, cancel := g.callCtx(ctx)
		res, err := g.transport.AmendOrders(callCtx, batch)
		cancel()
		if err != nil {
			for _, r := range batch {
				restore(r.ClientID)
			}
			return errors.Wrap(err, "amend batch")
		}

		events := make([]Event, 0, len(batch))
		items := itemsByID(res)
		for _, r := range batch {
			it, ok := items[r.ClientID]
			o, _ := g.tracker.Get(r.ClientID)
			ev := Event{At: g.now(), Action: "amend", ClientID: r.ClientID, OrderID: o.OrderID, Side: o.Side, Price: o.Price, Size: o.Size, Code: it.Code, Msg: it.Msg}
			if res.Failed() || !ok || !it.OK() {
				restore(r.ClientID)
				if !ok {
					ev.Code, ev.Msg = res.Code, res.Msg
				}
			} else {
				g.tracker.Update(r.ClientID, func(o *models.StrategyOrder) { o.Status = models.StatusAmendAck })
			}
			events = append(events, ev)
		}
		if res.Failed() {
			g.log.Warn("amend batch rejected", zap.String("code", res.Code), zap.String("msg", res.Msg), zap.Int("orders", len(batch)))
		}
		g.journal.RecordOrderEvents(ctx, events)
	}
	return nil
}

func (g *Gateway) Cancel(ctx context.Context, reqs []models.CancelRequest) error {
	var eligible []models.CancelRequest
	for _, r := range reqs {
		if _, ok := g.tracker.Get(r.ClientID); ok {
			eligible = append(eligible, r)
		}
	}

	for _, batch := range chunks(eligible, BatchSize) {
		prior := make(map[string]models.OrderStatus, len(batch))
		for _, r := range batch {
			g.tracker.Update(r.ClientID, func(o *models.StrategyOrder) {
				prior[r.ClientID] = o.Status
				o.Status = models.StatusCancelSent
			})
		}
		restore := func(id string) {
			g.tracker.Update(id, func(o *models.StrategyOrder) { o.Status = prior[id] })
		}

		callCtx, cancel := g.callCtx(ctx)
		res, err := g.transport.CancelOrders(callCtx, batch)
		cancel()
		if err != nil {
			for _, r := range batch {
				restore(r.ClientID)
			}
			return errors.Wrap(err, "cancel batch")
		}

		events := make([]Event, 0, len(batch))
		items := itemsByID(res)
		for _, r := range batch {
			it, ok := items[r.ClientID]
			ev := Event{At: g.now(), Action: "cancel", ClientID: r.ClientID, Code: it.Code, Msg: it.Msg}
			if res.Failed() || !ok || !it.OK() {
				restore(r.ClientID)
				if !ok {
					ev.Code, ev.Msg = res.Code, res.Msg
				}
			} else {
				g.tracker.Update(r.ClientID, func(o *models.StrategyOrder) { o.Status = models.StatusCancelAck })
			}
			events = append(events, ev)
		}
		if res.Failed() {
			g.log.Warn("cancel batch rejected", zap.String("code", res.Code), zap.String("msg", res.Msg), zap.Int("orders", len(batch)))
		}
		g.journal.RecordOrderEvents(ctx, events)
	}
	return nil
}

// CancelAll cancels every tracked order that is not already cancelled.
func (g *Gateway) CancelAll(ctx context.Context) error {
	var reqs []models.CancelRequest
	for _, o := range g.tracker.Snapshot() {
		if o.Status == models.StatusCancelAck {
			continue
		}
		reqs = append(reqs, models.CancelRequest{InstID: o.InstID, ClientID: o.ClientID})
	}
	if len(reqs) == 0 {
		return nil
	}
	g.log.Warn("cancel all", zap.Int("orders", len(reqs)))
	return g.Cancel(ctx, reqs)
}
