package strategy

import (
	"market_maker/internal/helper"
	"market_maker/internal/models"

	"github.com/shopspring/decimal"
)

// Reconciler turns one side's proposal and working orders into actions.
type Reconciler struct {
	newID func() string
}

func NewReconciler() *Reconciler {
	return &Reconciler{newID: models.NewClientID}
}

// Reconcile matches proposal against live for one side. Both slices must be
// ordered best first. Exact (price, remaining) matches are kept; the rest
// are paired by position and turned into amends, with surplus placed or
// cancelled.
func (r *Reconciler) Reconcile(side models.Side, proposed []models.QuoteLevel, live []models.StrategyOrder, inst models.Instrument, tdMode models.TdMode) models.Actions {
	var out models.Actions
	proposed, live = dropMatches(proposed, live, inst.LotSz)

	for i := 0; i < len(proposed) || i < len(live); i++ {
		switch {
		case i >= len(live):
			out.Place = append(out.Place, r.place(side, proposed[i], inst, tdMode))
		case i >= len(proposed):
			out.Cancel = append(out.Cancel, models.CancelRequest{InstID: inst.InstID, ClientID: live[i].ClientID})
		default:
			if req, ok := r.amend(proposed[i], live[i], inst); ok {
				out.Amend = append(out.Amend, req)
			}
		}
	}
	return out
}

func dropMatches(proposed []models.QuoteLevel, live []models.StrategyOrder, lot decimal.Decimal) ([]models.QuoteLevel, []models.StrategyOrder) {
	used := make([]bool, len(proposed))
	keptLive := make([]models.StrategyOrder, 0, len(live))

	for _, o := range live {
		rem := models.QuoteLevel{Price: o.Price, Size: helper.RoundToLot(o.Remaining(), lot)}
		matched := false
		for j, q := range proposed {
			if !used[j] && q.Equal(rem) {
				used[j] = true
				matched = true
				break
			}
		}
		if !matched {
			keptLive = append(keptLive, o)
		}
	}

	keptProposed := make([]models.QuoteLevel, 0, len(proposed))
	for j, q := range proposed {
		if !used[j] {
			keptProposed = append(keptProposed, q)
		}
	}
	return keptProposed, keptLive
}

func (r *Reconciler) place(side models.Side, q models.QuoteLevel, inst models.Instrument, tdMode models.TdMode) models.PlaceRequest {
	req := models.PlaceRequest{
		InstID:   inst.InstID,
		TdMode:   tdMode,
		ClientID: r.newID(),
		Side:     side,
		Type:     models.OrderTypeLimit,
		Price:    q.Price,
		Size:     q.Size,
		PosSide:  models.PosSideNet,
	}
	// Margin orders must name the currency they borrow in.
	if inst.Type == models.InstMargin {
		if side == models.SideBuy {
			req.Ccy = inst.ExposureCcy()
		} else {
			req.Ccy = inst.QuoteCcyOfID()
		}
	}
	return req
}

// amend moves o onto q. The new size is the total order size, so the filled
// part is added back to the proposed remaining.
func (r *Reconciler) amend(q models.QuoteLevel, o models.StrategyOrder, inst models.Instrument) (models.AmendRequest, bool) {
	req := models.AmendRequest{InstID: inst.InstID, ClientID: o.ClientID}
	if !o.Price.Equal(q.Price) {
		req.NewPrice = decimal.NewNullDecimal(q.Price)
	}
	if !helper.RoundToLot(o.Remaining(), inst.LotSz).Equal(q.Size) {
		req.NewSize = decimal.NewNullDecimal(o.FilledSize.Add(q.Size))
	}
	if !req.NewPrice.Valid && !req.NewSize.Valid {
		return models.AmendRequest{}, false
	}
	req.ReqID = r.newID()
	return req, true
}
