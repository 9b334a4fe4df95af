package service

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"market_maker/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type instrumentCache struct {
	mu    sync.RWMutex
	items map[string]models.Instrument
}

// Instrument returns reference data for instID, cached per instId:instType. An empty
// instType is guessed from the id. A SPOT id may be requested as MARGIN.
func (c *Client) Instrument(ctx context.Context, instID string, instType models.InstType) (models.Instrument, error) {
	guessed, err := models.GuessInstType(instID)
	if err != nil {
		return models.Instrument{}, err
	}
	if instType == "" || !(guessed == models.InstSpot && instType == models.InstMargin) {
		instType = guessed
	}
	key := instID + ":" + string(instType)

	c.instruments.mu.RLock()
	inst, ok := c.instruments.items[key]
	c.instruments.mu.RUnlock()
	if ok {
		return inst, nil
	}

	q := url.Values{}
	q.Set("instType", string(instType))
	q.Set("instId", instID)
	if instType == models.InstOption {
		parts := strings.Split(instID, "-")
		q.Set("uly", parts[0]+"-"+parts[1])
	}
	data, err := get[instrumentData](ctx, c, "/api/v5/public/instruments?"+q.Encode(), false)
	if err != nil {
		return models.Instrument{}, errors.Wrapf(err, "instrument %s", instID)
	}
	if len(data) == 0 {
		return models.Instrument{}, errors.Errorf("instrument %s not found", instID)
	}
	inst, err = data[0].toModel()
	if err != nil {
		return models.Instrument{}, errors.Wrapf(err, "instrument %s", instID)
	}
	inst.Type = instType

	c.instruments.mu.Lock()
	if c.instruments.items == nil {
		c.instruments.items = make(map[string]models.Instrument)
	}
	c.instruments.items[key] = inst
	c.instruments.mu.Unlock()
	return inst, nil
}

func (d instrumentData) toModel() (models.Instrument, error) {
	if d.State != "" && d.State != "live" {
		return models.Instrument{}, errors.Errorf("not live: state=%s", d.State)
	}
	parsePos := func(name, s string) (decimal.Decimal, error) {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, errors.Wrapf(err, "%s parse %q", name, s)
		}
		if !v.IsPositive() {
			return decimal.Zero, errors.Errorf("%s must be positive, got %q", name, s)
		}
		return v, nil
	}
	tick, err := parsePos("tickSz", d.TickSz)
	if err != nil {
		return models.Instrument{}, err
	}
	lot, err := parsePos("lotSz", d.LotSz)
	if err != nil {
		return models.Instrument{}, err
	}
	minSz, err := parsePos("minSz", d.MinSz)
	if err != nil {
		return models.Instrument{}, err
	}

	ctVal, ctMult := parseFloat(d.CtVal), parseFloat(d.CtMult)
	if ctVal <= 0 {
		ctVal = 1
	}
	if ctMult <= 0 {
		ctMult = 1
	}
	return models.Instrument{
		InstID:    d.InstID,
		Type:      models.InstType(d.InstType),
		BaseCcy:   d.BaseCcy,
		QuoteCcy:  d.QuoteCcy,
		SettleCcy: d.SettleCcy,
		CtValCcy:  d.CtValCcy,
		CtType:    models.CtType(strings.ToLower(d.CtType)),
		TickSz:    tick,
		LotSz:     lot,
		MinSz:     minSz,
		CtVal:     ctVal,
		CtMult:    ctMult,
		State:     d.State,
	}, nil
}
