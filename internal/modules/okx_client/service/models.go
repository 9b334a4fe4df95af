package service

import (
	"strconv"
	"time"

	"market_maker/internal/models"

	"github.com/shopspring/decimal"
)

// Wire payloads shared by the REST endpoints and the private websocket channels.

type PositionData struct {
	AvgPx    string `json:"avgPx"`
	Ccy      string `json:"ccy"`
	DeltaBS  string `json:"deltaBS"`
	DeltaPA  string `json:"deltaPA"`
	InstId   string `json:"instId"`
	InstType string `json:"instType"`
	Liab     string `json:"liab"`
	LiabCcy  string `json:"liabCcy"`
	Margin   string `json:"margin"`
	MarkPx   string `json:"markPx"`
	MgnMode  string `json:"mgnMode"`
	Pos      string `json:"pos"`
	PosCcy   string `json:"posCcy"`
	PosSide  string `json:"posSide"`
	UTime    string `json:"uTime"`
	Upl      string `json:"upl"`
}

func (p PositionData) ToModel() models.Position {
	return models.Position{
		InstID:   p.InstId,
		InstType: models.InstType(p.InstType),
		MgnMode:  p.MgnMode,
		PosSide:  p.PosSide,
		Pos:      parseFloat(p.Pos),
		PosCcy:   p.PosCcy,
		Ccy:      p.Ccy,
		AvgPx:    parseFloat(p.AvgPx),
		MarkPx:   parseFloat(p.MarkPx),
		Liab:     parseFloat(p.Liab),
		LiabCcy:  p.LiabCcy,
		Margin:   parseFloat(p.Margin),
		DeltaBS:  parseFloat(p.DeltaBS),
		Upl:      parseFloat(p.Upl),
	}
}

type AccountData struct {
	TotalEq string `json:"totalEq"`
	UTime   string `json:"uTime"`
	Details []struct {
		Ccy     string `json:"ccy"`
		CashBal string `json:"cashBal"`
		Eq      string `json:"eq"`
		EqUsd   string `json:"eqUsd"`
	} `json:"details"`
}

func (a AccountData) ToModel() models.Account {
	acc := models.Account{
		TotalEqUSD: parseFloat(a.TotalEq),
		UpdatedAt:  parseMillis(a.UTime),
		Balances:   make([]models.Balance, 0, len(a.Details)),
	}
	for _, d := range a.Details {
		acc.Balances = append(acc.Balances, models.Balance{
			Ccy:     d.Ccy,
			CashBal: parseFloat(d.CashBal),
			Eq:      parseFloat(d.Eq),
			EqUSD:   parseFloat(d.EqUsd),
		})
	}
	return acc
}

type OrderData struct {
	InstId    string `json:"instId"`
	ClOrdId   string `json:"clOrdId"`
	OrdId     string `json:"ordId"`
	Side      string `json:"side"`
	State     string `json:"state"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
	UTime     string `json:"uTime"`
}

var orderStates = map[string]models.OrderStatus{
	"live":             models.StatusLive,
	"partially_filled": models.StatusPartiallyFilled,
	"filled":           models.StatusFilled,
	"canceled":         models.StatusCanceled,
	"mmp_canceled":     models.StatusCanceled,
	"rejected":         models.StatusRejected,
}

func (o OrderData) ToModel() models.VenueOrder {
	return models.VenueOrder{
		InstID:    o.InstId,
		ClientID:  o.ClOrdId,
		OrderID:   o.OrdId,
		Side:      models.Side(o.Side),
		State:     orderStates[o.State],
		Price:     parseDecimal(o.Px),
		Size:      parseDecimal(o.Sz),
		AccFillSz: parseDecimal(o.AccFillSz),
		AvgPx:     parseDecimal(o.AvgPx),
		UpdatedAt: parseMillis(o.UTime),
	}
}

type instrumentData struct {
	InstID    string `json:"instId"`
	InstType  string `json:"instType"`
	BaseCcy   string `json:"baseCcy"`
	QuoteCcy  string `json:"quoteCcy"`
	SettleCcy string `json:"settleCcy"`
	CtValCcy  string `json:"ctValCcy"`
	CtType    string `json:"ctType"`
	TickSz    string `json:"tickSz"`
	LotSz     string `json:"lotSz"`
	MinSz     string `json:"minSz"`
	CtVal     string `json:"ctVal"`
	CtMult    string `json:"ctMult"`
	State     string `json:"state"`
}

type batchItemData struct {
	ClOrdId string `json:"clOrdId"`
	OrdId   string `json:"ordId"`
	ReqId   string `json:"reqId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

type placeOrderData struct {
	InstId  string `json:"instId"`
	TdMode  string `json:"tdMode"`
	ClOrdId string `json:"clOrdId"`
	Side    string `json:"side"`
	OrdType string `json:"ordType"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	PosSide string `json:"posSide,omitempty"`
	Ccy     string `json:"ccy,omitempty"`
}

type amendOrderData struct {
	InstId  string `json:"instId"`
	ClOrdId string `json:"clOrdId"`
	ReqId   string `json:"reqId,omitempty"`
	NewSz   string `json:"newSz,omitempty"`
	NewPx   string `json:"newPx,omitempty"`
}

type cancelOrderData struct {
	InstId  string `json:"instId"`
	ClOrdId string `json:"clOrdId"`
}

type statusData struct {
	Title       string `json:"title"`
	State       string `json:"state"`
	Begin       string `json:"begin"`
	End         string `json:"end"`
	ServiceType string `json:"serviceType"`
}

type accountConfigData struct {
	AcctLv  string `json:"acctLv"`
	PosMode string `json:"posMode"`
}

type markPriceData struct {
	InstId   string `json:"instId"`
	InstType string `json:"instType"`
	MarkPx   string `json:"markPx"`
}

type indexTickerData struct {
	InstId string `json:"instId"`
	IdxPx  string `json:"idxPx"`
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func parseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
