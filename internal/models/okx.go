package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type InstType string

const (
	InstSpot    InstType = "SPOT"
	InstMargin  InstType = "MARGIN"
	InstSwap    InstType = "SWAP"
	InstFutures InstType = "FUTURES"
	InstOption  InstType = "OPTION"
)

// Derivative reports whether positions of this type carry contract value.
func (t InstType) Derivative() bool {
	return t == InstSwap || t == InstFutures || t == InstOption
}

type CtType string

const (
	CtLinear  CtType = "linear"
	CtInverse CtType = "inverse"
)

type TdMode string

const (
	TdCash     TdMode = "cash"
	TdCross    TdMode = "cross"
	TdIsolated TdMode = "isolated"
)

// AccountLevel mirrors OKX acctLv.
type AccountLevel int

const (
	AccountCash            AccountLevel = 1
	AccountSingleCcyMargin AccountLevel = 2
	AccountMultiCcyMargin  AccountLevel = 3
	AccountPortfolioMargin AccountLevel = 4
)

// Instrument is the reference data needed to quote and value one instrument.
type Instrument struct {
	InstID    string
	Type      InstType
	BaseCcy   string
	QuoteCcy  string
	SettleCcy string
	CtValCcy  string
	CtType    CtType
	TickSz    decimal.Decimal
	LotSz     decimal.Decimal
	MinSz     decimal.Decimal
	CtVal     float64
	CtMult    float64
	State     string
}

// ExposureCcy is the currency the instrument exposes the book to.
func (i Instrument) ExposureCcy() string {
	return strings.Split(i.InstID, "-")[0]
}

func (i Instrument) QuoteCcyOfID() string {
	parts := strings.Split(i.InstID, "-")
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// GuessInstType derives the instrument type from the shape of an OKX instId.
func GuessInstType(instID string) (InstType, error) {
	parts := strings.Split(instID, "-")
	switch len(parts) {
	case 2:
		return InstSpot, nil
	case 3:
		if parts[2] == "SWAP" {
			return InstSwap, nil
		}
		return InstFutures, nil
	case 5:
		return InstOption, nil
	}
	return "", fmt.Errorf("invalid instId %q: expected BTC-USDT, BTC-USDT-SWAP, BTC-USDT-230630 or BTC-USD-230630-30000-C", instID)
}

// BookLevel is one price level of the order book.
type BookLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// VenueOrder is the venue's view of an order as pushed on the orders channel.
type VenueOrder struct {
	InstID    string
	ClientID  string
	OrderID   string
	Side      Side
	State     OrderStatus
	Price     decimal.Decimal
	Size      decimal.Decimal
	AccFillSz decimal.Decimal
	AvgPx     decimal.Decimal
	UpdatedAt time.Time
}

// Balance is one currency line of the trading account.
type Balance struct {
	Ccy     string
	CashBal float64
	Eq      float64
	EqUSD   float64
}

type Account struct {
	TotalEqUSD float64
	Balances   []Balance
	UpdatedAt  time.Time
}

// Position is an OKX position as pushed on the positions channel.
type Position struct {
	InstID   string
	InstType InstType
	MgnMode  string
	PosSide  string
	Pos      float64
	PosCcy   string
	Ccy      string
	AvgPx    float64
	MarkPx   float64
	Liab     float64
	LiabCcy  string
	Margin   float64
	DeltaBS  float64
	Upl      float64
}

// MaintenanceEvent is an ongoing system status entry.
type MaintenanceEvent struct {
	Title       string
	State       string
	ServiceType string
	Begin       time.Time
	End         time.Time
}
