package models

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var ErrBookEmpty = errors.New("order book has neither bids nor asks")

// Side is the OKX order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

type OrderType string

const (
	OrderTypeLimit    OrderType = "limit"
	OrderTypePostOnly OrderType = "post_only"
)

type PosSide string

const PosSideNet PosSide = "net"

// OrderStatus is the local lifecycle status of a strategy order.
type OrderStatus string

const (
	StatusSent            OrderStatus = "SENT"
	StatusAck             OrderStatus = "ACK"
	StatusLive            OrderStatus = "LIVE"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusAmendSent       OrderStatus = "AMD_SENT"
	StatusAmendAck        OrderStatus = "AMD_ACK"
	StatusCancelSent      OrderStatus = "CXL_SENT"
	StatusCancelAck       OrderStatus = "CXL_ACK"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
)

func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCanceled, StatusRejected:
		return true
	}
	return false
}

// Canceling reports whether a cancel has already been sent for the order.
func (s OrderStatus) Canceling() bool {
	return s == StatusCancelSent || s == StatusCancelAck
}

// StrategyOrder is one working order owned by the strategy.
type StrategyOrder struct {
	ClientID     string
	OrderID      string
	InstID       string
	Side         Side
	Type         OrderType
	Price        decimal.Decimal
	Size         decimal.Decimal
	FilledSize   decimal.Decimal
	AvgFillPrice decimal.Decimal
	AmendReqID   string
	Status       OrderStatus
}

// Remaining is the unfilled part of the requested size.
func (o StrategyOrder) Remaining() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// QuoteLevel is one proposed (price, size) rung of a ladder.
type QuoteLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

func (q QuoteLevel) Equal(o QuoteLevel) bool {
	return q.Price.Equal(o.Price) && q.Size.Equal(o.Size)
}
