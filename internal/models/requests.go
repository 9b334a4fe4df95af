package models

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	BatchCodeOK      = "0"
	BatchCodePartial = "2"
)

type PlaceRequest struct {
	InstID   string
	TdMode   TdMode
	ClientID string
	Side     Side
	Type     OrderType
	Price    decimal.Decimal
	Size     decimal.Decimal
	PosSide  PosSide
	Ccy      string
}

// AmendRequest changes price and/or total size. Zero values are left unchanged.
type AmendRequest struct {
	InstID   string
	ClientID string
	ReqID    string
	NewPrice decimal.NullDecimal
	NewSize  decimal.NullDecimal
}

type CancelRequest struct {
	InstID   string
	ClientID string
}

// Actions is the output of one decision: what to place, amend and cancel.
type Actions struct {
	Place  []PlaceRequest
	Amend  []AmendRequest
	Cancel []CancelRequest
}

func (a Actions) Empty() bool {
	return len(a.Place) == 0 && len(a.Amend) == 0 && len(a.Cancel) == 0
}

func (a Actions) Len() int {
	return len(a.Place) + len(a.Amend) + len(a.Cancel)
}

func (a *Actions) Merge(o Actions) {
	a.Place = append(a.Place, o.Place...)
	a.Amend = append(a.Amend, o.Amend...)
	a.Cancel = append(a.Cancel, o.Cancel...)
}

type BatchItem struct {
	ClientID string
	OrderID  string
	Code     string
	Msg      string
}

func (i BatchItem) OK() bool { return i.Code == BatchCodeOK }

// BatchResult is the venue answer to one batch call.
type BatchResult struct {
	Code  string
	Msg   string
	Items []BatchItem
}

// Failed reports a whole-batch rejection. "2" is a partial success and is resolved per item.
func (r BatchResult) Failed() bool {
	return r.Code != BatchCodeOK && r.Code != BatchCodePartial
}

// NewClientID returns a fresh 32 char alphanumeric id accepted as clOrdId and reqId.
func NewClientID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
