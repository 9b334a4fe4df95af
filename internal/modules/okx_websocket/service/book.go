package service

import (
	"context"
	"hash/crc32"
	"sort"
	"strings"
	"sync"
	"time"

	"market_maker/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const checksumDepth = 25

type level struct {
	px    decimal.Decimal
	rawPx string
	rawSz string
}

// OrderBook is the local copy of the OKX books channel for one instrument.
type OrderBook struct {
	instID string

	mu        sync.RWMutex
	bids      []level // best first, price descending
	asks      []level // best first, price ascending
	seqID     int64
	valid     bool
	updatedAt time.Time

	resub chan struct{}
}

func NewOrderBook(instID string) *OrderBook {
	return &OrderBook{instID: instID, resub: make(chan struct{}, 1)}
}

func (b *OrderBook) InstID() string { return b.instID }

// BestBid returns the level-th best bid, counting from 1.
func (b *OrderBook) BestBid(lvl int) (models.BookLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return at(b.bids, lvl)
}

func (b *OrderBook) BestAsk(lvl int) (models.BookLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return at(b.asks, lvl)
}

func at(side []level, lvl int) (models.BookLevel, bool) {
	if lvl < 1 || lvl > len(side) {
		return models.BookLevel{}, false
	}
	l := side[lvl-1]
	sz, _ := decimal.NewFromString(l.rawSz)
	return models.BookLevel{Price: l.px, Size: sz}, true
}

func (b *OrderBook) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}

// Valid reports whether the last applied message passed the checksum and
// sequence checks.
func (b *OrderBook) Valid() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.valid
}

// Resubscribe drops the local book and asks the public stream to reconnect.
func (b *OrderBook) Resubscribe(ctx context.Context) error {
	b.reset()
	select {
	case b.resub <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	default:
		// a request is already pending
	}
	return nil
}

func (b *OrderBook) resubscribed() <-chan struct{} { return b.resub }

func (b *OrderBook) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bids, b.asks = nil, nil
	b.seqID = 0
	b.valid = false
}

type bookData struct {
	Asks      [][]string `json:"asks"`
	Bids      [][]string `json:"bids"`
	Ts        string     `json:"ts"`
	Checksum  int32      `json:"checksum"`
	SeqID     int64      `json:"seqId"`
	PrevSeqID int64      `json:"prevSeqId"`
}

// Apply folds one books message into the book. A snapshot replaces the book;
// an update is merged level by level. Size "0" deletes a level.
func (b *OrderBook) Apply(action string, d bookData) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch action {
	case "snapshot":
		b.bids, b.asks = nil, nil
	case "update":
		if b.seqID == 0 {
			b.valid = false
			return errors.New("update before snapshot")
		}
		if d.PrevSeqID != b.seqID {
			b.valid = false
			return errors.Errorf("sequence gap: have %d, prevSeqId %d", b.seqID, d.PrevSeqID)
		}
	default:
		return errors.Errorf("unknown book action %q", action)
	}

	var err error
	if b.bids, err = merge(b.bids, d.Bids, true); err != nil {
		b.valid = false
		return err
	}
	if b.asks, err = merge(b.asks, d.Asks, false); err != nil {
		b.valid = false
		return err
	}

	b.seqID = d.SeqID
	b.updatedAt = parseMillis(d.Ts)
	if b.updatedAt.IsZero() {
		b.updatedAt = time.Now()
	}

	if got := checksum(b.bids, b.asks); got != d.Checksum {
		b.valid = false
		return errors.Errorf("checksum mismatch: local %d, venue %d", got, d.Checksum)
	}
	b.valid = true
	return nil
}

func merge(side []level, rows [][]string, desc bool) ([]level, error) {
	for _, row := range rows {
		if len(row) < 2 {
			return side, errors.Errorf("short book row %v", row)
		}
		px, err := decimal.NewFromString(row[0])
		if err != nil {
			return side, errors.Wrapf(err, "book price %q", row[0])
		}
		sz, err := decimal.NewFromString(row[1])
		if err != nil {
			return side, errors.Wrapf(err, "book size %q", row[1])
		}

		i := sort.Search(len(side), func(i int) bool {
			if desc {
				return side[i].px.LessThanOrEqual(px)
			}
			return side[i].px.GreaterThanOrEqual(px)
		})
		found := i < len(side) && side[i].px.Equal(px)

		switch {
		case sz.IsZero() && found:
			side = append(side[:i], side[i+1:]...)
		case sz.IsZero():
		case found:
			side[i] = level{px: px, rawPx: row[0], rawSz: row[1]}
		default:
			side = append(side, level{})
			copy(side[i+1:], side[i:])
			side[i] = level{px: px, rawPx: row[0], rawSz: row[1]}
		}
	}
	return side, nil
}

// checksum is the OKX book checksum: crc32 over bid:ask pairs of the top 25
// levels, interleaved, compared as a signed 32 bit integer.
func checksum(bids, asks []level) int32 {
	parts := make([]string, 0, 4*checksumDepth)
	for i := 0; i < checksumDepth; i++ {
		if i < len(bids) {
			parts = append(parts, bids[i].rawPx, bids[i].rawSz)
		}
		if i < len(asks) {
			parts = append(parts, asks[i].rawPx, asks[i].rawSz)
		}
	}
	return int32(crc32.ChecksumIEEE([]byte(strings.Join(parts, ":"))))
}
