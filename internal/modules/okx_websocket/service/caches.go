package service

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"market_maker/internal/helper"
	"market_maker/internal/models"

	"github.com/pkg/errors"
)

var ErrNotReady = errors.New("cache not ready")

// OrderCache holds the latest venue state of our orders, keyed by clOrdId.
type OrderCache struct {
	mu     sync.RWMutex
	orders map[string]models.VenueOrder
}

func NewOrderCache() *OrderCache {
	return &OrderCache{orders: make(map[string]models.VenueOrder)}
}

// Upsert stores o unless a newer update for the same order is already held.
func (c *OrderCache) Upsert(o models.VenueOrder) {
	if o.ClientID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.orders[o.ClientID]; ok && cur.UpdatedAt.After(o.UpdatedAt) {
		return
	}
	c.orders[o.ClientID] = o
}

func (c *OrderCache) Order(clientID string) (models.VenueOrder, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.orders[clientID]
	return o, ok
}

func (c *OrderCache) Remove(clientIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range clientIDs {
		delete(c.orders, id)
	}
}

func (c *OrderCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.orders)
}

// AccountCache holds the account balances and open positions.
type AccountCache struct {
	mu        sync.RWMutex
	account   *models.Account
	positions map[string]models.Position
	posReady  bool
}

func NewAccountCache() *AccountCache {
	return &AccountCache{positions: make(map[string]models.Position)}
}

func (c *AccountCache) SetAccount(a models.Account) {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.account = &a
}

// Account returns the latest balances. It fails until the first push arrives.
func (c *AccountCache) Account() (models.Account, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.account == nil {
		return models.Account{}, errors.Wrap(ErrNotReady, "account")
	}
	return *c.account, nil
}

// ApplyPositions merges a positions push. The first push of a connection is
// the full set; closed positions (pos 0) are dropped.
func (c *AccountCache) ApplyPositions(ps []models.Position, full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if full {
		c.positions = make(map[string]models.Position, len(ps))
	}
	for _, p := range ps {
		key := helper.PositionKey(p.InstID, p.MgnMode, p.PosSide, p.Ccy)
		if p.Pos == 0 && p.Liab == 0 {
			delete(c.positions, key)
			continue
		}
		c.positions[key] = p
	}
	c.posReady = true
}

func (c *AccountCache) Positions() ([]models.Position, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.posReady {
		return nil, errors.Wrap(ErrNotReady, "positions")
	}
	keys := make([]string, 0, len(c.positions))
	for k := range c.positions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]models.Position, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.positions[k])
	}
	return out, nil
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
