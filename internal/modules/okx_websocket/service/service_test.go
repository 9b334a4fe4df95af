package service

import (
	"context"
	"encoding/json"
	"hash/crc32"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"market_maker/internal/models"
	"market_maker/internal/modules/config"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sum(s string) int32 { return int32(crc32.ChecksumIEEE([]byte(s))) }

func TestBookSnapshotAndUpdate(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	require.NoError(t, b.Apply("snapshot", bookData{
		Bids:     [][]string{{"100", "1", "0", "1"}, {"99.5", "2", "0", "1"}},
		Asks:     [][]string{{"101", "3", "0", "1"}},
		Ts:       "1700000000000",
		SeqID:    10,
		Checksum: sum("100:1:101:3:99.5:2"),
	}))
	assert.True(t, b.Valid())
	assert.Equal(t, time.UnixMilli(1700000000000), b.LastUpdate())

	bid, ok := b.BestBid(1)
	require.True(t, ok)
	assert.True(t, bid.Price.Equal(decimal.RequireFromString("100")))
	_, ok = b.BestAsk(2)
	assert.False(t, ok)

	// 100 removed, 99.8 inserted ahead of 99.5, ask 100.5 becomes best.
	require.NoError(t, b.Apply("update", bookData{
		Bids:      [][]string{{"100", "0", "0", "0"}, {"99.8", "4", "0", "1"}},
		Asks:      [][]string{{"100.5", "1", "0", "1"}},
		SeqID:     11,
		PrevSeqID: 10,
		Checksum:  sum("99.8:4:100.5:1:99.5:2:101:3"),
	}))
	bid, _ = b.BestBid(1)
	ask, _ := b.BestAsk(1)
	assert.Equal(t, "99.8", bid.Price.String())
	assert.Equal(t, "100.5", ask.Price.String())
	assert.True(t, ask.Size.Equal(decimal.NewFromInt(1)))
	assert.True(t, b.Valid())
}

func TestBookChecksumMismatchInvalidates(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	err := b.Apply("snapshot", bookData{
		Bids:     [][]string{{"100", "1"}},
		Asks:     [][]string{{"101", "1"}},
		SeqID:    1,
		Checksum: 42,
	})
	assert.Error(t, err)
	assert.False(t, b.Valid())
}

func TestBookSequenceGapInvalidates(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	require.NoError(t, b.Apply("snapshot", bookData{
		Bids: [][]string{{"100", "1"}}, Asks: [][]string{{"101", "1"}}, SeqID: 5, Checksum: sum("100:1:101:1"),
	}))
	err := b.Apply("update", bookData{SeqID: 8, PrevSeqID: 7, Checksum: sum("100:1:101:1")})
	assert.Error(t, err)
	assert.False(t, b.Valid())
}

func TestBookResubscribeResets(t *testing.T) {
	b := NewOrderBook("BTC-USDT")
	require.NoError(t, b.Apply("snapshot", bookData{
		Bids: [][]string{{"100", "1"}}, Asks: [][]string{{"101", "1"}}, SeqID: 5, Checksum: sum("100:1:101:1"),
	}))

	require.NoError(t, b.Resubscribe(t.Context()))
	require.NoError(t, b.Resubscribe(t.Context()))
	assert.False(t, b.Valid())
	_, ok := b.BestBid(1)
	assert.False(t, ok)
	assert.Len(t, b.resub, 1)
}

func TestOrderCacheKeepsNewest(t *testing.T) {
	c := NewOrderCache()
	c.Upsert(models.VenueOrder{ClientID: "a", State: models.StatusPartiallyFilled, UpdatedAt: time.Unix(20, 0)})
	c.Upsert(models.VenueOrder{ClientID: "a", State: models.StatusLive, UpdatedAt: time.Unix(10, 0)})
	c.Upsert(models.VenueOrder{State: models.StatusLive})

	o, ok := c.Order("a")
	require.True(t, ok)
	assert.Equal(t, models.StatusPartiallyFilled, o.State)
	assert.Equal(t, 1, c.Len())

	c.Remove("a")
	_, ok = c.Order("a")
	assert.False(t, ok)
}

func TestAccountCacheNotReady(t *testing.T) {
	c := NewAccountCache()
	_, err := c.Account()
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = c.Positions()
	assert.ErrorIs(t, err, ErrNotReady)

	c.ApplyPositions([]models.Position{
		{InstID: "BTC-USDT-SWAP", MgnMode: "cross", PosSide: "net", Ccy: "USDT", Pos: 1},
		{InstID: "ETH-USDT-SWAP", MgnMode: "cross", PosSide: "net", Ccy: "USDT", Pos: 2},
	}, true)
	c.ApplyPositions([]models.Position{{InstID: "ETH-USDT-SWAP", MgnMode: "cross", PosSide: "net", Ccy: "USDT", Pos: 0}}, false)

	ps, err := c.Positions()
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "BTC-USDT-SWAP", ps[0].InstID)
}

type marks struct {
	mu sync.Mutex
	px map[string]float64
}

func (m *marks) SetMark(instID string, px float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.px[instID] = px
}

func (m *marks) get(instID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.px[instID]
}

type connState struct{ up atomic.Bool }

func (s *connState) SetWSConnected(v bool) { s.up.Store(v) }

// fakeVenue answers login and subscribe requests with canned pushes.
func fakeVenue(t *testing.T, conns *atomic.Int32) *httptest.Server {
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conns.Add(1)

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(msg) == "ping" {
				_ = conn.WriteMessage(websocket.TextMessage, []byte("pong"))
				continue
			}
			var req struct {
				Op   string           `json:"op"`
				Args []map[string]any `json:"args"`
			}
			if json.Unmarshal(msg, &req) != nil {
				continue
			}
			switch req.Op {
			case "login":
				assert.Equal(t, "key", req.Args[0]["apiKey"])
				assert.NotEmpty(t, req.Args[0]["sign"])
				_ = conn.WriteJSON(map[string]string{"event": "login", "code": "0"})
			case "subscribe":
				for _, a := range req.Args {
					ch, _ := a["channel"].(string)
					_ = conn.WriteJSON(map[string]any{"event": "subscribe", "arg": a})
					if push := cannedPush(ch); push != "" {
						_ = conn.WriteMessage(websocket.TextMessage, []byte(push))
					}
				}
			}
		}
	}))
}

func cannedPush(channel string) string {
	switch channel {
	case channelBooks:
		b, _ := json.Marshal(map[string]any{
			"arg":    map[string]string{"channel": "books", "instId": "BTC-USDT-SWAP"},
			"action": "snapshot",
			"data": []map[string]any{{
				"bids": [][]string{{"100", "1", "0", "1"}}, "asks": [][]string{{"101", "2", "0", "1"}},
				"ts": "1700000000000", "seqId": 1, "checksum": sum("100:1:101:2"),
			}},
		})
		return string(b)
	case channelMark:
		return `{"arg":{"channel":"mark-price","instId":"BTC-USDT-SWAP"},"data":[{"instId":"BTC-USDT-SWAP","markPx":"100.5","ts":"1700000000000"}]}`
	case channelOrder:
		return `{"arg":{"channel":"orders","instType":"ANY"},"data":[{"instId":"BTC-USDT-SWAP","clOrdId":"abc","ordId":"1","side":"buy","state":"partially_filled","px":"100","sz":"3","accFillSz":"1","avgPx":"100","uTime":"1700000000000"}]}`
	case channelAcct:
		return `{"arg":{"channel":"account"},"data":[{"totalEq":"1000","uTime":"1700000000000","details":[{"ccy":"USDT","cashBal":"1000","eq":"1000","eqUsd":"1000"}]}]}`
	case channelPos:
		return `{"arg":{"channel":"positions","instType":"ANY"},"eventType":"snapshot","data":[]}`
	}
	return ""
}

func TestClientStreamsFeedCaches(t *testing.T) {
	var conns atomic.Int32
	srv := fakeVenue(t, &conns)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	cfg := &config.Config{}
	cfg.Trading.InstID = "BTC-USDT-SWAP"
	cfg.OKX.PublicWS = url
	cfg.OKX.PrivateWS = url
	cfg.OKX.APIKey = "key"
	cfg.OKX.APISecret = "secret"
	cfg.OKX.Passphrase = "pass"

	book := NewOrderBook(cfg.Trading.InstID)
	orders := NewOrderCache()
	account := NewAccountCache()
	mk := &marks{px: map[string]float64{}}
	state := &connState{}
	c := NewClient(cfg, zap.NewNop(), book, orders, account, mk, state)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		_, accErr := account.Account()
		_, posErr := account.Positions()
		_, ok := orders.Order("abc")
		return book.Valid() && accErr == nil && posErr == nil && ok && mk.get("BTC-USDT-SWAP") == 100.5
	}, 5*time.Second, 10*time.Millisecond)
	assert.True(t, state.up.Load())

	o, _ := orders.Order("abc")
	assert.Equal(t, models.StatusPartiallyFilled, o.State)
	assert.Equal(t, "1", o.AccFillSz.String())

	require.NoError(t, book.Resubscribe(ctx))
	require.Eventually(t, func() bool { return conns.Load() >= 3 && book.Valid() }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not stop")
	}
}
