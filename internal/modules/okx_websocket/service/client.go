package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"market_maker/internal/models"
	"market_maker/internal/modules/config"
	okxrest "market_maker/internal/modules/okx_client/service"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	pingEvery    = 20 * time.Second
	readTimeout  = 30 * time.Second
	redialPause  = time.Second
	verifyPath   = "/users/self/verify"
	channelBooks = "books"
	channelMark  = "mark-price"
	channelOrder = "orders"
	channelAcct  = "account"
	channelPos   = "positions"
)

// MarkSink receives mark price pushes.
type MarkSink interface {
	SetMark(instID string, px float64)
}

type ConnState interface {
	SetWSConnected(v bool)
}

type subArg struct {
	Channel  string `json:"channel"`
	InstID   string `json:"instId,omitempty"`
	InstType string `json:"instType,omitempty"`
}

type frame struct {
	Event     string          `json:"event"`
	Code      string          `json:"code"`
	Msg       string          `json:"msg"`
	Arg       subArg          `json:"arg"`
	Action    string          `json:"action"`
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

type stream struct {
	name    string
	url     string
	private bool
	args    []subArg
	reset   <-chan struct{}
}

// Client runs the public and private OKX websocket streams and feeds the caches.
type Client struct {
	log     *zap.Logger
	dialer  *websocket.Dialer
	book    *OrderBook
	orders  *OrderCache
	account *AccountCache
	marks   MarkSink
	state   ConnState

	instID    string
	publicURL string
	privURL   string
	apiKey    string
	apiSecret string
	passph    string

	now func() time.Time
}

func NewClient(
	cfg *config.Config,
	log *zap.Logger,
	book *OrderBook,
	orders *OrderCache,
	account *AccountCache,
	marks MarkSink,
	state ConnState,
) *Client {
	return &Client{
		log:       log.Named("okx_ws"),
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		book:      book,
		orders:    orders,
		account:   account,
		marks:     marks,
		state:     state,
		instID:    cfg.Trading.InstID,
		publicURL: cfg.OKX.PublicWS,
		privURL:   cfg.OKX.PrivateWS,
		apiKey:    cfg.OKX.APIKey,
		apiSecret: cfg.OKX.APISecret,
		passph:    cfg.OKX.Passphrase,
		now:       time.Now,
	}
}

// Run starts both streams and returns once ctx is cancelled and they have exited.
func (c *Client) Run(ctx context.Context) {
	public := stream{
		name: "public",
		url:  c.publicURL,
		args: []subArg{
			{Channel: channelBooks, InstID: c.instID},
			{Channel: channelMark, InstID: c.instID},
		},
		reset: c.book.resubscribed(),
	}
	private := stream{
		name:    "private",
		url:     c.privURL,
		private: true,
		args: []subArg{
			{Channel: channelOrder, InstType: "ANY", InstID: c.instID},
			{Channel: channelAcct},
			{Channel: channelPos, InstType: "ANY"},
		},
	}

	var wg sync.WaitGroup
	for _, s := range []stream{public, private} {
		wg.Add(1)
		go func(s stream) {
			defer wg.Done()
			c.keepConnected(ctx, s)
		}(s)
	}
	wg.Wait()
}

func (c *Client) keepConnected(ctx context.Context, s stream) {
	log := c.log.With(zap.String("stream", s.name))
	for {
		log.Info("connect", zap.String("url", s.url))
		err := c.session(ctx, s)
		if c.state != nil {
			c.state.SetWSConnected(false)
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn("disconnected", zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(redialPause):
		}
	}
}

// session runs one connection until it fails, ctx ends or a reset is requested.
func (c *Client) session(ctx context.Context, s stream) error {
	conn, _, err := c.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(v any) error {
		body, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, body)
	}
	subscribe := func() error {
		return write(map[string]any{"op": "subscribe", "args": s.args})
	}

	if s.private {
		if err := write(c.loginRequest()); err != nil {
			return errors.Wrap(err, "login")
		}
	} else if err := subscribe(); err != nil {
		return errors.Wrap(err, "subscribe")
	}

	// OKX drops idle connections after 30s; keep it alive and tear it down
	// on shutdown or a resubscribe request.
	done := make(chan struct{})
	defer close(done)
	go func() {
		t := time.NewTicker(pingEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-s.reset:
				c.log.Info("resubscribe requested", zap.String("stream", s.name))
				_ = conn.Close()
				return
			case <-t.C:
				writeMu.Lock()
				err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
				writeMu.Unlock()
				if err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read")
		}
		if string(msg) == "pong" {
			continue
		}

		var f frame
		if err := sonic.Unmarshal(msg, &f); err != nil {
			c.log.Debug("bad frame", zap.ByteString("msg", msg), zap.Error(err))
			continue
		}

		switch f.Event {
		case "error":
			return errors.Errorf("venue error %s: %s", f.Code, f.Msg)
		case "login":
			if f.Code != "0" {
				return errors.Errorf("login failed %s: %s", f.Code, f.Msg)
			}
			if err := subscribe(); err != nil {
				return errors.Wrap(err, "subscribe")
			}
			continue
		case "subscribe":
			c.log.Info("subscribed", zap.String("stream", s.name), zap.String("channel", f.Arg.Channel))
			if c.state != nil && !s.private {
				c.state.SetWSConnected(true)
			}
			continue
		case "":
		default:
			continue
		}

		if err := c.dispatch(f); err != nil {
			c.log.Warn("handle push", zap.String("channel", f.Arg.Channel), zap.Error(err))
		}
	}
}

func (c *Client) loginRequest() map[string]any {
	ts := strconv.FormatInt(c.now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(ts + "GET" + verifyPath))
	return map[string]any{
		"op": "login",
		"args": []map[string]string{{
			"apiKey":     c.apiKey,
			"passphrase": c.passph,
			"timestamp":  ts,
			"sign":       base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		}},
	}
}

// dispatch routes one data push to its cache.
func (c *Client) dispatch(f frame) error {
	if len(f.Data) == 0 {
		return nil
	}

	switch f.Arg.Channel {
	case channelBooks:
		var data []bookData
		if err := sonic.Unmarshal(f.Data, &data); err != nil {
			return errors.Wrap(err, "decode books")
		}
		for _, d := range data {
			if err := c.book.Apply(f.Action, d); err != nil {
				return err
			}
		}

	case channelMark:
		var data []struct {
			InstID string `json:"instId"`
			MarkPx string `json:"markPx"`
		}
		if err := sonic.Unmarshal(f.Data, &data); err != nil {
			return errors.Wrap(err, "decode mark-price")
		}
		for _, d := range data {
			px, err := strconv.ParseFloat(d.MarkPx, 64)
			if err != nil || px <= 0 {
				continue
			}
			if c.marks != nil {
				c.marks.SetMark(d.InstID, px)
			}
		}

	case channelOrder:
		var data []okxrest.OrderData
		if err := sonic.Unmarshal(f.Data, &data); err != nil {
			return errors.Wrap(err, "decode orders")
		}
		for _, d := range data {
			c.orders.Upsert(d.ToModel())
		}

	case channelAcct:
		var data []okxrest.AccountData
		if err := sonic.Unmarshal(f.Data, &data); err != nil {
			return errors.Wrap(err, "decode account")
		}
		if len(data) > 0 {
			c.account.SetAccount(data[0].ToModel())
		}

	case channelPos:
		var data []okxrest.PositionData
		if err := sonic.Unmarshal(f.Data, &data); err != nil {
			return errors.Wrap(err, "decode positions")
		}
		ps := make([]models.Position, 0, len(data))
		for _, d := range data {
			ps = append(ps, d.ToModel())
		}
		c.account.ApplyPositions(ps, f.EventType == "snapshot")
	}
	return nil
}
