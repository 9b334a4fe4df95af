package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"market_maker/internal/modules/config"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const timestampLayout = "2006-01-02T15:04:05.000Z"

// APIError is a non-zero OKX envelope code.
type APIError struct {
	Path string
	Code string
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("okx %s: code=%s msg=%s", e.Path, e.Code, e.Msg)
}

type response[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

// Client is a signed OKX v5 REST client.
type Client struct {
	baseURL   string
	http      *http.Client
	apiKey    string
	apiSecret string
	passph    string
	paper     bool
	log       *zap.Logger

	instruments instrumentCache
	now         func() time.Time
}

func NewClient(cfg *config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.OKX.RestURL, "/"),
		http:      &http.Client{Timeout: cfg.OKX.Timeout},
		apiKey:    cfg.OKX.APIKey,
		apiSecret: cfg.OKX.APISecret,
		passph:    cfg.OKX.Passphrase,
		paper:     cfg.OKX.Paper,
		log:       log.Named("okx_rest"),
		now:       time.Now,
	}
}

func (c *Client) sign(ts, method, requestPath, body string) string {
	h := hmac.New(sha256.New, []byte(c.apiSecret))
	h.Write([]byte(ts + strings.ToUpper(method) + requestPath + body))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (c *Client) newRequest(ctx context.Context, method, requestPath string, payload []byte, private bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.Wrapf(err, "new request %s", requestPath)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.paper {
		req.Header.Set("x-simulated-trading", "1")
	}
	if private {
		ts := c.now().UTC().Format(timestampLayout)
		req.Header.Set("OK-ACCESS-KEY", c.apiKey)
		req.Header.Set("OK-ACCESS-SIGN", c.sign(ts, method, requestPath, string(payload)))
		req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
		req.Header.Set("OK-ACCESS-PASSPHRASE", c.passph)
	}
	return req, nil
}

// call performs the request and decodes the envelope into out without judging its code.
func (c *Client) call(ctx context.Context, method, requestPath string, body any, private bool, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = sonic.Marshal(body); err != nil {
			return errors.Wrapf(err, "marshal %s", requestPath)
		}
	}

	req, err := c.newRequest(ctx, method, requestPath, payload, private)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "do %s", requestPath)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "read %s", requestPath)
	}
	if resp.StatusCode/100 != 2 {
		return errors.Errorf("%s http %d: %s", requestPath, resp.StatusCode, string(data))
	}
	if err = sonic.Unmarshal(data, out); err != nil {
		return errors.Wrapf(err, "decode %s", requestPath)
	}
	return nil
}

// get runs a request whose envelope must carry code "0".
func get[T any](ctx context.Context, c *Client, requestPath string, private bool) ([]T, error) {
	var r response[T]
	if err := c.call(ctx, http.MethodGet, requestPath, nil, private, &r); err != nil {
		return nil, err
	}
	if r.Code != "0" {
		return nil, &APIError{Path: requestPath, Code: r.Code, Msg: r.Msg}
	}
	return r.Data, nil
}
