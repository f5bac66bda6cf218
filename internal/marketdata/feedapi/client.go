// Package feedapi is an HTTP client for the broker quote API used by the
// ingestion bridge: TOTP session login, symbol selection, and candle/tick/
// instrument fetches.
package feedapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"github.com/escjinho/trading-x-v3.1-sub000/internal/model"
)

// Config configures the feed API client. ClientCode/Password/TOTPSecret may
// all be empty, in which case Login is a no-op (unauthenticated feeds).
type Config struct {
	BaseURL    string
	ClientCode string
	Password   string
	TOTPSecret string
	Timeout    time.Duration // default 7s
}

// Client talks to the broker quote API. Safe for concurrent use after Login.
type Client struct {
	cfg    Config
	client *http.Client

	mu    sync.RWMutex
	token string
}

// New creates a client. It does not touch the network; call Login first.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Login authenticates with client code, password, and a fresh TOTP code.
// No-op when no credentials are configured.
func (c *Client) Login(ctx context.Context) error {
	if c.cfg.ClientCode == "" {
		return nil
	}
	code, err := totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("feedapi: generate totp: %w", err)
	}

	body := map[string]string{
		"clientcode": c.cfg.ClientCode,
		"password":   c.cfg.Password,
		"totp":       code,
	}
	var resp struct {
		Status bool   `json:"status"`
		Token  string `json:"token"`
		Msg    string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", nil, body, &resp); err != nil {
		return fmt.Errorf("feedapi: login: %w", err)
	}
	if !resp.Status || resp.Token == "" {
		return fmt.Errorf("feedapi: login rejected: %s", resp.Msg)
	}

	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

// SelectSymbol activates a symbol at the feed so candle/tick queries work.
func (c *Client) SelectSymbol(ctx context.Context, symbol string) error {
	var resp struct {
		Status bool   `json:"status"`
		Msg    string `json:"message"`
	}
	err := c.do(ctx, http.MethodPost, "/symbols/select", url.Values{"symbol": {symbol}}, nil, &resp)
	if err != nil {
		return fmt.Errorf("feedapi: select %s: %w", symbol, err)
	}
	if !resp.Status {
		return fmt.Errorf("feedapi: select %s rejected: %s", symbol, resp.Msg)
	}
	return nil
}

// GetCandles fetches up to count most recent candles, most-recent-last.
func (c *Client) GetCandles(ctx context.Context, symbol, timeframe string, count int) ([]model.Candle, error) {
	q := url.Values{
		"symbol":    {symbol},
		"timeframe": {timeframe},
		"count":     {strconv.Itoa(count)},
	}
	var resp struct {
		Candles []model.Candle `json:"candles"`
	}
	if err := c.do(ctx, http.MethodGet, "/candles", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("feedapi: candles %s: %w", symbol, err)
	}
	return resp.Candles, nil
}

// GetTick fetches the current tick for symbol.
func (c *Client) GetTick(ctx context.Context, symbol string) (model.Tick, error) {
	var tick model.Tick
	if err := c.do(ctx, http.MethodGet, "/tick", url.Values{"symbol": {symbol}}, nil, &tick); err != nil {
		return model.Tick{}, fmt.Errorf("feedapi: tick %s: %w", symbol, err)
	}
	return tick, nil
}

// Quote satisfies model.QuoteProvider with the same data as GetTick.
func (c *Client) Quote(ctx context.Context, symbol string) (model.Tick, error) {
	return c.GetTick(ctx, symbol)
}

// Instrument fetches point size, tick value, and lot step for symbol.
func (c *Client) Instrument(ctx context.Context, symbol string) (model.InstrumentInfo, error) {
	var info model.InstrumentInfo
	if err := c.do(ctx, http.MethodGet, "/instrument", url.Values{"symbol": {symbol}}, nil, &info); err != nil {
		return model.InstrumentInfo{}, fmt.Errorf("feedapi: instrument %s: %w", symbol, err)
	}
	return info, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	reqURL := c.cfg.BaseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw, 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
