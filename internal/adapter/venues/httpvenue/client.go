// Package httpvenue speaks a small JSON protocol to an external yield venue.
// Client implements ProtocolAdapter against a remote venue; Handler exposes
// any ProtocolAdapter over the same protocol.
package httpvenue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"spendwise/internal/adapter/models"

	"github.com/shopspring/decimal"
)

type depositRequest struct {
	Asset  string `json:"asset"`
	Amount int64  `json:"amount"`
}

type depositResponse struct {
	Shares int64 `json:"shares"`
}

type withdrawRequest struct {
	Shares int64 `json:"shares"`
}

type withdrawResponse struct {
	Amount int64 `json:"amount"`
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

type apyResponse struct {
	APY decimal.Decimal `json:"apy"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client calls a remote venue rooted at baseURL.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) Option {
	return func(cl *Client) { cl.apiKey = key }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid venue url %q", baseURL)
	}
	c := &Client{baseURL: strings.TrimRight(baseURL, "/"), client: http.DefaultClient}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) Deposit(ctx context.Context, asset string, amount int64) (int64, error) {
	var out depositResponse
	if err := c.do(ctx, http.MethodPost, "/deposit", depositRequest{Asset: asset, Amount: amount}, &out); err != nil {
		return 0, err
	}
	return out.Shares, nil
}

func (c *Client) Withdraw(ctx context.Context, shares int64) (int64, error) {
	var out withdrawResponse
	if err := c.do(ctx, http.MethodPost, "/withdraw", withdrawRequest{Shares: shares}, &out); err != nil {
		return 0, err
	}
	return out.Amount, nil
}

func (c *Client) Balance(ctx context.Context, account string) (int64, error) {
	var out balanceResponse
	if err := c.do(ctx, http.MethodGet, "/balance?account="+url.QueryEscape(account), nil, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

func (c *Client) APY(ctx context.Context) (decimal.Decimal, error) {
	var out apyResponse
	if err := c.do(ctx, http.MethodGet, "/apy", nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.APY, nil
}

func (c *Client) Info(ctx context.Context) (models.Info, error) {
	var out models.Info
	if err := c.do(ctx, http.MethodGet, "/info", nil, &out); err != nil {
		return models.Info{}, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dst any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("venue %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		if e.Error != "" {
			return fmt.Errorf("venue %s returned %s: %s", path, resp.Status, e.Error)
		}
		return fmt.Errorf("venue %s returned %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
