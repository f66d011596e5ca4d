// Package papertrade is a Go client for the papertrade-server HTTP API.
package papertrade

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrRejected is wrapped by the error returned for an order the ledger
// recorded as REJECTED. The Result is still returned alongside it.
var ErrRejected = errors.New("order rejected")

// Order mirrors the server's order representation.
type Order struct {
	ID              string              `json:"id"`
	Symbol          string              `json:"symbol"`
	Side            string              `json:"side"`
	Quantity        int64               `json:"quantity"`
	Price           decimal.Decimal     `json:"price"`
	Status          string              `json:"status"`
	StatusText      string              `json:"status_text"`
	StopLossPrice   decimal.NullDecimal `json:"stop_loss_price"`
	TakeProfitPrice decimal.NullDecimal `json:"take_profit_price"`
	Exchange        string              `json:"exchange,omitempty"`
	Currency        string              `json:"currency,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Account is the account overview.
type Account struct {
	ID              int64           `json:"id"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
	CashBalance     decimal.Decimal `json:"cash_balance"`
	EquityValue     decimal.Decimal `json:"equity_value"`
	TotalValue      decimal.Decimal `json:"total_value"`
}

// Holding is one valued position.
type Holding struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	LastPrice     decimal.Decimal `json:"last_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Stale         bool            `json:"stale,omitempty"`
}

// Result is the outcome of an order submission.
type Result struct {
	Order   Order   `json:"order"`
	Account Account `json:"account"`
}

// OrderRequest is a new market order.
type OrderRequest struct {
	Symbol          string              `json:"symbol"`
	Side            string              `json:"side"`
	Quantity        int64               `json:"quantity"`
	StopLossPrice   decimal.NullDecimal `json:"stop_loss_price"`
	TakeProfitPrice decimal.NullDecimal `json:"take_profit_price"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("papertrade: HTTP %d: %s", e.StatusCode, e.Message)
}

// Client provides a Go SDK for interacting with the papertrade-server API.
// Every call is made on behalf of a single user.
type Client struct {
	baseURL    string
	userID     string
	httpClient *http.Client
}

// NewClient creates a new papertrade API client acting as userID.
func NewClient(baseURL, userID string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userID:     userID,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SubmitOrder submits a new market order. A rejected order returns both the
// recorded Result and an error wrapping ErrRejected.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (*Result, error) {
	return c.submit(ctx, "/api/orders", req)
}

// Sell sells quantity shares of symbol; zero sells the whole position.
func (c *Client) Sell(ctx context.Context, symbol string, quantity int64) (*Result, error) {
	return c.submit(ctx, "/api/sell", map[string]any{"symbol": symbol, "quantity": quantity})
}

// GetOrders retrieves the user's orders, newest first.
func (c *Client) GetOrders(ctx context.Context) ([]Order, error) {
	var out []Order
	if err := c.do(ctx, http.MethodGet, "/api/orders", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAccount retrieves the account overview.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	var out Account
	if err := c.do(ctx, http.MethodGet, "/api/account", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPortfolio retrieves current holdings.
func (c *Client) GetPortfolio(ctx context.Context) ([]Holding, error) {
	var out []Holding
	if err := c.do(ctx, http.MethodGet, "/api/portfolio", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) submit(ctx context.Context, path string, body any) (*Result, error) {
	var out Result
	err := c.do(ctx, http.MethodPost, path, body, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnprocessableEntity {
		return &out, fmt.Errorf("%w: %s", ErrRejected, apiErr.Message)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// do sends a request and decodes the JSON response into out. Error bodies
// are decoded into out as well, so a 422 still carries the order.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("X-User-ID", c.userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		if resp.StatusCode == http.StatusUnprocessableEntity && out != nil {
			_ = json.Unmarshal(data, out)
		}
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
