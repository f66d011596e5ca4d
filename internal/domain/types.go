// Package domain defines the core types shared across the papertrade ledger:
// accounts, positions, orders, quotes, and the error taxonomy.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Market identifies the venue whose trading hours govern a symbol.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// OrderSide indicates whether an order buys or sells shares.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ParseOrderSide normalises s and reports whether it names a known side.
func ParseOrderSide(s string) (OrderSide, bool) {
	switch side := OrderSide(strings.ToUpper(strings.TrimSpace(s))); side {
	case OrderSideBuy, OrderSideSell:
		return side, true
	default:
		return "", false
	}
}

// OrderStatus is the coarse lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "PENDING"
	OrderStatusFilled   OrderStatus = "FILLED"
	OrderStatusRejected OrderStatus = "REJECTED"
)

// Terminal reports whether no further lifecycle transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFilled || s == OrderStatusRejected
}

// StatusText is the secondary sub-state of an order. For filled orders it
// tracks lot-closing progress; for rejected orders it carries the reason.
type StatusText string

const (
	StatusTextNone         StatusText = ""
	StatusTextOpen         StatusText = "OPEN"
	StatusTextClosed       StatusText = "CLOSED"
	StatusTextPendingClose StatusText = "PENDING_CLOSE"

	StatusTextInsufficientCash   StatusText = "Insufficient cash"
	StatusTextInsufficientShares StatusText = "Insufficient shares"
)

// PriceScale is the number of fractional digits kept for prices and average
// costs. Cash amounts are exact products of a price and an integer quantity.
const PriceScale = 4

// AvgCostScale is the precision used when dividing to compute a
// volume-weighted average cost.
const AvgCostScale = 8

// Account holds the cash side of a user's ledger.
type Account struct {
	ID              int64           `json:"id"`
	UserID          string          `json:"user_id"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
	CashBalance     decimal.Decimal `json:"cash_balance"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Position is the share holding of one account in one symbol.
type Position struct {
	AccountID int64           `json:"-"`
	Symbol    string          `json:"symbol"`
	Quantity  int64           `json:"quantity"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
}

// CostBasis returns AvgPrice * Quantity.
func (p Position) CostBasis() decimal.Decimal {
	return p.AvgPrice.Mul(decimal.NewFromInt(p.Quantity))
}

// Order is an intent to buy or sell a quantity of shares, plus its lifecycle.
type Order struct {
	ID              string              `json:"id"`
	AccountID       int64               `json:"-"`
	Symbol          string              `json:"symbol"`
	Side            OrderSide           `json:"side"`
	Quantity        int64               `json:"quantity"`
	Price           decimal.Decimal     `json:"price"`
	Status          OrderStatus         `json:"status"`
	StatusText      StatusText          `json:"status_text"`
	StopLossPrice   decimal.NullDecimal `json:"stop_loss_price"`
	TakeProfitPrice decimal.NullDecimal `json:"take_profit_price"`
	Exchange        string              `json:"exchange,omitempty"`
	Currency        string              `json:"currency,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// Notional returns Price * Quantity.
func (o Order) Notional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Quantity))
}

// Rejection returns the business error behind a REJECTED order, or nil.
func (o Order) Rejection() error {
	if o.Status != OrderStatusRejected {
		return nil
	}
	switch o.StatusText {
	case StatusTextInsufficientCash:
		return ErrInsufficientCash
	case StatusTextInsufficientShares:
		return ErrInsufficientShares
	default:
		return ErrRejected
	}
}

// Quote is a point-in-time tradable price with optional venue metadata.
type Quote struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Exchange  string          `json:"exchange,omitempty"`
	Currency  string          `json:"currency,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Summary is the account overview returned alongside order results.
type Summary struct {
	ID              int64           `json:"id"`
	StartingBalance decimal.Decimal `json:"starting_balance"`
	CashBalance     decimal.Decimal `json:"cash_balance"`
	EquityValue     decimal.Decimal `json:"equity_value"`
	TotalValue      decimal.Decimal `json:"total_value"`
}

// Holding is a position valued at the latest available price.
type Holding struct {
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgPrice      decimal.Decimal `json:"avg_price"`
	LastPrice     decimal.Decimal `json:"last_price"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Stale         bool            `json:"stale,omitempty"`
}

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
