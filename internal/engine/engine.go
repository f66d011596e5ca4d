// Package engine turns order requests into ledger mutations. It validates
// and executes orders inline while the market is open, defers them as
// PENDING while it is closed, and sweeps deferred orders once it opens.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/broker"
	"papertrade/internal/domain"
	"papertrade/internal/events"
	"papertrade/internal/store"
)

// Options tunes an Engine.
type Options struct {
	// StartingBalance seeds accounts created on first access.
	StartingBalance decimal.Decimal
	// QuoteTimeout bounds each price oracle call.
	QuoteTimeout time.Duration
	// ClockTimeout bounds each market clock call.
	ClockTimeout time.Duration
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		StartingBalance: decimal.NewFromInt(100000),
		QuoteTimeout:    5 * time.Second,
		ClockTimeout:    5 * time.Second,
	}
}

// SubmitRequest is an order as received from a caller.
type SubmitRequest struct {
	UserID          string
	Symbol          string
	Side            domain.OrderSide
	Quantity        int64
	StopLossPrice   decimal.NullDecimal
	TakeProfitPrice decimal.NullDecimal
}

// Result is the outcome of a submission: the order in its PENDING or
// terminal state plus the account as it stands after the order committed.
type Result struct {
	Order   domain.Order   `json:"order"`
	Account domain.Summary `json:"account"`
}

// Engine orchestrates order submission against a ledger store, a price
// oracle, and a market clock.
type Engine struct {
	store  store.LedgerStore
	oracle broker.PriceOracle
	clock  broker.MarketClock
	risk   *RiskManager
	pub    events.Publisher
	locks  *accountLocks
	opts   Options
	log    *slog.Logger
	now    func() time.Time
}

// NewEngine creates a new Engine wired with the given dependencies. A nil
// risk manager applies validation only; a nil publisher drops events.
func NewEngine(
	s store.LedgerStore,
	oracle broker.PriceOracle,
	clock broker.MarketClock,
	risk *RiskManager,
	pub events.Publisher,
	opts Options,
	log *slog.Logger,
) *Engine {
	if risk == nil {
		risk = NewRiskManager(0, decimal.Zero)
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Engine{
		store:  s,
		oracle: oracle,
		clock:  clock,
		risk:   risk,
		pub:    pub,
		locks:  newAccountLocks(),
		opts:   opts,
		log:    log.With("component", "engine"),
		now:    time.Now,
	}
}

// Submit validates req and either executes it at the current quote (market
// open) or records it as PENDING (market closed). Insufficient cash or
// shares produce a persisted REJECTED order and a nil error; check
// Result.Order.Rejection. Clock or quote failures return an error and leave
// no order behind.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*Result, error) {
	if err := e.risk.ValidateRequest(&req); err != nil {
		return nil, err
	}

	acct, err := e.store.GetOrCreateAccount(ctx, req.UserID, e.opts.StartingBalance)
	if err != nil {
		return nil, err
	}

	open, err := broker.IsOpenWithTimeout(ctx, e.clock, req.Symbol, e.opts.ClockTimeout)
	if err != nil {
		return nil, err
	}
	q, err := broker.QuoteWithTimeout(ctx, e.oracle, req.Symbol, e.opts.QuoteTimeout)
	if err != nil {
		return nil, err
	}
	if err := e.risk.CheckNotional(req.Quantity, q.Price); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	base := domain.Order{
		ID:              domain.NewOrderID(now),
		Symbol:          req.Symbol,
		Side:            req.Side,
		Quantity:        req.Quantity,
		Price:           q.Price.Round(domain.PriceScale),
		StopLossPrice:   req.StopLossPrice,
		TakeProfitPrice: req.TakeProfitPrice,
		Exchange:        q.Exchange,
		Currency:        q.Currency,
		CreatedAt:       now,
	}

	unlock := e.locks.lock(acct.ID)
	var (
		order  domain.Order
		closed []domain.Order
		snap   ledgerSnapshot
	)
	err = e.store.Update(ctx, acct.ID, func(tx store.LedgerTx) error {
		order, closed = base, nil
		if open {
			lots, err := execute(ctx, tx, &order, q)
			if err != nil {
				return err
			}
			closed = lots
		} else if err := deferOrder(ctx, tx, &order); err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return err
		}
		got, err := snapshot(ctx, tx)
		snap = got
		return err
	})
	unlock()
	if err != nil {
		return nil, fmt.Errorf("submitting %s %d %s: %w", req.Side, req.Quantity, req.Symbol, err)
	}

	e.logOrder("order submitted", order)
	e.publish(ctx, order, closed)

	return &Result{Order: order, Account: e.value(ctx, snap)}, nil
}

// Close sells quantity shares of the caller's position in symbol. A
// quantity of zero sells the whole position. The order takes the same
// path as Submit, so a closed market leaves it PENDING_CLOSE.
func (e *Engine) Close(ctx context.Context, userID, symbol string, quantity int64) (*Result, error) {
	req := SubmitRequest{UserID: userID, Symbol: symbol, Side: domain.OrderSideSell, Quantity: quantity}
	if quantity == 0 {
		held, err := e.heldQuantity(ctx, userID, symbol)
		if err != nil {
			return nil, err
		}
		if held == 0 {
			return nil, &domain.ValidationError{Field: "symbol", Reason: "no position to close"}
		}
		req.Quantity = held
	}
	return e.Submit(ctx, req)
}

func (e *Engine) heldQuantity(ctx context.Context, userID, symbol string) (int64, error) {
	if userID == "" {
		return 0, &domain.ValidationError{Field: "user", Reason: "must not be empty"}
	}
	acct, err := e.store.GetOrCreateAccount(ctx, userID, e.opts.StartingBalance)
	if err != nil {
		return 0, err
	}
	positions, err := e.store.ListPositions(ctx, acct.ID)
	if err != nil {
		return 0, err
	}
	symbol = domain.NormalizeSymbol(symbol)
	for _, p := range positions {
		if p.Symbol == symbol {
			return p.Quantity, nil
		}
	}
	return 0, nil
}

// deferOrder checks o against the account's current cash and shares at
// its submission price. An order that fits is marked PENDING for the next
// sweep, which checks again at the then-current price; one that does not is
// REJECTED now.
func deferOrder(ctx context.Context, tx store.LedgerTx, o *domain.Order) error {
	acct, err := tx.Account(ctx)
	if err != nil {
		return err
	}
	var held int64
	if o.Side == domain.OrderSideSell {
		pos, err := tx.Position(ctx, o.Symbol)
		switch {
		case err == nil:
			held = pos.Quantity
		case !isNotFound(err):
			return err
		}
	}
	if reason := CheckFunds(o.Side, o.Quantity, o.Price, acct.CashBalance, held); reason != domain.StatusTextNone {
		o.Status = domain.OrderStatusRejected
		o.StatusText = reason
		return nil
	}

	o.Status = domain.OrderStatusPending
	o.StatusText = domain.StatusTextNone
	if o.Side == domain.OrderSideSell {
		o.StatusText = domain.StatusTextPendingClose
	}
	return nil
}

// publish emits the order's transition and any lots it closed. Publisher
// failures are logged; the ledger is already committed.
func (e *Engine) publish(ctx context.Context, o domain.Order, closed []domain.Order) {
	at := e.now().UTC()
	if err := e.pub.Publish(ctx, events.ForOrder(o, at)); err != nil {
		e.log.Warn("publishing order event", "orderID", o.ID, "error", err)
	}
	for _, lot := range closed {
		ev := events.Event{Type: events.TypeLotClosed, AccountID: lot.AccountID, Order: lot, Time: at}
		if err := e.pub.Publish(ctx, ev); err != nil {
			e.log.Warn("publishing lot event", "orderID", lot.ID, "error", err)
		}
	}
}

func (e *Engine) logOrder(msg string, o domain.Order) {
	e.log.Info(msg,
		"orderID", o.ID,
		"accountID", o.AccountID,
		"symbol", o.Symbol,
		"side", o.Side,
		"quantity", o.Quantity,
		"price", o.Price.String(),
		"status", o.Status,
		"statusText", o.StatusText,
	)
}
