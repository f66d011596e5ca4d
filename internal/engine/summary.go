package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"papertrade/internal/broker"
	"papertrade/internal/domain"
	"papertrade/internal/store"
)

// Account returns the caller's account, creating it on first access.
func (e *Engine) Account(ctx context.Context, userID string) (*domain.Account, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user", Reason: "must not be empty"}
	}
	return e.store.GetOrCreateAccount(ctx, userID, e.opts.StartingBalance)
}

// Summary returns the caller's cash, equity, and total value. Equity is
// valued at current quotes.
func (e *Engine) Summary(ctx context.Context, userID string) (domain.Summary, error) {
	acct, err := e.Account(ctx, userID)
	if err != nil {
		return domain.Summary{}, err
	}
	return e.summarize(ctx, acct.ID)
}

// Portfolio returns the caller's positions valued at current quotes.
func (e *Engine) Portfolio(ctx context.Context, userID string) ([]domain.Holding, error) {
	acct, err := e.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.holdings(ctx, acct.ID)
}

// Orders returns the caller's orders, newest first.
func (e *Engine) Orders(ctx context.Context, userID string) ([]domain.Order, error) {
	acct, err := e.Account(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.store.ListOrders(ctx, acct.ID)
}

// ledgerSnapshot is an account and its positions read at one point in time.
type ledgerSnapshot struct {
	account   domain.Account
	positions []domain.Position
}

// snapshot reads the account and positions inside tx, after any writes the
// transaction has made.
func snapshot(ctx context.Context, tx store.LedgerTx) (ledgerSnapshot, error) {
	acct, err := tx.Account(ctx)
	if err != nil {
		return ledgerSnapshot{}, err
	}
	positions, err := tx.Positions(ctx)
	if err != nil {
		return ledgerSnapshot{}, err
	}
	return ledgerSnapshot{account: *acct, positions: positions}, nil
}

func (e *Engine) summarize(ctx context.Context, accountID int64) (domain.Summary, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return domain.Summary{}, err
	}
	positions, err := e.store.ListPositions(ctx, accountID)
	if err != nil {
		return domain.Summary{}, fmt.Errorf("valuing account %d: %w", accountID, err)
	}
	return e.value(ctx, ledgerSnapshot{account: *acct, positions: positions}), nil
}

// value prices snap at current quotes. Cash and share counts come from the
// snapshot; only the prices are live.
func (e *Engine) value(ctx context.Context, snap ledgerSnapshot) domain.Summary {
	equity := decimal.Zero
	for _, h := range e.valuePositions(ctx, snap.account.ID, snap.positions) {
		equity = equity.Add(h.LastPrice.Mul(decimal.NewFromInt(h.Quantity)))
	}
	return domain.Summary{
		ID:              snap.account.ID,
		StartingBalance: snap.account.StartingBalance,
		CashBalance:     snap.account.CashBalance,
		EquityValue:     equity,
		TotalValue:      snap.account.CashBalance.Add(equity),
	}
}

func (e *Engine) holdings(ctx context.Context, accountID int64) ([]domain.Holding, error) {
	positions, err := e.store.ListPositions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("valuing account %d: %w", accountID, err)
	}
	return e.valuePositions(ctx, accountID, positions), nil
}

// valuePositions values each position at its current quote. A position
// whose quote is unavailable is valued at average cost and flagged stale.
func (e *Engine) valuePositions(ctx context.Context, accountID int64, positions []domain.Position) []domain.Holding {
	out := make([]domain.Holding, 0, len(positions))
	for _, p := range positions {
		h := domain.Holding{
			Symbol:   p.Symbol,
			Quantity: p.Quantity,
			AvgPrice: p.AvgPrice,
		}
		q, err := broker.QuoteWithTimeout(ctx, e.oracle, p.Symbol, e.opts.QuoteTimeout)
		if err != nil {
			e.log.Warn("valuing position at cost", "accountID", accountID, "symbol", p.Symbol, "error", err)
			h.LastPrice = p.AvgPrice
			h.Stale = true
		} else {
			h.LastPrice = q.Price
		}
		h.UnrealizedPnL = h.LastPrice.Sub(p.AvgPrice).Mul(decimal.NewFromInt(p.Quantity))
		out = append(out, h)
	}
	return out
}
