// Package store defines the ledger storage interfaces and their SQLite and
// Parquet implementations.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
)

// LedgerStore persists accounts, positions, and orders. Reads outside Update
// see committed state only; every mutation goes through Update.
type LedgerStore interface {
	// GetOrCreateAccount returns the account owned by userID, creating it
	// with startingBalance as both starting and cash balance on first access.
	GetOrCreateAccount(ctx context.Context, userID string, startingBalance decimal.Decimal) (*domain.Account, error)

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, accountID int64) (*domain.Account, error)

	// ListPositions returns the account's positions ordered by symbol.
	ListPositions(ctx context.Context, accountID int64) ([]domain.Position, error)

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders returns the account's orders, newest first.
	ListOrders(ctx context.Context, accountID int64) ([]domain.Order, error)

	// ListOrdersByStatus returns orders across all accounts with the given
	// status, oldest first.
	ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)

	// ListFilledOrders returns FILLED orders created within [start, end).
	ListFilledOrders(ctx context.Context, start, end time.Time) ([]domain.Order, error)

	// Update runs fn inside an exclusive transaction scoped to accountID.
	// Either every change fn makes through tx commits, or none does. fn may
	// be invoked more than once if the transaction hits a conflict, so it
	// must derive all state from tx.
	Update(ctx context.Context, accountID int64, fn func(tx LedgerTx) error) error
}

// LedgerTx is the per-account view available inside LedgerStore.Update.
type LedgerTx interface {
	// Account returns the account, including writes made earlier in the
	// transaction.
	Account(ctx context.Context) (*domain.Account, error)

	// SetCashBalance overwrites the account's cash balance.
	SetCashBalance(ctx context.Context, cash decimal.Decimal) error

	// Position returns the position for symbol, or domain.ErrNotFound.
	Position(ctx context.Context, symbol string) (*domain.Position, error)

	// Positions returns the account's positions ordered by symbol.
	Positions(ctx context.Context) ([]domain.Position, error)

	// SavePosition inserts or updates a position.
	SavePosition(ctx context.Context, pos *domain.Position) error

	// DeletePosition removes the position for symbol.
	DeletePosition(ctx context.Context, symbol string) error

	// Order retrieves one of the account's orders by ID.
	Order(ctx context.Context, id string) (*domain.Order, error)

	// InsertOrder adds a new order to the account.
	InsertOrder(ctx context.Context, order *domain.Order) error

	// UpdateOrder persists lifecycle changes to an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error

	// OpenBuyOrders returns the account's FILLED BUY orders for symbol whose
	// status_text is OPEN, oldest first.
	OpenBuyOrders(ctx context.Context, symbol string) ([]domain.Order, error)
}
