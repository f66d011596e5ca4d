package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"papertrade/internal/domain"
	"papertrade/internal/util"
)

// Compile-time interface checks.
var _ LedgerStore = (*SQLiteStore)(nil)
var _ LedgerTx = (*sqliteTx)(nil)

const (
	defaultUpdateAttempts = 5
	defaultRetryDelay     = 20 * time.Millisecond
)

// SQLiteStore implements LedgerStore backed by a SQLite database. Update
// transactions begin IMMEDIATE, so a write lock is held for the whole
// read-modify-write of an account.
type SQLiteStore struct {
	db         *sql.DB
	attempts   int
	retryDelay time.Duration
	now        func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema, and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); !strings.Contains(dbPath, "?") && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", dbPath, err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{
		db:         db,
		attempts:   defaultUpdateAttempts,
		retryDelay: defaultRetryDelay,
		now:        time.Now,
	}, nil
}

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Accounts and positions
// ---------------------------------------------------------------------------

// GetOrCreateAccount returns the account owned by userID, creating it on
// first access.
func (s *SQLiteStore) GetOrCreateAccount(ctx context.Context, userID string, startingBalance decimal.Decimal) (*domain.Account, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user", Reason: "must not be empty"}
	}
	err := util.RetryIf(ctx, s.attempts, s.retryDelay, isConflict, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO accounts (user_id, starting_balance, cash_balance, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO NOTHING`,
			userID, startingBalance, startingBalance, s.now().UnixNano(),
		)
		return mapErr(err)
	})
	if err != nil {
		return nil, fmt.Errorf("creating account for %s: %w", userID, err)
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = ?`, userID)
	acct, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("loading account for %s: %w", userID, err)
	}
	return acct, nil
}

// GetAccount retrieves an account by ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, accountID int64) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, accountID)
	acct, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("loading account %d: %w", accountID, err)
	}
	return acct, nil
}

// ListPositions returns the account's positions ordered by symbol.
func (s *SQLiteStore) ListPositions(ctx context.Context, accountID int64) ([]domain.Position, error) {
	return listPositions(ctx, s.db, accountID)
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listPositions(ctx context.Context, q queryer, accountID int64) ([]domain.Position, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT account_id, symbol, quantity, avg_price
		FROM positions WHERE account_id = ? ORDER BY symbol`, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing positions: %w", mapErr(err))
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(&p.AccountID, &p.Symbol, &p.Quantity, &p.AvgPrice); err != nil {
			return nil, fmt.Errorf("scanning position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Orders
// ---------------------------------------------------------------------------

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("loading order %s: %w", id, err)
	}
	return o, nil
}

// ListOrders returns the account's orders, newest first.
func (s *SQLiteStore) ListOrders(ctx context.Context, accountID int64) ([]domain.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE account_id = ? ORDER BY created_at DESC, id DESC`, accountID)
}

// ListOrdersByStatus returns orders with the given status, oldest first.
func (s *SQLiteStore) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = ? ORDER BY created_at, id`, string(status))
}

// ListFilledOrders returns FILLED orders created within [start, end).
func (s *SQLiteStore) ListFilledOrders(ctx context.Context, start, end time.Time) ([]domain.Order, error) {
	return s.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = 'FILLED' AND created_at >= ? AND created_at < ?
		ORDER BY created_at, id`, start.UnixNano(), end.UnixNano())
}

func (s *SQLiteStore) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying orders: %w", mapErr(err))
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// Update runs fn inside an IMMEDIATE transaction scoped to accountID,
// retrying the whole unit when SQLite reports the database busy or locked.
func (s *SQLiteStore) Update(ctx context.Context, accountID int64, fn func(tx LedgerTx) error) error {
	return util.RetryIf(ctx, s.attempts, s.retryDelay, isConflict, func() error {
		return s.update(ctx, accountID, fn)
	})
}

func (s *SQLiteStore) update(ctx context.Context, accountID int64, fn func(tx LedgerTx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", mapErr(err))
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	tx := &sqliteTx{tx: sqlTx, accountID: accountID, now: s.now}
	if _, err = tx.Account(ctx); err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", mapErr(err))
	}
	return nil
}

// sqliteTx implements LedgerTx on top of a *sql.Tx.
type sqliteTx struct {
	tx        *sql.Tx
	accountID int64
	now       func() time.Time
}

func (t *sqliteTx) Account(ctx context.Context) (*domain.Account, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, t.accountID)
	acct, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("loading account %d: %w", t.accountID, err)
	}
	return acct, nil
}

func (t *sqliteTx) SetCashBalance(ctx context.Context, cash decimal.Decimal) error {
	if cash.IsNegative() {
		return fmt.Errorf("account %d: cash balance %s would be negative", t.accountID, cash)
	}
	_, err := t.tx.ExecContext(ctx, `UPDATE accounts SET cash_balance = ? WHERE id = ?`, cash, t.accountID)
	if err != nil {
		return fmt.Errorf("updating cash balance: %w", mapErr(err))
	}
	return nil
}

func (t *sqliteTx) Position(ctx context.Context, symbol string) (*domain.Position, error) {
	var p domain.Position
	err := t.tx.QueryRowContext(ctx, `
		SELECT account_id, symbol, quantity, avg_price
		FROM positions WHERE account_id = ? AND symbol = ?`, t.accountID, symbol,
	).Scan(&p.AccountID, &p.Symbol, &p.Quantity, &p.AvgPrice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading position %s: %w", symbol, mapErr(err))
	}
	return &p, nil
}

func (t *sqliteTx) Positions(ctx context.Context) ([]domain.Position, error) {
	return listPositions(ctx, t.tx, t.accountID)
}

func (t *sqliteTx) SavePosition(ctx context.Context, pos *domain.Position) error {
	if pos.Quantity <= 0 {
		return fmt.Errorf("position %s: quantity %d must be positive", pos.Symbol, pos.Quantity)
	}
	pos.AccountID = t.accountID
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO positions (account_id, symbol, quantity, avg_price)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, symbol) DO UPDATE SET
			quantity = excluded.quantity,
			avg_price = excluded.avg_price`,
		t.accountID, pos.Symbol, pos.Quantity, pos.AvgPrice,
	)
	if err != nil {
		return fmt.Errorf("saving position %s: %w", pos.Symbol, mapErr(err))
	}
	return nil
}

func (t *sqliteTx) DeletePosition(ctx context.Context, symbol string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM positions WHERE account_id = ? AND symbol = ?`, t.accountID, symbol)
	if err != nil {
		return fmt.Errorf("deleting position %s: %w", symbol, mapErr(err))
	}
	return nil
}

func (t *sqliteTx) Order(ctx context.Context, id string) (*domain.Order, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE id = ? AND account_id = ?`, id, t.accountID)
	o, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("loading order %s: %w", id, err)
	}
	return o, nil
}

func (t *sqliteTx) InsertOrder(ctx context.Context, o *domain.Order) error {
	o.AccountID = t.accountID
	if o.CreatedAt.IsZero() {
		o.CreatedAt = t.now().UTC()
	}
	o.UpdatedAt = o.CreatedAt
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.AccountID, o.Symbol, string(o.Side), o.Quantity, o.Price,
		string(o.Status), string(o.StatusText), o.StopLossPrice, o.TakeProfitPrice,
		o.Exchange, o.Currency, o.CreatedAt.UnixNano(), o.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", o.ID, mapErr(err))
	}
	return nil
}

func (t *sqliteTx) UpdateOrder(ctx context.Context, o *domain.Order) error {
	o.UpdatedAt = t.now().UTC()
	res, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET price = ?, status = ?, status_text = ?, exchange = ?, currency = ?, updated_at = ?
		WHERE id = ? AND account_id = ?`,
		o.Price, string(o.Status), string(o.StatusText), o.Exchange, o.Currency, o.UpdatedAt.UnixNano(),
		o.ID, t.accountID,
	)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", o.ID, mapErr(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("updating order %s: %w", o.ID, domain.ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) OpenBuyOrders(ctx context.Context, symbol string) ([]domain.Order, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE account_id = ? AND symbol = ? AND side = 'BUY' AND status = 'FILLED' AND status_text = 'OPEN'
		ORDER BY created_at, id`, t.accountID, symbol)
	if err != nil {
		return nil, fmt.Errorf("listing open buys for %s: %w", symbol, mapErr(err))
	}
	defer rows.Close()
	return collectOrders(rows)
}

// ---------------------------------------------------------------------------
// Scanning helpers
// ---------------------------------------------------------------------------

const accountColumns = `id, user_id, starting_balance, cash_balance, created_at`

const orderColumns = `id, account_id, symbol, side, quantity, price, status, status_text,
	stop_loss_price, take_profit_price, exchange, currency, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		a       domain.Account
		created int64
	)
	err := row.Scan(&a.ID, &a.UserID, &a.StartingBalance, &a.CashBalance, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}
	a.CreatedAt = time.Unix(0, created).UTC()
	return &a, nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o                   domain.Order
		side, status, text  string
		createdAt, updateAt int64
	)
	err := row.Scan(
		&o.ID, &o.AccountID, &o.Symbol, &side, &o.Quantity, &o.Price, &status, &text,
		&o.StopLossPrice, &o.TakeProfitPrice, &o.Exchange, &o.Currency, &createdAt, &updateAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	o.StatusText = domain.StatusText(text)
	o.CreatedAt = time.Unix(0, createdAt).UTC()
	o.UpdatedAt = time.Unix(0, updateAt).UTC()
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// mapErr tags SQLite busy/locked errors with domain.ErrConflict so Update can
// retry them.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		switch serr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", domain.ErrConflict, err)
		}
	}
	return err
}

func isConflict(err error) bool {
	return errors.Is(err, domain.ErrConflict)
}
