package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/domain"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateAccountIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a1, err := s.GetOrCreateAccount(ctx, "alice", decimal.NewFromInt(100000))
	require.NoError(t, err)
	assert.True(t, a1.CashBalance.Equal(decimal.NewFromInt(100000)))
	assert.True(t, a1.StartingBalance.Equal(decimal.NewFromInt(100000)))

	a2, err := s.GetOrCreateAccount(ctx, "alice", decimal.NewFromInt(5))
	require.NoError(t, err)
	assert.Equal(t, a1.ID, a2.ID)
	assert.True(t, a2.CashBalance.Equal(decimal.NewFromInt(100000)), "existing account keeps its balance")

	b, err := s.GetOrCreateAccount(ctx, "bob", decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.NotEqual(t, a1.ID, b.ID)

	_, err = s.GetOrCreateAccount(ctx, "", decimal.NewFromInt(1))
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.GetAccount(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateCommitsAtomically(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	acct, err := s.GetOrCreateAccount(ctx, "alice", decimal.NewFromInt(1000))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Update(ctx, acct.ID, func(tx LedgerTx) error {
		require.NoError(t, tx.SetCashBalance(ctx, decimal.NewFromInt(1)))
		require.NoError(t, tx.SavePosition(ctx, &domain.Position{Symbol: "AAPL", Quantity: 5, AvgPrice: decimal.NewFromInt(10)}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(decimal.NewFromInt(1000)), "rolled back cash")
	positions, err := s.ListPositions(ctx, acct.ID)
	require.NoError(t, err)
	assert.Empty(t, positions, "rolled back position")

	err = s.Update(ctx, acct.ID, func(tx LedgerTx) error {
		if err := tx.SetCashBalance(ctx, decimal.RequireFromString("950.25")); err != nil {
			return err
		}
		return tx.SavePosition(ctx, &domain.Position{Symbol: "AAPL", Quantity: 5, AvgPrice: decimal.RequireFromString("9.95")})
	})
	require.NoError(t, err)

	got, err = s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "950.25", got.CashBalance.String())
	positions, err = s.ListPositions(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "9.95", positions[0].AvgPrice.String())
}

func TestLedgerTxReadsOwnWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	acct, err := s.GetOrCreateAccount(ctx, "alice", decimal.NewFromInt(1000))
	require.NoError(t, err)

	err = s.Update(ctx, acct.ID, func(tx LedgerTx) error {
		require.NoError(t, tx.SetCashBalance(ctx, decimal.NewFromInt(900)))
		require.NoError(t, tx.SavePosition(ctx, &domain.Position{Symbol: "MSFT", Quantity: 1, AvgPrice: decimal.NewFromInt(50)}))
		require.NoError(t, tx.SavePosition(ctx, &domain.Position{Symbol: "AAPL", Quantity: 2, AvgPrice: decimal.NewFromInt(25)}))

		got, err := tx.Account(ctx)
		require.NoError(t, err)
		assert.Equal(t, "900", got.CashBalance.String())
		positions, err := tx.Positions(ctx)
		require.NoError(t, err)
		require.Len(t, positions, 2)
		assert.Equal(t, "AAPL", positions[0].Symbol, "ordered by symbol")
		assert.Equal(t, int64(1), positions[1].Quantity)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateUnknownAccount(t *testing.T) {
	s := openTestStore(t)
	called := false
	err := s.Update(context.Background(), 42, func(LedgerTx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.False(t, called)
}

func TestLedgerTxGuards(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	acct, err := s.GetOrCreateAccount(ctx, "alice", decimal.NewFromInt(10))
	require.NoError(t, err)

	err = s.Update(ctx, acct.ID, func(tx LedgerTx) error {
		return tx.SetCashBalance(ctx, decimal.NewFromInt(-1))
	})
	assert.Error(t, err, "negative cash must not commit")

	err = s.Update(ctx, acct.ID, func(tx LedgerTx) error {
		return tx.SavePosition(ctx, &domain.Position{Symbol: "AAPL", Quantity: 0, AvgPrice: decimal.NewFromInt(1)})
	})
	assert.Error(t, err, "zero-quantity positions are deleted, not saved")

	err = s.Update(ctx, acct.ID, func(tx LedgerTx) error {
		_, err := tx.Position(ctx, "AAPL")
		return err
	})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOrdersRoundTripAndOrdering(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	acct, err := s.GetOrCreateAccount(ctx, "alice", decimal.NewFromInt(1000))
	require.NoError(t, err)

	base := time.Date(2024, 6, 3, 14, 0, 0, 0, time.UTC)
	mk := func(id string, side domain.OrderSide, status domain.OrderStatus, text domain.StatusText, offset time.Duration) domain.Order {
		return domain.Order{
			ID: id, Symbol: "AAPL", Side: side, Quantity: 10,
			Price: decimal.RequireFromString("150.1234"), Status: status, StatusText: text,
			CreatedAt: base.Add(offset),
		}
	}
	orders := []domain.Order{
		mk("o1", domain.OrderSideBuy, domain.OrderStatusFilled, domain.StatusTextOpen, 0),
		mk("o2", domain.OrderSideBuy, domain.OrderStatusFilled, domain.StatusTextClosed, time.Minute),
		mk("o3", domain.OrderSideBuy, domain.OrderStatusFilled, domain.StatusTextOpen, 2*time.Minute),
		mk("o4", domain.OrderSideSell, domain.OrderStatusPending, domain.StatusTextPendingClose, 3*time.Minute),
		mk("o5", domain.OrderSideBuy, domain.OrderStatusPending, domain.StatusTextNone, 4*time.Minute),
	}
	orders[0].StopLossPrice = decimal.NewNullDecimal(decimal.NewFromInt(140))

	err = s.Update(ctx, acct.ID, func(tx LedgerTx) error {
		for i := range orders {
			o := orders[i]
			if err := tx.InsertOrder(ctx, &o); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, acct.ID, got.AccountID)
	assert.Equal(t, "150.1234", got.Price.String())
	assert.True(t, got.StopLossPrice.Valid)
	assert.False(t, got.TakeProfitPrice.Valid)
	assert.True(t, got.CreatedAt.Equal(base))

	list, err := s.ListOrders(ctx, acct.ID)
	require.NoError(t, err)
	require.Len(t, list, 5)
	assert.Equal(t, "o5", list[0].ID, "newest first")

	pending, err := s.ListOrdersByStatus(ctx, domain.OrderStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "o4", pending[0].ID, "oldest first")

	err = s.Update(ctx, acct.ID, func(tx LedgerTx) error {
		lots, err := tx.OpenBuyOrders(ctx, "AAPL")
		if err != nil {
			return err
		}
		require.Len(t, lots, 2)
		assert.Equal(t, "o1", lots[0].ID)
		assert.Equal(t, "o3", lots[1].ID)

		lots[0].StatusText = domain.StatusTextClosed
		return tx.UpdateOrder(ctx, &lots[0])
	})
	require.NoError(t, err)

	got, err = s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusTextClosed, got.StatusText)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	fills, err := s.ListFilledOrders(ctx, base, base.Add(90*time.Second))
	require.NoError(t, err)
	assert.Len(t, fills, 2)

	_, err = s.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateSerialisesWriters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	acct, err := s.GetOrCreateAccount(ctx, "alice", decimal.Zero)
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Update(ctx, acct.ID, func(tx LedgerTx) error {
				a, err := tx.Account(ctx)
				if err != nil {
					return err
				}
				return tx.SetCashBalance(ctx, a.CashBalance.Add(decimal.NewFromInt(1)))
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := s.GetAccount(ctx, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.CashBalance.Equal(decimal.NewFromInt(workers)), "no lost updates, got %s", got.CashBalance)
}
