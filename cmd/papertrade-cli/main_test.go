package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"papertrade/internal/domain"
	"papertrade/internal/store"
)

func TestFormatUSD(t *testing.T) {
	tests := map[string]string{
		"98500":     "$98,500.00",
		"0.125":     "$0.13",
		"150.1234":  "$150.12",
		"1000000.5": "$1,000,000.50",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatUSD(decimal.RequireFromString(in)), in)
	}
}

func TestOptionalPrice(t *testing.T) {
	p, err := optionalPrice("")
	require.NoError(t, err)
	assert.False(t, p.Valid)

	p, err = optionalPrice("140.5")
	require.NoError(t, err)
	assert.True(t, p.Valid)
	assert.Equal(t, "140.5", p.Decimal.String())

	_, err = optionalPrice("cheap")
	assert.Error(t, err)
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()))
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	assert.Equal(t, "papertrade-cli "+version+"\n", execute(t, "version"))
}

func TestArchiveCommand(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "ledger.db")
	cfgFile := filepath.Join(dir, "papertrade.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`
storage:
  sqlite_path: "`+dbPath+`"
  archive_dir: "`+filepath.Join(dir, "archive")+`"
trading:
  paper_mode: true
`), 0o644))

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	ctx := context.Background()
	acct, err := s.GetOrCreateAccount(ctx, "alice", decimal.NewFromInt(1000))
	require.NoError(t, err)
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Update(ctx, acct.ID, func(tx store.LedgerTx) error {
		return tx.InsertOrder(ctx, &domain.Order{
			ID: "F1", Symbol: "AAPL", Side: domain.OrderSideBuy, Quantity: 1,
			Price: decimal.NewFromInt(10), Status: domain.OrderStatusFilled,
			StatusText: domain.StatusTextOpen, CreatedAt: day.Add(15 * time.Hour),
		})
	}))
	require.NoError(t, s.Close())

	out := execute(t, "archive", "--config", cfgFile, "--date", "2024-06-03")
	assert.Equal(t, "archived 1 fills for 2024-06-03\n", out)

	out = execute(t, "archive", "--config", cfgFile, "--list")
	assert.True(t, strings.Contains(out, "2024-06-03"), out)
	archiveList = false
}
