package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"papertrade/internal/domain"
)

const dateLayout = "2006-01-02"

// FillArchive writes FILLED orders to per-day Parquet files on disk for
// offline analysis. The ledger database stays the source of truth.
type FillArchive struct {
	Dir string
}

// NewFillArchive creates a new FillArchive rooted at the given directory.
func NewFillArchive(dir string) *FillArchive {
	return &FillArchive{Dir: dir}
}

// ---------------------------------------------------------------------------
// Parquet record type (on-disk schema)
// ---------------------------------------------------------------------------

// FillRecord is the Parquet schema for an archived fill. Decimal amounts are
// kept as strings so no precision is lost.
type FillRecord struct {
	ID         string `parquet:"id"`
	AccountID  int64  `parquet:"account_id"`
	Symbol     string `parquet:"symbol"`
	Side       string `parquet:"side"`
	Quantity   int64  `parquet:"quantity"`
	Price      string `parquet:"price"`
	Notional   string `parquet:"notional"`
	StatusText string `parquet:"status_text"`
	Exchange   string `parquet:"exchange"`
	Currency   string `parquet:"currency"`
	CreatedAt  int64  `parquet:"created_at,timestamp(millisecond)"` // Unix ms
}

func fillRecord(o domain.Order) FillRecord {
	return FillRecord{
		ID:         o.ID,
		AccountID:  o.AccountID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Quantity:   o.Quantity,
		Price:      o.Price.String(),
		Notional:   o.Notional().String(),
		StatusText: string(o.StatusText),
		Exchange:   o.Exchange,
		Currency:   o.Currency,
		CreatedAt:  o.CreatedAt.UnixMilli(),
	}
}

// ---------------------------------------------------------------------------
// Archive operations
// ---------------------------------------------------------------------------

// ExportDay copies the FILLED orders created on day (UTC) from the ledger
// into the archive and returns how many were written.
func (a *FillArchive) ExportDay(ctx context.Context, ledger LedgerStore, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	orders, err := ledger.ListFilledOrders(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return 0, fmt.Errorf("listing fills for %s: %w", start.Format(dateLayout), err)
	}
	if err := a.WriteFills(start, orders); err != nil {
		return 0, err
	}
	return len(orders), nil
}

// WriteFills merges orders into the file for day, replacing records with
// the same order ID. The file is rewritten sorted by creation time.
//
//	<Dir>/fills/<YYYY-MM-DD>.parquet
func (a *FillArchive) WriteFills(day time.Time, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	records := make([]FillRecord, 0, len(orders))
	for _, o := range orders {
		records = append(records, fillRecord(o))
	}

	path := a.fillPath(day)
	existing, _ := readParquetFile[FillRecord](path)
	merged := mergeFillRecords(existing, records)

	if err := writeParquetFile(path, merged); err != nil {
		return fmt.Errorf("writing fills for %s: %w", day.Format(dateLayout), err)
	}
	return nil
}

// ReadFills returns the archived fills for day. A day with no file yields
// no records and no error.
func (a *FillArchive) ReadFills(day time.Time) ([]FillRecord, error) {
	path := a.fillPath(day)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return readParquetFile[FillRecord](path)
}

// ListDays returns the archived dates in ascending order.
func (a *FillArchive) ListDays() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(a.Dir, "fills"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var days []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".parquet"); ok && !e.IsDir() {
			days = append(days, name)
		}
	}
	sort.Strings(days)
	return days, nil
}

// fillPath returns the filesystem path for a day's fill file.
func (a *FillArchive) fillPath(day time.Time) string {
	return filepath.Join(a.Dir, "fills", day.UTC().Format(dateLayout)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeFillRecords deduplicates records by order ID, preferring incoming
// records over existing ones. Results are sorted by creation time.
func mergeFillRecords(existing, incoming []FillRecord) []FillRecord {
	seen := make(map[string]FillRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.ID] = r
	}
	for _, r := range incoming {
		seen[r.ID] = r
	}

	merged := make([]FillRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].CreatedAt != merged[j].CreatedAt {
			return merged[i].CreatedAt < merged[j].CreatedAt
		}
		return merged[i].ID < merged[j].ID
	})
	return merged
}
