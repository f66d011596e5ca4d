package util

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"papertrade/internal/domain"
)

func TestRetry(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := Retry(context.Background(), 5, 0, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := Retry(context.Background(), maxAttempts, 0, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("Retry should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("Retry called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryIfStopsOnPermanentError(t *testing.T) {
	errBusy := errors.New("busy")
	errFatal := errors.New("fatal")
	attempts := 0

	err := RetryIf(context.Background(), 5, 0, func(err error) bool { return errors.Is(err, errBusy) }, func() error {
		attempts++
		if attempts == 1 {
			return errBusy
		}
		return errFatal
	})

	if !errors.Is(err, errFatal) {
		t.Fatalf("RetryIf error = %v, want %v", err, errFatal)
	}
	if attempts != 2 {
		t.Errorf("RetryIf called fn %d times, want 2", attempts)
	}
}

func TestRetryContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Hour, func() error { return errors.New("fail") })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Retry error = %v, want context.Canceled", err)
	}
}

func TestRateLimiterBurst(t *testing.T) {
	rl := NewRateLimiter(60, 2)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if !rl.Allow() || !rl.Allow() {
		t.Fatal("expected burst of 2 to be allowed")
	}
	if rl.Allow() {
		t.Error("third immediate call should be limited")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	var rl *RateLimiter = NewRateLimiter(0, 0)
	if rl != nil {
		t.Fatal("NewRateLimiter(0, 0) should return nil")
	}
	if !rl.Allow() {
		t.Error("nil limiter should always allow")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Errorf("nil limiter Wait returned %v", err)
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "debug", "json").Debug("hello", "symbol", "AAPL")
	if !strings.Contains(buf.String(), `"symbol":"AAPL"`) {
		t.Errorf("json output = %q", buf.String())
	}

	buf.Reset()
	newLogger(&buf, "warn", "text").Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record should be filtered at warn level, got %q", buf.String())
	}
}

func TestTradingCalendarUS(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", time.Date(2024, 6, 3, 9, 29, 0, 0, et), false},
		{"at open", time.Date(2024, 6, 3, 9, 30, 0, 0, et), true},
		{"midday", time.Date(2024, 6, 3, 12, 0, 0, 0, et), true},
		{"at close", time.Date(2024, 6, 3, 16, 0, 0, 0, et), false},
		{"saturday", time.Date(2024, 6, 1, 12, 0, 0, 0, et), false},
	}
	for _, tt := range tests {
		if got := cal.IsMarketOpen(tt.at); got != tt.want {
			t.Errorf("%s: IsMarketOpen = %v, want %v", tt.name, got, tt.want)
		}
	}

	// Friday after close -> Monday 9:30.
	fri := time.Date(2024, 6, 7, 17, 0, 0, 0, et)
	want := time.Date(2024, 6, 10, 9, 30, 0, 0, et)
	if got := cal.NextOpen(fri); !got.Equal(want) {
		t.Errorf("NextOpen(%v) = %v, want %v", fri, got, want)
	}
	if got := cal.NextClose(time.Date(2024, 6, 3, 10, 0, 0, 0, et)); !got.Equal(time.Date(2024, 6, 3, 16, 0, 0, 0, et)) {
		t.Errorf("NextClose = %v", got)
	}
}

func TestTradingCalendarCNLunchBreak(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketCN)
	cst, err := time.LoadLocation("Asia/Shanghai")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	if cal.IsMarketOpen(time.Date(2024, 6, 3, 12, 0, 0, 0, cst)) {
		t.Error("SSE should be closed over lunch")
	}
	if !cal.IsMarketOpen(time.Date(2024, 6, 3, 13, 30, 0, 0, cst)) {
		t.Error("SSE should be open in the afternoon session")
	}
	if got, want := cal.NextOpen(time.Date(2024, 6, 3, 12, 0, 0, 0, cst)), time.Date(2024, 6, 3, 13, 0, 0, 0, cst); !got.Equal(want) {
		t.Errorf("NextOpen = %v, want %v", got, want)
	}
}

func TestTradingCalendarIsOpenUsesClock(t *testing.T) {
	cal := NewTradingCalendar(domain.MarketUS)
	et, _ := time.LoadLocation("America/New_York")
	cal.now = func() time.Time { return time.Date(2024, 6, 3, 10, 0, 0, 0, et) }

	open, err := cal.IsOpen(context.Background(), "AAPL")
	if err != nil || !open {
		t.Errorf("IsOpen = %v, %v; want true, nil", open, err)
	}
}
