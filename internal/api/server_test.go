package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"papertrade/internal/broker"
	"papertrade/internal/config"
	"papertrade/internal/domain"
	"papertrade/internal/engine"
	"papertrade/internal/events"
	"papertrade/internal/store"
	"papertrade/internal/util"
)

type apiRig struct {
	srv  *Server
	http *httptest.Server
	sim  *broker.SimulatorBroker
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	sim := broker.NewSimulatorBroker()
	hub := events.NewHub()
	e := engine.NewEngine(s, sim, sim, nil, hub, engine.DefaultOptions(), util.DiscardLogger())
	sw := engine.NewSweeper(e, util.DiscardLogger())

	cfg := &config.Config{}
	cfg.Events.SSEBuffer = 16
	cfg.Server.ShutdownTimeout = time.Second

	srv := NewServer(cfg, e, sw, hub, util.DiscardLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &apiRig{srv: srv, http: ts, sim: sim}
}

func (r *apiRig) do(t *testing.T, method, path, user string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, r.http.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var raw json.RawMessage
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
		if len(raw) > 0 && raw[0] == '{' {
			require.NoError(t, json.Unmarshal(raw, &out))
		} else {
			out = map[string]any{"items": raw}
		}
	}
	return resp, out
}

func TestSubmitOrderFilled(t *testing.T) {
	r := newAPIRig(t)
	r.sim.SetPrice("AAPL", decimal.NewFromInt(150))

	resp, body := r.do(t, "POST", "/api/orders", "alice", map[string]any{
		"symbol": "aapl", "side": "buy", "quantity": 10,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	order := body["order"].(map[string]any)
	assert.Equal(t, "AAPL", order["symbol"])
	assert.Equal(t, "FILLED", order["status"])
	assert.Equal(t, "OPEN", order["status_text"])
	assert.Equal(t, "150", order["price"])

	account := body["account"].(map[string]any)
	assert.Equal(t, "98500", account["cash_balance"])
	assert.Equal(t, "1500", account["equity_value"])
	assert.Equal(t, "100000", account["total_value"])
}

func TestSubmitOrderRejected(t *testing.T) {
	r := newAPIRig(t)
	r.sim.SetPrice("AAPL", decimal.NewFromInt(150))

	resp, body := r.do(t, "POST", "/api/orders", "alice", map[string]any{
		"symbol": "AAPL", "side": "SELL", "quantity": 1,
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, domain.ErrInsufficientShares.Error(), body["error"])
	order := body["order"].(map[string]any)
	assert.Equal(t, "REJECTED", order["status"])
	assert.Equal(t, "Insufficient shares", order["status_text"])

	// The rejection is part of the order history.
	resp, body = r.do(t, "GET", "/api/orders", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var orders []domain.Order
	require.NoError(t, json.Unmarshal(body["items"].(json.RawMessage), &orders))
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusRejected, orders[0].Status)
}

func TestSubmitOrderPendingWhileClosed(t *testing.T) {
	r := newAPIRig(t)
	r.sim.SetPrice("AAPL", decimal.NewFromInt(150))
	r.sim.SetOpen(false)

	resp, body := r.do(t, "POST", "/api/orders", "alice", map[string]any{
		"symbol": "AAPL", "side": "BUY", "quantity": 10,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	order := body["order"].(map[string]any)
	assert.Equal(t, "PENDING", order["status"])
	assert.Equal(t, "100000", body["account"].(map[string]any)["cash_balance"])

	// Funds are still checked while the market is closed.
	resp, body = r.do(t, "POST", "/api/orders", "alice", map[string]any{
		"symbol": "AAPL", "side": "BUY", "quantity": 1000,
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, domain.ErrInsufficientCash.Error(), body["error"])
	assert.Equal(t, "REJECTED", body["order"].(map[string]any)["status"])
}

func TestSubmitOrderErrors(t *testing.T) {
	r := newAPIRig(t)
	r.sim.SetPrice("AAPL", decimal.NewFromInt(150))

	tests := []struct {
		name   string
		user   string
		body   any
		status int
	}{
		{"missing user", "", map[string]any{"symbol": "AAPL", "side": "BUY", "quantity": 1}, http.StatusUnauthorized},
		{"bad side", "alice", map[string]any{"symbol": "AAPL", "side": "HOLD", "quantity": 1}, http.StatusBadRequest},
		{"zero quantity", "alice", map[string]any{"symbol": "AAPL", "side": "BUY", "quantity": 0}, http.StatusBadRequest},
		{"bad symbol", "alice", map[string]any{"symbol": "AA PL", "side": "BUY", "quantity": 1}, http.StatusBadRequest},
		{"unknown field", "alice", map[string]any{"symbol": "AAPL", "side": "BUY", "quantity": 1, "limit": 5}, http.StatusBadRequest},
		{"no quote", "alice", map[string]any{"symbol": "MSFT", "side": "BUY", "quantity": 1}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := r.do(t, "POST", "/api/orders", tt.user, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}

	r.sim.SetClockError(errors.New("clock down"))
	resp, _ := r.do(t, "POST", "/api/orders", "alice", map[string]any{"symbol": "AAPL", "side": "BUY", "quantity": 1})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSellWholePosition(t *testing.T) {
	r := newAPIRig(t)
	r.sim.SetPrice("AAPL", decimal.NewFromInt(100))
	resp, _ := r.do(t, "POST", "/api/orders", "alice", map[string]any{"symbol": "AAPL", "side": "BUY", "quantity": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	r.sim.SetPrice("AAPL", decimal.NewFromInt(110))
	resp, body := r.do(t, "POST", "/api/sell", "alice", map[string]any{"symbol": "AAPL"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	order := body["order"].(map[string]any)
	assert.Equal(t, "SELL", order["side"])
	assert.EqualValues(t, 5, order["quantity"])
	assert.Equal(t, "100050", body["account"].(map[string]any)["cash_balance"])

	resp, _ = r.do(t, "POST", "/api/sell", "alice", map[string]any{"symbol": "AAPL"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "nothing left to sell")
}

func TestAccountAndPortfolio(t *testing.T) {
	r := newAPIRig(t)
	r.sim.SetPrice("MSFT", decimal.NewFromInt(400))
	resp, _ := r.do(t, "POST", "/api/orders", "bob", map[string]any{"symbol": "MSFT", "side": "BUY", "quantity": 2})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	r.sim.SetPrice("MSFT", decimal.NewFromInt(410))

	resp, body := r.do(t, "GET", "/api/account", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "99200", body["cash_balance"])
	assert.Equal(t, "820", body["equity_value"])
	assert.Equal(t, "100020", body["total_value"])

	resp, body = r.do(t, "GET", "/api/portfolio", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var holdings []domain.Holding
	require.NoError(t, json.Unmarshal(body["items"].(json.RawMessage), &holdings))
	require.Len(t, holdings, 1)
	assert.Equal(t, "MSFT", holdings[0].Symbol)
	assert.True(t, holdings[0].UnrealizedPnL.Equal(decimal.NewFromInt(20)))

	resp, body = r.do(t, "GET", "/api/portfolio", "carol", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]", strings.TrimSpace(string(body["items"].(json.RawMessage))))
}

func TestOrderStream(t *testing.T) {
	r := newAPIRig(t)
	r.sim.SetPrice("AAPL", decimal.NewFromInt(150))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", r.http.URL+"/api/orders/stream", nil)
	require.NoError(t, err)
	req.Header.Set(userHeader, "alice")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewScanner(resp.Body)
	require.True(t, lines.Scan())
	assert.Equal(t, ": connected", lines.Text())

	// Another user's order must not reach alice's stream.
	res, _ := r.do(t, "POST", "/api/orders", "bob", map[string]any{"symbol": "AAPL", "side": "BUY", "quantity": 1})
	require.Equal(t, http.StatusOK, res.StatusCode)
	res, _ = r.do(t, "POST", "/api/orders", "alice", map[string]any{"symbol": "AAPL", "side": "BUY", "quantity": 2})
	require.Equal(t, http.StatusOK, res.StatusCode)

	var event, data string
	for lines.Scan() {
		line := lines.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
		if data != "" {
			break
		}
	}
	require.NoError(t, lines.Err())
	assert.Equal(t, string(events.TypeOrderFilled), event)

	var ev events.Event
	require.NoError(t, json.Unmarshal([]byte(data), &ev))
	assert.EqualValues(t, 2, ev.Order.Quantity)
}

func TestOrderStreamRequiresUser(t *testing.T) {
	r := newAPIRig(t)
	resp, _ := r.do(t, "GET", "/api/orders/stream", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	r := newAPIRig(t)
	ctx := context.Background()

	resp, body := r.do(t, "GET", "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	check := func() healthpb.HealthCheckResponse_ServingStatus {
		res, err := r.srv.health.Check(ctx, &healthpb.HealthCheckRequest{Service: SweeperService})
		require.NoError(t, err)
		return res.GetStatus()
	}
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	r.srv.ReportSweep(engine.SweepStats{}, errors.New("store offline"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	r.srv.ReportSweep(engine.SweepStats{Filled: 1}, nil)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())
}

func TestCORSPreflight(t *testing.T) {
	r := newAPIRig(t)
	resp, _ := r.do(t, "OPTIONS", "/api/orders", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), userHeader)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&domain.ValidationError{Field: "quantity", Reason: "must be positive"}))
	assert.Equal(t, http.StatusNotFound, statusFor(domain.ErrNotFound))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(domain.ErrConflict))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("disk full")))
}
