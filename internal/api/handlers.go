package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"papertrade/internal/domain"
	"papertrade/internal/engine"
)

// userHeader carries the caller's identity. Authentication happens upstream.
const userHeader = "X-User-ID"

// orderRequest is the JSON body of POST /api/orders.
type orderRequest struct {
	Symbol          string              `json:"symbol"`
	Side            string              `json:"side"`
	Quantity        int64               `json:"quantity"`
	StopLossPrice   decimal.NullDecimal `json:"stop_loss_price"`
	TakeProfitPrice decimal.NullDecimal `json:"take_profit_price"`
}

// sellRequest is the JSON body of POST /api/sell. A zero quantity sells the
// whole position.
type sellRequest struct {
	Symbol   string `json:"symbol"`
	Quantity int64  `json:"quantity"`
}

type rejectedResponse struct {
	Error   string         `json:"error"`
	Order   domain.Order   `json:"order"`
	Account domain.Summary `json:"account"`
}

// handleSubmitOrder handles POST /api/orders.
func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body orderRequest
	if !decodeBody(w, r, &body) {
		return
	}
	side, ok := domain.ParseOrderSide(body.Side)
	if !ok {
		writeError(w, http.StatusBadRequest, "side must be BUY or SELL")
		return
	}

	res, err := s.ledger.Submit(r.Context(), engine.SubmitRequest{
		UserID:          user,
		Symbol:          body.Symbol,
		Side:            side,
		Quantity:        body.Quantity,
		StopLossPrice:   body.StopLossPrice,
		TakeProfitPrice: body.TakeProfitPrice,
	})
	s.writeResult(w, res, err)
}

// handleSell handles POST /api/sell.
func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var body sellRequest
	if !decodeBody(w, r, &body) {
		return
	}
	res, err := s.ledger.Close(r.Context(), user, body.Symbol, body.Quantity)
	s.writeResult(w, res, err)
}

// handleListOrders handles GET /api/orders.
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	orders, err := s.ledger.Orders(r.Context(), user)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// handleAccount handles GET /api/account.
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	sum, err := s.ledger.Summary(r.Context(), user)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// handlePortfolio handles GET /api/portfolio.
func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	holdings, err := s.ledger.Portfolio(r.Context(), user)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if holdings == nil {
		holdings = []domain.Holding{}
	}
	writeJSON(w, http.StatusOK, holdings)
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.sweeps != nil {
		stats, err := s.sweeps.Last()
		if !stats.StartedAt.IsZero() {
			resp["last_sweep"] = map[string]any{
				"started_at": stats.StartedAt,
				"duration":   stats.Duration.String(),
				"processed":  stats.Processed(),
				"deferred":   stats.Deferred,
				"failed":     stats.Failed,
			}
		}
		if err != nil {
			resp["status"] = "degraded"
			resp["sweep_error"] = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	user := strings.TrimSpace(r.Header.Get(userHeader))
	if user == "" {
		writeError(w, http.StatusUnauthorized, "missing "+userHeader+" header")
		return "", false
	}
	return user, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeResult writes a submission outcome. Rejected orders are committed to
// the ledger, so they come back with the order and account alongside the
// reason.
func (s *Server) writeResult(w http.ResponseWriter, res *engine.Result, err error) {
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if rej := res.Order.Rejection(); rej != nil {
		writeJSON(w, http.StatusUnprocessableEntity, rejectedResponse{
			Error:   rej.Error(),
			Order:   res.Order,
			Account: res.Account,
		})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// statusFor maps the engine error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrQuoteUnavailable),
		errors.Is(err, domain.ErrClockUnavailable),
		errors.Is(err, domain.ErrConflict):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
