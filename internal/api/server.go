// Package api provides the HTTP and gRPC servers for papertrade: order
// submission, account views, the order event stream, and health.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"papertrade/internal/config"
	"papertrade/internal/domain"
	"papertrade/internal/engine"
	"papertrade/internal/events"
)

// Ledger is the order engine surface the HTTP handlers use.
type Ledger interface {
	Submit(ctx context.Context, req engine.SubmitRequest) (*engine.Result, error)
	Close(ctx context.Context, userID, symbol string, quantity int64) (*engine.Result, error)
	Account(ctx context.Context, userID string) (*domain.Account, error)
	Summary(ctx context.Context, userID string) (domain.Summary, error)
	Portfolio(ctx context.Context, userID string) ([]domain.Holding, error)
	Orders(ctx context.Context, userID string) ([]domain.Order, error)
}

// SweepReporter exposes the outcome of the most recent sweep.
type SweepReporter interface {
	Last() (engine.SweepStats, error)
}

var _ Ledger = (*engine.Engine)(nil)
var _ SweepReporter = (*engine.Sweeper)(nil)

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	ledger    Ledger
	sweeps    SweepReporter
	hub       *events.Hub
	health    *health.Server
	sseBuffer int
	log       *slog.Logger

	httpAddr        string
	grpcAddr        string
	shutdownTimeout time.Duration
}

// NewServer creates a new Server configured from the given Config.
func NewServer(cfg *config.Config, ledger Ledger, sweeps SweepReporter, hub *events.Hub, log *slog.Logger) *Server {
	return &Server{
		ledger:          ledger,
		sweeps:          sweeps,
		hub:             hub,
		health:          newHealthServer(),
		sseBuffer:       cfg.Events.SSEBuffer,
		log:             log.With("component", "api"),
		httpAddr:        cfg.Server.HTTPAddr(),
		grpcAddr:        cfg.Server.GRPCAddr(),
		shutdownTimeout: cfg.Server.ShutdownTimeout,
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/orders", s.handleSubmitOrder)
	mux.HandleFunc("POST /api/sell", s.handleSell)
	mux.HandleFunc("GET /api/orders", s.handleListOrders)
	mux.HandleFunc("GET /api/orders/stream", s.handleOrderStream)
	mux.HandleFunc("GET /api/account", s.handleAccount)
	mux.HandleFunc("GET /api/portfolio", s.handlePortfolio)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns an http.Handler with request logging and CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s.logRequests(corsMiddleware(mux))
}

// ReportSweep updates the health status from a sweep outcome. It matches
// the engine.Scheduler result callback.
func (s *Server) ReportSweep(_ engine.SweepStats, err error) {
	if err != nil {
		s.log.Warn("marking sweeper not serving", "error", err)
	}
	s.setSweeperServing(err == nil)
}

// ListenAndServe starts the HTTP and gRPC listeners and blocks until the
// context is cancelled or a listener fails, then shuts both down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.grpcAddr, err)
	}
	gs := grpc.NewServer()
	s.RegisterGRPC(gs)

	httpServer := &http.Server{
		Addr:              s.httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		s.log.Info("gRPC health listening", "addr", s.grpcAddr)
		if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			errCh <- fmt.Errorf("gRPC server: %w", err)
		}
	}()
	go func() {
		s.log.Info("HTTP server listening", "addr", s.httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	s.log.Info("shutting down API server")
	s.health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.Error("HTTP shutdown error", "error", err)
	}
	gs.GracefulStop()
	return serveErr
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+userHeader)
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets the SSE handler flush through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
