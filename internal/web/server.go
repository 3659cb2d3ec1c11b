package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vitos/trade_controller/internal/domain"
	"github.com/vitos/trade_controller/internal/usecase"
	"go.uber.org/zap"
)

// Server exposes the read-only observability surface: the latest status
// document, the open positions, the exit ledger, and prometheus metrics.
type Server struct {
	router     *http.ServeMux
	server     *http.Server
	controller *usecase.Controller
	ledger     domain.LedgerRepository
	logger     *zap.Logger
}

func NewServer(port int, controller *usecase.Controller, ledger domain.LedgerRepository, registry *prometheus.Registry, logger *zap.Logger) *Server {
	s := &Server{
		router:     http.NewServeMux(),
		controller: controller,
		ledger:     ledger,
		logger:     logger,
	}
	s.routes(registry)
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes(registry *prometheus.Registry) {
	s.router.HandleFunc("GET /status", s.handleStatus)
	s.router.HandleFunc("GET /positions", s.handlePositions)
	s.router.HandleFunc("GET /exits", s.handleExits)
	s.router.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	doc, ok := s.controller.Status()
	if !ok {
		http.Error(w, `{"error":"no status yet"}`, http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, doc)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.controller.Positions())
}

func (s *Server) handleExits(w http.ResponseWriter, r *http.Request) {
	exits, err := s.ledger.ListExits(r.Context(), 100)
	if err != nil {
		s.logger.Error("Failed to list exits", zap.Error(err))
		http.Error(w, `{"error":"storage error"}`, http.StatusInternalServerError)
		return
	}
	if exits == nil {
		exits = []*domain.ExitRecord{}
	}
	s.writeJSON(w, exits)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}
