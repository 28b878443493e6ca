package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ogulcanaydogan/flow-guardian/internal/scheduler"
	"github.com/ogulcanaydogan/flow-guardian/pkg/model"
	"github.com/ogulcanaydogan/flow-guardian/pkg/storage"
)

// StatusSource reports the scheduler state.
type StatusSource interface {
	Status() scheduler.Status
}

// History reads stored flow snapshots.
type History interface {
	GetAccount(ctx context.Context, id int64) (*model.MonitoredAccount, error)
	ListSnapshots(ctx context.Context, accountID int64, limit int) ([]model.FlowSnapshot, error)
}

// Server provides the health, status and history endpoints of the daemon.
type Server struct {
	status  StatusSource
	history History
	router  chi.Router
	logger  *slog.Logger
}

// NewServer creates an API server. history may be nil to disable the
// snapshot endpoint.
func NewServer(status StatusSource, history History, logger *slog.Logger) *Server {
	s := &Server{
		status:  status,
		history: history,
		router:  chi.NewRouter(),
		logger:  logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(10 * time.Second))

	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		if s.history != nil {
			r.Get("/accounts/{accountID}/snapshots", s.handleSnapshots)
		}
	})
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil || accountID <= 0 {
		http.Error(w, "invalid account id", http.StatusBadRequest)
		return
	}
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	if _, err := s.history.GetAccount(r.Context(), accountID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}
		s.logger.Error("get account", "account_id", accountID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	snaps, err := s.history.ListSnapshots(r.Context(), accountID, limit)
	if err != nil {
		s.logger.Error("list snapshots", "account_id", accountID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if snaps == nil {
		snaps = []model.FlowSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
