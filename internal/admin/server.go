// Package admin serves the lobby's operational HTTP endpoints: health,
// Prometheus metrics, and a JSON view of the room registry.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cory-johannsen/lobby/internal/config"
	"github.com/cory-johannsen/lobby/internal/registry"
)

// RoomSource is the read-only registry view the admin endpoints need.
type RoomSource interface {
	SnapshotRooms() ([]registry.RoomInfo, error)
	UserCount() int
}

// Server is the admin HTTP server.
type Server struct {
	cfg      config.AdminConfig
	rooms    RoomSource
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	stopped  bool
}

// NewServer creates an admin server.
//
// Precondition: rooms, gatherer and logger must be non-nil.
func NewServer(cfg config.AdminConfig, rooms RoomSource, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	return &Server{
		cfg:      cfg,
		rooms:    rooms,
		gatherer: gatherer,
		logger:   logger,
	}
}

// Router returns the admin HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/rooms", s.handleRooms)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

type healthResponse struct {
	Status string `json:"status"`
	Users  int    `json:"users"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Users: s.rooms.UserCount()})
}

func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	rooms, err := s.rooms.SnapshotRooms()
	if err != nil {
		s.logger.Warn("room snapshot unavailable", zap.Error(err))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, rooms)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves admin requests until Stop is called.
//
// Postcondition: Returns nil after Stop, or the listener error.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}

	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = listener.Close()
		return nil
	}
	s.srv = srv
	s.listener = listener
	s.mu.Unlock()

	s.logger.Info("admin server listening", zap.String("addr", listener.Addr().String()))
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving admin: %w", err)
	}
	return nil
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	s.mu.Lock()
	s.stopped = true
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Warn("admin server shutdown", zap.Error(err))
	}
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
