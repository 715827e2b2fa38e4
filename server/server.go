// Package server handles HTTP endpoints and request routing.
package server

import (
	"chaptersniffer/storage"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// DefaultPollInterval is the minimum spacing of manual poll triggers.
const DefaultPollInterval = 10 * time.Second

// Poller runs one check cycle.
type Poller interface {
	RunCycle(ctx context.Context) error
}

// SnapshotSource provides a consistent copy of the subscriptions.
type SnapshotSource interface {
	Snapshot() *storage.Snapshot
}

// Server handles HTTP requests.
type Server struct {
	poller      Poller
	subs        SnapshotSource
	metrics     http.Handler
	logger      *slog.Logger
	pollLimiter *rate.Limiter
	pollRate    rate.Limit
}

// Config holds server configuration.
type Config struct {
	Poller       Poller
	Subs         SnapshotSource
	Metrics      http.Handler  // Optional, serves /metrics
	Logger       *slog.Logger
	PollInterval time.Duration // Minimum spacing of /pollz calls, defaults to DefaultPollInterval
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	limit := rate.Every(interval)
	return &Server{
		poller:      cfg.Poller,
		subs:        cfg.Subs,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		pollLimiter: rate.NewLimiter(limit, 1),
		pollRate:    limit,
	}
}

// Routes returns the router with every endpoint mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/pollz", s.handlePoll)
	r.Get("/notifications", s.handleNotifications)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	return r
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2 * time.Minute, // /pollz runs a whole cycle
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if !s.pollLimiter.Allow() {
		retryAfter := int(math.Ceil(1 / float64(s.pollRate)))
		w.Header().Set("Retry-After", strconv.Itoa(max(retryAfter, 1)))
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	s.logger.Info("Poll endpoint triggered", "remote_addr", r.RemoteAddr)

	if err := s.poller.RunCycle(r.Context()); err != nil {
		s.logger.Error("Poll check failed", "error", err)
		http.Error(w, "Check failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"completed"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

// notificationSummary is the public view of the notification settings.
// Direct subscriptions are only counted.
type notificationSummary struct {
	Roles       map[string][]string `json:"roles"`
	Broadcast   []string            `json:"broadcast"`
	Subscribers int                 `json:"subscribers"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	snap := s.subs.Snapshot()
	summary := notificationSummary{
		Broadcast:   snap.BroadcastSeries(),
		Roles:       snap.Roles,
		Subscribers: len(snap.Direct),
	}
	if summary.Broadcast == nil {
		summary.Broadcast = []string{}
	}
	if summary.Roles == nil {
		summary.Roles = map[string][]string{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		s.logger.Warn("Failed to write notifications response", "error", err)
	}
}
