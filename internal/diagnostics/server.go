package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"imessage-undeleter/internal/tracker"
)

// StatsProvider reports live loop counters.
type StatsProvider interface {
	Stats() tracker.Stats
}

// DeletionQuerier reads the deletion journal. Implementations must be safe
// to call while the loop writes.
type DeletionQuerier interface {
	QueryDeletions(ctx context.Context, since, until time.Time, limit int) ([]*tracker.DeletionRecord, error)
}

const defaultDeletionLimit = 100

// Server serves /metrics, /stats, /deletions and /healthz.
type Server struct {
	addr      string
	collector *Collector
	stats     StatsProvider
	deletions DeletionQuerier
	clock     tracker.Clock
	logger    tracker.Logger

	http     *http.Server
	listener net.Listener
}

func NewServer(addr string, collector *Collector, stats StatsProvider, deletions DeletionQuerier, clock tracker.Clock, logger tracker.Logger) *Server {
	if clock == nil {
		clock = tracker.RealClock{}
	}
	return &Server{
		addr:      addr,
		collector: collector,
		stats:     stats,
		deletions: deletions,
		clock:     clock,
		logger:    tracker.WithComponent(logger, "diagnostics"),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.collector.Handler())
	r.Get("/stats", s.handleStats)
	r.Get("/deletions", s.handleDeletions)
	return r
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("diagnostics server stopped", "error", err)
		}
	}()
	s.logger.Info("diagnostics server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Stats())
}

func (s *Server) handleDeletions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	now := s.clock.Now()

	since, err := ParseTimeArg(q.Get("since"), now)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid since: %v", err))
		return
	}
	until, err := ParseTimeArg(q.Get("until"), now)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid until: %v", err))
		return
	}

	limit := defaultDeletionLimit
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	records, err := s.deletions.QueryDeletions(r.Context(), since, until, limit)
	if err != nil {
		s.logger.Error("querying deletions failed", "error", err)
		writeError(w, http.StatusInternalServerError, "querying deletions failed")
		return
	}
	if records == nil {
		records = []*tracker.DeletionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// ParseTimeArg accepts an RFC 3339 timestamp, a date (2006-01-02) or a
// duration meaning that long before now. Empty yields the zero time.
func ParseTimeArg(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", v, time.Local); err == nil {
		return t.UTC(), nil
	}
	if d, err := time.ParseDuration(v); err == nil && d >= 0 {
		return now.Add(-d).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%q is not a timestamp, date or duration", v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
