package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/fastnotes/internal/config"
	"github.com/dukerupert/fastnotes/internal/handler"
	"github.com/dukerupert/fastnotes/internal/middleware"
	"github.com/dukerupert/fastnotes/internal/store"
	ws "github.com/dukerupert/fastnotes/internal/websocket"
)

const healthTimeout = 2 * time.Second

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	noteH       *handler.NoteHandler
	registry    *prometheus.Registry
	metrics     *middleware.Metrics
	rateLimiter *middleware.RateLimiter
	clientIP    func(*http.Request) string
	feedOrigins []string
	logger      *slog.Logger
}

func New(db *sql.DB, notes *store.NoteStore, cfg config.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "notes_stored",
			Help: "Number of notes currently in the store",
		}, func() float64 {
			n, err := notes.Count()
			if err != nil {
				return -1
			}
			return float64(n)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "notes_feed_clients",
			Help: "Connected change feed subscribers",
		}, func() float64 { return float64(hub.ClientCount()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "notes_feed_evicted_total",
			Help: "Change feed subscribers disconnected for falling behind",
		}, func() float64 { return float64(hub.Dropped()) }),
	)
	metrics := middleware.NewMetrics(reg)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst)
	}

	return &Server{
		db:          db,
		hub:         hub,
		noteH:       handler.NewNoteHandler(notes, hub, metrics, logger.With("component", "note")),
		registry:    reg,
		metrics:     metrics,
		rateLimiter: limiter,
		clientIP:    middleware.ClientIP(cfg.TrustProxy),
		feedOrigins: cfg.FeedOrigins,
		logger:      logger,
	}
}

// Hub returns the change feed hub.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// RateLimiter returns the limiter for cleanup tasks, or nil when rate
// limiting is disabled.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /ws", ws.HandleFeed(s.hub, s.feedOrigins, s.logger.With("component", "feed")))

	// Notes API routes; the collection answers with and without the slash.
	for _, path := range []string{"/notes/{$}", "/notes"} {
		mux.Handle("POST "+path, s.rateLimited(s.noteH.Create))
		mux.HandleFunc("GET "+path, s.noteH.List)
	}
	mux.HandleFunc("GET /notes/{id}", s.noteH.Get)
	mux.Handle("PUT /notes/{id}", s.rateLimited(s.noteH.Update))
	mux.Handle("DELETE /notes/{id}", s.rateLimited(s.noteH.Delete))

	var h http.Handler = mux
	h = s.metrics.Instrument(h)
	h = middleware.RequestLogger(s.logger.With("component", "http"))(h)
	return middleware.RequestID(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Warn("health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.Handler {
	if s.rateLimiter == nil {
		return h
	}
	rl := middleware.RateLimit(s.rateLimiter, s.clientIP, s.metrics)
	return rl(h)
}
