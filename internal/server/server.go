// Package server provides the HTTP API for askdoc.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/pergamon/askdoc/internal/config"
	"github.com/pergamon/askdoc/internal/ingest"
	"github.com/pergamon/askdoc/internal/llm"
	"github.com/pergamon/askdoc/internal/metrics"
	"github.com/pergamon/askdoc/internal/store"
)

// Server is the HTTP server for the askdoc API.
type Server struct {
	store    *store.Store
	pipeline *ingest.Pipeline
	llm      *llm.Service
	tracker  *metrics.Tracker
	config   *config.Config
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	st *store.Store,
	pipeline *ingest.Pipeline,
	answerer *llm.Service,
	tracker *metrics.Tracker,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		store:    st,
		pipeline: pipeline,
		llm:      answerer,
		tracker:  tracker,
		config:   cfg,
		logger:   logger,
	}
}

// Router builds the chi router with middleware and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(perClientRateLimit(s.config.Server.RateLimitPerMinute))

	r.Post("/upload", s.handleUpload)
	r.Post("/ask", s.handleAsk)
	r.Get("/documents", s.handleListDocuments)
	r.Get("/documents/{id}", s.handleGetDocument)
	r.Delete("/documents/{id}", s.handleDeleteDocument)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// perClientRateLimit limits each client IP to perMinute requests, answering
// 429 beyond the budget. The limiter map grows with distinct client IPs;
// acceptable for a service that sits behind a known set of clients.
func perClientRateLimit(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		perMinute = 10
	}
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			mu.Lock()
			lim, ok := limiters[ip]
			if !ok {
				lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
				limiters[ip] = lim
			}
			mu.Unlock()
			if !lim.Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":"Rate limit exceeded","message":"Maximum %d requests per minute"}`, perMinute)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
