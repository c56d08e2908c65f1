// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package server provides the HTTP server for the REST API: ingest and
// analysis jobs, the snapshot catalog, a websocket event stream and
// Prometheus metrics.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielyue/hubstats/internal/metrics"
	"github.com/danielyue/hubstats/pkg/analytics"
	"github.com/danielyue/hubstats/pkg/hubstats"
	"github.com/danielyue/hubstats/pkg/ingest"
	"github.com/danielyue/hubstats/pkg/snapshot"
)

// Config holds server configuration.
type Config struct {
	Addr           string
	Port           int
	Token          string // Hub token, only reported masked
	Endpoint       string
	SnapshotDir    string // snapshot store (not configurable via API)
	OutputDir      string // analysis outputs land in timestamped subdirectories (not configurable via API)
	TableName      string
	AllowedOrigins []string // CORS origins
	Version        string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        "0.0.0.0",
		Port:        8080,
		SnapshotDir: "data/snapshots",
		OutputDir:   "data/clean",
		TableName:   "models",
	}
}

// IngestFunc runs one ingestion.
type IngestFunc func(ctx context.Context, job ingest.Job, progress hubstats.EventFunc) (*ingest.Result, error)

// AnalyzeFunc runs one analysis.
type AnalyzeFunc func(ctx context.Context, cfg analytics.Config, progress hubstats.EventFunc) (*analytics.Report, error)

// Deps are the collaborators the server drives.
type Deps struct {
	Ingest  IngestFunc
	Analyze AnalyzeFunc
	// Store backs GET /api/snapshots. Optional.
	Store   *snapshot.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Server is the HTTP server of hubstats.
type Server struct {
	config     Config
	deps       Deps
	log        *slog.Logger
	httpServer *http.Server
	jobs       *JobManager
	wsHub      *WSHub
}

// New creates a new server. Missing Analyze defaults to analytics.Run.
func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Analyze == nil {
		deps.Analyze = analytics.Run
	}
	if cfg.TableName == "" {
		cfg.TableName = "models"
	}
	wsHub := NewWSHub(deps.Logger)
	return &Server{
		config: cfg,
		deps:   deps,
		log:    deps.Logger,
		jobs:   NewJobManager(cfg, deps, wsHub),
		wsHub:  wsHub,
	}
}

// Handler returns the HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPIRoutes(mux)
	mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// ListenAndServe starts the HTTP server and blocks until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go s.wsHub.Run(ctx)

	addr := fmt.Sprintf("%s:%d", s.config.Addr, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		s.jobs.CancelAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("server starting", "addr", "http://"+addr, "api", fmt.Sprintf("http://localhost:%d/api", s.config.Port),
		"snapshots", s.config.SnapshotDir)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// registerAPIRoutes sets up all API endpoints.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Jobs
	mux.HandleFunc("POST /api/ingest", s.handleStartIngest)
	mux.HandleFunc("POST /api/analyze", s.handleStartAnalyze)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancelJob)

	// Catalog
	mux.HandleFunc("GET /api/snapshots", s.handleListSnapshots)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)

	// WebSocket
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// Middleware

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack is needed by the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status,
			"duration", time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Allow same-origin and configured origins
		if origin != "" {
			allowed := len(s.config.AllowedOrigins) == 0
			for _, o := range s.config.AllowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
