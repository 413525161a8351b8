package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/schedulekit/constraints/config"
	"github.com/schedulekit/constraints/constraint"
	"github.com/schedulekit/constraints/engine"
	"github.com/schedulekit/constraints/internal/logger"
	"github.com/schedulekit/constraints/monitor"
)

// Server is the HTTP façade over the evaluation engine. The engine is the
// product; this layer only translates requests.
type Server struct {
	db       *sql.DB
	registry *constraint.PostgresRegistry
	engine   *engine.Engine
	router   *chi.Mux
	logger   *slog.Logger
	promReg  *prometheus.Registry
}

func NewServer(cfg *config.Config, log *slog.Logger) (*Server, error) {
	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	registry, err := constraint.NewPostgresRegistry(db)
	if err != nil {
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	collectors := monitor.NewCollectors(promReg)

	eng, err := engine.New(cfg.ToEngineConfig(), registry, log, collectors)
	if err != nil {
		return nil, err
	}

	s := &Server{
		db:       db,
		registry: registry,
		engine:   eng,
		logger:   log,
		promReg:  promReg,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Post("/api/v1/evaluate", s.handleEvaluate)
	r.Post("/api/v1/evaluate/batch", s.handleEvaluateBatch)

	r.Get("/api/v1/metrics", s.handleEngineMetrics)
	r.Get("/api/v1/alerts", s.handleAlerts)

	r.Route("/api/v1/cache", func(r chi.Router) {
		r.Get("/stats", s.handleCacheStats)
		r.Delete("/", s.handleCacheClear)
	})

	r.Route("/api/v1/constraints", func(r chi.Router) {
		r.Get("/", s.handleListConstraints)
		r.Post("/", s.handleCreateConstraint)

		r.Route("/{constraintId}", func(r chi.Router) {
			r.Get("/", s.handleGetConstraint)
			r.Put("/", s.handleUpdateConstraint)
			r.Delete("/", s.handleDeleteConstraint)
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)

	server, err := NewServer(cfg, log)
	if err != nil {
		log.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	defer server.db.Close()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("server starting", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("http shutdown error", "error", err)
	}
	if err := server.engine.Shutdown(ctx); err != nil {
		log.Error("engine shutdown error", "error", err)
	}

	log.Info("server stopped")
}
