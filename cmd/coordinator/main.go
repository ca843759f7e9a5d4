// Command coordinator starts the control-plane HTTP service.
//
// It owns the tenant and event producer registry backed by PostgreSQL and
// exposes the worker status endpoints backed by the Redis heartbeat
// registry. The root path serves the API version map. Liveness and
// readiness probes are served at /health/live and /health/ready.
//
// Usage:
//
//	go run ./cmd/coordinator [-config config.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/docsink/docsink/internal/status"
	"github.com/docsink/docsink/internal/tenant"
	"github.com/docsink/docsink/pkg/config"
	"github.com/docsink/docsink/pkg/health"
	"github.com/docsink/docsink/pkg/logger"
	"github.com/docsink/docsink/pkg/metrics"
	"github.com/docsink/docsink/pkg/middleware"
	"github.com/docsink/docsink/pkg/postgres"
	pkgredis "github.com/docsink/docsink/pkg/redis"
)

// main connects to PostgreSQL and Redis, ensures the registry schema, and
// serves the control-plane API. Both stores are hard dependencies here:
// unlike the data path, the coordinator has nothing useful to do without
// them. Graceful shutdown is triggered by SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting coordinator service", "port", cfg.Coordinator.Port)

	m := metrics.New()

	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := tenant.NewStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure registry schema", "error", err)
		os.Exit(1)
	}
	slog.Info("registry schema ensured", "database", cfg.Postgres.Database)

	tenantH := tenant.NewHandler(store)
	registry := status.NewRegistry(redisClient, cfg.Workers.StatusTTL)
	statusH := status.NewHandler(registry)

	checker := health.NewChecker()
	checker.Register("postgres", health.PingCheck(db.Ping))
	checker.Register("redis", health.PingCheck(redisClient.Ping))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", tenantH.Version)
	mux.HandleFunc("POST /v1/tenants", tenantH.CreateTenant)
	mux.HandleFunc("GET /v1/tenants/{tenantID}", tenantH.GetTenant)
	mux.HandleFunc("DELETE /v1/tenants/{tenantID}", tenantH.DeleteTenant)
	mux.HandleFunc("GET /v1/tenants/{tenantID}/producers", tenantH.ListProducers)
	mux.HandleFunc("POST /v1/tenants/{tenantID}/producers", tenantH.CreateProducer)
	mux.HandleFunc("GET /v1/tenants/{tenantID}/producers/{producerID}", tenantH.GetProducer)
	mux.HandleFunc("DELETE /v1/tenants/{tenantID}/producers/{producerID}", tenantH.DeleteProducer)
	mux.HandleFunc("GET /v1/status", statusH.ListWorkers)
	mux.HandleFunc("GET /v1/workers/{workerID}/status", statusH.GetWorker)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID()(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Coordinator.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var stopMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		stopMetrics = metrics.StartServer(cfg.Metrics.Port)
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if stopMetrics != nil {
			if err := stopMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()

	slog.Info("coordinator service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("coordinator service stopped")
}
