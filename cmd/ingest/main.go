// Command ingest starts the document ingestion HTTP service.
//
// The service accepts documents via POST /v1/messages, validates their
// routing metadata, and publishes them as durable actions to the broker
// queue for asynchronous indexing by the sink workers. Liveness and
// readiness probes are served at /health/live and /health/ready.
//
// Usage:
//
//	go run ./cmd/ingest [-config config.yaml]
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

	"github.com/docsink/docsink/internal/ingest/handler"
	"github.com/docsink/docsink/internal/sink"
	"github.com/docsink/docsink/pkg/config"
	"github.com/docsink/docsink/pkg/health"
	"github.com/docsink/docsink/pkg/logger"
	"github.com/docsink/docsink/pkg/metrics"
	"github.com/docsink/docsink/pkg/middleware"
	"github.com/docsink/docsink/pkg/rabbit"
)

// main connects to the broker, wires the dispatcher behind the ingest
// handler, and starts the HTTP server. A failed topology declaration is not
// fatal here: the service starts degraded and the readiness probe keeps
// re-declaring until the broker comes back. Graceful shutdown is triggered
// by SIGINT/SIGTERM.
func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingest service",
		"port", cfg.Server.Port,
		"queue", cfg.Broker.Queue,
		"sink", cfg.Sink.Name,
	)

	m := metrics.New()

	queue, err := rabbit.Dial(cfg.Broker)
	if err != nil {
		slog.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := queue.Declare(ctx); err != nil {
		slog.Warn("queue declaration failed, starting degraded", "error", err)
	} else {
		slog.Info("queue declared", "queue", cfg.Broker.Queue)
	}

	pub := sink.NewPublisher(queue, cfg.Sink, m)
	dispatcher := sink.NewDispatcher(pub, cfg.Sink, m)
	h := handler.New(dispatcher, cfg.Server.MaxBodyBytes)

	// Readiness re-runs the idempotent declaration, so a degraded start
	// heals itself as soon as the broker answers.
	checker := health.NewChecker()
	checker.Register("queue", func(ctx context.Context) health.ComponentHealth {
		if err := queue.Declare(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: "declared"}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/messages", h.Ingest)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID()(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
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

	slog.Info("ingest service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("ingest service stopped")
}
