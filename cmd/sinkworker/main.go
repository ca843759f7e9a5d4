// Command sinkworker starts the supervised flush worker pool.
//
// Workers stream durable actions off the broker queue, submit them to
// Elasticsearch in bulk batches, and acknowledge exactly the documents the
// cluster accepted; everything else is redelivered. Worker heartbeats are
// published to the status registry when Redis is reachable. Liveness and
// readiness probes are served at /health/live and /health/ready.
//
// Usage:
//
//	go run ./cmd/sinkworker [-config config.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/docsink/docsink/internal/sink"
	"github.com/docsink/docsink/internal/status"
	"github.com/docsink/docsink/pkg/config"
	"github.com/docsink/docsink/pkg/elastic"
	"github.com/docsink/docsink/pkg/health"
	"github.com/docsink/docsink/pkg/logger"
	"github.com/docsink/docsink/pkg/metrics"
	"github.com/docsink/docsink/pkg/rabbit"
	pkgredis "github.com/docsink/docsink/pkg/redis"
)

// main declares the queue topology, builds the flusher factory, and runs the
// supervisor until SIGINT/SIGTERM. With declareFailFast set (the default) a
// failed declaration aborts startup; otherwise the pool starts anyway and
// each worker's connect cycle keeps retrying. The health listener and the
// pool run under one errgroup so a failure of either stops both.
func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting sink worker",
		"queue", cfg.Broker.Queue,
		"workers", cfg.Workers.Count,
		"bulk_size", cfg.Sink.BulkSize,
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
		if cfg.Broker.DeclareFailFast {
			slog.Error("queue declaration failed", "error", err)
			os.Exit(1)
		}
		slog.Warn("queue declaration failed, starting degraded", "error", err)
	} else {
		slog.Info("queue declared", "queue", cfg.Broker.Queue)
	}

	es, err := elastic.New(cfg.Elastic)
	if err != nil {
		slog.Error("failed to create elasticsearch client", "error", err)
		os.Exit(1)
	}

	var reporter sink.Reporter
	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, worker heartbeats disabled", "error", err)
	} else {
		defer redisClient.Close()
		reporter = status.NewRegistry(redisClient, cfg.Workers.StatusTTL)
		slog.Info("worker heartbeats enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Workers.StatusTTL,
		)
	}

	// Each worker owns a dedicated consuming connection; closing it on any
	// failure is what requeues the unacknowledged remainder of a batch. The
	// publisher-side client above is only used for declaration and pings.
	newFlusher := func(id string) *sink.Flusher {
		streams := func(ctx context.Context) (sink.Stream, error) {
			consumer, err := rabbit.NewConsumer(cfg.Broker)
			if err != nil {
				return nil, err
			}
			return sink.QueueStream(consumer), nil
		}
		bulkers := func(ctx context.Context) (sink.Bulker, error) {
			return es, nil
		}
		return sink.NewFlusher(id, cfg.Sink, cfg.Broker.ReconnectDelay, streams, bulkers, m)
	}
	sup := sink.NewSupervisor(cfg.Workers, newFlusher, reporter, m)

	checker := health.NewChecker()
	checker.Register("broker", health.PingCheck(queue.Ping))
	checker.Register("elasticsearch", health.PingCheck(es.Ping))
	checker.Register("status_registry", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "heartbeats disabled"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	healthSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var stopMetrics func(context.Context) error
	if cfg.Metrics.Enabled {
		stopMetrics = metrics.StartServer(cfg.Metrics.Port)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sup.Run(ctx)
	})
	g.Go(func() error {
		slog.Info("worker health listening", "addr", healthSrv.Addr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("health server shutdown error", "error", err)
		}
		if stopMetrics != nil {
			if err := stopMetrics(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("sink worker error", "error", err)
		os.Exit(1)
	}
	slog.Info("sink worker stopped")
}
