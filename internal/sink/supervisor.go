package sink

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docsink/docsink/internal/status"
	"github.com/docsink/docsink/pkg/config"
	"github.com/docsink/docsink/pkg/logger"
	"github.com/docsink/docsink/pkg/metrics"
	"github.com/docsink/docsink/pkg/resilience"
)

// Reporter publishes worker heartbeats to an external registry.
type Reporter interface {
	Report(ctx context.Context, ws status.WorkerStatus) error
}

// FlusherFactory builds a fresh Flusher for a worker slot. The supervisor
// calls it on every (re)start so a crashed worker never inherits state.
type FlusherFactory func(id string) *Flusher

// Supervisor runs a fixed pool of flush worker slots and keeps them full: a
// worker that exits or panics while the pool is still running is restarted
// after a backoff, so effective concurrency never degrades permanently.
// There is no shared state between slots beyond the broker itself.
type Supervisor struct {
	cfg        config.WorkerConfig
	newFlusher FlusherFactory
	reporter   Reporter
	metrics    *metrics.Metrics
	logger     *slog.Logger
	hostname   string
}

// NewSupervisor creates a Supervisor. reporter may be nil, in which case
// heartbeats are skipped.
func NewSupervisor(cfg config.WorkerConfig, newFlusher FlusherFactory, reporter Reporter, m *metrics.Metrics) *Supervisor {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "docsink"
	}
	return &Supervisor{
		cfg:        cfg,
		newFlusher: newFlusher,
		reporter:   reporter,
		metrics:    m,
		logger:     slog.Default().With("component", "sink-supervisor"),
		hostname:   hostname,
	}
}

// slot is one supervised worker position in the pool.
type slot struct {
	name      string
	startedAt time.Time
	restarts  atomic.Uint64
	flusher   atomic.Pointer[Flusher]
}

// Run starts the pool and blocks until ctx is cancelled and every worker
// has returned. Worker count defaults to one per CPU.
func (s *Supervisor) Run(ctx context.Context) error {
	count := s.cfg.Count
	if count <= 0 {
		count = runtime.NumCPU()
	}
	s.logger.Info("starting worker pool", "workers", count, "hostname", s.hostname)

	slots := make([]*slot, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		sl := &slot{
			name:      fmt.Sprintf("%s-%d", s.hostname, i),
			startedAt: time.Now().UTC(),
		}
		slots[i] = sl
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runSlot(ctx, sl)
		}()
	}

	if s.reporter != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.heartbeatLoop(ctx, slots)
		}()
	}

	wg.Wait()
	s.logger.Info("worker pool stopped")
	return ctx.Err()
}

// runSlot keeps one slot occupied. Each exit while ctx is live counts as a
// restart with jittered exponential backoff; a worker that stayed up for a
// while resets the backoff.
func (s *Supervisor) runSlot(ctx context.Context, sl *slot) {
	backoffCfg := resilience.RetryConfig{
		InitialDelay: s.cfg.RestartDelay,
		MaxDelay:     s.cfg.MaxRestartDelay,
	}
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		started := time.Now()
		err := s.runGuarded(ctx, sl)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > time.Minute {
			attempt = 0
		}
		attempt++
		sl.restarts.Add(1)
		s.metrics.WorkerRestartsTotal.WithLabelValues(sl.name).Inc()
		delay := resilience.Backoff(attempt, backoffCfg)
		s.logger.Error("worker exited, restarting",
			"worker", sl.name,
			"error", err,
			"restarts", sl.restarts.Load(),
			"delay", delay,
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// runGuarded runs one worker lifetime, converting panics into errors so a
// bad batch cannot take the slot down for good. The worker's context carries
// its id so logs from shared clients can be attributed.
func (s *Supervisor) runGuarded(ctx context.Context, sl *slot) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	f := s.newFlusher(sl.name)
	sl.flusher.Store(f)
	return f.Run(logger.WithWorkerID(ctx, sl.name))
}

// heartbeatLoop periodically reports every slot's status. Registry failures
// are logged and skipped; heartbeats must never interfere with flushing.
func (s *Supervisor) heartbeatLoop(ctx context.Context, slots []*slot) {
	interval := s.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.reportAll(ctx, slots)
	for {
		select {
		case <-ticker.C:
			s.reportAll(ctx, slots)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) reportAll(ctx context.Context, slots []*slot) {
	for _, sl := range slots {
		ws := status.WorkerStatus{
			WorkerID:  sl.name,
			Hostname:  s.hostname,
			State:     StateStarting,
			StartedAt: sl.startedAt,
			Restarts:  sl.restarts.Load(),
		}
		if f := sl.flusher.Load(); f != nil {
			ws.State = f.State()
			ws.DocsFlushed, ws.BatchesFlushed = f.Stats()
		}
		if err := s.reporter.Report(ctx, ws); err != nil {
			s.logger.Warn("heartbeat report failed", "worker", sl.name, "error", err)
		}
	}
}
