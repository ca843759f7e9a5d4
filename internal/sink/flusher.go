package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/docsink/docsink/pkg/config"
	"github.com/docsink/docsink/pkg/elastic"
	"github.com/docsink/docsink/pkg/metrics"
)

// Flusher is one flush worker: a sequential loop that gathers up to BulkSize
// actions from the queue, submits them to the search backend in one bulk
// request, and acknowledges exactly the documents the backend accepted.
//
// Run is self-healing: any failure, whether in the broker or the backend,
// tears down both connections and reconnects after a pause. Closing the
// queue connection returns every unacknowledged delivery to the queue, so
// an interrupted batch is simply redelivered; the queue is the only
// rollback mechanism.
type Flusher struct {
	id      string
	cfg     config.SinkConfig
	streams StreamFactory
	bulkers BulkerFactory

	reconnectDelay time.Duration
	metrics        *metrics.Metrics
	logger         *slog.Logger

	state          atomic.Value
	docsFlushed    atomic.Uint64
	batchesFlushed atomic.Uint64
}

// NewFlusher creates a worker that connects through the given factories.
func NewFlusher(id string, cfg config.SinkConfig, reconnectDelay time.Duration, streams StreamFactory, bulkers BulkerFactory, m *metrics.Metrics) *Flusher {
	if cfg.BulkSize <= 0 {
		cfg.BulkSize = 100
	}
	if cfg.PullWait <= 0 {
		cfg.PullWait = 60 * time.Second
	}
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	f := &Flusher{
		id:             id,
		cfg:            cfg,
		streams:        streams,
		bulkers:        bulkers,
		reconnectDelay: reconnectDelay,
		metrics:        m,
		logger:         slog.Default().With("component", "sink-flusher", "worker_id", id),
	}
	f.state.Store(StateStarting)
	return f
}

// State returns the worker's current phase for heartbeat reporting.
func (f *Flusher) State() string {
	return f.state.Load().(string)
}

// Stats returns cumulative counts of documents and batches flushed.
func (f *Flusher) Stats() (docs, batches uint64) {
	return f.docsFlushed.Load(), f.batchesFlushed.Load()
}

func (f *Flusher) setState(s string) {
	f.state.Store(s)
}

// Run drives the worker until ctx is cancelled. It only ever returns the
// context's error; every operational failure is logged and absorbed by a
// reconnect cycle.
func (f *Flusher) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := f.runOnce(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			f.logger.Info("worker stopping", "reason", ctxErr)
			return ctxErr
		}
		f.metrics.QueueReconnectsTotal.Inc()
		f.logger.Error("flush cycle failed, reconnecting",
			"error", err,
			"delay", f.reconnectDelay,
		)
		select {
		case <-time.After(f.reconnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runOnce establishes one queue stream and one backend client, then loops
// gather-and-flush until something breaks. The deferred stream close is
// what requeues any in-flight unacknowledged deliveries.
func (f *Flusher) runOnce(ctx context.Context) error {
	f.setState(StateConnecting)
	stream, err := f.streams(ctx)
	if err != nil {
		return fmt.Errorf("connecting queue stream: %w", err)
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			f.logger.Warn("closing stream", "error", closeErr)
		}
	}()

	bulker, err := f.bulkers(ctx)
	if err != nil {
		return fmt.Errorf("connecting search backend: %w", err)
	}

	f.logger.Info("worker connected", "bulk_size", f.cfg.BulkSize, "pull_wait", f.cfg.PullWait)
	rd := &reader{stream: stream, metrics: f.metrics, logger: f.logger}
	for {
		batch, err := f.gather(ctx, rd)
		if err != nil {
			return err
		}
		if err := f.flush(ctx, bulker, batch); err != nil {
			return err
		}
	}
}

// gather collects up to BulkSize items. The first item is waited for
// indefinitely in PullWait slices; once the batch is non-empty, a pull that
// comes back empty ends the batch so partial batches never wait more than
// one PullWait beyond their last document.
func (f *Flusher) gather(ctx context.Context, rd *reader) ([]Item, error) {
	f.setState(StateConsuming)
	var batch []Item
	for len(batch) < f.cfg.BulkSize {
		item, err := rd.next(ctx, f.cfg.PullWait)
		if err != nil {
			if errors.Is(err, ErrNoMessage) {
				if len(batch) == 0 {
					continue
				}
				break
			}
			return nil, fmt.Errorf("pulling from queue: %w", err)
		}
		batch = append(batch, item)
	}
	return batch, nil
}

// flush submits one batch and walks the per-document results in input
// order: accepted documents are acked, rejected ones requeued for another
// attempt. A whole-batch error acknowledges nothing; the reconnect cycle
// requeues the batch wholesale.
func (f *Flusher) flush(ctx context.Context, bulker Bulker, batch []Item) error {
	if len(batch) == 0 {
		return nil
	}
	f.setState(StateFlushing)

	docs := make([]elastic.Doc, len(batch))
	for i, item := range batch {
		docs[i] = elastic.Doc{
			Index: item.Action.Index,
			ID:    item.Action.ID,
			Body:  item.Action.Source,
		}
	}

	start := time.Now()
	results, err := bulker.Bulk(ctx, docs)
	if err != nil {
		f.metrics.BulkFlushesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("bulk submit of %d docs: %w", len(batch), err)
	}
	f.metrics.BulkFlushDuration.Observe(time.Since(start).Seconds())
	f.metrics.BulkBatchSize.Observe(float64(len(batch)))
	if len(results) != len(batch) {
		f.metrics.BulkFlushesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("bulk returned %d results for %d docs", len(results), len(batch))
	}

	failed := 0
	for i, res := range results {
		item := batch[i]
		if res.OK {
			if err := item.Msg.Ack(); err != nil {
				return fmt.Errorf("acking action %s: %w", item.Action.ID, err)
			}
			f.metrics.DocsAckedTotal.Inc()
			continue
		}
		failed++
		f.logger.Warn("document rejected by backend",
			"action_id", item.Action.ID,
			"index", item.Action.Index,
			"status", res.Status,
			"reason", res.Reason,
		)
		if err := item.Msg.Requeue(); err != nil {
			return fmt.Errorf("requeueing action %s: %w", item.Action.ID, err)
		}
		f.metrics.DocsRequeuedTotal.Inc()
	}

	status := "ok"
	if failed > 0 {
		status = "partial"
	}
	f.metrics.BulkFlushesTotal.WithLabelValues(status).Inc()
	f.docsFlushed.Add(uint64(len(batch) - failed))
	f.batchesFlushed.Add(1)
	f.logger.Debug("batch flushed",
		"docs", len(batch),
		"failed", failed,
		"elapsed", time.Since(start),
	)
	return nil
}
