package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/docsink/docsink/pkg/config"
	apperrors "github.com/docsink/docsink/pkg/errors"
	"github.com/docsink/docsink/pkg/metrics"
	"github.com/docsink/docsink/pkg/resilience"
)

// Queue is the durable channel the publisher writes to.
type Queue interface {
	Publish(ctx context.Context, body []byte) error
}

// Publisher wraps documents in action envelopes and publishes them durably.
// Transient publish failures are retried with backoff; a publish that
// exhausts its retries has had no effect and surfaces the error to the
// caller.
type Publisher struct {
	queue   Queue
	cfg     config.SinkConfig
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewPublisher creates a Publisher over the given queue.
func NewPublisher(queue Queue, cfg config.SinkConfig, m *metrics.Metrics) *Publisher {
	return &Publisher{
		queue: queue,
		cfg:   cfg,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		metrics: m,
		logger:  slog.Default().With("component", "sink-publisher", "sink", cfg.Name),
	}
}

// Enqueue validates the document's routing metadata, wraps it in a fresh
// Action, and publishes it. Exactly one durable message exists per
// successful call; a failed call leaves no trace.
func (p *Publisher) Enqueue(ctx context.Context, doc []byte) (*Receipt, error) {
	rt, err := ParseRouting(doc)
	if err != nil {
		return nil, err
	}
	act := NewAction(rt, doc, int64(p.cfg.TTL/time.Second))
	payload, err := json.Marshal(act)
	if err != nil {
		return nil, fmt.Errorf("marshaling action %s: %w", act.ID, err)
	}

	err = resilience.Retry(ctx, "queue-publish", p.retry, func() error {
		return p.queue.Publish(ctx, payload)
	})
	if err != nil {
		p.metrics.PublishFailuresTotal.Inc()
		p.logger.Error("publish failed after retries",
			"action_id", act.ID,
			"index", act.Index,
			"error", err,
		)
		return nil, apperrors.Newf(apperrors.ErrQueueUnavailable, 503, "publishing action %s: %v", act.ID, err)
	}

	p.metrics.DocsPublishedTotal.Inc()
	p.logger.Debug("action published",
		"action_id", act.ID,
		"index", act.Index,
		"kind", act.Kind,
		"size", len(payload),
	)
	return &Receipt{ActionID: act.ID, Index: act.Index, Kind: act.Kind}, nil
}
