package sink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/docsink/docsink/pkg/config"
	apperrors "github.com/docsink/docsink/pkg/errors"
	"github.com/docsink/docsink/pkg/metrics"
	"github.com/docsink/docsink/pkg/resilience"
)

// Dispatcher decides whether a document belongs to this sink before handing
// it to the Publisher. Documents that name sinks explicitly go only to the
// sinks they name; documents that name none go to the configured default.
// The publish path runs behind a circuit breaker so a dead broker sheds
// load quickly instead of stacking retries.
type Dispatcher struct {
	publisher *Publisher
	cfg       config.SinkConfig
	breaker   *resilience.CircuitBreaker
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewDispatcher creates a Dispatcher in front of the given publisher.
func NewDispatcher(publisher *Publisher, cfg config.SinkConfig, m *metrics.Metrics) *Dispatcher {
	breaker := resilience.NewCircuitBreaker("queue-publish", resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, state resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
		},
	})
	return &Dispatcher{
		publisher: publisher,
		cfg:       cfg,
		breaker:   breaker,
		metrics:   m,
		logger:    slog.Default().With("component", "sink-dispatcher", "sink", cfg.Name),
	}
}

// Route publishes the document if it targets this sink. routed reports
// whether the document was enqueued; a document destined only for other
// sinks is counted and skipped without error.
func (d *Dispatcher) Route(ctx context.Context, doc []byte) (receipt *Receipt, routed bool, err error) {
	rt, err := ParseRouting(doc)
	if err != nil {
		return nil, false, err
	}
	if !d.accepts(rt) {
		d.metrics.DocsSkippedTotal.Inc()
		d.logger.Debug("document routed elsewhere",
			"tenant", rt.Tenant,
			"sinks", rt.Correlation.Sinks,
		)
		return nil, false, nil
	}

	err = d.breaker.Execute(func() error {
		var pubErr error
		receipt, pubErr = d.publisher.Enqueue(ctx, doc)
		return pubErr
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, false, apperrors.New(apperrors.ErrQueueUnavailable, 503, "publish circuit open")
		}
		return nil, false, err
	}
	return receipt, true, nil
}

// accepts reports whether the document's sink list includes this sink.
func (d *Dispatcher) accepts(rt Routing) bool {
	if len(rt.Correlation.Sinks) == 0 {
		return d.cfg.DefaultSink == d.cfg.Name
	}
	for _, s := range rt.Correlation.Sinks {
		if s == d.cfg.Name {
			return true
		}
	}
	return false
}
