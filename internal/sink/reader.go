package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docsink/docsink/pkg/metrics"
)

// reader pulls messages off a Stream and decodes them into Items. Payloads
// that cannot decode into a usable Action are acknowledged away immediately:
// they can never index, and requeueing would cycle them forever.
type reader struct {
	stream  Stream
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// next returns the next decodable Item. It propagates ErrNoMessage and
// ErrStreamClosed from the stream; an ack failure on a poison message also
// surfaces, since it means the connection is no longer trustworthy.
func (r *reader) next(ctx context.Context, wait time.Duration) (Item, error) {
	for {
		msg, err := r.stream.Next(ctx, wait)
		if err != nil {
			return Item{}, err
		}
		r.metrics.DocsConsumedTotal.Inc()

		act, err := DecodeAction(msg.Body())
		if err != nil {
			r.metrics.PoisonMessagesTotal.Inc()
			r.logger.Warn("dropping poison message", "error", err, "size", len(msg.Body()))
			if ackErr := msg.Ack(); ackErr != nil {
				return Item{}, fmt.Errorf("acking poison message: %w", ackErr)
			}
			continue
		}
		return Item{Msg: msg, Action: act}, nil
	}
}
