package sink

import (
	"context"
	"errors"
	"time"

	"github.com/docsink/docsink/pkg/rabbit"
)

// queueStream adapts a broker consumer to the Stream interface, translating
// the broker client's sentinels into this package's.
type queueStream struct {
	consumer *rabbit.Consumer
}

// QueueStream wraps a broker consumer as a Stream.
func QueueStream(consumer *rabbit.Consumer) Stream {
	return &queueStream{consumer: consumer}
}

func (s *queueStream) Next(ctx context.Context, wait time.Duration) (Message, error) {
	d, err := s.consumer.Next(ctx, wait)
	switch {
	case err == nil:
		return d, nil
	case errors.Is(err, rabbit.ErrNoMessage):
		return nil, ErrNoMessage
	case errors.Is(err, rabbit.ErrClosed):
		return nil, ErrStreamClosed
	default:
		return nil, err
	}
}

func (s *queueStream) Close() error {
	return s.consumer.Close()
}
