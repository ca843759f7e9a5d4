// Package sink implements the durable ingestion pipeline: documents are
// wrapped in indexing actions and published to a named durable queue, and a
// supervised pool of flush workers streams them back out, submits them to
// the search backend in bulk, and acknowledges exactly the documents the
// backend accepted. Everything else is redelivered, making delivery
// at-least-once end to end.
package sink

import (
	"context"
	"errors"
	"time"

	"github.com/docsink/docsink/pkg/elastic"
)

var (
	// ErrNoMessage reports an empty blocking pull. It is a normal idle
	// cycle: callers flush any partial batch and keep waiting.
	ErrNoMessage = errors.New("no message available")
	// ErrStreamClosed reports that the queue stream is gone and the worker
	// must reconnect.
	ErrStreamClosed = errors.New("stream closed")
)

// Worker states reported through heartbeats.
const (
	StateStarting   = "starting"
	StateConnecting = "connecting"
	StateConsuming  = "consuming"
	StateFlushing   = "flushing"
)

// Message is one queue delivery plus its acknowledgement handle. Exactly one
// of Ack or Requeue should be called, once; a message that receives neither
// returns to the queue when its connection closes.
type Message interface {
	Body() []byte
	Ack() error
	Requeue() error
}

// Stream is a blocking reader over the durable queue. Next returns
// ErrNoMessage when the wait elapses with nothing queued and ErrStreamClosed
// when the broker tears the stream down.
type Stream interface {
	Next(ctx context.Context, wait time.Duration) (Message, error)
	Close() error
}

// Bulker submits a batch of documents to the search backend and returns one
// result per document in input order. A non-nil error means the whole
// request failed and nothing can be said about individual documents.
type Bulker interface {
	Bulk(ctx context.Context, docs []elastic.Doc) ([]elastic.Result, error)
}

// StreamFactory opens a fresh queue stream. Workers call it once per
// connect cycle so every recovery starts from a clean connection.
type StreamFactory func(ctx context.Context) (Stream, error)

// BulkerFactory opens a fresh search backend client for a connect cycle.
type BulkerFactory func(ctx context.Context) (Bulker, error)

// Item pairs a queue message with its decoded action. Carrying the handle
// and the payload together means flush results map to messages by position
// within one batch, with no shared bookkeeping to drift out of sync.
type Item struct {
	Msg    Message
	Action Action
}
