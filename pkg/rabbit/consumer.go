package rabbit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/docsink/docsink/pkg/config"
)

// Consumer is a dedicated consuming connection. Each worker owns one; closing
// it returns every unacknowledged delivery to the queue, which is the only
// rollback mechanism the pipeline relies on.
type Consumer struct {
	cfg        config.BrokerConfig
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
	tag        string
	logger     *slog.Logger
}

// NewConsumer connects, declares the topology, applies the prefetch window,
// and starts consuming. Prefetch bounds how many unacknowledged deliveries
// the broker hands this consumer, which in turn bounds worker memory.
func NewConsumer(cfg config.BrokerConfig) (*Consumer, error) {
	conn, err := reDial(cfg.URLs)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	if err := declareTopology(ch, cfg.Queue); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("setting qos: %w", err)
	}
	tag := "docsink-" + uuid.NewString()[:8]
	deliveries, err := ch.Consume(
		cfg.Queue, // queue
		tag,       // consumer tag
		false,     // autoAck
		false,     // exclusive
		false,     // noLocal
		false,     // noWait
		nil,       // arguments
	)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("starting consume on %s: %w", cfg.Queue, err)
	}
	return &Consumer{
		cfg:        cfg,
		conn:       conn,
		ch:         ch,
		deliveries: deliveries,
		tag:        tag,
		logger:     slog.Default().With("component", "rabbit-consumer", "queue", cfg.Queue),
	}, nil
}

// Next blocks until a delivery arrives, the wait elapses, or ctx is done.
// A timeout returns ErrNoMessage; a broker-closed channel returns ErrClosed.
func (c *Consumer) Next(ctx context.Context, wait time.Duration) (*Delivery, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case d, open := <-c.deliveries:
		if !open {
			return nil, ErrClosed
		}
		return &Delivery{d: d}, nil
	case <-timer.C:
		return nil, ErrNoMessage
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close cancels the consumer and closes the connection, requeueing any
// deliveries that were handed out but never acknowledged.
func (c *Consumer) Close() error {
	if c.ch != nil {
		if err := c.ch.Cancel(c.tag, false); err != nil {
			c.logger.Warn("failed to cancel consumer", "tag", c.tag, "error", err)
		}
		c.ch = nil
	}
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// Delivery is one queue message plus its acknowledgement handle. Exactly one
// of Ack or Requeue should be called, once.
type Delivery struct {
	d amqp.Delivery
}

// Body returns the message payload.
func (d *Delivery) Body() []byte {
	return d.d.Body
}

// Ack permanently removes the message from the queue.
func (d *Delivery) Ack() error {
	return d.d.Ack(false)
}

// Requeue returns the message to the queue for redelivery.
func (d *Delivery) Requeue() error {
	return d.d.Nack(false, true)
}

// Redelivered reports whether the broker has delivered this message before.
func (d *Delivery) Redelivered() bool {
	return d.d.Redelivered
}
