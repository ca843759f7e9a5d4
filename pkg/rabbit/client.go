// Package rabbit provides AMQP 0.9.1 publisher and consumer clients backed by
// rabbitmq/amqp091-go. Topology follows the one-name convention: a durable
// direct exchange and a durable queue share the configured name and are bound
// with it as the routing key, so any party can declare the pair idempotently
// before use.
package rabbit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/docsink/docsink/pkg/config"
)

var (
	// ErrNoMessage reports that a blocking pull timed out with the queue
	// empty. It is a normal idle cycle, not a failure.
	ErrNoMessage = errors.New("no message available")
	// ErrClosed reports that the broker closed the delivery channel.
	ErrClosed = errors.New("consumer channel closed")
	errConnect = errors.New("amqp connect failed")
)

// Client is a publishing connection to the broker. It lazily re-establishes
// its connection and channel when the broker drops them; permanent outages
// surface as errors from Publish for the caller's retry policy to handle.
type Client struct {
	cfg      config.BrokerConfig
	logger   *slog.Logger
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared bool
}

// Dial connects to the first reachable broker URL and opens a channel.
func Dial(cfg config.BrokerConfig) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		logger: slog.Default().With("component", "rabbit-client", "queue", cfg.Queue),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.connectLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) connectLocked() error {
	conn, err := reDial(c.cfg.URLs)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("opening channel: %w", err)
	}
	c.conn = conn
	c.ch = ch
	if c.declared {
		if err := declareTopology(ch, c.cfg.Queue); err != nil {
			_ = conn.Close()
			c.conn = nil
			c.ch = nil
			return err
		}
	}
	return nil
}

// ensureLocked reconnects if the broker dropped us since the last call.
func (c *Client) ensureLocked() (*amqp.Channel, error) {
	if c.conn == nil || c.conn.IsClosed() {
		if err := c.connectLocked(); err != nil {
			return nil, err
		}
		c.logger.Info("reconnected to broker")
	}
	return c.ch, nil
}

// Declare creates the durable exchange/queue pair and binds them. It is
// idempotent and safe to call from every process that touches the queue.
// Re-connections re-run the declaration automatically afterwards.
func (c *Client) Declare(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, err := c.ensureLocked()
	if err != nil {
		return err
	}
	if err := declareTopology(ch, c.cfg.Queue); err != nil {
		return err
	}
	c.declared = true
	return nil
}

// Publish writes one persistent JSON message to the exchange. The message
// survives broker restarts once routed to the durable queue.
func (c *Client) Publish(ctx context.Context, body []byte) error {
	c.mu.Lock()
	ch, err := c.ensureLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if c.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.PublishTimeout)
		defer cancel()
	}
	if err := ch.PublishWithContext(
		ctx,
		c.cfg.Queue, // exchange
		c.cfg.Queue, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	); err != nil {
		return fmt.Errorf("publishing to %s: %w", c.cfg.Queue, err)
	}
	return nil
}

// Ping reports broker reachability for health checks, reconnecting if needed.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.ensureLocked()
	return err
}

// Close shuts down the channel and connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.ch = nil
	return err
}

// declareTopology declares the durable direct exchange, the durable queue,
// and the binding between them, all under the same name.
func declareTopology(ch *amqp.Channel, name string) error {
	if err := ch.ExchangeDeclare(
		name,     // name of the exchange
		"direct", // type
		true,     // durable
		false,    // delete when complete
		false,    // internal
		false,    // noWait
		nil,      // arguments
	); err != nil {
		return fmt.Errorf("declaring exchange %s: %w", name, err)
	}
	if _, err := ch.QueueDeclare(
		name,  // name of the queue
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // noWait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("declaring queue %s: %w", name, err)
	}
	if err := ch.QueueBind(
		name,  // name of the queue
		name,  // binding key
		name,  // source exchange
		false, // noWait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("binding queue %s: %w", name, err)
	}
	return nil
}

// reDial tries each broker URL in order and returns the first live
// connection.
func reDial(urls []string) (*amqp.Connection, error) {
	var lastErr error
	for _, u := range urls {
		conn, err := amqp.Dial(u)
		if err != nil {
			lastErr = fmt.Errorf("%w: %s", errConnect, err)
			continue
		}
		return conn, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no broker URLs configured", errConnect)
	}
	return nil, lastErr
}
