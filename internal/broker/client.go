package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Dialer opens an AMQP connection. Tests replace it.
type Dialer func(ctx context.Context, url string) (*amqp.Connection, error)

// Client owns the AMQP connection shared by the consumers and the
// publisher.
type Client struct {
	cfg    Config
	logger *zap.Logger
	dial   Dialer
	notify func(up bool)

	mu     sync.Mutex
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	closed chan string
	wg     sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }
func WithDialer(d Dialer) Option      { return func(c *Client) { c.dial = d } }

// WithConnectionHook is called with false when Run loses the connection and
// with true once it is re-established.
func WithConnectionHook(f func(up bool)) Option { return func(c *Client) { c.notify = f } }

// NewClient creates a client. Connect must be called before use.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		logger: zap.NewNop(),
		dial: func(_ context.Context, url string) (*amqp.Connection, error) {
			return amqp.Dial(url)
		},
		notify: func(bool) {},
	}
	for _, o := range opts {
		o(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.notify == nil {
		c.notify = func(bool) {}
	}
	return c
}

// Connect dials the broker and declares the outbound exchange.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnectLocked(ctx)
}

func (c *Client) reconnectLocked(ctx context.Context) error {
	if c.pubCh != nil {
		_ = c.pubCh.Close()
		c.pubCh = nil
	}
	if c.conn != nil && !c.conn.IsClosed() {
		_ = c.conn.Close()
	}

	conn, err := c.dial(ctx, c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(c.cfg.OutboundExchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("declare outbound exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("confirm mode: %w", err)
	}
	c.conn = conn
	c.pubCh = ch
	c.logger.Info("broker connected", zap.String("outbound_exchange", c.cfg.OutboundExchange))
	return nil
}

// reconnect retries until the broker is reachable or ctx ends.
func (c *Client) reconnect(ctx context.Context) error {
	backoff, capd := c.cfg.Backoff()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
		err := c.reconnectLocked(ctx)
		c.mu.Unlock()
		if err == nil {
			return nil
		}
		wait := jitteredDelay(backoff, capd, c.cfg.ReconnectJitterPercent)
		c.logger.Error("reconnect failed", zap.Error(err), zap.Duration("retry_in", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if backoff*2 < capd {
			backoff *= 2
		}
	}
}

func (c *Client) connection() *amqp.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Close stops using the connection and waits for consumer goroutines.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn, c.pubCh = nil, nil
	c.mu.Unlock()

	var err error
	if conn != nil && !conn.IsClosed() {
		err = conn.Close()
	}
	c.wg.Wait()
	return err
}

// jitteredDelay spreads base by ±pct percent, capped at capd.
func jitteredDelay(base, capd time.Duration, pct int) time.Duration {
	if pct <= 0 {
		pct = 25
	}
	delta := (rand.Float64()*2 - 1) * float64(pct) / 100.0
	wait := time.Duration(float64(base) * (1 + delta))
	if wait < 0 {
		wait = base
	}
	return min(wait, capd)
}
