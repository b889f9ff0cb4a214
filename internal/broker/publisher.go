package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/inbox/internal/outbox"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrNacked is returned when the broker refuses a publish.
var ErrNacked = errors.New("broker: publish not confirmed")

// Publisher hands outbound messages to the provider through the outbound
// exchange. It implements outbox.Provider.
type Publisher struct {
	client *Client
}

// NewPublisher creates a publisher on a connected client.
func NewPublisher(c *Client) *Publisher { return &Publisher{client: c} }

// RoutingKey is the routing key of an outbound message.
func RoutingKey(m outbox.Outbound) string {
	return "outbound." + firstNonEmpty(string(m.Channel), "unknown")
}

// Deliver publishes m persistently and waits for the broker's confirm. The
// returned id is the AMQP message id.
func (p *Publisher) Deliver(ctx context.Context, m outbox.Outbound) (string, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal outbound: %w", err)
	}
	id := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, p.client.cfg.publishTimeout())
	defer cancel()

	c := p.client
	c.mu.Lock()
	ch := c.pubCh
	if ch == nil || ch.IsClosed() {
		if err := c.reconnectLocked(ctx); err != nil {
			c.mu.Unlock()
			return "", err
		}
		ch = c.pubCh
	}
	conf, err := ch.PublishWithDeferredConfirmWithContext(ctx, c.cfg.OutboundExchange, RoutingKey(m), false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		MessageId:     id,
		CorrelationId: m.CorrelationID,
		Type:          "message.outbound",
		Timestamp:     time.Now().UTC(),
	})
	c.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("publish: %w", err)
	}

	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return "", fmt.Errorf("wait confirm: %w", err)
	}
	if !ok {
		return "", ErrNacked
	}
	c.logger.Debug("outbound published", zap.String("message_id", id), zap.String("correlation_id", m.CorrelationID))
	return id, nil
}
