package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrPoison marks a delivery that can never be applied, such as a body
// that does not decode. Poison deliveries are acked, never requeued.
var ErrPoison = errors.New("poison message")

// ConsumerSpec defines a single supervised consumer.
type ConsumerSpec struct {
	Name         string
	Exchange     string
	ExchangeKind string // default: topic
	Queue        string
	BindingKey   string
	Prefetch     int

	// PoisonToFinal copies poison deliveries to <queue>.final before the ack.
	PoisonToFinal bool

	Consume func(ctx context.Context, d amqp.Delivery) error
}

// JSONHandler wraps a typed handler and turns a decode failure into
// ErrPoison.
func JSONHandler[T any](h func(context.Context, amqp.Delivery, T) error) func(context.Context, amqp.Delivery) error {
	return func(ctx context.Context, d amqp.Delivery) error {
		var v T
		if err := json.Unmarshal(d.Body, &v); err != nil {
			return fmt.Errorf("%w: %v", ErrPoison, err)
		}
		return h(ctx, d, v)
	}
}

type disposition int

const (
	ack disposition = iota
	requeue
	poison
)

func (d disposition) String() string {
	switch d {
	case ack:
		return "ack"
	case requeue:
		return "requeue"
	default:
		return "poison"
	}
}

func decide(err error) disposition {
	switch {
	case err == nil:
		return ack
	case errors.Is(err, ErrPoison):
		return poison
	default:
		return requeue
	}
}

// settle acknowledges d according to disp. Poison is acked so it leaves
// the queue; a copy was already published when configured.
func settle(d amqp.Delivery, disp disposition) error {
	switch disp {
	case requeue:
		return d.Nack(false, true)
	default:
		return d.Ack(false)
	}
}

// Run starts the consumers and supervises them until ctx ends: a closed
// channel restarts its consumer and a closed connection is re-dialed with
// jittered exponential backoff before every consumer is restarted.
func (c *Client) Run(ctx context.Context, specs ...ConsumerSpec) error {
	c.closed = make(chan string, len(specs)*2)
	byName := make(map[string]ConsumerSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
		if err := c.startConsumer(ctx, s); err != nil {
			return fmt.Errorf("start %s: %w", s.Name, err)
		}
	}

	errCh := c.connection().NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case name := <-c.closed:
			if s, ok := byName[name]; ok {
				if err := c.startConsumer(ctx, s); err != nil {
					c.logger.Error("restart consumer failed", zap.String("name", name), zap.Error(err))
				}
			}

		case err, ok := <-errCh:
			if !ok {
				err = &amqp.Error{Reason: "connection closed"}
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("amqp connection closed, reconnecting", zap.Error(err))
			c.notify(false)
			if err := c.reconnect(ctx); err != nil {
				return err
			}
			c.notify(true)
			for _, s := range byName {
				if err := c.startConsumer(ctx, s); err != nil {
					c.logger.Error("restart consumer after reconnect failed", zap.String("name", s.Name), zap.Error(err))
				}
			}
			errCh = c.connection().NotifyClose(make(chan *amqp.Error, 1))
		}
	}
}

func (c *Client) startConsumer(ctx context.Context, spec ConsumerSpec) error {
	conn := c.connection()
	if conn == nil {
		return errors.New("not connected")
	}
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	pf := spec.Prefetch
	if pf <= 0 {
		pf = max(c.cfg.Prefetch, 1)
	}
	if err := ch.Qos(pf, 0, false); err != nil {
		_ = ch.Close()
		return err
	}
	if err := declareTopology(ch, spec); err != nil {
		_ = ch.Close()
		return err
	}
	msgs, err := ch.Consume(spec.Queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return err
	}
	closeCh := ch.NotifyClose(make(chan *amqp.Error, 1))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { _ = ch.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case <-closeCh:
				select {
				case c.closed <- spec.Name:
				default:
				}
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				c.handle(ctx, ch, spec, d)
			}
		}
	}()

	c.logger.Info("consumer started", zap.String("name", spec.Name), zap.String("queue", spec.Queue), zap.Int("prefetch", pf))
	return nil
}

func (c *Client) handle(ctx context.Context, ch *amqp.Channel, spec ConsumerSpec, d amqp.Delivery) {
	err := spec.Consume(ctx, d)
	disp := decide(err)
	switch disp {
	case poison:
		c.logger.Warn("dropping poison delivery", zap.String("consumer", spec.Name), zap.String("message_id", d.MessageId), zap.Error(err))
		if spec.PoisonToFinal {
			if perr := publishFinal(ctx, ch, spec.Queue+".final", d); perr != nil {
				c.logger.Error("failed to keep poison copy", zap.Error(perr))
			}
		}
	case requeue:
		c.logger.Warn("requeueing delivery", zap.String("consumer", spec.Name), zap.String("message_id", d.MessageId), zap.Error(err))
	}
	if err := settle(d, disp); err != nil {
		c.logger.Error("failed to settle delivery", zap.Stringer("disposition", disp), zap.Error(err))
	}
}

func declareTopology(ch *amqp.Channel, s ConsumerSpec) error {
	kind := firstNonEmpty(s.ExchangeKind, "topic")
	if err := ch.ExchangeDeclare(s.Exchange, kind, true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(s.Queue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.QueueBind(s.Queue, s.BindingKey, s.Exchange, false, nil); err != nil {
		return err
	}
	if !s.PoisonToFinal {
		return nil
	}
	final := s.Queue + ".final"
	if err := ch.ExchangeDeclare(final, "fanout", true, false, false, false, nil); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(final, true, false, false, false, nil); err != nil {
		return err
	}
	return ch.QueueBind(final, "", final, false, nil)
}

func publishFinal(ctx context.Context, ch *amqp.Channel, exchange string, d amqp.Delivery) error {
	return ch.PublishWithContext(ctx, exchange, "", false, false, amqp.Publishing{
		ContentType:   firstNonEmpty(d.ContentType, "application/json"),
		Body:          d.Body,
		Headers:       d.Headers,
		MessageId:     d.MessageId,
		CorrelationId: d.CorrelationId,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now(),
		Type:          d.Type,
	})
}
