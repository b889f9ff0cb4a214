package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/inbox/internal/ingest"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/push"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Ingester applies one provider event.
type Ingester interface {
	Ingest(ctx context.Context, ev model.Event) error
}

// IngestConsumer feeds provider events from the events exchange into in.
// Events that can never apply are poison; anything else that fails is
// requeued.
func IngestConsumer(cfg Config, in Ingester) ConsumerSpec {
	return ConsumerSpec{
		Name:          "ingest",
		Exchange:      cfg.EventsExchange,
		Queue:         cfg.EventsQueue,
		BindingKey:    firstNonEmpty(cfg.BindingKey, "#"),
		Prefetch:      cfg.Prefetch,
		PoisonToFinal: cfg.PoisonToFinal,
		Consume:       JSONHandler(ingestHandler(in)),
	}
}

func ingestHandler(in Ingester) func(context.Context, amqp.Delivery, model.Event) error {
	return func(ctx context.Context, d amqp.Delivery, ev model.Event) error {
		// Brokers redeliver with the same message id; use it for dedup
		// when the payload carries none.
		if ev.ID == "" {
			ev.ID = d.MessageId
		}
		if ev.Kind == "" {
			ev.Kind = model.EventKind(d.Type)
		}
		err := in.Ingest(ctx, ev)
		if errors.Is(err, push.ErrMalformed) || errors.Is(err, ingest.ErrUnknownConversation) {
			return fmt.Errorf("%w: %v", ErrPoison, err)
		}
		return err
	}
}
