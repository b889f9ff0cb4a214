// Package ingest applies provider events to the store and republishes
// them as push events for connected clients.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/push"
	"github.com/matheus3301/inbox/internal/store"
	"go.uber.org/zap"
)

// ErrUnknownConversation is returned for a message whose conversation was
// never announced. Such events cannot be applied by retrying.
var ErrUnknownConversation = errors.New("ingest: unknown conversation")

// Engine handles idempotent ingestion of provider events into the store.
// Every applied change is published on the bus under bus.PushPrefix with a
// per-conversation sequence number.
type Engine struct {
	db     *store.DB
	bus    *bus.Bus
	logger *zap.Logger
}

// NewEngine creates a new ingest engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{db: db, bus: b, logger: logger}
}

// Ingest applies one provider event. Events with an id are applied at most
// once; redeliveries return nil without side effects.
func (e *Engine) Ingest(ctx context.Context, ev model.Event) error {
	if err := push.Validate(ev); err != nil {
		return err
	}
	if ev.ID != "" {
		seen, err := e.seen(ctx, ev.ID)
		if err != nil || seen {
			return err
		}
	}

	var err error
	switch ev.Kind {
	case model.ConversationUpdated:
		err = e.IngestConversation(ctx, ev.Conversation)
	case model.ConversationRemoved:
		err = e.removeConversation(ctx, ev)
	case model.MessageCreated:
		if ev.Conversation != nil {
			if err = e.IngestConversation(ctx, ev.Conversation); err != nil {
				break
			}
		}
		err = e.IngestMessage(ctx, ev.Message)
	case model.MessageStatusChanged:
		err = e.IngestStatus(ctx, ev)
	}
	if err != nil {
		return err
	}
	if ev.ID != "" {
		if _, err := e.db.MarkProcessed(ctx, ev.ID); err != nil {
			return fmt.Errorf("mark processed: %w", err)
		}
	}
	return nil
}

func (e *Engine) seen(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := e.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = ?)`, id).Scan(&exists)
	return exists, err
}

// IngestConversation upserts conversation metadata.
func (e *Engine) IngestConversation(ctx context.Context, c *model.Conversation) error {
	if err := e.db.UpsertConversation(ctx, c); err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return e.publishConversation(ctx, c.ID)
}

func (e *Engine) removeConversation(ctx context.Context, ev model.Event) error {
	id := ev.ConversationID
	if id == "" {
		id = ev.Conversation.ID
	}
	seq, err := e.db.NextSeq(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := e.db.DeleteConversation(ctx, id); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	e.publish(model.Event{Kind: model.ConversationRemoved, ConversationID: id, Seq: seq})
	return nil
}

// IngestMessage stores a message (idempotent). A new inbound message raises
// the conversation's unread count; the message is republished either way so
// clients can reconcile provider echoes of their own sends.
func (e *Engine) IngestMessage(ctx context.Context, msg *model.Message) error {
	if _, err := e.db.GetConversation(ctx, msg.ConversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("message %s: %w", msg.ID, ErrUnknownConversation)
		}
		return err
	}
	created, err := e.db.UpsertMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	if created {
		if err := e.db.TouchConversation(ctx, msg); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
	}

	stored, err := e.db.GetMessage(ctx, msg.ID, "")
	if err != nil {
		return err
	}
	if err := e.publishMessage(ctx, stored); err != nil {
		return err
	}
	if created {
		return e.publishConversation(ctx, msg.ConversationID)
	}
	return nil
}

// IngestStatus applies a delivery status update.
func (e *Engine) IngestStatus(ctx context.Context, ev model.Event) error {
	id, corr := ev.MessageID, ev.CorrelationID
	if ev.Message != nil {
		if id == "" {
			id = ev.Message.ID
		}
		if corr == "" {
			corr = ev.Message.CorrelationID
		}
	}
	m, changed, err := e.db.UpdateMessageStatus(ctx, id, corr, ev.Status, ev.Reason)
	if errors.Is(err, store.ErrNotFound) {
		e.logger.Debug("status for unknown message", zap.String("msg_id", id), zap.String("correlation_id", corr))
		return nil
	}
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return e.PublishStatus(ctx, m)
}

// MarkRead clears the unread count of a conversation on behalf of the
// agent and announces the new state to every connected client.
func (e *Engine) MarkRead(ctx context.Context, id string) error {
	if err := e.db.MarkRead(ctx, id); err != nil {
		return err
	}
	return e.publishConversation(ctx, id)
}

// ApplyAction applies an agent action and announces the new state.
func (e *Engine) ApplyAction(ctx context.Context, id string, a store.Action) (model.Conversation, error) {
	c, err := e.db.ApplyAction(ctx, id, a)
	if err != nil {
		return model.Conversation{}, err
	}
	seq, err := e.db.NextSeq(ctx, id)
	if err != nil {
		return model.Conversation{}, err
	}
	e.publish(model.Event{Kind: model.ConversationUpdated, ConversationID: id, Seq: seq, Conversation: &c})
	return c, nil
}

// PublishStatus announces the current status of a stored message.
func (e *Engine) PublishStatus(ctx context.Context, m model.Message) error {
	seq, err := e.db.NextSeq(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	e.publish(model.Event{
		Kind:           model.MessageStatusChanged,
		ConversationID: m.ConversationID,
		Seq:            seq,
		MessageID:      m.ID,
		CorrelationID:  m.CorrelationID,
		Status:         m.Status,
		Reason:         m.FailureReason,
	})
	return nil
}

func (e *Engine) publishMessage(ctx context.Context, m model.Message) error {
	seq, err := e.db.NextSeq(ctx, m.ConversationID)
	if err != nil {
		return err
	}
	e.publish(model.Event{Kind: model.MessageCreated, ConversationID: m.ConversationID, Seq: seq, Message: &m})
	return nil
}

func (e *Engine) publishConversation(ctx context.Context, id string) error {
	seq, err := e.db.NextSeq(ctx, id)
	if err != nil {
		return err
	}
	c, err := e.db.GetConversation(ctx, id)
	if err != nil {
		return err
	}
	e.publish(model.Event{Kind: model.ConversationUpdated, ConversationID: id, Seq: seq, Conversation: &c})
	return nil
}

func (e *Engine) publish(ev model.Event) {
	e.bus.Emit(bus.PushPrefix+string(ev.Kind), ev)
	e.logger.Debug("push published",
		zap.String("kind", string(ev.Kind)),
		zap.String("conversation_id", ev.ConversationID),
		zap.Int64("seq", ev.Seq))
}
