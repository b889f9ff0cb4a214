// Package outbox delivers outbound messages to the provider through a
// durable queue.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/inbox/internal/ingest"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/store"
	"github.com/matheus3301/inbox/internal/thread"
	"go.uber.org/zap"
)

// Outbound is one message handed to the provider.
type Outbound struct {
	CorrelationID  string        `json:"correlation_id"`
	MessageID      string        `json:"message_id"`
	ConversationID string        `json:"conversation_id"`
	AccountID      string        `json:"account_id,omitempty"`
	Channel        model.Channel `json:"channel"`
	To             string        `json:"to"`
	Body           string        `json:"body"`
	Media          *model.Media  `json:"media,omitempty"`
	Sender         string        `json:"sender,omitempty"`
}

// Provider hands messages to the carrier. The returned id is the
// provider's reference; delivery receipts arrive later as ingest events.
type Provider interface {
	Deliver(ctx context.Context, m Outbound) (providerMsgID string, err error)
}

var (
	ErrEmpty = errors.New("outbox: message has neither body nor media")

	// ErrFailed is returned when a retried send was already marked failed.
	ErrFailed = errors.New("outbox: send failed")
)

const (
	pollInterval = 500 * time.Millisecond
	staleAfter   = 30 * time.Second
)

// Sender queues sends and drains the outbox to the provider.
type Sender struct {
	db       *store.DB
	engine   *ingest.Engine
	provider Provider
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, engine *ingest.Engine, provider Provider, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		db:       db,
		engine:   engine,
		provider: provider,
		logger:   logger,
	}
}

// Send queues req, stores the pending message and delivers it. A request
// whose correlation id was seen before returns the stored message instead
// of sending twice.
func (s *Sender) Send(ctx context.Context, req thread.SendRequest) (model.Message, error) {
	if req.Body == "" && req.Media == nil {
		return model.Message{}, ErrEmpty
	}
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}
	conv, err := s.db.GetConversation(ctx, req.ConversationID)
	if err != nil {
		return model.Message{}, err
	}
	if req.Channel == "" {
		req.Channel = conv.Channel
	}

	entry := &store.OutboxEntry{
		CorrelationID:  req.CorrelationID,
		MessageID:      "msg-" + uuid.NewString(),
		ConversationID: conv.ID,
		Channel:        req.Channel,
		Body:           req.Body,
		Media:          req.Media,
		Sender:         req.Sender,
	}
	if err := s.db.QueueOutbox(ctx, entry); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return s.existing(ctx, req.CorrelationID)
		}
		return model.Message{}, fmt.Errorf("queue outbox: %w", err)
	}

	// Optimistic insert: clients see the pending message immediately.
	pending := model.Message{
		ID:             entry.MessageID,
		ConversationID: conv.ID,
		CorrelationID:  req.CorrelationID,
		Direction:      model.Outbound,
		Body:           req.Body,
		Media:          req.Media,
		Status:         model.DeliveryPending,
		CreatedAt:      time.Now().UTC(),
		Sender:         req.Sender,
	}
	if err := s.engine.IngestMessage(ctx, &pending); err != nil {
		return model.Message{}, fmt.Errorf("store pending message: %w", err)
	}
	return s.deliver(ctx, *entry, conv)
}

func (s *Sender) existing(ctx context.Context, correlationID string) (model.Message, error) {
	m, err := s.db.GetMessage(ctx, "", correlationID)
	if err != nil {
		return model.Message{}, err
	}
	if m.Status == model.DeliveryFailed {
		return m, fmt.Errorf("%w: %s", ErrFailed, m.FailureReason)
	}
	return m, nil
}

func (s *Sender) deliver(ctx context.Context, e store.OutboxEntry, conv model.Conversation) (model.Message, error) {
	claimed, err := s.db.ClaimOutbox(ctx, e.CorrelationID)
	if err != nil {
		return model.Message{}, fmt.Errorf("claim outbox: %w", err)
	}
	if !claimed {
		return s.existing(ctx, e.CorrelationID)
	}

	providerID, err := s.provider.Deliver(ctx, Outbound{
		CorrelationID:  e.CorrelationID,
		MessageID:      e.MessageID,
		ConversationID: e.ConversationID,
		AccountID:      conv.AccountID,
		Channel:        e.Channel,
		To:             recipient(conv),
		Body:           e.Body,
		Media:          e.Media,
		Sender:         e.Sender,
	})
	if err != nil {
		s.logger.Error("failed to send message", zap.Error(err), zap.String("correlation_id", e.CorrelationID))
		if markErr := s.db.MarkOutboxFailed(ctx, e.CorrelationID, err.Error()); markErr != nil {
			s.logger.Error("failed to mark failed", zap.Error(markErr), zap.String("correlation_id", e.CorrelationID))
		}
		s.setStatus(ctx, e, model.DeliveryFailed, err.Error())
		return model.Message{}, fmt.Errorf("deliver: %w", err)
	}

	if err := s.db.MarkOutboxSent(ctx, e.CorrelationID, providerID); err != nil {
		s.logger.Error("failed to mark sent", zap.Error(err), zap.String("correlation_id", e.CorrelationID))
	}
	m := s.setStatus(ctx, e, model.DeliverySent, "")
	s.logger.Info("message sent", zap.String("correlation_id", e.CorrelationID), zap.String("provider_msg_id", providerID))
	return m, nil
}

func (s *Sender) setStatus(ctx context.Context, e store.OutboxEntry, status model.DeliveryStatus, reason string) model.Message {
	m, changed, err := s.db.UpdateMessageStatus(ctx, "", e.CorrelationID, status, reason)
	if err != nil {
		s.logger.Error("failed to update message status", zap.Error(err), zap.String("correlation_id", e.CorrelationID))
		return model.Message{ID: e.MessageID, ConversationID: e.ConversationID, CorrelationID: e.CorrelationID, Direction: model.Outbound, Body: e.Body, Media: e.Media, Status: status, FailureReason: reason}
	}
	if changed {
		if err := s.engine.PublishStatus(ctx, m); err != nil {
			s.logger.Warn("failed to publish status", zap.Error(err))
		}
	}
	return m
}

// recipient is the provider address of the conversation's contact.
func recipient(c model.Conversation) string {
	switch c.Channel {
	case model.ChannelEmail:
		if c.Contact.Email != "" {
			return c.Contact.Email
		}
	case model.ChannelSMS, model.ChannelVoice:
		if p := c.PhoneTarget(); p != "" {
			return p
		}
	}
	return c.Contact.Handle
}

// Start drains entries that were queued but never delivered, e.g. after a
// restart, until Stop is called.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	if n, err := s.db.RequeueStale(ctx, time.Now().Add(-staleAfter)); err != nil {
		s.logger.Error("failed to requeue stale outbox entries", zap.Error(err))
	} else if n > 0 {
		s.logger.Info("requeued stale outbox entries", zap.Int64("count", n))
	}
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for it to exit.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.processPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// processPending delivers queued entries old enough that the Send that
// queued them is no longer working on them.
func (s *Sender) processPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox(ctx)
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}
	cutoff := time.Now().Add(-pollInterval)
	for _, entry := range pending {
		if entry.CreatedAt.After(cutoff) {
			continue
		}
		conv, err := s.db.GetConversation(ctx, entry.ConversationID)
		if err != nil {
			s.logger.Error("outbox entry without conversation", zap.Error(err), zap.String("correlation_id", entry.CorrelationID))
			_ = s.db.MarkOutboxFailed(ctx, entry.CorrelationID, err.Error())
			continue
		}
		if _, err := s.deliver(ctx, entry, conv); err != nil && ctx.Err() == nil {
			s.logger.Warn("retry from outbox failed", zap.Error(err), zap.String("correlation_id", entry.CorrelationID))
		}
	}
}
