// Package api serves the inbox over HTTP: conversation queries, message
// history, sends and agent actions, plus a websocket feed of push events.
package api

import (
	"context"
	"time"

	"github.com/matheus3301/inbox/internal/filter"
	"github.com/matheus3301/inbox/internal/ingest"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/signature"
	"github.com/matheus3301/inbox/internal/status"
	"github.com/matheus3301/inbox/internal/store"
	"github.com/matheus3301/inbox/internal/thread"
)

// Core is everything the handlers need from the daemon.
type Core interface {
	ListConversations(ctx context.Context, q filter.Descriptor) ([]model.Conversation, error)
	Counts(ctx context.Context) (model.Counters, error)
	Conversation(ctx context.Context, id string) (model.Conversation, error)
	Messages(ctx context.Context, conversationID string, p thread.Page) ([]model.Message, error)
	Send(ctx context.Context, req thread.SendRequest) (model.Message, error)
	MarkRead(ctx context.Context, conversationID string) error
	Act(ctx context.Context, conversationID string, a store.Action) (model.Conversation, error)
	Search(ctx context.Context, text, conversationID string, limit int) ([]model.Message, error)
	Signatures(ctx context.Context) ([]signature.Template, error)
	SaveSignature(ctx context.Context, t signature.Template, position int) error
	DeleteSignature(ctx context.Context, id string) error
	Ingest(ctx context.Context, ev model.Event) error
	Status(ctx context.Context) Status
}

// Status describes the running daemon.
type Status struct {
	Session       string         `json:"session"`
	Agent         string         `json:"agent"`
	State         status.State   `json:"state"`
	Since         time.Time      `json:"since"`
	UptimeMs      int64          `json:"uptime_ms"`
	Counters      model.Counters `json:"counters"`
	Subscribers   int            `json:"subscribers"`
	DroppedEvents int64          `json:"dropped_events"`
}

// Service implements Core on the local store.
type Service struct {
	db        *store.DB
	convs     *store.Conversations
	engine    *ingest.Engine
	sender    thread.SendService
	machine   *status.Machine
	session   string
	agent     string
	startedAt time.Time

	// Observers for the status endpoint; set once the hub and bus exist.
	Subscribers func() int
	Dropped     func() int64
}

// NewService binds the store, ingest engine and sender to the agent id.
func NewService(db *store.DB, engine *ingest.Engine, sender thread.SendService, machine *status.Machine, session, agent string) *Service {
	return &Service{
		db:        db,
		convs:     store.NewConversations(db, agent),
		engine:    engine,
		sender:    sender,
		machine:   machine,
		session:   session,
		agent:     agent,
		startedAt: time.Now(),
	}
}

func (s *Service) ListConversations(ctx context.Context, q filter.Descriptor) ([]model.Conversation, error) {
	return s.convs.List(ctx, q)
}

func (s *Service) Counts(ctx context.Context) (model.Counters, error) {
	return s.convs.Counts(ctx)
}

func (s *Service) Conversation(ctx context.Context, id string) (model.Conversation, error) {
	return s.db.GetConversation(ctx, id)
}

func (s *Service) Messages(ctx context.Context, conversationID string, p thread.Page) ([]model.Message, error) {
	if _, err := s.db.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.db.ListMessages(ctx, conversationID, p.Before, p.Limit)
}

func (s *Service) Send(ctx context.Context, req thread.SendRequest) (model.Message, error) {
	return s.sender.Send(ctx, req)
}

func (s *Service) MarkRead(ctx context.Context, conversationID string) error {
	return s.engine.MarkRead(ctx, conversationID)
}

func (s *Service) Act(ctx context.Context, conversationID string, a store.Action) (model.Conversation, error) {
	return s.engine.ApplyAction(ctx, conversationID, a)
}

func (s *Service) Search(ctx context.Context, text, conversationID string, limit int) ([]model.Message, error) {
	return s.db.SearchMessages(ctx, text, conversationID, limit)
}

func (s *Service) Signatures(ctx context.Context) ([]signature.Template, error) {
	return s.db.ListSignatures(ctx)
}

func (s *Service) SaveSignature(ctx context.Context, t signature.Template, position int) error {
	return s.db.SaveSignature(ctx, t, position)
}

func (s *Service) DeleteSignature(ctx context.Context, id string) error {
	return s.db.DeleteSignature(ctx, id)
}

func (s *Service) Ingest(ctx context.Context, ev model.Event) error {
	return s.engine.Ingest(ctx, ev)
}

func (s *Service) Status(ctx context.Context) Status {
	st := Status{
		Session:  s.session,
		Agent:    s.agent,
		UptimeMs: time.Since(s.startedAt).Milliseconds(),
	}
	if s.machine != nil {
		st.State, st.Since = s.machine.Snapshot()
	}
	if c, err := s.convs.Counts(ctx); err == nil {
		st.Counters = c
	}
	if s.Subscribers != nil {
		st.Subscribers = s.Subscribers()
	}
	if s.Dropped != nil {
		st.DroppedEvents = s.Dropped()
	}
	return st
}
