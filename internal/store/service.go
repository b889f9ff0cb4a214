package store

import (
	"context"
	"time"

	"github.com/matheus3301/inbox/internal/filter"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/thread"
)

// Conversations serves the conversation list and counters of one agent.
type Conversations struct {
	db  *DB
	me  string
	now func() time.Time
}

// NewConversations binds the list queries to the agent id me, which the
// mine bucket and counter resolve against.
func NewConversations(db *DB, me string) *Conversations {
	return &Conversations{db: db, me: me, now: time.Now}
}

func (c *Conversations) List(ctx context.Context, q filter.Descriptor) ([]model.Conversation, error) {
	return c.db.ListConversations(ctx, q, c.me, c.now())
}

func (c *Conversations) Counts(ctx context.Context) (model.Counters, error) {
	return c.db.CountConversations(ctx, c.me, c.now())
}

// History serves message pages and read markers.
type History struct {
	db *DB
}

func NewHistory(db *DB) *History { return &History{db: db} }

func (h *History) List(ctx context.Context, conversationID string, p thread.Page) ([]model.Message, error) {
	return h.db.ListMessages(ctx, conversationID, p.Before, p.Limit)
}

func (h *History) MarkRead(ctx context.Context, conversationID string) error {
	return h.db.MarkRead(ctx, conversationID)
}
