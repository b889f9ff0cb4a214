package conversations

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/filter"
	"github.com/matheus3301/inbox/internal/model"
	"go.uber.org/zap"
)

// QueryService is the upstream conversation collection.
type QueryService interface {
	List(ctx context.Context, q filter.Descriptor) ([]model.Conversation, error)
	Counts(ctx context.Context) (model.Counters, error)
}

const (
	slotList   = "list"
	slotCounts = "counts"

	seenCapacity = 4096
)

// Store holds the conversations matching the active filter plus the
// account-wide counters. Counters are only ever replaced from the counts
// feed, never adjusted in place.
type Store struct {
	mu sync.Mutex

	svc    QueryService
	bus    *bus.Bus
	logger *zap.Logger
	me     string
	now    func() time.Time

	requested filter.Descriptor
	shown     filter.Descriptor
	list      []model.Conversation
	counters  model.Counters
	err       error
	active    string

	slots *slots
	seen  *seenSet
}

// Option configures a Store.
type Option func(*Store)

func WithBus(b *bus.Bus) Option             { return func(s *Store) { s.bus = b } }
func WithLogger(l *zap.Logger) Option       { return func(s *Store) { s.logger = l } }
func WithAgent(id string) Option            { return func(s *Store) { s.me = id } }
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// NewStore creates a store backed by svc.
func NewStore(svc QueryService, opts ...Option) *Store {
	s := &Store{
		svc:    svc,
		logger: zap.NewNop(),
		now:    time.Now,
		slots:  newSlots(),
		seen:   newSeenSet(seenCapacity),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// SetQuery fetches the list for d and replaces the held list. On failure the
// previous list stays in place and Err reports the failure. A response that
// arrives after a newer SetQuery was issued is dropped without error.
func (s *Store) SetQuery(ctx context.Context, d filter.Descriptor) error {
	s.mu.Lock()
	s.requested = d
	gen := s.slots.issue(slotList)
	s.mu.Unlock()

	list, err := s.svc.List(ctx, d.Query())

	s.mu.Lock()
	if !s.slots.current(slotList, gen) {
		s.mu.Unlock()
		s.logger.Debug("discarding stale conversation list", zap.String("query", d.Key()))
		return nil
	}
	if err != nil {
		s.err = fmt.Errorf("list conversations: %w", err)
		failure := s.err
		s.mu.Unlock()
		s.logger.Warn("conversation query failed", zap.Error(err), zap.String("query", d.Key()))
		s.bus.Emit(bus.ConversationsError, failure)
		return failure
	}
	s.shown = d
	s.list = slices.Clone(list)
	s.err = nil
	s.mu.Unlock()

	s.bus.Emit(bus.ConversationsChanged, d.Key())
	return nil
}

// Retry re-issues the most recently requested query.
func (s *Store) Retry(ctx context.Context) error {
	s.mu.Lock()
	d := s.requested
	s.mu.Unlock()
	return s.SetQuery(ctx, d)
}

// RefreshCounts replaces the counters from the counts feed. On failure the
// previous counters are kept.
func (s *Store) RefreshCounts(ctx context.Context) error {
	s.mu.Lock()
	gen := s.slots.issue(slotCounts)
	s.mu.Unlock()

	c, err := s.svc.Counts(ctx)

	s.mu.Lock()
	if !s.slots.current(slotCounts, gen) {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("counter refresh failed", zap.Error(err))
		return fmt.Errorf("refresh counts: %w", err)
	}
	s.counters = cloneCounters(c)
	s.mu.Unlock()

	s.bus.Emit(bus.ConversationsCounts, cloneCounters(c))
	return nil
}

// ApplyPush merges one push event. Entries not touched by the event keep
// their position. Conversation changes trigger a counter refresh.
func (s *Store) ApplyPush(ctx context.Context, ev model.Event) error {
	var countsDirty, listDirty bool

	s.mu.Lock()
	switch ev.Kind {
	case model.ConversationUpdated:
		if ev.Conversation == nil {
			break
		}
		listDirty = s.mergeLocked(*ev.Conversation)
		countsDirty = true
	case model.ConversationRemoved:
		id := ev.ConversationID
		if ev.Conversation != nil && id == "" {
			id = ev.Conversation.ID
		}
		listDirty = s.removeLocked(id)
		countsDirty = true
	case model.MessageCreated:
		if ev.Message == nil {
			break
		}
		listDirty = s.bumpLocked(ev)
	}
	s.mu.Unlock()

	if listDirty {
		s.bus.Emit(bus.ConversationsChanged, ev.ConversationID)
	}
	if countsDirty {
		return s.RefreshCounts(ctx)
	}
	return nil
}

func (s *Store) mergeLocked(conv model.Conversation) bool {
	idx := s.indexLocked(conv.ID)
	matches := s.shown.Matches(&conv, s.me, s.now())
	if conv.ID == s.active {
		conv.UnreadCount = 0
	}
	switch {
	case idx >= 0 && matches:
		s.list[idx] = conv
	case idx >= 0:
		s.list = slices.Delete(s.list, idx, idx+1)
	case matches:
		s.list = slices.Insert(s.list, 0, conv)
	default:
		return false
	}
	return true
}

func (s *Store) removeLocked(id string) bool {
	idx := s.indexLocked(id)
	if idx < 0 {
		return false
	}
	s.list = slices.Delete(s.list, idx, idx+1)
	return true
}

// bumpLocked updates last-message metadata and, for inbound messages to a
// conversation that is not on screen, the unread count.
func (s *Store) bumpLocked(ev model.Event) bool {
	msg := ev.Message
	key := msg.ID
	if key == "" {
		key = ev.ID
	}
	if key != "" && !s.seen.add(msg.ConversationID+"/"+key) {
		return false
	}
	idx := s.indexLocked(msg.ConversationID)
	if idx < 0 {
		return false
	}
	c := &s.list[idx]
	if !msg.CreatedAt.Before(c.LastMessageAt) {
		c.LastMessageAt = msg.CreatedAt
		c.LastMessagePreview = model.Preview(msg.Body, 100)
	}
	if msg.Direction == model.Inbound && msg.ConversationID != s.active {
		c.UnreadCount++
	}
	return true
}

func (s *Store) indexLocked(id string) int {
	return slices.IndexFunc(s.list, func(c model.Conversation) bool { return c.ID == id })
}

// SetActive records which conversation is on screen. Its unread count is
// held at zero while active.
func (s *Store) SetActive(id string) {
	s.mu.Lock()
	s.active = id
	s.mu.Unlock()
}

// Active returns the selected conversation id.
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ClearUnread zeroes the unread count of id after it was marked read.
func (s *Store) ClearUnread(id string) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	changed := idx >= 0 && s.list[idx].UnreadCount != 0
	if changed {
		s.list[idx].UnreadCount = 0
	}
	s.mu.Unlock()
	if changed {
		s.bus.Emit(bus.ConversationsChanged, id)
	}
}

// Conversations returns a snapshot of the displayed list.
func (s *Store) Conversations() []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.list)
}

// Get returns the displayed conversation with the given id.
func (s *Store) Get(id string) (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return model.Conversation{}, false
	}
	return s.list[idx], true
}

// Counters returns a snapshot of the account-wide counters.
func (s *Store) Counters() model.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneCounters(s.counters)
}

// Query returns the most recently requested descriptor.
func (s *Store) Query() filter.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requested
}

// Err returns the last query failure, or nil once a query succeeded.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func cloneCounters(c model.Counters) model.Counters {
	c.ByChannel = maps.Clone(c.ByChannel)
	return c
}
