package thread

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/model"
	"go.uber.org/zap"
)

// Page selects a slice of history older than Before. A zero Before means
// the most recent page.
type Page struct {
	Before time.Time
	Limit  int
}

// HistoryService returns stored messages of a conversation, oldest first or
// in any order; the stream sorts them.
type HistoryService interface {
	List(ctx context.Context, conversationID string, p Page) ([]model.Message, error)
}

// SendRequest is one outbound send. CorrelationID is generated by the
// stream and must be echoed on the confirmed message.
type SendRequest struct {
	ConversationID string        `json:"conversation_id" validate:"required"`
	CorrelationID  string        `json:"correlation_id" validate:"required"`
	Channel        model.Channel `json:"channel,omitempty"`
	Body           string        `json:"body"`
	Media          *model.Media  `json:"media,omitempty"`
	Sender         string        `json:"sender,omitempty"`
}

// SendService delivers outbound messages and returns the confirmed copy.
type SendService interface {
	Send(ctx context.Context, req SendRequest) (model.Message, error)
}

// ReadMarker records that the agent has seen a conversation.
type ReadMarker interface {
	MarkRead(ctx context.Context, conversationID string) error
}

var (
	ErrClosed     = errors.New("thread: stream closed")
	ErrNotFound   = errors.New("thread: message not found")
	ErrNotFailed  = errors.New("thread: message has not failed")
	ErrNotPending = errors.New("thread: message is not pending")
)

const (
	DefaultMatchWindow = 2 * time.Minute
	DefaultPageSize    = 50
)

// Key identifies a message inside one stream. It stays stable while the
// message is reconciled from pending to confirmed.
type Key uint64

// Item is a message together with its stream key.
type Item struct {
	Key     Key
	Message model.Message
}

// FailedSend is the payload of bus.ThreadFailed.
type FailedSend struct {
	ConversationID string
	CorrelationID  string
	Reason         string
}

// Stream is the ordered message log of one selected conversation. Messages
// live in an arena keyed by Key, indexed by server id and correlation id, so
// a confirmation or duplicate push is a lookup and an in-place replace.
type Stream struct {
	mu sync.Mutex

	convID   string
	channel  model.Channel
	history  HistoryService
	sender   SendService
	reader   ReadMarker
	bus      *bus.Bus
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
	window   time.Duration
	pageSize int
	label    string

	arena         map[Key]*model.Message
	order         []Key
	byID          map[string]Key
	byCorrelation map[string]Key
	nextKey       Key

	loadGen   uint64
	olderGen  uint64
	loaded    bool
	hasMore   bool
	firstLoad bool
	atEnd     bool
	scroll    Scroll
	readUntil time.Time
	closed    bool
}

// Option configures a Stream.
type Option func(*Stream)

func WithBus(b *bus.Bus) Option             { return func(s *Stream) { s.bus = b } }
func WithLogger(l *zap.Logger) Option       { return func(s *Stream) { s.logger = l } }
func WithClock(now func() time.Time) Option { return func(s *Stream) { s.now = now } }
func WithIDs(next func() string) Option     { return func(s *Stream) { s.newID = next } }
func WithReadMarker(r ReadMarker) Option    { return func(s *Stream) { s.reader = r } }
func WithChannel(c model.Channel) Option    { return func(s *Stream) { s.channel = c } }
func WithSenderLabel(l string) Option       { return func(s *Stream) { s.label = l } }

// WithMatchWindow bounds the content fallback used for confirmations that
// carry no correlation id.
func WithMatchWindow(d time.Duration) Option { return func(s *Stream) { s.window = d } }

func WithPageSize(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// New creates the stream for one conversation selection.
func New(conversationID string, history HistoryService, sender SendService, opts ...Option) *Stream {
	s := &Stream{
		convID:        conversationID,
		history:       history,
		sender:        sender,
		logger:        zap.NewNop(),
		now:           time.Now,
		newID:         uuid.NewString,
		window:        DefaultMatchWindow,
		pageSize:      DefaultPageSize,
		arena:         make(map[Key]*model.Message),
		byID:          make(map[string]Key),
		byCorrelation: make(map[string]Key),
		firstLoad:     true,
		atEnd:         true,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.With(zap.String("conversation_id", conversationID))
	return s
}

// ConversationID returns the conversation this stream belongs to.
func (s *Stream) ConversationID() string { return s.convID }

// LoadHistory replaces the log with the latest page of history. Local sends
// the history does not contain yet are kept after it. The first successful
// load of the stream requests a non-animated jump to the end.
func (s *Stream) LoadHistory(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.loadGen++
	gen := s.loadGen
	limit := s.pageSize
	s.mu.Unlock()

	msgs, err := s.history.List(ctx, s.convID, Page{Limit: limit})

	s.mu.Lock()
	if s.closed || gen != s.loadGen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale history")
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("load history: %w", err)
	}
	s.replaceLocked(msgs)
	s.loaded = true
	s.hasMore = len(msgs) >= limit
	if s.firstLoad {
		s.firstLoad = false
		s.scroll = ScrollJump
	}
	s.mu.Unlock()

	s.changed()
	return nil
}

func (s *Stream) replaceLocked(msgs []model.Message) {
	msgs = slices.Clone(msgs)
	slices.SortStableFunc(msgs, func(a, b model.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })

	oldOrder := s.order
	kept := make(map[Key]bool, len(msgs))
	order := make([]Key, 0, len(msgs)+len(oldOrder))
	for _, m := range msgs {
		if m.ConversationID == "" {
			m.ConversationID = s.convID
		}
		if k, ok := s.lookupLocked(m); ok {
			if !kept[k] {
				s.mergeLocked(k, m)
				kept[k] = true
				order = append(order, k)
			}
			continue
		}
		k := s.insertLocked(m)
		kept[k] = true
		order = append(order, k)
	}
	var cutoff time.Time
	if len(msgs) > 0 {
		cutoff = msgs[len(msgs)-1].CreatedAt
	}
	for _, k := range oldOrder {
		if kept[k] {
			continue
		}
		// Unconfirmed local sends, and pushes newer than the page, survive.
		if m := s.arena[k]; m.ID == "" || m.CreatedAt.After(cutoff) {
			order = append(order, k)
			continue
		}
		s.dropLocked(k)
	}
	s.order = order
}

// LoadOlder prepends the page before the oldest confirmed message. It is a
// no-op before the first load or once history is exhausted.
func (s *Stream) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.loaded || !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	var before time.Time
	for _, k := range s.order {
		if m := s.arena[k]; m.ID != "" {
			before = m.CreatedAt
			break
		}
	}
	s.olderGen++
	gen, loadGen := s.olderGen, s.loadGen
	limit := s.pageSize
	s.mu.Unlock()

	if before.IsZero() {
		return nil
	}
	msgs, err := s.history.List(ctx, s.convID, Page{Before: before, Limit: limit})

	s.mu.Lock()
	if s.closed || gen != s.olderGen || loadGen != s.loadGen {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("load older history: %w", err)
	}
	msgs = slices.Clone(msgs)
	slices.SortStableFunc(msgs, func(a, b model.Message) int { return a.CreatedAt.Compare(b.CreatedAt) })
	prefix := make([]Key, 0, len(msgs))
	for _, m := range msgs {
		if m.ConversationID == "" {
			m.ConversationID = s.convID
		}
		if _, ok := s.lookupLocked(m); ok {
			continue
		}
		prefix = append(prefix, s.insertLocked(m))
	}
	s.order = append(prefix, s.order...)
	s.hasMore = len(msgs) >= limit
	s.mu.Unlock()

	if len(prefix) > 0 {
		s.changed()
	}
	return nil
}

// HasMore reports whether LoadOlder may return more messages.
func (s *Stream) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Begin appends a pending outbound message with a fresh correlation id and
// returns it. Nothing is sent until Dispatch.
func (s *Stream) Begin(body string, media *model.Media) (Item, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Item{}, ErrClosed
	}
	m := model.Message{
		ConversationID: s.convID,
		CorrelationID:  s.newID(),
		Direction:      model.Outbound,
		Body:           body,
		Media:          media,
		Status:         model.DeliveryPending,
		CreatedAt:      s.now(),
		Sender:         s.label,
	}
	k := s.insertLocked(m)
	s.order = append(s.order, k)
	s.trailingLocked()
	s.mu.Unlock()

	s.changed()
	return Item{Key: k, Message: m}, nil
}

// Dispatch sends the pending message k. On success the confirmation is
// reconciled into place; on failure the message is marked failed with the
// error text and stays in the log.
func (s *Stream) Dispatch(ctx context.Context, k Key) (model.Message, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.Message{}, ErrClosed
	}
	m, ok := s.arena[k]
	if !ok {
		s.mu.Unlock()
		return model.Message{}, ErrNotFound
	}
	if m.Status != model.DeliveryPending || m.ID != "" {
		s.mu.Unlock()
		return model.Message{}, ErrNotPending
	}
	req := SendRequest{
		ConversationID: s.convID,
		CorrelationID:  m.CorrelationID,
		Channel:        s.channel,
		Body:           m.Body,
		Media:          m.Media,
		Sender:         m.Sender,
	}
	s.mu.Unlock()

	confirmed, err := s.sender.Send(ctx, req)
	if err != nil {
		s.fail(k, req.CorrelationID, err.Error())
		return model.Message{}, fmt.Errorf("send message: %w", err)
	}
	if confirmed.CorrelationID == "" {
		confirmed.CorrelationID = req.CorrelationID
	}
	if confirmed.ConversationID == "" {
		confirmed.ConversationID = s.convID
	}
	if confirmed.Direction == "" {
		confirmed.Direction = model.Outbound
	}
	if confirmed.Status == "" || confirmed.Status == model.DeliveryPending {
		confirmed.Status = model.DeliverySent
	}
	s.Reconcile(confirmed)
	return confirmed, nil
}

func (s *Stream) fail(k Key, correlationID, reason string) {
	s.mu.Lock()
	m, ok := s.arena[k]
	if s.closed || !ok || m.Status != model.DeliveryPending {
		// A push may already have confirmed it.
		s.mu.Unlock()
		return
	}
	m.Status = model.DeliveryFailed
	m.FailureReason = reason
	s.mu.Unlock()

	s.logger.Warn("send failed", zap.String("correlation_id", correlationID), zap.String("reason", reason))
	s.bus.Emit(bus.ThreadFailed, FailedSend{ConversationID: s.convID, CorrelationID: correlationID, Reason: reason})
	s.changed()
}

// SendOptimistic appends a pending message and sends it. The returned item
// reflects the message as it was appended.
func (s *Stream) SendOptimistic(ctx context.Context, body string, media *model.Media) (Item, error) {
	it, err := s.Begin(body, media)
	if err != nil {
		return Item{}, err
	}
	_, err = s.Dispatch(ctx, it.Key)
	return it, err
}

// Retry sends the body of failed message k again as a new message. The
// failed message stays visible.
func (s *Stream) Retry(ctx context.Context, k Key) (Item, error) {
	s.mu.Lock()
	m, ok := s.arena[k]
	if !ok {
		s.mu.Unlock()
		return Item{}, ErrNotFound
	}
	if m.Status != model.DeliveryFailed {
		s.mu.Unlock()
		return Item{}, ErrNotFailed
	}
	body, media := m.Body, m.Media
	s.mu.Unlock()

	return s.SendOptimistic(ctx, body, media)
}

// Reconcile merges a confirmed or pushed message. It replaces the matching
// entry in place (by id, then correlation id, then a pending outbound
// message with the same content inside the match window) or appends it.
// It reports whether the log changed.
func (s *Stream) Reconcile(msg model.Message) bool {
	if msg.ConversationID != "" && msg.ConversationID != s.convID {
		return false
	}
	msg.ConversationID = s.convID

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	k, ok := s.lookupLocked(msg)
	if !ok && msg.CorrelationID == "" && msg.ID != "" {
		k, ok = s.matchContentLocked(msg)
	}
	if ok {
		changed := s.mergeLocked(k, msg)
		s.mu.Unlock()
		if changed {
			s.changed()
		}
		return changed
	}
	k = s.insertLocked(msg)
	s.order = append(s.order, k)
	s.trailingLocked()
	s.mu.Unlock()

	s.changed()
	return true
}

// ApplyStatus moves a message forward to status. Updates that would move it
// backwards are ignored. Either id or correlationID may be empty.
func (s *Stream) ApplyStatus(id, correlationID string, status model.DeliveryStatus, reason string) bool {
	s.mu.Lock()
	k, ok := s.lookupLocked(model.Message{ID: id, CorrelationID: correlationID})
	if s.closed || !ok {
		s.mu.Unlock()
		return false
	}
	m := s.arena[k]
	if status.Rank() <= m.Status.Rank() {
		s.mu.Unlock()
		return false
	}
	m.Status = status
	if status == model.DeliveryFailed {
		m.FailureReason = reason
	}
	s.mu.Unlock()

	s.changed()
	return true
}

// MarkRead tells the read marker the conversation has been seen up to the
// newest inbound message. Calls with nothing new to acknowledge do nothing.
func (s *Stream) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.reader == nil {
		s.mu.Unlock()
		return nil
	}
	latest := s.latestInboundLocked()
	if latest.IsZero() || !latest.After(s.readUntil) {
		s.mu.Unlock()
		return nil
	}
	prev := s.readUntil
	s.readUntil = latest
	s.mu.Unlock()

	if err := s.reader.MarkRead(ctx, s.convID); err != nil {
		s.mu.Lock()
		if s.readUntil.Equal(latest) {
			s.readUntil = prev
		}
		s.mu.Unlock()
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (s *Stream) latestInboundLocked() time.Time {
	var t time.Time
	for _, k := range s.order {
		if m := s.arena[k]; m.Direction == model.Inbound && m.CreatedAt.After(t) {
			t = m.CreatedAt
		}
	}
	return t
}

// Messages returns the log in display order.
func (s *Stream) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.order))
	for i, k := range s.order {
		out[i] = *s.arena[k]
	}
	return out
}

// Items returns the log with keys, in display order.
func (s *Stream) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, len(s.order))
	for i, k := range s.order {
		out[i] = Item{Key: k, Message: *s.arena[k]}
	}
	return out
}

// Get returns the message stored under k.
func (s *Stream) Get(k Key) (model.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.arena[k]
	if !ok {
		return model.Message{}, false
	}
	return *m, true
}

// SetAtEnd records whether the view is positioned at the newest message.
// New trailing messages only request an animated scroll while it is.
func (s *Stream) SetAtEnd(atEnd bool) {
	s.mu.Lock()
	s.atEnd = atEnd
	s.mu.Unlock()
}

// TakeScroll returns the pending scroll request and clears it.
func (s *Stream) TakeScroll() Scroll {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc := s.scroll
	s.scroll = ScrollNone
	return sc
}

// Close detaches the stream. In-flight loads and sends are ignored once
// they return. Close is idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Stream) trailingLocked() {
	if s.scroll == ScrollJump || !s.atEnd {
		return
	}
	s.scroll = ScrollAnimate
}

func (s *Stream) changed() {
	s.bus.Emit(bus.ThreadChanged, s.convID)
}
