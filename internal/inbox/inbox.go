// Package inbox ties the engine together for one agent: the filter drives
// the conversation list, selecting a conversation opens its message stream,
// sends go out with the agent's signature and calls start from the selected
// conversation.
package inbox

import (
	"context"
	"errors"
	"sync"

	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/call"
	"github.com/matheus3301/inbox/internal/classify"
	"github.com/matheus3301/inbox/internal/conversations"
	"github.com/matheus3301/inbox/internal/filter"
	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/push"
	"github.com/matheus3301/inbox/internal/signature"
	"github.com/matheus3301/inbox/internal/thread"
	"go.uber.org/zap"
)

var (
	ErrNoSelection = errors.New("inbox: no conversation selected")
	ErrUnknown     = errors.New("inbox: conversation not in list")
	ErrNoTransport = errors.New("inbox: no call transport configured")
)

// Backend is the set of collaborators the inbox runs against, typically a
// client of the daemon.
type Backend interface {
	conversations.QueryService
	thread.SendService
	thread.ReadMarker
}

// Inbox is the agent-side engine. It is safe for concurrent use.
type Inbox struct {
	backend   Backend
	history   thread.HistoryService
	list      *conversations.Store
	push      *push.Dispatcher
	transport call.Transport
	bus       *bus.Bus
	logger    *zap.Logger
	agent     string

	mu        sync.Mutex
	query     filter.Descriptor
	selected  model.Conversation
	stream    *thread.Stream
	detach    func()
	templates []signature.Template
	profile   signature.Profile
	signature string
	call      *call.Session
	sends     sync.WaitGroup
}

// Option configures an Inbox.
type Option func(*Inbox)

func WithBus(b *bus.Bus) Option              { return func(i *Inbox) { i.bus = b } }
func WithLogger(l *zap.Logger) Option        { return func(i *Inbox) { i.logger = l } }
func WithAgent(id string) Option             { return func(i *Inbox) { i.agent = id } }
func WithProfile(p signature.Profile) Option { return func(i *Inbox) { i.profile = p } }
func WithTransport(t call.Transport) Option  { return func(i *Inbox) { i.transport = t } }

// WithSignatures sets the templates and the explicitly chosen one, if any.
func WithSignatures(ts []signature.Template, explicitID string) Option {
	return func(i *Inbox) {
		i.templates = ts
		i.signature = explicitID
	}
}

// New creates an inbox. src feeds push events once Run is called.
func New(backend Backend, history thread.HistoryService, src push.Source, opts ...Option) *Inbox {
	i := &Inbox{
		backend: backend,
		history: history,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(i)
	}
	if i.logger == nil {
		i.logger = zap.NewNop()
	}
	i.list = conversations.NewStore(backend,
		conversations.WithBus(i.bus),
		conversations.WithLogger(i.logger.Named("conversations")),
		conversations.WithAgent(i.agent))
	i.push = push.NewDispatcher(src, i.list,
		push.WithLogger(i.logger.Named("push")),
		push.WithOnReconnect(i.resync))
	return i
}

// resync refetches the list, counters and open stream after the push
// channel reconnects. Failures stay on the list's Err and are logged.
func (i *Inbox) resync(ctx context.Context) {
	if err := i.list.Retry(ctx); err != nil {
		i.logger.Warn("resync list failed", zap.Error(err))
	}
	if err := i.list.RefreshCounts(ctx); err != nil {
		i.logger.Warn("resync counts failed", zap.Error(err))
	}
	if s := i.Stream(); s != nil {
		if err := s.LoadHistory(ctx); err != nil && !errors.Is(err, thread.ErrClosed) {
			i.logger.Warn("resync history failed", zap.String("conversation_id", s.ConversationID()), zap.Error(err))
		}
	}
}

// Run consumes push events until ctx ends.
func (i *Inbox) Run(ctx context.Context) error {
	return i.push.Run(ctx)
}

// Load fetches the list and counters for the current filter.
func (i *Inbox) Load(ctx context.Context) error {
	i.mu.Lock()
	q := i.query
	i.mu.Unlock()
	if err := i.list.SetQuery(ctx, q); err != nil {
		return err
	}
	return i.list.RefreshCounts(ctx)
}

// SetFilter reduces the current filter by actions and refetches the list.
// The new filter is kept even if the fetch fails; Retry refetches it.
func (i *Inbox) SetFilter(ctx context.Context, actions ...filter.Action) (filter.Descriptor, error) {
	i.mu.Lock()
	i.query = filter.Apply(i.query, actions...)
	q := i.query
	i.mu.Unlock()
	return q, i.list.SetQuery(ctx, q)
}

func (i *Inbox) Filter() filter.Descriptor {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.query
}

// Retry refetches the list after a failure.
func (i *Inbox) Retry(ctx context.Context) error { return i.list.Retry(ctx) }

func (i *Inbox) Conversations() []model.Conversation { return i.list.Conversations() }
func (i *Inbox) Counters() model.Counters            { return i.list.Counters() }
func (i *Inbox) Err() error                          { return i.list.Err() }

// Select opens the message stream of conversation id, replacing the
// previous one, loads its history and marks it read.
func (i *Inbox) Select(ctx context.Context, id string) (*thread.Stream, error) {
	conv, ok := i.list.Get(id)
	if !ok {
		return nil, ErrUnknown
	}

	s := thread.New(id, i.history, i.backend,
		thread.WithBus(i.bus),
		thread.WithLogger(i.logger.Named("thread")),
		thread.WithReadMarker(i.backend),
		thread.WithChannel(conv.Channel),
		thread.WithSenderLabel(i.profile.Name))

	i.mu.Lock()
	prev, prevDetach := i.stream, i.detach
	i.selected = conv
	i.stream = s
	i.detach = i.push.Attach(s)
	i.mu.Unlock()

	if prev != nil {
		prevDetach()
		prev.Close()
	}
	i.list.SetActive(id)
	i.list.ClearUnread(id)

	if err := s.LoadHistory(ctx); err != nil {
		return s, err
	}
	if err := s.MarkRead(ctx); err != nil {
		i.logger.Warn("mark read failed", zap.String("conversation_id", id), zap.Error(err))
	}
	return s, nil
}

// Deselect closes the open stream.
func (i *Inbox) Deselect() {
	i.mu.Lock()
	s, detach := i.stream, i.detach
	i.stream, i.detach = nil, nil
	i.selected = model.Conversation{}
	i.mu.Unlock()
	if s != nil {
		detach()
		s.Close()
	}
	i.list.SetActive("")
}

// Stream returns the open stream, or nil.
func (i *Inbox) Stream() *thread.Stream {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stream
}

// Selected returns the open conversation. It stays available when a
// filter change drops the conversation from the list; while it is listed
// the copy follows the list's updates.
func (i *Inbox) Selected() (model.Conversation, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stream == nil {
		return model.Conversation{}, false
	}
	if conv, ok := i.list.Get(i.selected.ID); ok {
		i.selected = conv
	}
	return i.selected, true
}

// Units groups the open stream's messages for rendering.
func (i *Inbox) Units() []classify.Unit {
	s := i.Stream()
	if s == nil {
		return nil
	}
	return classify.Classify(s.Messages())
}

// Compose returns draft with the signature that applies to the open
// conversation's channel.
func (i *Inbox) Compose(draft string) (string, error) {
	conv, ok := i.Selected()
	if !ok {
		return "", ErrNoSelection
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return signature.Resolve(draft, i.templates, conv.Channel, i.signature, i.profile), nil
}

// Send appends the signed draft to the open stream and sends it in the
// background. The returned item is the pending message; its outcome
// arrives as a stream change.
func (i *Inbox) Send(ctx context.Context, draft string, media *model.Media) (thread.Item, error) {
	body, err := i.Compose(draft)
	if err != nil {
		return thread.Item{}, err
	}
	s := i.Stream()
	if s == nil {
		return thread.Item{}, ErrNoSelection
	}
	it, err := s.Begin(body, media)
	if err != nil {
		return thread.Item{}, err
	}
	i.sends.Add(1)
	go func() {
		defer i.sends.Done()
		if _, err := s.Dispatch(context.WithoutCancel(ctx), it.Key); err != nil && !errors.Is(err, thread.ErrClosed) {
			i.logger.Debug("background send failed", zap.String("correlation_id", it.Message.CorrelationID), zap.Error(err))
		}
	}()
	return it, nil
}

// Wait blocks until background sends have finished.
func (i *Inbox) Wait() { i.sends.Wait() }

// StartCall dials the selected conversation. A running call is closed first.
func (i *Inbox) StartCall(ctx context.Context, mode call.Mode) (*call.Session, error) {
	if i.transport == nil {
		return nil, ErrNoTransport
	}
	conv, ok := i.Selected()
	if !ok {
		return nil, ErrNoSelection
	}
	cs := call.NewSession(conv, mode, i.transport,
		call.WithBus(i.bus),
		call.WithLogger(i.logger.Named("call")))

	i.mu.Lock()
	prev := i.call
	i.call = cs
	i.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return cs, cs.Start(ctx)
}

// Call returns the current call session, or nil.
func (i *Inbox) Call() *call.Session {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.call
}

// Close tears down the stream and call and waits for background sends.
func (i *Inbox) Close() {
	i.Deselect()
	i.mu.Lock()
	c := i.call
	i.call = nil
	i.mu.Unlock()
	if c != nil {
		c.Close()
	}
	i.sends.Wait()
}
