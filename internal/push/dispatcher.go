// Package push routes upstream push events to the conversation list and
// to the open message streams.
package push

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/matheus3301/inbox/internal/model"
	"github.com/matheus3301/inbox/internal/thread"
	"go.uber.org/zap"
)

// Source is an at-least-once push channel. The returned channel is closed
// when the connection drops; Run then reconnects.
type Source interface {
	Events(ctx context.Context) (<-chan model.Event, error)
}

// ConversationSink receives conversation level events.
type ConversationSink interface {
	ApplyPush(ctx context.Context, ev model.Event) error
}

// Dispatcher applies events from a single goroutine in delivery order,
// which keeps per-conversation order intact. Events whose sequence number
// is not above the last one applied for their conversation are dropped.
type Dispatcher struct {
	src    Source
	sink   ConversationSink
	logger *zap.Logger

	backoffBase time.Duration
	backoffCap  time.Duration
	onReconnect func(context.Context)

	mu      sync.Mutex
	streams map[string]*thread.Stream
	lastSeq map[string]int64
	applied int64
	dropped int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

func WithLogger(l *zap.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithOnReconnect registers fn to run after every connect but the first,
// before the new connection's events are applied. Events published while
// the source was down are lost, so fn refetches whatever they would have
// changed.
func WithOnReconnect(fn func(context.Context)) Option {
	return func(d *Dispatcher) { d.onReconnect = fn }
}

// WithBackoff sets the reconnect delay range.
func WithBackoff(base, cap time.Duration) Option {
	return func(d *Dispatcher) {
		if base > 0 {
			d.backoffBase = base
		}
		if cap >= d.backoffBase {
			d.backoffCap = cap
		}
	}
}

// NewDispatcher creates a dispatcher reading from src. sink may be nil.
func NewDispatcher(src Source, sink ConversationSink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		src:         src,
		sink:        sink,
		logger:      zap.NewNop(),
		backoffBase: time.Second,
		backoffCap:  30 * time.Second,
		streams:     make(map[string]*thread.Stream),
		lastSeq:     make(map[string]int64),
	}
	for _, o := range opts {
		o(d)
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// Attach routes message events of the stream's conversation to it until
// the returned detach function is called. A newer stream for the same
// conversation replaces the older one.
func (d *Dispatcher) Attach(s *thread.Stream) (detach func()) {
	id := s.ConversationID()
	d.mu.Lock()
	d.streams[id] = s
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		if d.streams[id] == s {
			delete(d.streams, id)
		}
		d.mu.Unlock()
	}
}

// Run consumes the source until ctx is done, reconnecting with jittered
// exponential backoff whenever the source drops.
func (d *Dispatcher) Run(ctx context.Context) error {
	backoff := d.backoffBase
	for connects := 0; ; {
		events, err := d.src.Events(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := jittered(backoff, d.backoffCap)
			d.logger.Warn("push connect failed", zap.Error(err), zap.Duration("retry_in", wait))
			if !sleep(ctx, wait) {
				return ctx.Err()
			}
			if backoff*2 <= d.backoffCap {
				backoff *= 2
			}
			continue
		}
		backoff = d.backoffBase
		connects++
		d.logger.Info("push channel connected", zap.Int("connects", connects))
		if connects > 1 && d.onReconnect != nil {
			d.onReconnect(ctx)
		}

		if err := d.drain(ctx, events); err != nil {
			return err
		}
		d.logger.Warn("push channel closed, reconnecting")
	}
}

func (d *Dispatcher) drain(ctx context.Context, events <-chan model.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := d.Apply(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
				d.logger.Warn("applying push event failed",
					zap.Error(err),
					zap.String("kind", string(ev.Kind)),
					zap.String("conversation_id", ev.ConversationID))
			}
		}
	}
}

// Apply routes one event. It is what Run calls for every delivery.
func (d *Dispatcher) Apply(ctx context.Context, ev model.Event) error {
	convID := conversationOf(ev)
	if convID == "" {
		return nil
	}
	ev.ConversationID = convID

	d.mu.Lock()
	if ev.Seq > 0 {
		if ev.Seq <= d.lastSeq[convID] {
			d.dropped++
			d.mu.Unlock()
			d.logger.Debug("dropping replayed push event", zap.String("conversation_id", convID), zap.Int64("seq", ev.Seq))
			return nil
		}
		d.lastSeq[convID] = ev.Seq
	}
	d.applied++
	stream := d.streams[convID]
	d.mu.Unlock()

	switch ev.Kind {
	case model.MessageCreated:
		if stream != nil && ev.Message != nil {
			stream.Reconcile(*ev.Message)
		}
	case model.MessageStatusChanged:
		if stream != nil {
			id, corr := ev.MessageID, ev.CorrelationID
			if ev.Message != nil {
				id, corr = firstNonEmpty(id, ev.Message.ID), firstNonEmpty(corr, ev.Message.CorrelationID)
			}
			stream.ApplyStatus(id, corr, ev.Status, ev.Reason)
		}
		return nil
	}
	if d.sink == nil {
		return nil
	}
	return d.sink.ApplyPush(ctx, ev)
}

// Stats returns how many events were applied and how many were dropped as
// replays.
func (d *Dispatcher) Stats() (applied, dropped int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applied, d.dropped
}

func conversationOf(ev model.Event) string {
	switch {
	case ev.ConversationID != "":
		return ev.ConversationID
	case ev.Conversation != nil:
		return ev.Conversation.ID
	case ev.Message != nil:
		return ev.Message.ConversationID
	}
	return ""
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func jittered(base, cap time.Duration) time.Duration {
	delta := (rand.Float64()*2 - 1) * 0.25
	wait := time.Duration(float64(base) * (1 + delta))
	if wait <= 0 {
		wait = base
	}
	if wait > cap {
		wait = cap
	}
	return wait
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
