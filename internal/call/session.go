// Package call implements the lifecycle of a single voice or video call.
package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/inbox/internal/bus"
	"github.com/matheus3301/inbox/internal/model"
	"go.uber.org/zap"
)

const hangupTimeout = 5 * time.Second

// Session is one call attempt from a conversation. It is safe for
// concurrent use; the transport is never called with the lock held.
type Session struct {
	mu sync.Mutex

	convID    string
	target    string
	mode      Mode
	transport Transport
	bus       *bus.Bus
	logger    *zap.Logger
	now       func() time.Time
	tickEvery time.Duration

	state     State
	attempt   uint64
	startedAt time.Time
	duration  time.Duration
	muted     bool
	speaker   bool
	err       error
	closed    bool

	stopTick   chan struct{}
	stopPump   context.CancelFunc
	background sync.WaitGroup
}

// Option configures a Session.
type Option func(*Session)

func WithBus(b *bus.Bus) Option             { return func(s *Session) { s.bus = b } }
func WithLogger(l *zap.Logger) Option       { return func(s *Session) { s.logger = l } }
func WithClock(now func() time.Time) Option { return func(s *Session) { s.now = now } }

// WithTickInterval sets how often a connected call publishes bus.CallTick.
func WithTickInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.tickEvery = d
		}
	}
}

// NewSession prepares an idle call for conv.
func NewSession(conv model.Conversation, mode Mode, transport Transport, opts ...Option) *Session {
	if mode != Video {
		mode = Voice
	}
	s := &Session{
		convID:    conv.ID,
		target:    conv.PhoneTarget(),
		mode:      mode,
		transport: transport,
		logger:    zap.NewNop(),
		now:       time.Now,
		tickEvery: time.Second,
		state:     Idle,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.With(zap.String("conversation_id", conv.ID), zap.String("mode", string(mode)))
	return s
}

// Start dials the conversation's phone target. Without a target the call
// is rejected with ErrNoTarget and the state does not change. If the
// transport fails before the call connects the session returns to idle and
// Err reports why.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err := checkTransition(s.state, Initiating, "start"); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.target == "" {
		s.mu.Unlock()
		return ErrNoTarget
	}
	s.err = nil
	s.attempt++
	attempt := s.attempt
	pumpCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopPump = cancel
	change := s.setLocked(Initiating)
	target, mode := s.target, s.mode
	s.mu.Unlock()
	s.publish(change)

	signals, err := s.transport.Initiate(pumpCtx, target, mode)

	s.mu.Lock()
	if attempt != s.attempt || s.state != Initiating || s.closed {
		// Cancelled while dialing.
		s.mu.Unlock()
		cancel()
		if err == nil {
			s.hangupTransport()
		}
		return nil
	}
	if err != nil {
		s.err = err
		change := s.abortLocked()
		s.mu.Unlock()
		s.publish(change)
		s.logger.Warn("call initiation failed", zap.Error(err))
		return fmt.Errorf("initiate call: %w", err)
	}
	s.background.Add(1)
	s.mu.Unlock()

	go s.pump(pumpCtx, attempt, signals)
	return nil
}

func (s *Session) pump(ctx context.Context, attempt uint64, signals <-chan Signal) {
	defer s.background.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				s.remoteEnded(attempt, nil)
				return
			}
			s.handle(attempt, sig)
		}
	}
}

func (s *Session) handle(attempt uint64, sig Signal) {
	var err error
	switch sig.Kind {
	case SignalRinging:
		err = s.ProviderRings()
	case SignalConnected:
		err = s.ProviderConnects()
	case SignalFailed, SignalEnded:
		s.remoteEnded(attempt, sig.Err)
	}
	if err != nil {
		s.logger.Debug("ignoring provider signal", zap.String("signal", string(sig.Kind)), zap.Error(err))
	}
}

// remoteEnded handles the provider finishing the call: before connection
// it aborts to idle, afterwards it ends the call.
func (s *Session) remoteEnded(attempt uint64, cause error) {
	s.mu.Lock()
	if attempt != s.attempt {
		s.mu.Unlock()
		return
	}
	var change *StateChange
	switch s.state {
	case Initiating, Ringing:
		if cause == nil {
			cause = ErrRemoteEnded
		}
		s.err = cause
		change = s.abortLocked()
	case Connected:
		s.err = cause
		change = s.endLocked()
	}
	s.mu.Unlock()
	s.publish(change)
}

// ProviderRings moves an initiating call to ringing.
func (s *Session) ProviderRings() error {
	s.mu.Lock()
	if err := checkTransition(s.state, Ringing, "ring"); err != nil {
		s.mu.Unlock()
		return err
	}
	change := s.setLocked(Ringing)
	s.mu.Unlock()
	s.publish(change)
	return nil
}

// ProviderConnects moves a ringing call to connected and starts the
// elapsed timer.
func (s *Session) ProviderConnects() error {
	s.mu.Lock()
	if err := checkTransition(s.state, Connected, "connect"); err != nil {
		s.mu.Unlock()
		return err
	}
	s.startedAt = s.now()
	s.duration = 0
	change := s.setLocked(Connected)
	if !s.closed {
		s.startTickerLocked()
	}
	s.mu.Unlock()
	s.publish(change)
	return nil
}

// Hangup ends a connected call and freezes its duration.
func (s *Session) Hangup(ctx context.Context) error {
	s.mu.Lock()
	if err := checkTransition(s.state, Ended, "hang up"); err != nil {
		s.mu.Unlock()
		return err
	}
	change := s.endLocked()
	s.mu.Unlock()
	s.publish(change)

	if err := s.transport.Hangup(ctx); err != nil {
		return fmt.Errorf("hang up: %w", err)
	}
	return nil
}

// Cancel abandons a call that has not connected yet.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Initiating && s.state != Ringing {
		err := &TransitionError{From: s.state, To: Idle, Event: "cancel"}
		s.mu.Unlock()
		return err
	}
	change := s.abortLocked()
	s.mu.Unlock()
	s.publish(change)

	if err := s.transport.Hangup(ctx); err != nil {
		return fmt.Errorf("cancel call: %w", err)
	}
	return nil
}

// Close tears the session down: an active call is hung up, the timer is
// stopped and the transport pump exits. Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	active := s.state == Initiating || s.state == Ringing || s.state == Connected
	var change *StateChange
	switch s.state {
	case Initiating, Ringing:
		change = s.abortLocked()
	case Connected:
		change = s.endLocked()
	default:
		s.stopTickerLocked()
		s.stopPumpLocked()
	}
	s.mu.Unlock()
	s.publish(change)

	if active {
		s.hangupTransport()
	}
	s.background.Wait()
}

func (s *Session) hangupTransport() {
	ctx, cancel := context.WithTimeout(context.Background(), hangupTimeout)
	defer cancel()
	if err := s.transport.Hangup(ctx); err != nil {
		s.logger.Warn("transport hangup failed", zap.Error(err))
	}
}

// SetMuted toggles the microphone flag while ringing or connected.
func (s *Session) SetMuted(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ringing && s.state != Connected {
		return ErrInactive
	}
	s.muted = on
	return nil
}

// SetSpeaker toggles the speaker flag while ringing or connected.
func (s *Session) SetSpeaker(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Ringing && s.state != Connected {
		return ErrInactive
	}
	s.speaker = on
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Session) Speaker() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaker
}

// Err returns why the last attempt aborted, if it did.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Elapsed is the connected time: running while connected, frozen once
// ended, zero otherwise.
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

func (s *Session) elapsedLocked() time.Duration {
	switch s.state {
	case Connected:
		return s.now().Sub(s.startedAt)
	case Ended:
		return s.duration
	}
	return 0
}

// Running reports whether the elapsed timer is ticking.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopTick != nil
}

// ConversationID returns the conversation the call was placed from.
func (s *Session) ConversationID() string { return s.convID }

func (s *Session) setLocked(to State) *StateChange {
	from := s.state
	s.state = to
	return &StateChange{ConversationID: s.convID, From: from, To: to}
}

func (s *Session) abortLocked() *StateChange {
	s.stopTickerLocked()
	s.stopPumpLocked()
	s.startedAt = time.Time{}
	s.duration = 0
	s.muted, s.speaker = false, false
	return s.setLocked(Idle)
}

func (s *Session) endLocked() *StateChange {
	s.duration = s.now().Sub(s.startedAt)
	s.stopTickerLocked()
	s.stopPumpLocked()
	return s.setLocked(Ended)
}

func (s *Session) stopPumpLocked() {
	if s.stopPump != nil {
		s.stopPump()
		s.stopPump = nil
	}
}

func (s *Session) startTickerLocked() {
	s.stopTickerLocked()
	stop := make(chan struct{})
	s.stopTick = stop
	ticker := time.NewTicker(s.tickEvery)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				secs := int(s.elapsedLocked() / time.Second)
				s.mu.Unlock()
				s.bus.Emit(bus.CallTick, Tick{ConversationID: s.convID, Seconds: secs})
			}
		}
	}()
}

func (s *Session) stopTickerLocked() {
	if s.stopTick != nil {
		close(s.stopTick)
		s.stopTick = nil
	}
}

func (s *Session) publish(change *StateChange) {
	if change == nil || change.From == change.To {
		return
	}
	s.logger.Info("call state changed", zap.String("from", string(change.From)), zap.String("to", string(change.To)))
	s.bus.Emit(bus.CallStateChanged, *change)
}
