package call

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// State is the lifecycle state of one call attempt.
type State string

const (
	Idle       State = "idle"
	Initiating State = "initiating"
	Ringing    State = "ringing"
	Connected  State = "connected"
	Ended      State = "ended"
)

// validTransitions lists the states reachable from each state. Ended is
// terminal; a new call needs a new Session.
var validTransitions = map[State][]State{
	Idle:       {Initiating},
	Initiating: {Ringing, Idle},
	Ringing:    {Connected, Idle},
	Connected:  {Ended},
	Ended:      {},
}

// Mode is the requested media of a call.
type Mode string

const (
	Voice Mode = "voice"
	Video Mode = "video"
)

var (
	// ErrNoTarget rejects a call to a conversation without a phone number.
	ErrNoTarget = errors.New("call: conversation has no phone target")

	// ErrInactive rejects mute and speaker changes outside ringing/connected.
	ErrInactive = errors.New("call: not ringing or connected")

	// ErrRemoteEnded records a provider hangup before the call connected.
	ErrRemoteEnded = errors.New("call: ended by provider before connecting")

	ErrClosed = errors.New("call: session closed")
)

// TransitionError reports an event that is illegal in the current state.
type TransitionError struct {
	From  State
	To    State
	Event string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("call: cannot %s while %s", e.Event, e.From)
}

func checkTransition(from, to State, event string) error {
	if !slices.Contains(validTransitions[from], to) {
		return &TransitionError{From: from, To: to, Event: event}
	}
	return nil
}

// SignalKind is a provider-side call event.
type SignalKind string

const (
	SignalRinging   SignalKind = "ringing"
	SignalConnected SignalKind = "connected"
	SignalEnded     SignalKind = "ended"
	SignalFailed    SignalKind = "failed"
)

// Signal is delivered by the transport while a call is in progress.
type Signal struct {
	Kind SignalKind
	Err  error
}

// Transport places calls. Initiate returns a channel of provider signals
// that the transport closes when the call is over.
type Transport interface {
	Initiate(ctx context.Context, number string, mode Mode) (<-chan Signal, error)
	Hangup(ctx context.Context) error
}

// StateChange is the payload of bus.CallStateChanged.
type StateChange struct {
	ConversationID string
	From           State
	To             State
}

// Tick is the payload of bus.CallTick.
type Tick struct {
	ConversationID string
	Seconds        int
}
