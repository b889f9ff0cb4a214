// Package status tracks the daemon lifecycle. Every change is published on
// the bus as a StatusChange so the health endpoint and API follow it.
package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/inbox/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting      State = "BOOTING"
	Migrating    State = "MIGRATING"
	Connecting   State = "CONNECTING"
	Ready        State = "READY"
	Reconnecting State = "RECONNECTING"
	Degraded     State = "DEGRADED"
	Error        State = "ERROR"
)

// Migrating goes straight to Ready when no broker is configured.
var validTransitions = map[State][]State{
	Booting:      {Migrating, Error},
	Migrating:    {Connecting, Ready, Error},
	Connecting:   {Ready, Reconnecting, Degraded, Error},
	Ready:        {Reconnecting, Degraded, Error},
	Reconnecting: {Connecting, Degraded, Error},
	Degraded:     {Connecting, Reconnecting, Ready, Error},
	Error:        {Booting},
}

// Serves reports whether the API answers from the local store in s. The
// store is open in every state past Migrating, whether or not the broker
// is connected.
func (s State) Serves() bool {
	switch s {
	case Connecting, Ready, Reconnecting, Degraded:
		return true
	}
	return false
}

// TransitionError rejects a change the lifecycle does not allow.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// StatusChange is the payload of bus.DaemonStatusChanged.
type StatusChange struct {
	From State `json:"from"`
	To   State `json:"to"`
}

// Machine holds the current state. It is safe for concurrent use.
type Machine struct {
	mu      sync.RWMutex
	current State
	since   time.Time
	bus     *bus.Bus
}

// NewMachine starts in Booting. b may be nil.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{current: Booting, since: time.Now(), bus: b}
}

func (m *Machine) Current() State {
	s, _ := m.Snapshot()
	return s
}

// Since returns when the current state was entered.
func (m *Machine) Since() time.Time {
	_, t := m.Snapshot()
	return t
}

// Snapshot returns the state and its entry time together.
func (m *Machine) Snapshot() (State, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.since
}

// Transition moves to a new state or returns a *TransitionError.
func (m *Machine) Transition(to State) error {
	_, err := m.move(to, false)
	return err
}

// Ensure moves to a new state unless the machine is already there. changed
// is false for the no-op.
func (m *Machine) Ensure(to State) (changed bool, err error) {
	return m.move(to, true)
}

func (m *Machine) move(to State, allowSame bool) (bool, error) {
	m.mu.Lock()
	from := m.current
	if allowSame && from == to {
		m.mu.Unlock()
		return false, nil
	}
	if !slices.Contains(validTransitions[from], to) {
		m.mu.Unlock()
		return false, &TransitionError{From: from, To: to}
	}
	m.current = to
	m.since = time.Now()
	at := m.since
	m.mu.Unlock()

	m.bus.Publish(bus.Event{
		Kind:      bus.DaemonStatusChanged,
		Timestamp: at,
		Payload:   StatusChange{From: from, To: to},
	})
	return true, nil
}
