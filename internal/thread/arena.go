package thread

import (
	"time"

	"github.com/matheus3301/inbox/internal/model"
)

// Scroll is the positioning request a view should apply after a change.
type Scroll int

const (
	ScrollNone Scroll = iota
	// ScrollJump positions at the end without animation (first paint).
	ScrollJump
	// ScrollAnimate scrolls to a newly arrived trailing message.
	ScrollAnimate
)

func (s Scroll) String() string {
	switch s {
	case ScrollJump:
		return "jump"
	case ScrollAnimate:
		return "animate"
	}
	return "none"
}

func (s *Stream) lookupLocked(m model.Message) (Key, bool) {
	if m.ID != "" {
		if k, ok := s.byID[m.ID]; ok {
			return k, true
		}
	}
	if m.CorrelationID != "" {
		if k, ok := s.byCorrelation[m.CorrelationID]; ok {
			return k, true
		}
	}
	return 0, false
}

// matchContentLocked finds the oldest pending outbound message with the
// same content as m created within the match window.
func (s *Stream) matchContentLocked(m model.Message) (Key, bool) {
	for _, k := range s.order {
		c := s.arena[k]
		if c.ID != "" || c.Status != model.DeliveryPending || c.Direction != m.Direction {
			continue
		}
		if c.Body != m.Body || (c.Media == nil) != (m.Media == nil) {
			continue
		}
		if m.CreatedAt.IsZero() || absDuration(m.CreatedAt.Sub(c.CreatedAt)) <= s.window {
			return k, true
		}
	}
	return 0, false
}

func (s *Stream) insertLocked(m model.Message) Key {
	s.nextKey++
	k := s.nextKey
	cp := m
	s.arena[k] = &cp
	s.indexLocked(k, &cp)
	return k
}

func (s *Stream) indexLocked(k Key, m *model.Message) {
	if m.ID != "" {
		s.byID[m.ID] = k
	}
	if m.CorrelationID != "" {
		s.byCorrelation[m.CorrelationID] = k
	}
}

func (s *Stream) dropLocked(k Key) {
	m, ok := s.arena[k]
	if !ok {
		return
	}
	if m.ID != "" && s.byID[m.ID] == k {
		delete(s.byID, m.ID)
	}
	if m.CorrelationID != "" && s.byCorrelation[m.CorrelationID] == k {
		delete(s.byCorrelation, m.CorrelationID)
	}
	delete(s.arena, k)
}

// mergeLocked folds incoming into the entry at k and reports whether the
// entry changed. Delivery status never moves backwards, except that a local
// send which failed is superseded by its server confirmation.
func (s *Stream) mergeLocked(k Key, incoming model.Message) bool {
	old := s.arena[k]
	merged := incoming
	if merged.ID == "" {
		merged.ID = old.ID
	}
	if merged.CorrelationID == "" {
		merged.CorrelationID = old.CorrelationID
	}
	if merged.Direction == "" {
		merged.Direction = old.Direction
	}
	if merged.Media == nil {
		merged.Media = old.Media
	}
	if merged.Sender == "" {
		merged.Sender = old.Sender
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = old.CreatedAt
	}

	confirmsFailure := old.Status == model.DeliveryFailed && old.ID == "" && incoming.ID != ""
	if !confirmsFailure && merged.Status.Rank() < old.Status.Rank() {
		merged.Status = old.Status
		merged.FailureReason = old.FailureReason
	}
	if merged.Status != model.DeliveryFailed {
		merged.FailureReason = ""
	}

	if merged == *old {
		return false
	}
	*old = merged
	s.indexLocked(k, old)
	return true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
