package model

import "time"

// EventKind names a push event delivered by the upstream channel.
type EventKind string

const (
	ConversationUpdated  EventKind = "conversation.updated"
	ConversationRemoved  EventKind = "conversation.removed"
	MessageCreated       EventKind = "message.created"
	MessageStatusChanged EventKind = "message.status_changed"
)

// Event is a single push delivery. Delivery is at-least-once, so consumers
// must tolerate seeing the same event more than once.
type Event struct {
	ID             string         `json:"id"`
	Kind           EventKind      `json:"kind"`
	ConversationID string         `json:"conversation_id"`
	Seq            int64          `json:"seq,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Conversation   *Conversation  `json:"conversation,omitempty"`
	Message        *Message       `json:"message,omitempty"`
	MessageID      string         `json:"message_id,omitempty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	Status         DeliveryStatus `json:"status,omitempty"`
	Reason         string         `json:"reason,omitempty"`
}
