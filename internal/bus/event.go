package bus

import "time"

// Event kinds published by the inbox components. Subscribers filter by
// prefix, so "conversations." receives every conversation list change.
const (
	ConversationsChanged = "conversations.changed"
	ConversationsCounts  = "conversations.counts"
	ConversationsError   = "conversations.error"

	ThreadChanged = "thread.changed"
	ThreadFailed  = "thread.send_failed"

	CallStateChanged = "call.state_changed"
	CallTick         = "call.tick"

	// Push events re-published by the daemon after ingestion. The suffix is
	// the model.EventKind, e.g. "push.message.created".
	PushPrefix = "push."

	DaemonStatusChanged = "daemon.status_changed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
