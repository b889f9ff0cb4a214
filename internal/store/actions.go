package store

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/inbox/internal/model"
)

// ActionKind names an agent action on a conversation.
type ActionKind string

const (
	ActionAssign    ActionKind = "assign"
	ActionUnassign  ActionKind = "unassign"
	ActionStar      ActionKind = "star"
	ActionUnstar    ActionKind = "unstar"
	ActionArchive   ActionKind = "archive"
	ActionUnarchive ActionKind = "unarchive"
	ActionStatus    ActionKind = "status"
	ActionPurpose   ActionKind = "purpose"
	ActionSnooze    ActionKind = "snooze"
	ActionUnsnooze  ActionKind = "unsnooze"
)

// Action is one agent change. Value carries the assignee id, status or
// purpose; Until is the snooze deadline.
type Action struct {
	Kind  ActionKind `json:"kind" validate:"required,oneof=assign unassign star unstar archive unarchive status purpose snooze unsnooze"`
	Value string     `json:"value,omitempty"`
	Until time.Time  `json:"until,omitzero"`
}

// ActionError rejects an action whose value does not fit its kind.
type ActionError struct {
	Kind   ActionKind
	Reason string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("invalid %s action: %s", e.Kind, e.Reason)
}

// ApplyAction updates one conversation and returns its new state.
func (db *DB) ApplyAction(ctx context.Context, id string, a Action) (model.Conversation, error) {
	set, arg, err := actionClause(a)
	if err != nil {
		return model.Conversation{}, err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE conversations SET `+set+`, updated_at = ? WHERE id = ?`,
		arg, time.Now().UnixMilli(), id)
	if err != nil {
		return model.Conversation{}, fmt.Errorf("apply %s: %w", a.Kind, err)
	}
	if err := requireRow(res, "conversation", id); err != nil {
		return model.Conversation{}, err
	}
	return db.GetConversation(ctx, id)
}

func actionClause(a Action) (string, any, error) {
	switch a.Kind {
	case ActionAssign:
		if a.Value == "" {
			return "", nil, &ActionError{Kind: a.Kind, Reason: "missing assignee"}
		}
		return "assignee_id = ?", a.Value, nil
	case ActionUnassign:
		return "assignee_id = ?", "", nil
	case ActionStar, ActionUnstar:
		return "starred = ?", a.Kind == ActionStar, nil
	case ActionArchive, ActionUnarchive:
		return "archived = ?", a.Kind == ActionArchive, nil
	case ActionStatus:
		if !model.Status(a.Value).Valid() {
			return "", nil, &ActionError{Kind: a.Kind, Reason: fmt.Sprintf("unknown status %q", a.Value)}
		}
		return "status = ?", a.Value, nil
	case ActionPurpose:
		if !model.Purpose(a.Value).Valid() {
			return "", nil, &ActionError{Kind: a.Kind, Reason: fmt.Sprintf("unknown purpose %q", a.Value)}
		}
		return "purpose = ?", a.Value, nil
	case ActionSnooze:
		if a.Until.IsZero() {
			return "", nil, &ActionError{Kind: a.Kind, Reason: "missing deadline"}
		}
		return "snoozed_until = ?", a.Until.UnixMilli(), nil
	case ActionUnsnooze:
		return "snoozed_until = ?", nil, nil
	}
	return "", nil, &ActionError{Kind: a.Kind, Reason: "unknown kind"}
}
