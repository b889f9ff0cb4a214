package push

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matheus3301/inbox/internal/model"
)

// ErrMalformed marks a payload that can never be applied. Consumers should
// drop it instead of retrying.
var ErrMalformed = errors.New("push: malformed event")

// Decode parses one JSON push event and checks it carries what its kind
// needs.
func Decode(data []byte) (model.Event, error) {
	var ev model.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return model.Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := Validate(ev); err != nil {
		return model.Event{}, err
	}
	return ev, nil
}

// Encode is the inverse of Decode.
func Encode(ev model.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// Validate reports ErrMalformed for events missing their payload.
func Validate(ev model.Event) error {
	switch ev.Kind {
	case model.ConversationUpdated:
		if ev.Conversation == nil || ev.Conversation.ID == "" {
			return fmt.Errorf("%w: %s without conversation", ErrMalformed, ev.Kind)
		}
	case model.ConversationRemoved:
		if conversationOf(ev) == "" {
			return fmt.Errorf("%w: %s without conversation id", ErrMalformed, ev.Kind)
		}
	case model.MessageCreated:
		if ev.Message == nil || conversationOf(ev) == "" {
			return fmt.Errorf("%w: %s without message", ErrMalformed, ev.Kind)
		}
	case model.MessageStatusChanged:
		if ev.MessageID == "" && ev.CorrelationID == "" && ev.Message == nil {
			return fmt.Errorf("%w: %s without message reference", ErrMalformed, ev.Kind)
		}
		if ev.Status.Rank() == 0 {
			return fmt.Errorf("%w: unknown status %q", ErrMalformed, ev.Status)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrMalformed, ev.Kind)
	}
	return nil
}
