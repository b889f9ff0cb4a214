// Package classify turns an ordered message log into render units.
package classify

import (
	"regexp"
	"strings"

	"github.com/matheus3301/inbox/internal/model"
)

// UnitKind distinguishes a single message from a cluster of images.
type UnitKind int

const (
	UnitMessage UnitKind = iota + 1
	UnitImageGroup
)

func (k UnitKind) String() string {
	switch k {
	case UnitMessage:
		return "message"
	case UnitImageGroup:
		return "image_group"
	}
	return "unknown"
}

// Unit is one renderable block. A message unit holds exactly one message;
// an image group holds one or more consecutive images of one direction.
type Unit struct {
	Kind      UnitKind
	Direction model.Direction
	Messages  []model.Message
}

// Len returns the number of messages in the unit.
func (u Unit) Len() int { return len(u.Messages) }

// Classify groups consecutive same-direction image messages. Any other
// message, a change of direction, or the end of input closes the open
// group. Single images still form a group. The input is not modified.
func Classify(msgs []model.Message) []Unit {
	units := make([]Unit, 0, len(msgs))
	var open *Unit
	flush := func() {
		if open != nil {
			units = append(units, *open)
			open = nil
		}
	}
	for i := range msgs {
		m := msgs[i]
		if !IsImage(&m) {
			flush()
			units = append(units, Unit{Kind: UnitMessage, Direction: m.Direction, Messages: []model.Message{m}})
			continue
		}
		if open != nil && open.Direction != m.Direction {
			flush()
		}
		if open == nil {
			open = &Unit{Kind: UnitImageGroup, Direction: m.Direction}
		}
		open.Messages = append(open.Messages, m)
	}
	flush()
	return units
}

var placeholders = map[string]bool{
	"[image]":         true,
	"[photo]":         true,
	"[video]":         true,
	"[audio]":         true,
	"[voice message]": true,
	"[document]":      true,
	"[file]":          true,
	"[sticker]":       true,
	"[attachment]":    true,
	"<media omitted>": true,
}

var counterPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\[\s*\d+\s+(images?|photos?|videos?|files?|attachments?|documents?)\s*\]$`),
	regexp.MustCompile(`(?i)^\d+\s+(images?|photos?|videos?|files?|attachments?|documents?)$`),
	regexp.MustCompile(`(?i)^\[?\s*(image|photo|video|file|attachment)\s+\d+\s+of\s+\d+\s*\]?$`),
}

// IsPlaceholder reports whether body is a bare media marker rather than
// text written by someone.
func IsPlaceholder(body string) bool {
	b := strings.TrimSpace(body)
	if b == "" {
		return false
	}
	if placeholders[strings.ToLower(b)] {
		return true
	}
	for _, re := range counterPatterns {
		if re.MatchString(b) {
			return true
		}
	}
	return false
}

// DisplayText returns the text to show for m, or "" when the body is only a
// media placeholder.
func DisplayText(m model.Message) string {
	if IsPlaceholder(m.Body) {
		return ""
	}
	return m.Body
}
