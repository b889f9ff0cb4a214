package filter

import (
	"strings"
	"time"

	"github.com/matheus3301/inbox/internal/model"
)

// Bucket is the assignment-scoped selection group.
type Bucket string

const (
	BucketNone       Bucket = ""
	BucketMine       Bucket = "mine"
	BucketUnassigned Bucket = "unassigned"
)

// Toggle names one member of the starred/snoozed/archived group.
type Toggle string

const (
	Starred  Toggle = "starred"
	Snoozed  Toggle = "snoozed"
	Archived Toggle = "archived"
)

// Toggles are independently combinable, but as a group they exclude a bucket.
type Toggles struct {
	Starred  bool `json:"starred"`
	Snoozed  bool `json:"snoozed"`
	Archived bool `json:"archived"`
}

// Any reports whether at least one toggle is active.
func (t Toggles) Any() bool {
	return t.Starred || t.Snoozed || t.Archived
}

// Descriptor is the immutable query state of the inbox list. Construct it
// through Reduce so the bucket/toggle exclusivity always holds.
type Descriptor struct {
	Channel   model.Channel `json:"channel,omitempty"`
	AccountID string        `json:"account_id,omitempty"`
	Bucket    Bucket        `json:"bucket,omitempty"`
	Toggles   Toggles       `json:"toggles"`
	Status    model.Status  `json:"status,omitempty"`
	Purpose   model.Purpose `json:"purpose,omitempty"`
	Search    string        `json:"search,omitempty"`
}

// StatusSuppressed reports whether status filtering is ignored. Snoozed and
// archived are statuses in their own right.
func (d Descriptor) StatusSuppressed() bool {
	return d.Toggles.Snoozed || d.Toggles.Archived
}

// Query returns the canonical form of d that is sent to the query service.
func (d Descriptor) Query() Descriptor {
	q := d
	if q.Bucket != BucketNone && q.Toggles.Any() {
		// Only reachable for hand-built values; toggles win like in Parse.
		q.Bucket = BucketNone
	}
	if q.StatusSuppressed() {
		q.Status = ""
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

// Key is a stable identity of the canonical query.
func (d Descriptor) Key() string {
	return d.Query().Values().Encode()
}

// Matches reports whether conv belongs to the list described by d.
// me is the id of the viewing agent, used by the mine bucket.
func (d Descriptor) Matches(conv *model.Conversation, me string, now time.Time) bool {
	q := d.Query()
	if q.Channel != "" && conv.Channel != q.Channel {
		return false
	}
	if q.AccountID != "" && conv.AccountID != q.AccountID {
		return false
	}
	switch q.Bucket {
	case BucketMine:
		if me == "" || conv.AssigneeID != me {
			return false
		}
	case BucketUnassigned:
		if conv.AssigneeID != "" {
			return false
		}
	}
	if q.Toggles.Starred && !conv.Starred {
		return false
	}
	if q.Toggles.Archived != conv.Archived {
		return false
	}
	snoozed := conv.Snoozed(now)
	if q.Toggles.Snoozed != snoozed {
		return false
	}
	if q.Status != "" && conv.Status != q.Status {
		return false
	}
	if q.Purpose != "" && conv.Purpose != q.Purpose {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		hay := strings.ToLower(conv.Contact.Name + "\n" + conv.Contact.Handle + "\n" + conv.LastMessagePreview)
		if !strings.Contains(hay, needle) {
			return false
		}
	}
	return true
}
