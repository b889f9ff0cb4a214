package filter

import "github.com/matheus3301/inbox/internal/model"

// ActionKind enumerates the inputs the reducer understands.
type ActionKind int

const (
	SetBucket ActionKind = iota + 1
	SetToggle
	SetChannel
	SetAccount
	SetStatus
	SetPurpose
	SetSearch
	Reset
)

// Action is one UI toggle event.
type Action struct {
	Kind   ActionKind
	Value  string
	Toggle Toggle
	On     bool
}

func Bucketed(b Bucket) Action         { return Action{Kind: SetBucket, Value: string(b)} }
func Toggled(t Toggle, on bool) Action { return Action{Kind: SetToggle, Toggle: t, On: on} }
func ChannelOf(c model.Channel) Action { return Action{Kind: SetChannel, Value: string(c)} }
func AccountOf(id string) Action       { return Action{Kind: SetAccount, Value: id} }
func StatusOf(s model.Status) Action   { return Action{Kind: SetStatus, Value: string(s)} }
func PurposeOf(p model.Purpose) Action { return Action{Kind: SetPurpose, Value: string(p)} }
func Searching(text string) Action     { return Action{Kind: SetSearch, Value: text} }
func Cleared() Action                  { return Action{Kind: Reset} }

// Reduce applies a to d and returns the new descriptor. It is the only place
// the bucket/toggle exclusivity is enforced: a non-none bucket clears every
// toggle, and switching a toggle on clears the bucket but leaves the other
// toggles alone. Unknown enum values clear the corresponding field.
func Reduce(d Descriptor, a Action) Descriptor {
	switch a.Kind {
	case SetBucket:
		b := Bucket(a.Value)
		if b != BucketMine && b != BucketUnassigned {
			b = BucketNone
		}
		d.Bucket = b
		if b != BucketNone {
			d.Toggles = Toggles{}
		}
	case SetToggle:
		switch a.Toggle {
		case Starred:
			d.Toggles.Starred = a.On
		case Snoozed:
			d.Toggles.Snoozed = a.On
		case Archived:
			d.Toggles.Archived = a.On
		default:
			return d
		}
		if a.On {
			d.Bucket = BucketNone
		}
	case SetChannel:
		c := model.Channel(a.Value)
		if !c.Valid() {
			c = ""
		}
		if c != d.Channel {
			// Accounts belong to a channel.
			d.AccountID = ""
		}
		d.Channel = c
	case SetAccount:
		d.AccountID = a.Value
	case SetStatus:
		s := model.Status(a.Value)
		if !s.Valid() {
			s = ""
		}
		d.Status = s
	case SetPurpose:
		p := model.Purpose(a.Value)
		if !p.Valid() {
			p = ""
		}
		d.Purpose = p
	case SetSearch:
		d.Search = a.Value
	case Reset:
		d = Descriptor{}
	}
	return d
}

// Apply folds a sequence of actions over d.
func Apply(d Descriptor, actions ...Action) Descriptor {
	for _, a := range actions {
		d = Reduce(d, a)
	}
	return d
}
