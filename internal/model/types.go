package model

import (
	"strings"
	"time"
)

// Channel is the medium a conversation arrives on.
type Channel string

const (
	ChannelChat  Channel = "chat"
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelVoice Channel = "voice"
)

// Channels lists every supported channel in display order.
var Channels = []Channel{ChannelChat, ChannelSMS, ChannelEmail, ChannelVoice}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelChat, ChannelSMS, ChannelEmail, ChannelVoice:
		return true
	}
	return false
}

// Status is the workflow status of a conversation.
type Status string

const (
	StatusOpen     Status = "open"
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

func (s Status) Valid() bool {
	return s == StatusOpen || s == StatusPending || s == StatusResolved
}

// Purpose is the business intent tag of a conversation.
type Purpose string

const (
	PurposeGeneral   Purpose = "general"
	PurposeSales     Purpose = "sales"
	PurposeSupport   Purpose = "support"
	PurposeService   Purpose = "service"
	PurposeMarketing Purpose = "marketing"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeGeneral, PurposeSales, PurposeSupport, PurposeService, PurposeMarketing:
		return true
	}
	return false
}

// Contact identifies the external party of a conversation.
type Contact struct {
	Name   string `json:"name"`
	Handle string `json:"handle"`
	Phone  string `json:"phone,omitempty"`
	Email  string `json:"email,omitempty"`
}

// Conversation is one thread with a contact on a single channel account.
type Conversation struct {
	ID                 string     `json:"id"`
	Channel            Channel    `json:"channel"`
	AccountID          string     `json:"account_id,omitempty"`
	Contact            Contact    `json:"contact"`
	Status             Status     `json:"status"`
	AssigneeID         string     `json:"assignee_id,omitempty"`
	Starred            bool       `json:"starred"`
	SnoozedUntil       *time.Time `json:"snoozed_until,omitempty"`
	Archived           bool       `json:"archived"`
	Purpose            Purpose    `json:"purpose"`
	UnreadCount        int        `json:"unread_count"`
	LastMessageAt      time.Time  `json:"last_message_at"`
	LastMessagePreview string     `json:"last_message_preview"`
}

// Snoozed reports whether the conversation is snoozed at the given instant.
func (c *Conversation) Snoozed(now time.Time) bool {
	return c.SnoozedUntil != nil && c.SnoozedUntil.After(now)
}

// PhoneTarget returns the number a call can be placed to, or "".
// SMS and voice handles are phone numbers themselves.
func (c *Conversation) PhoneTarget() string {
	if p := strings.TrimSpace(c.Contact.Phone); p != "" {
		return p
	}
	if c.Channel == ChannelSMS || c.Channel == ChannelVoice {
		return strings.TrimSpace(c.Contact.Handle)
	}
	return ""
}

// Direction tells whether a message was received or sent by an agent.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// DeliveryStatus tracks an individual message through delivery.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryRead      DeliveryStatus = "read"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Rank orders delivery statuses so updates never move a message backwards.
// Failed ranks above everything: it is terminal for a message instance.
func (s DeliveryStatus) Rank() int {
	switch s {
	case DeliveryPending:
		return 1
	case DeliverySent:
		return 2
	case DeliveryDelivered:
		return 3
	case DeliveryRead:
		return 4
	case DeliveryFailed:
		return 5
	}
	return 0
}

// MediaKind is the rendering class of an attachment.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// Media references an attachment. Type is the provider's explicit type
// field and may be empty.
type Media struct {
	URL      string `json:"url"`
	Type     string `json:"type,omitempty"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
	MIME     string `json:"mime,omitempty"`
}

// Message is one entry of a conversation log.
type Message struct {
	ID             string         `json:"id,omitempty"`
	ConversationID string         `json:"conversation_id"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	Direction      Direction      `json:"direction"`
	Body           string         `json:"body,omitempty"`
	Media          *Media         `json:"media,omitempty"`
	Status         DeliveryStatus `json:"status"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	Sender         string         `json:"sender,omitempty"`
}

// Counters are account-wide aggregates, independent of any active filter.
type Counters struct {
	Open       int             `json:"open"`
	Pending    int             `json:"pending"`
	Resolved   int             `json:"resolved"`
	Assigned   int             `json:"assigned"`
	Unassigned int             `json:"unassigned"`
	Mine       int             `json:"mine"`
	Starred    int             `json:"starred"`
	Snoozed    int             `json:"snoozed"`
	Archived   int             `json:"archived"`
	ByChannel  map[Channel]int `json:"by_channel"`
}

// Preview truncates a body for list display.
func Preview(body string, maxLen int) string {
	body = strings.TrimSpace(body)
	if len(body) <= maxLen {
		return body
	}
	r := []rune(body)
	if len(r) <= maxLen {
		return body
	}
	return string(r[:maxLen])
}
