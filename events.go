package chatsync

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Wire Events
// ============================================================================

// EventKind is the type discriminator carried by every inbound frame.
type EventKind string

const (
	EventMessageNew         EventKind = "message:new"
	EventMessageUpdate      EventKind = "message:update"
	EventMessageDelete      EventKind = "message:delete"
	EventReactionUpdate     EventKind = "reaction:update"
	EventPinUpdate          EventKind = "pin:update"
	EventMessageRead        EventKind = "message:read"
	EventTypingStart        EventKind = "typing:start"
	EventTypingStop         EventKind = "typing:stop"
	EventPresenceUpdate     EventKind = "presence:update"
	EventConversationUpdate EventKind = "conversation:update"
)

// Outbound-only frame types.
const (
	frameTypePing             = "ping"
	frameTypeConversationSync = "conversation:sync"
)

// Event is the decoded form of one inbound frame. Fields are populated
// according to Kind; parseEvent guarantees the fields each kind requires.
type Event struct {
	Kind           EventKind       `json:"type"`
	ConversationID string          `json:"conversationId,omitempty"`
	Message        *Message        `json:"message,omitempty"`
	MessageID      string          `json:"messageId,omitempty"`
	DeletedAt      *time.Time      `json:"deletedAt,omitempty"`
	Reactions      []Reaction      `json:"reactions,omitempty"`
	Pins           []Pin           `json:"pins,omitempty"`
	UserID         string          `json:"userId,omitempty"`
	LastReadID     string          `json:"lastReadMessageId,omitempty"`
	Status         string          `json:"status,omitempty"`
	LastSeenAt     *time.Time      `json:"lastSeenAt,omitempty"`
	LastMessage    json.RawMessage `json:"lastMessage,omitempty"`
}

// outboundFrame is a client-to-server control frame.
type outboundFrame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId,omitempty"`
}

// parseEvent decodes and validates one raw frame. A frame that cannot be
// decoded, has an unknown type, or is missing the fields its type requires
// yields a *ValidationError; the caller drops it.
func parseEvent(raw []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, &ValidationError{Detail: "not a JSON object"}
	}
	switch ev.Kind {
	case EventMessageNew, EventMessageUpdate:
		if ev.ConversationID == "" || ev.Message == nil || ev.Message.ID == "" {
			return nil, &ValidationError{Detail: string(ev.Kind) + " without message"}
		}
	case EventMessageDelete:
		if ev.ConversationID == "" || ev.MessageID == "" || ev.DeletedAt == nil {
			return nil, &ValidationError{Detail: "message:delete without messageId/deletedAt"}
		}
	case EventReactionUpdate, EventPinUpdate:
		if ev.ConversationID == "" || ev.MessageID == "" {
			return nil, &ValidationError{Detail: string(ev.Kind) + " without messageId"}
		}
	case EventMessageRead:
		if ev.ConversationID == "" || ev.UserID == "" || ev.LastReadID == "" {
			return nil, &ValidationError{Detail: "message:read without user/boundary"}
		}
	case EventTypingStart, EventTypingStop:
		if ev.ConversationID == "" || ev.UserID == "" {
			return nil, &ValidationError{Detail: string(ev.Kind) + " without user"}
		}
	case EventPresenceUpdate:
		if ev.UserID == "" {
			return nil, &ValidationError{Detail: "presence:update without userId"}
		}
	case EventConversationUpdate:
		if ev.ConversationID == "" {
			return nil, &ValidationError{Detail: "conversation:update without conversationId"}
		}
	default:
		return nil, &ValidationError{Detail: "unknown type " + string(ev.Kind)}
	}
	return &ev, nil
}

// lastMessageRef decodes the optional lastMessage payload of a
// message:delete event. The field distinguishes absent (no list update)
// from null (conversation now empty), so the raw form is kept on Event.
func (ev *Event) lastMessageRef() (ref *LastMessageRef, present bool) {
	if ev.LastMessage == nil {
		return nil, false
	}
	if string(ev.LastMessage) == "null" {
		return nil, true
	}
	var r LastMessageRef
	if err := json.Unmarshal(ev.LastMessage, &r); err != nil {
		return nil, false
	}
	return &r, true
}
