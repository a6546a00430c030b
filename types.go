package chatsync

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Shared Types
// ============================================================================

// ConversationKind discriminates conversation shapes.
type ConversationKind string

const (
	KindDirect  ConversationKind = "DIRECT"
	KindGroup   ConversationKind = "GROUP"
	KindChannel ConversationKind = "CHANNEL"
)

// NotifLevel controls which events raise notifications for a conversation.
type NotifLevel string

const (
	NotifAll          NotifLevel = "ALL"
	NotifMentionsOnly NotifLevel = "MENTIONS_ONLY"
	NotifOff          NotifLevel = "OFF"
)

// Profile is the lightweight user projection attached to messages and members.
type Profile struct {
	ID         string     `json:"id"`
	FullName   string     `json:"fullName,omitempty"`
	Username   string     `json:"username,omitempty"`
	AvatarURL  string     `json:"avatarUrl,omitempty"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

// Reaction is one user's emoji reaction on a message.
type Reaction struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
	User      *Profile  `json:"user,omitempty"`
}

// Pin marks a message as pinned in its conversation.
type Pin struct {
	ID        string    `json:"id"`
	MessageID string    `json:"messageId"`
	PinnedBy  string    `json:"pinnedBy"`
	PinnedAt  time.Time `json:"pinnedAt"`
}

// AttachmentType classifies an attachment for rendering purposes.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "IMAGE"
	AttachmentVideo AttachmentType = "VIDEO"
	AttachmentFile  AttachmentType = "FILE"
)

// Attachment is a stored file referenced by a message.
type Attachment struct {
	ID       string         `json:"id,omitempty"`
	Type     AttachmentType `json:"type"`
	URL      string         `json:"url"`
	Mime     string         `json:"mime"`
	Size     int64          `json:"size"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ReplyRef is the condensed view of the message being replied to.
type ReplyRef struct {
	ID        string    `json:"id"`
	Body      string    `json:"body,omitempty"`
	SenderID  string    `json:"senderId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message is a confirmed, server-assigned message. Identity and body are
// fixed at creation; EditedAt, DeletedAt, Reactions, and Pins are the only
// mutable fields, each driven by its own event type.
type Message struct {
	ID              string       `json:"id"`
	ConversationID  string       `json:"conversationId"`
	ClientMessageID string       `json:"clientMessageId,omitempty"`
	Body            string       `json:"body,omitempty"`
	Kind            string       `json:"kind,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
	EditedAt        *time.Time   `json:"editedAt,omitempty"`
	DeletedAt       *time.Time   `json:"deletedAt,omitempty"`
	Sender          *Profile     `json:"sender,omitempty"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	ReplyTo         *ReplyRef    `json:"replyTo,omitempty"`
	Reactions       []Reaction   `json:"reactions,omitempty"`
	Pins            []Pin        `json:"pins,omitempty"`
}

// Before reports whether m sorts strictly before other in the
// (createdAt, id) total order. The id tie-break guarantees a stable sort
// with no ties.
func (m *Message) Before(other *Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// PendingStatus is the lifecycle state of a not-yet-confirmed send.
type PendingStatus string

const (
	// StatusPending means the send is in flight.
	StatusPending PendingStatus = "PENDING"
	// StatusQueued means the send is parked until connectivity returns.
	StatusQueued PendingStatus = "QUEUED"
	// StatusFailed means the send errored and awaits manual retry or discard.
	StatusFailed PendingStatus = "FAILED"
)

// PendingMessage is a client-local optimistic message. It is removed when the
// server confirms (superseded by a real Message) or explicitly discarded, and
// never persisted beyond the session.
type PendingMessage struct {
	ConversationID  string        `json:"conversationId"`
	ClientMessageID string        `json:"clientMessageId"`
	Body            string        `json:"body"`
	CreatedAt       time.Time     `json:"createdAt"`
	Status          PendingStatus `json:"status"`
}

// LastMessageRef is the conversation-list summary of the newest message.
type LastMessageRef struct {
	ID        string    `json:"id"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	SenderID  string    `json:"senderId,omitempty"`
}

// ConversationMember is a member entry as carried on the conversation list.
type ConversationMember struct {
	UserID     string     `json:"userId"`
	Role       string     `json:"role"`
	FullName   string     `json:"fullName,omitempty"`
	Username   string     `json:"username,omitempty"`
	AvatarURL  string     `json:"avatarUrl,omitempty"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty"`
}

// Conversation is the per-viewer view of a conversation.
type Conversation struct {
	ID                      string               `json:"id"`
	Kind                    ConversationKind     `json:"type"`
	Title                   string               `json:"title,omitempty"`
	LastMessageAt           *time.Time           `json:"lastMessageAt,omitempty"`
	LastMessage             *LastMessageRef      `json:"lastMessage,omitempty"`
	UnreadCount             int                  `json:"unreadCount"`
	Members                 []ConversationMember `json:"members,omitempty"`
	ViewerLastReadMessageID string               `json:"viewerLastReadMessageId,omitempty"`
	MutedUntil              *time.Time           `json:"mutedUntil,omitempty"`
	NotifLevel              NotifLevel           `json:"notifLevel,omitempty"`
}

// MemberReadState is the per-member read position within the active
// conversation, used for "read by all" markers and unread badges.
type MemberReadState struct {
	UserID            string     `json:"userId"`
	Role              string     `json:"role"`
	LastReadMessageID string     `json:"lastReadMessageId,omitempty"`
	LastReadAt        *time.Time `json:"lastReadAt,omitempty"`
	Profile           Profile    `json:"profile"`
}

// SearchResult is one full-text search hit.
type SearchResult struct {
	MessageID      string    `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	CreatedAt      time.Time `json:"createdAt"`
	Snippet        string    `json:"snippet"`
	Rank           float64   `json:"rank"`
}

// ============================================================================
// Store envelope
// ============================================================================

// APIError is the error half of the store's uniform response envelope.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the uniform envelope every message-store call returns,
// distinguishing a success payload from an error code.
type Result struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *APIError       `json:"error,omitempty"`
}

// Decode unmarshals the Data field into the provided type.
func (r *Result) Decode(v interface{}) error {
	if r.Data == nil {
		return nil
	}
	return json.Unmarshal(r.Data, v)
}

// MessagesPage is the payload of a windowed message fetch.
type MessagesPage struct {
	Conversation *Conversation     `json:"conversation,omitempty"`
	Members      []MemberReadState `json:"members,omitempty"`
	Items        []Message         `json:"items"`
	NextCursor   string            `json:"nextCursor,omitempty"`
}

// ConversationsPage is the payload of a conversation-list fetch.
type ConversationsPage struct {
	Items []Conversation `json:"items"`
}

// MarkReadResult reports whether a read acknowledgement advanced the
// server-side read position (false means it was already at or past the
// boundary — the two-tab no-op case).
type MarkReadResult struct {
	Updated bool `json:"updated"`
}
