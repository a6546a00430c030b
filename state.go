package chatsync

import (
	"sort"
	"sync"
	"time"
)

// ============================================================================
// Local State
// ============================================================================

// DisplayMessage is the render-time projection of one timeline entry:
// either a confirmed Message or an optimistic PendingMessage. The two are
// kept as distinct values and merged only here, never mutated in place as
// the same type.
type DisplayMessage struct {
	Message Message
	Pending *PendingMessage
}

// IsPending reports whether the entry is an unconfirmed local send.
func (d *DisplayMessage) IsPending() bool { return d.Pending != nil }

// localState is the one piece of shared mutable client state. Only the
// event reducer, history-loader merges, and send-pipeline confirmations
// write to it, and all message writes go through mergeMessages.
type localState struct {
	mu sync.Mutex

	selfID string

	conversations []Conversation
	lastListSync  time.Time

	// Window of the active conversation.
	activeID   string
	generation uint64
	messages   []Message
	members    []MemberReadState
	nextCursor string

	pending []PendingMessage

	nearBottom  bool
	newMessages int

	onChange func()
}

func newLocalState(selfID string) *localState {
	return &localState{selfID: selfID, nearBottom: true}
}

func (s *localState) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// sortMessages sorts in place by the (createdAt, id) total order.
func sortMessages(items []Message) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].Before(&items[j])
	})
}

// mergeInto dedupes incoming by id against existing, replaces matching
// entries with the incoming version, appends the rest, and re-sorts.
// This is the single merge function all writers share; applying the same
// window twice is a no-op beyond the field refresh.
func mergeInto(existing, incoming []Message) []Message {
	byID := make(map[string]int, len(existing))
	for i := range existing {
		byID[existing[i].ID] = i
	}
	merged := append([]Message(nil), existing...)
	for _, item := range incoming {
		if i, ok := byID[item.ID]; ok {
			merged[i] = item
			continue
		}
		byID[item.ID] = len(merged)
		merged = append(merged, item)
	}
	sortMessages(merged)
	return merged
}

// ── Active window ────────────────────────────────────────

// setActive switches the window to a new conversation, clearing the
// previous window and bumping the load generation so stale in-flight
// results are discarded on arrival.
func (s *localState) setActive(conversationID string) uint64 {
	s.mu.Lock()
	s.activeID = conversationID
	s.generation++
	gen := s.generation
	s.messages = nil
	s.members = nil
	s.nextCursor = ""
	s.newMessages = 0
	s.nearBottom = true
	s.mu.Unlock()
	s.notify()
	return gen
}

func (s *localState) active() (string, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID, s.generation
}

// mergeMessages merges incoming into the active window if gen is still
// current. Returns false when the result was discarded as stale.
func (s *localState) mergeMessages(gen uint64, incoming []Message) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	s.messages = mergeInto(s.messages, incoming)
	s.mu.Unlock()
	s.notify()
	return true
}

// replaceWindow merges an authoritative window: incoming replaces every
// local message whose (createdAt, id) falls inside the window's bounds.
// Local messages inside the bounds that the server did not return are
// dropped — they were deleted or never existed.
func (s *localState) replaceWindow(gen uint64, incoming []Message, openEnded bool) bool {
	if len(incoming) == 0 {
		// An open-ended refresh that comes back empty means the server
		// holds nothing for this conversation anymore; the local window
		// clears. A bounded (around) result has no bounds to trim against,
		// so local state stays.
		if !openEnded {
			return true
		}
		s.mu.Lock()
		if gen != s.generation {
			s.mu.Unlock()
			return false
		}
		s.messages = nil
		s.mu.Unlock()
		s.notify()
		return true
	}
	sortMessages(incoming)
	first, last := &incoming[0], &incoming[len(incoming)-1]
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	byID := make(map[string]int, len(incoming))
	for i := range incoming {
		byID[incoming[i].ID] = i
	}
	kept := s.messages[:0]
	for _, item := range s.messages {
		if _, ok := byID[item.ID]; ok {
			continue // replaced by the incoming copy
		}
		inside := !item.Before(first) && (openEnded || !last.Before(&item))
		if inside {
			continue // authoritative window says it no longer exists
		}
		kept = append(kept, item)
	}
	s.messages = mergeInto(kept, incoming)
	s.mu.Unlock()
	s.notify()
	return true
}

// updateMessage applies fn to the matching loaded message. No-op when the
// message is not currently in the window.
func (s *localState) updateMessage(messageID string, fn func(*Message)) {
	s.mu.Lock()
	for i := range s.messages {
		if s.messages[i].ID == messageID {
			fn(&s.messages[i])
			break
		}
	}
	s.mu.Unlock()
	s.notify()
}

func (s *localState) setCursor(gen uint64, cursor string) {
	s.mu.Lock()
	if gen == s.generation {
		s.nextCursor = cursor
	}
	s.mu.Unlock()
}

func (s *localState) cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextCursor
}

// newestLoaded returns the most recent locally-known message of the active
// window, used to anchor the post-reconnect catch-up fetch.
func (s *localState) newestLoaded() *Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return nil
	}
	m := s.messages[len(s.messages)-1]
	return &m
}

// latestReadableID returns the newest non-deleted confirmed message of the
// active window, the only thing a read acknowledgement may point at.
func (s *localState) latestReadableID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].DeletedAt == nil {
			return s.messages[i].ID
		}
	}
	return ""
}

func (s *localState) setMembers(gen uint64, members []MemberReadState) {
	s.mu.Lock()
	if gen == s.generation && len(members) > 0 {
		s.members = members
	}
	s.mu.Unlock()
	s.notify()
}

func (s *localState) updateMember(userID string, fn func(*MemberReadState)) {
	s.mu.Lock()
	for i := range s.members {
		if s.members[i].UserID == userID {
			fn(&s.members[i])
		}
	}
	s.mu.Unlock()
	s.notify()
}

// ── Conversation list ────────────────────────────────────

func (s *localState) setConversations(items []Conversation) {
	s.mu.Lock()
	s.conversations = append([]Conversation(nil), items...)
	sortConversations(s.conversations)
	s.lastListSync = time.Now().UTC()
	s.mu.Unlock()
	s.notify()
}

// upsertConversations merges an incremental refresh into the list.
func (s *localState) upsertConversations(items []Conversation) {
	s.mu.Lock()
	byID := make(map[string]int, len(s.conversations))
	for i := range s.conversations {
		byID[s.conversations[i].ID] = i
	}
	for _, item := range items {
		if i, ok := byID[item.ID]; ok {
			s.conversations[i] = item
		} else {
			byID[item.ID] = len(s.conversations)
			s.conversations = append(s.conversations, item)
		}
	}
	sortConversations(s.conversations)
	s.lastListSync = time.Now().UTC()
	s.mu.Unlock()
	s.notify()
}

func (s *localState) listSyncPoint() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastListSync
}

func (s *localState) updateConversation(conversationID string, fn func(*Conversation)) {
	s.mu.Lock()
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			fn(&s.conversations[i])
			break
		}
	}
	sortConversations(s.conversations)
	s.mu.Unlock()
	s.notify()
}

func (s *localState) conversation(conversationID string) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == conversationID {
			return s.conversations[i], true
		}
	}
	return Conversation{}, false
}

func (s *localState) eachConversation(fn func(*Conversation)) {
	s.mu.Lock()
	for i := range s.conversations {
		fn(&s.conversations[i])
	}
	s.mu.Unlock()
	s.notify()
}

func sortConversations(items []Conversation) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, tj := time.Time{}, time.Time{}
		if items[i].LastMessageAt != nil {
			ti = *items[i].LastMessageAt
		}
		if items[j].LastMessageAt != nil {
			tj = *items[j].LastMessageAt
		}
		return ti.After(tj)
	})
}

// ── Pending messages ─────────────────────────────────────

func (s *localState) addPending(p PendingMessage) {
	s.mu.Lock()
	s.pending = append(s.pending, p)
	s.mu.Unlock()
	s.notify()
}

func (s *localState) setPendingStatus(clientMessageID string, status PendingStatus) bool {
	s.mu.Lock()
	found := false
	for i := range s.pending {
		if s.pending[i].ClientMessageID == clientMessageID {
			s.pending[i].Status = status
			found = true
			break
		}
	}
	s.mu.Unlock()
	s.notify()
	return found
}

func (s *localState) findPending(clientMessageID string) (PendingMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.pending {
		if p.ClientMessageID == clientMessageID {
			return p, true
		}
	}
	return PendingMessage{}, false
}

func (s *localState) removePending(clientMessageID string) {
	s.mu.Lock()
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.ClientMessageID != clientMessageID {
			kept = append(kept, p)
		}
	}
	s.pending = kept
	s.mu.Unlock()
	s.notify()
}

// confirmPending atomically removes the optimistic entry and inserts the
// confirmed message, so the message appears exactly once at any point.
func (s *localState) confirmPending(clientMessageID string, msg Message) {
	s.mu.Lock()
	kept := s.pending[:0]
	for _, p := range s.pending {
		if p.ClientMessageID != clientMessageID {
			kept = append(kept, p)
		}
	}
	s.pending = kept
	if s.activeID == msg.ConversationID {
		s.messages = mergeInto(s.messages, []Message{msg})
	}
	s.mu.Unlock()
	s.notify()
}

// queuedInOrder returns QUEUED entries in original submission order.
func (s *localState) queuedInOrder() []PendingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []PendingMessage
	for _, p := range s.pending {
		if p.Status == StatusQueued {
			out = append(out, p)
		}
	}
	return out
}

// ── Viewport ─────────────────────────────────────────────

func (s *localState) setNearBottom(near bool) {
	s.mu.Lock()
	s.nearBottom = near
	if near {
		s.newMessages = 0
	}
	s.mu.Unlock()
	s.notify()
}

func (s *localState) isNearBottom() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nearBottom
}

func (s *localState) addNewMessages(n int) {
	s.mu.Lock()
	s.newMessages += n
	s.mu.Unlock()
	s.notify()
}

// ── Snapshots ────────────────────────────────────────────

// Snapshot is a consistent copy of the UI-visible state.
type Snapshot struct {
	Conversations        []Conversation
	ActiveConversationID string
	Messages             []DisplayMessage
	Members              []MemberReadState
	NewMessagesCount     int
}

func (s *localState) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	display := make([]Message, 0, len(s.messages)+len(s.pending))
	display = append(display, s.messages...)
	pendingByID := make(map[string]PendingMessage)
	for _, p := range s.pending {
		if p.ConversationID != s.activeID {
			continue
		}
		id := "pending:" + p.ClientMessageID
		pendingByID[id] = p
		display = append(display, Message{
			ID:             id,
			ConversationID: p.ConversationID,
			Body:           p.Body,
			CreatedAt:      p.CreatedAt,
			Sender:         &Profile{ID: s.selfID},
		})
	}
	sortMessages(display)

	out := Snapshot{
		Conversations:        append([]Conversation(nil), s.conversations...),
		ActiveConversationID: s.activeID,
		Members:              append([]MemberReadState(nil), s.members...),
		NewMessagesCount:     s.newMessages,
	}
	out.Messages = make([]DisplayMessage, len(display))
	for i, m := range display {
		d := DisplayMessage{Message: m}
		if p, ok := pendingByID[m.ID]; ok {
			pc := p
			d.Pending = &pc
		}
		out.Messages[i] = d
	}
	return out
}

// FirstUnreadMessageID returns the id of the first message after the
// viewer's last-read boundary, or "" when everything is read.
func (snap *Snapshot) FirstUnreadMessageID() string {
	var lastRead string
	for _, conv := range snap.Conversations {
		if conv.ID == snap.ActiveConversationID {
			lastRead = conv.ViewerLastReadMessageID
			break
		}
	}
	if lastRead == "" {
		return ""
	}
	for i, item := range snap.Messages {
		if item.Message.ID == lastRead && i+1 < len(snap.Messages) {
			return snap.Messages[i+1].Message.ID
		}
	}
	return ""
}
