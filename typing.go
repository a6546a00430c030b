package chatsync

import (
	"sort"
	"sync"
	"time"
)

// ============================================================================
// Presence & Typing
// ============================================================================

// PresenceInfo is the last known presence of one user.
type PresenceInfo struct {
	Status     string
	LastSeenAt *time.Time
}

// presenceTracker holds ephemeral per-user state: presence as last-
// writer-wins values, and typing indicators that expire on their own after
// the TTL so a lost typing:stop cannot leave a stuck indicator.
type presenceTracker struct {
	mu       sync.Mutex
	ttl      time.Duration
	presence map[string]PresenceInfo
	typing   map[string]map[string]*time.Timer
	onChange func()
}

func newPresenceTracker(ttl time.Duration, onChange func()) *presenceTracker {
	return &presenceTracker{
		ttl:      ttl,
		presence: make(map[string]PresenceInfo),
		typing:   make(map[string]map[string]*time.Timer),
		onChange: onChange,
	}
}

func (p *presenceTracker) notify() {
	if p.onChange != nil {
		p.onChange()
	}
}

func (p *presenceTracker) applyPresence(userID, status string, lastSeenAt *time.Time) {
	p.mu.Lock()
	p.presence[userID] = PresenceInfo{Status: status, LastSeenAt: lastSeenAt}
	p.mu.Unlock()
	p.notify()
}

// Presence returns the last known presence of a user, if any was received.
func (p *presenceTracker) Presence(userID string) (PresenceInfo, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.presence[userID]
	return info, ok
}

// startTyping marks a user as typing in a conversation. A repeat start
// refreshes the expiry rather than stacking timers.
func (p *presenceTracker) startTyping(conversationID, userID string) {
	p.mu.Lock()
	byUser := p.typing[conversationID]
	if byUser == nil {
		byUser = make(map[string]*time.Timer)
		p.typing[conversationID] = byUser
	}
	if t, ok := byUser[userID]; ok {
		t.Reset(p.ttl)
		p.mu.Unlock()
		return
	}
	byUser[userID] = time.AfterFunc(p.ttl, func() {
		p.stopTyping(conversationID, userID)
	})
	p.mu.Unlock()
	p.notify()
}

func (p *presenceTracker) stopTyping(conversationID, userID string) {
	p.mu.Lock()
	byUser := p.typing[conversationID]
	t, ok := byUser[userID]
	if !ok {
		p.mu.Unlock()
		return
	}
	t.Stop()
	delete(byUser, userID)
	if len(byUser) == 0 {
		delete(p.typing, conversationID)
	}
	p.mu.Unlock()
	p.notify()
}

// TypingUsers returns the users currently typing in a conversation, sorted
// for stable display.
func (p *presenceTracker) TypingUsers(conversationID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	byUser := p.typing[conversationID]
	if len(byUser) == 0 {
		return nil
	}
	out := make([]string, 0, len(byUser))
	for userID := range byUser {
		out = append(out, userID)
	}
	sort.Strings(out)
	return out
}

func (p *presenceTracker) close() {
	p.mu.Lock()
	for _, byUser := range p.typing {
		for _, t := range byUser {
			t.Stop()
		}
	}
	p.typing = make(map[string]map[string]*time.Timer)
	p.mu.Unlock()
}

// typingSender drives the viewer's own typing indicator: typing:start on
// the first keystroke of a burst, typing:stop after the idle interval or
// when the message is sent. Repeated keystrokes while already typing only
// push the idle deadline out.
type typingSender struct {
	mu     sync.Mutex
	idle   time.Duration
	send   func(outboundFrame)
	active bool
	convID string
	timer  *time.Timer
}

func newTypingSender(idle time.Duration, send func(outboundFrame)) *typingSender {
	return &typingSender{idle: idle, send: send}
}

// keystroke records input activity in a conversation.
func (t *typingSender) keystroke(conversationID string) {
	t.mu.Lock()
	if t.active && t.convID != conversationID {
		t.stopLocked()
	}
	if !t.active {
		t.active = true
		t.convID = conversationID
		t.send(outboundFrame{Type: string(EventTypingStart), ConversationID: conversationID})
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.idle, t.stop)
	t.mu.Unlock()
}

// stop ends the current typing burst, if any. Called on idle timeout, on
// message send, and on conversation switch.
func (t *typingSender) stop() {
	t.mu.Lock()
	t.stopLocked()
	t.mu.Unlock()
}

func (t *typingSender) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if !t.active {
		return
	}
	t.active = false
	t.send(outboundFrame{Type: string(EventTypingStop), ConversationID: t.convID})
}
