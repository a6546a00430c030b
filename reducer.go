package chatsync

import (
	"log"
	"sync"
	"time"
)

// ============================================================================
// Event Reducer
// ============================================================================

// Notification is a user-facing alert about activity outside the viewer's
// attention (another conversation, or the active one scrolled away).
type Notification struct {
	ConversationID string
	Title          string
	Body           string
	SenderName     string
}

// notifier rate-limits notifications so an event burst after a reconnect
// produces one alert, not a storm.
type notifier struct {
	mu          sync.Mutex
	minInterval time.Duration
	lastAt      time.Time
	fn          func(Notification)
}

func (n *notifier) emit(note Notification) {
	if n.fn == nil {
		return
	}
	n.mu.Lock()
	if !n.lastAt.IsZero() && time.Since(n.lastAt) < n.minInterval {
		n.mu.Unlock()
		return
	}
	n.lastAt = time.Now()
	n.mu.Unlock()
	n.fn(note)
}

// reducer is the single writer that folds inbound events into local state.
// All events flow through one goroutine, so per-conversation effects apply
// in arrival order and handlers never race each other.
type reducer struct {
	state    *localState
	presence *presenceTracker
	notify   *notifier
	logger   *log.Logger

	// onAttendedMessage fires for a message landing in the active
	// conversation while the viewer is at the bottom, to advance the read
	// boundary.
	onAttendedMessage func()
	// onListInvalidated fires on conversation:update; membership and
	// metadata changes are re-fetched rather than patched from the frame.
	onListInvalidated func()

	events chan *Event
	done   chan struct{}
	wg     sync.WaitGroup
}

func newReducer(state *localState, presence *presenceTracker, notify *notifier, logger *log.Logger) *reducer {
	return &reducer{
		state:    state,
		presence: presence,
		notify:   notify,
		logger:   logger,
		events:   make(chan *Event, 256),
		done:     make(chan struct{}),
	}
}

func (r *reducer) start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-r.done:
				return
			case ev := <-r.events:
				r.apply(ev)
			}
		}
	}()
}

func (r *reducer) stop() {
	close(r.done)
	r.wg.Wait()
}

// enqueue hands one event to the reducer goroutine. Dropping under
// sustained overflow is acceptable: the next reconciliation re-fetches
// whatever a dropped event carried.
func (r *reducer) enqueue(ev *Event) {
	select {
	case r.events <- ev:
	default:
		r.logger.Printf("chatsync: event queue full, dropping %s", ev.Kind)
	}
}

func (r *reducer) apply(ev *Event) {
	switch ev.Kind {
	case EventMessageNew:
		r.applyMessageNew(ev)
	case EventMessageUpdate:
		r.applyMessageUpdate(ev)
	case EventMessageDelete:
		r.applyMessageDelete(ev)
	case EventReactionUpdate:
		r.applyReactionUpdate(ev)
	case EventPinUpdate:
		r.applyPinUpdate(ev)
	case EventMessageRead:
		r.applyMessageRead(ev)
	case EventTypingStart:
		// Indicators only matter for the conversation on screen; stop and
		// expiry still clear regardless, in case the window just switched.
		activeID, _ := r.state.active()
		if ev.UserID != r.state.selfID && ev.ConversationID == activeID {
			r.presence.startTyping(ev.ConversationID, ev.UserID)
		}
	case EventTypingStop:
		if ev.UserID != r.state.selfID {
			r.presence.stopTyping(ev.ConversationID, ev.UserID)
		}
	case EventPresenceUpdate:
		r.applyPresenceUpdate(ev)
	case EventConversationUpdate:
		if r.onListInvalidated != nil {
			go r.onListInvalidated()
		}
	default:
		// parseEvent rejects unknown kinds; reaching here is a bug.
		r.logger.Printf("chatsync: unhandled event kind %q", ev.Kind)
	}
}

func (r *reducer) applyMessageNew(ev *Event) {
	msg := *ev.Message
	fromSelf := msg.Sender != nil && msg.Sender.ID == r.state.selfID

	// The sender's own echo supersedes the optimistic entry; matching on
	// clientMessageId covers the echo racing ahead of the REST confirm.
	if fromSelf && msg.ClientMessageID != "" {
		if _, ok := r.state.findPending(msg.ClientMessageID); ok {
			r.state.confirmPending(msg.ClientMessageID, msg)
		}
	}

	activeID, gen := r.state.active()
	active := ev.ConversationID == activeID
	atBottom := r.state.isNearBottom()

	if active {
		r.state.mergeMessages(gen, []Message{msg})
		// A sender typing event for this message may still be live.
		if msg.Sender != nil {
			r.presence.stopTyping(ev.ConversationID, msg.Sender.ID)
		}
	}

	attended := fromSelf || (active && atBottom)
	r.state.updateConversation(ev.ConversationID, func(c *Conversation) {
		at := msg.CreatedAt
		c.LastMessageAt = &at
		ref := &LastMessageRef{ID: msg.ID, Body: msg.Body, CreatedAt: msg.CreatedAt}
		if msg.Sender != nil {
			ref.SenderID = msg.Sender.ID
		}
		c.LastMessage = ref
		if !attended {
			c.UnreadCount++
		}
	})

	if active && !fromSelf && !atBottom {
		r.state.addNewMessages(1)
	}
	if attended && active && r.onAttendedMessage != nil {
		r.onAttendedMessage()
	}

	if !attended {
		if conv, ok := r.state.conversation(ev.ConversationID); ok && conversationMuted(&conv) {
			return
		}
		note := Notification{ConversationID: ev.ConversationID, Body: msg.Body}
		if conv, ok := r.state.conversation(ev.ConversationID); ok {
			note.Title = conv.Title
		}
		if msg.Sender != nil {
			note.SenderName = msg.Sender.FullName
		}
		r.notify.emit(note)
	}
}

func conversationMuted(c *Conversation) bool {
	if c.NotifLevel == NotifOff {
		return true
	}
	return c.MutedUntil != nil && c.MutedUntil.After(time.Now())
}

func (r *reducer) applyMessageUpdate(ev *Event) {
	activeID, gen := r.state.active()
	if ev.ConversationID != activeID {
		return
	}
	r.state.mergeMessages(gen, []Message{*ev.Message})
}

func (r *reducer) applyMessageDelete(ev *Event) {
	activeID, _ := r.state.active()
	if ev.ConversationID == activeID {
		r.state.updateMessage(ev.MessageID, func(m *Message) {
			m.DeletedAt = ev.DeletedAt
		})
	}
	// The frame distinguishes "lastMessage absent" (list summary unchanged)
	// from "lastMessage: null" (the deleted message was the newest and
	// nothing remains).
	if ref, present := ev.lastMessageRef(); present {
		r.state.updateConversation(ev.ConversationID, func(c *Conversation) {
			c.LastMessage = ref
			if ref != nil {
				at := ref.CreatedAt
				c.LastMessageAt = &at
			}
		})
	}
}

func (r *reducer) applyReactionUpdate(ev *Event) {
	activeID, _ := r.state.active()
	if ev.ConversationID != activeID {
		return
	}
	r.state.updateMessage(ev.MessageID, func(m *Message) {
		// Full replacement: the frame carries the complete reaction set,
		// an empty one included.
		m.Reactions = ev.Reactions
	})
}

func (r *reducer) applyPinUpdate(ev *Event) {
	activeID, _ := r.state.active()
	if ev.ConversationID != activeID {
		return
	}
	r.state.updateMessage(ev.MessageID, func(m *Message) {
		m.Pins = ev.Pins
	})
}

func (r *reducer) applyMessageRead(ev *Event) {
	if ev.UserID == r.state.selfID {
		// Another session of the viewer advanced the boundary.
		r.state.updateConversation(ev.ConversationID, func(c *Conversation) {
			c.ViewerLastReadMessageID = ev.LastReadID
			c.UnreadCount = 0
		})
		return
	}
	activeID, _ := r.state.active()
	if ev.ConversationID != activeID {
		return
	}
	now := time.Now().UTC()
	r.state.updateMember(ev.UserID, func(m *MemberReadState) {
		m.LastReadMessageID = ev.LastReadID
		m.LastReadAt = &now
	})
}

func (r *reducer) applyPresenceUpdate(ev *Event) {
	// An online user is seen now; offline carries the server's timestamp.
	seen := ev.LastSeenAt
	if ev.Status == "online" {
		now := time.Now().UTC()
		seen = &now
	}
	r.presence.applyPresence(ev.UserID, ev.Status, seen)
	r.state.updateMember(ev.UserID, func(m *MemberReadState) {
		if seen != nil {
			m.Profile.LastSeenAt = seen
		}
	})
	r.state.eachConversation(func(c *Conversation) {
		for i := range c.Members {
			if c.Members[i].UserID == ev.UserID && seen != nil {
				c.Members[i].LastSeenAt = seen
			}
		}
	})
}
