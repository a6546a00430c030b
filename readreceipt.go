package chatsync

import (
	"context"
	"log"
	"sync"
	"time"
)

// ============================================================================
// Read Receipts
// ============================================================================

// readReceipts advances the viewer's read boundary. Acknowledgements are
// debounced so a burst of arrivals produces one store call, gated on the
// viewport being at the bottom, and deduped per boundary so the same
// position is never re-acknowledged.
type readReceipts struct {
	store    *Store
	state    *localState
	debounce time.Duration
	logger   *log.Logger

	mu       sync.Mutex
	timer    *time.Timer
	lastSent map[string]string
}

func newReadReceipts(store *Store, state *localState, debounce time.Duration, logger *log.Logger) *readReceipts {
	return &readReceipts{
		store:    store,
		state:    state,
		debounce: debounce,
		logger:   logger,
		lastSent: make(map[string]string),
	}
}

// schedule queues an acknowledgement after the debounce interval. Repeated
// calls within the interval collapse into one flush.
func (r *readReceipts) schedule(ctx context.Context) {
	if !r.state.isNearBottom() {
		return
	}
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		r.flush(ctx)
	})
	r.mu.Unlock()
}

// flush sends the acknowledgement immediately, bypassing the debounce.
// Used on conversation switch so a pending boundary is not lost.
func (r *readReceipts) flush(ctx context.Context) {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()

	conversationID, _ := r.state.active()
	if conversationID == "" || !r.state.isNearBottom() {
		return
	}
	boundary := r.state.latestReadableID()
	if boundary == "" {
		return
	}

	r.mu.Lock()
	already := r.lastSent[conversationID] == boundary
	r.mu.Unlock()
	if already {
		return
	}

	// updated=false means another session already read past this point;
	// the local view still converges to the boundary either way.
	if _, err := r.store.MarkRead(ctx, conversationID, boundary); err != nil {
		// Left unrecorded so the next scheduled flush retries.
		r.logger.Printf("chatsync: mark read failed: %v", err)
		return
	}
	r.mu.Lock()
	r.lastSent[conversationID] = boundary
	r.mu.Unlock()

	r.state.updateConversation(conversationID, func(c *Conversation) {
		c.ViewerLastReadMessageID = boundary
		c.UnreadCount = 0
	})
}

func (r *readReceipts) closeTimers() {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
}
