package chatsync

import (
	"context"
	"log"
)

// ============================================================================
// History Loader
// ============================================================================

// historyLoader fetches message windows from the store and merges them into
// the active window. Every load is all-or-nothing: a failed fetch leaves
// prior state intact and is simply retryable. Each merge carries the load
// generation captured when the fetch started, so a result landing after a
// conversation switch is discarded instead of bleeding into the new window.
type historyLoader struct {
	store  *Store
	state  *localState
	logger *log.Logger
}

// loadInitial fetches the most recent window of a conversation, including
// the member read states that anchor read markers.
func (h *historyLoader) loadInitial(ctx context.Context, conversationID string, gen uint64) error {
	page, err := h.store.ListMessages(ctx, conversationID, MessageQuery{IncludeMembers: true})
	if err != nil {
		return err
	}
	if !h.state.mergeMessages(gen, page.Items) {
		return nil
	}
	h.state.setCursor(gen, page.NextCursor)
	h.state.setMembers(gen, page.Members)
	if page.Conversation != nil {
		h.state.upsertConversations([]Conversation{*page.Conversation})
	}
	return nil
}

// loadOlder pages backwards from the current cursor. No cursor means the
// full history is already loaded.
func (h *historyLoader) loadOlder(ctx context.Context, conversationID string, gen uint64) error {
	cursor := h.state.cursor()
	if cursor == "" {
		return nil
	}
	page, err := h.store.ListMessages(ctx, conversationID, MessageQuery{Cursor: cursor})
	if err != nil {
		return err
	}
	if !h.state.mergeMessages(gen, page.Items) {
		return nil
	}
	h.state.setCursor(gen, page.NextCursor)
	return nil
}

// loadAfter catches up everything newer than the newest loaded message,
// used after an outage. With nothing loaded it falls back to the initial
// fetch.
func (h *historyLoader) loadAfter(ctx context.Context, conversationID string, gen uint64) error {
	anchor := h.state.newestLoaded()
	if anchor == nil {
		return h.loadInitial(ctx, conversationID, gen)
	}
	page, err := h.store.ListMessages(ctx, conversationID, MessageQuery{After: anchor.ID})
	if err != nil {
		return err
	}
	h.state.mergeMessages(gen, page.Items)
	return nil
}

// loadAround fetches the window centered on a target message, for jumping
// to a search hit or a reply. The fetched window is authoritative within
// its bounds: local copies inside it that the server did not return are
// dropped.
func (h *historyLoader) loadAround(ctx context.Context, conversationID, messageID string, gen uint64) error {
	page, err := h.store.ListMessages(ctx, conversationID, MessageQuery{Around: messageID})
	if err != nil {
		return err
	}
	if !h.state.replaceWindow(gen, page.Items, false) {
		return nil
	}
	h.state.setCursor(gen, page.NextCursor)
	return nil
}

// refreshWindow re-fetches the newest window after a reconnect and
// reconciles it open-endedly: from the oldest re-fetched message to the
// present, the server's copy wins, which removes messages deleted while
// the connection was down.
func (h *historyLoader) refreshWindow(ctx context.Context, conversationID string, gen uint64) error {
	page, err := h.store.ListMessages(ctx, conversationID, MessageQuery{IncludeMembers: true})
	if err != nil {
		return err
	}
	if !h.state.replaceWindow(gen, page.Items, true) {
		return nil
	}
	h.state.setMembers(gen, page.Members)
	if page.Conversation != nil {
		h.state.upsertConversations([]Conversation{*page.Conversation})
	}
	return nil
}
