package chatsync

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"
)

// ============================================================================
// Sync Engine
// ============================================================================

// Options configures a SyncEngine. BaseURL, WSURL, TenantID, SelfUserID,
// and Credentials are required; everything else has working defaults.
type Options struct {
	// BaseURL is the message-store endpoint, e.g. "https://api.example.com".
	BaseURL string
	// WSURL is the realtime endpoint, e.g. "wss://ws.example.com/chat".
	WSURL string
	// TenantID scopes the session to one organization.
	TenantID string
	// SelfUserID identifies the viewer, for self-echo and unread logic.
	SelfUserID string
	// Credentials supplies the bearer token for both transports.
	Credentials CredentialSource

	HTTPClient *http.Client
	Logger     *log.Logger

	// OnChange receives a fresh snapshot after every state mutation.
	OnChange func(Snapshot)
	// OnNotification receives rate-limited alerts for unattended messages.
	OnNotification func(Notification)
	// OnConnStatus receives connection status transitions.
	OnConnStatus func(ConnStatus)

	PingInterval   time.Duration
	TypingIdle     time.Duration
	TypingTTL      time.Duration
	ReadDebounce   time.Duration
	NotifyInterval time.Duration
}

func (o *Options) defaults() error {
	if o.BaseURL == "" || o.WSURL == "" {
		return fmt.Errorf("chatsync: BaseURL and WSURL are required")
	}
	if o.TenantID == "" || o.SelfUserID == "" {
		return fmt.Errorf("chatsync: TenantID and SelfUserID are required")
	}
	if o.Credentials == nil {
		return fmt.Errorf("chatsync: Credentials is required")
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.TypingIdle <= 0 {
		o.TypingIdle = 1400 * time.Millisecond
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = 8 * time.Second
	}
	if o.ReadDebounce <= 0 {
		o.ReadDebounce = 600 * time.Millisecond
	}
	if o.NotifyInterval <= 0 {
		o.NotifyInterval = 4 * time.Second
	}
	return nil
}

// SyncEngine is one user session against one tenant: it owns the realtime
// connection, the conversation list, the active message window, optimistic
// sends, presence, typing, and read receipts. All methods are safe for
// concurrent use.
type SyncEngine struct {
	opts     Options
	state    *localState
	store    *Store
	conn     *connManager
	reducer  *reducer
	presence *presenceTracker
	typing   *typingSender
	sends    *sendPipeline
	history  *historyLoader
	receipts *readReceipts
	logger   *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New wires up a SyncEngine. Nothing touches the network until Start.
func New(opts Options) (*SyncEngine, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}

	e := &SyncEngine{opts: opts, logger: opts.Logger}
	e.ctx = context.Background()
	e.state = newLocalState(opts.SelfUserID)
	e.state.onChange = e.emitChange
	e.store = NewStore(opts.BaseURL, opts.Credentials, opts.HTTPClient)
	e.presence = newPresenceTracker(opts.TypingTTL, e.emitChange)
	e.history = &historyLoader{store: e.store, state: e.state, logger: opts.Logger}
	e.receipts = newReadReceipts(e.store, e.state, opts.ReadDebounce, opts.Logger)

	e.reducer = newReducer(e.state, e.presence, &notifier{
		minInterval: opts.NotifyInterval,
		fn:          opts.OnNotification,
	}, opts.Logger)
	e.reducer.onAttendedMessage = func() { e.receipts.schedule(e.ctx) }
	e.reducer.onListInvalidated = func() {
		// Re-subscribe and re-fetch: the update frame is an invalidation
		// signal, not a patch.
		e.conn.Send(outboundFrame{Type: frameTypeConversationSync})
		e.refreshConversationList()
	}

	e.conn = newConnManager(opts.WSURL, opts.TenantID, opts.Credentials, opts.PingInterval, opts.Logger)
	e.conn.onEvent = e.reducer.enqueue
	e.conn.onOpen = e.onTransportOpen
	e.conn.onStatus = opts.OnConnStatus

	e.typing = newTypingSender(opts.TypingIdle, e.conn.Send)
	up := &uploader{store: e.store, httpClient: opts.HTTPClient}
	e.sends = newSendPipeline(e.store, up, e.state, e.typing, e.deliverable, opts.Logger)
	return e, nil
}

func (e *SyncEngine) deliverable() bool {
	st := e.conn.Status()
	return !st.Offline && st.State == StateOpen
}

func (e *SyncEngine) emitChange() {
	if e.opts.OnChange != nil {
		e.opts.OnChange(e.state.snapshot())
	}
}

// Start loads the conversation list and opens the realtime connection.
// ctx bounds the whole session; cancelling it is equivalent to Close.
func (e *SyncEngine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.reducer.start()

	items, err := e.store.ListConversations(e.ctx, time.Time{})
	if err != nil {
		return err
	}
	e.state.setConversations(items)

	go e.conn.Connect(e.ctx)
	return nil
}

// Close tears the session down. Pending QUEUED messages are discarded with
// the rest of the in-memory state.
func (e *SyncEngine) Close() {
	if e.cancel != nil {
		e.cancel()
	}
	e.typing.stop()
	e.conn.Disconnect()
	e.sends.close()
	e.reducer.stop()
	e.receipts.closeTimers()
	e.presence.close()
}

// onTransportOpen reconciles after every (re)connect: replay parked sends,
// refresh the conversation list incrementally from the last sync point,
// and re-fetch the active window so deletions during the outage are
// reflected.
func (e *SyncEngine) onTransportOpen() {
	go func() {
		e.sends.flushQueued(e.ctx)
		e.refreshConversationList()
		if conversationID, gen := e.state.active(); conversationID != "" {
			if err := e.history.refreshWindow(e.ctx, conversationID, gen); err != nil {
				e.logger.Printf("chatsync: window refresh failed: %v", err)
			}
			e.receipts.schedule(e.ctx)
		}
	}()
}

func (e *SyncEngine) refreshConversationList() {
	items, err := e.store.ListConversations(e.ctx, e.state.listSyncPoint())
	if err != nil {
		e.logger.Printf("chatsync: list refresh failed: %v", err)
		return
	}
	e.state.upsertConversations(items)
}

// ── Conversations ────────────────────────────────────────

// Snapshot returns a consistent copy of the UI-visible state.
func (e *SyncEngine) Snapshot() Snapshot { return e.state.snapshot() }

// ConnectionStatus returns the current transport status.
func (e *SyncEngine) ConnectionStatus() ConnStatus { return e.conn.Status() }

// TypingUsers lists users currently typing in a conversation.
func (e *SyncEngine) TypingUsers(conversationID string) []string {
	return e.presence.TypingUsers(conversationID)
}

// Presence returns the last known presence of a user.
func (e *SyncEngine) Presence(userID string) (PresenceInfo, bool) {
	return e.presence.Presence(userID)
}

// SetActiveConversation switches the focused conversation: any pending
// read acknowledgement for the previous one flushes first, then the new
// window loads. A load still in flight for the previous conversation is
// discarded when it lands.
func (e *SyncEngine) SetActiveConversation(ctx context.Context, conversationID string) error {
	e.receipts.flush(ctx)
	e.typing.stop()
	gen := e.state.setActive(conversationID)
	if conversationID == "" {
		return nil
	}
	if err := e.history.loadInitial(ctx, conversationID, gen); err != nil {
		return err
	}
	e.receipts.schedule(ctx)
	return nil
}

// CreateConversation creates a conversation and adds it to the list.
func (e *SyncEngine) CreateConversation(ctx context.Context, opts CreateConversationOptions) (*Conversation, error) {
	conv, err := e.store.CreateConversation(ctx, opts)
	if err != nil {
		return nil, err
	}
	e.state.upsertConversations([]Conversation{*conv})
	e.conn.Send(outboundFrame{Type: frameTypeConversationSync})
	return conv, nil
}

// ── History ──────────────────────────────────────────────

// LoadOlder pages further back in the active conversation.
func (e *SyncEngine) LoadOlder(ctx context.Context) error {
	conversationID, gen := e.state.active()
	if conversationID == "" {
		return nil
	}
	return e.history.loadOlder(ctx, conversationID, gen)
}

// LoadAfter catches up messages newer than the newest loaded one.
func (e *SyncEngine) LoadAfter(ctx context.Context) error {
	conversationID, gen := e.state.active()
	if conversationID == "" {
		return nil
	}
	return e.history.loadAfter(ctx, conversationID, gen)
}

// JumpToMessage loads the window around a target message, e.g. a search
// hit or the origin of a reply.
func (e *SyncEngine) JumpToMessage(ctx context.Context, messageID string) error {
	conversationID, gen := e.state.active()
	if conversationID == "" {
		return nil
	}
	return e.history.loadAround(ctx, conversationID, messageID, gen)
}

// Search runs a full-text search within the active conversation.
func (e *SyncEngine) Search(ctx context.Context, query string) ([]SearchResult, error) {
	conversationID, _ := e.state.active()
	if conversationID == "" {
		return nil, nil
	}
	return e.store.Search(ctx, conversationID, query)
}

// ── Sending ──────────────────────────────────────────────

// Send submits a message to the active conversation. The optimistic entry
// appears in the next snapshot; confirmation or failure follows through
// the pending status.
func (e *SyncEngine) Send(ctx context.Context, body string, files ...UploadFile) error {
	conversationID, _ := e.state.active()
	if conversationID == "" {
		return &ValidationError{Detail: "no active conversation"}
	}
	return e.sends.Submit(ctx, conversationID, body, files)
}

// RetryPending re-dispatches a FAILED or QUEUED message.
func (e *SyncEngine) RetryPending(ctx context.Context, clientMessageID string) error {
	return e.sends.Retry(ctx, clientMessageID)
}

// DiscardPending drops a FAILED or QUEUED message without sending it.
func (e *SyncEngine) DiscardPending(clientMessageID string) {
	e.sends.Discard(clientMessageID)
}

// ── Messages ─────────────────────────────────────────────

// ToggleReaction adds the viewer's reaction, or removes it when already
// present on the loaded copy. The resulting reaction:update event carries
// the authoritative set.
func (e *SyncEngine) ToggleReaction(ctx context.Context, messageID, emoji string) error {
	var mine bool
	snap := e.state.snapshot()
	for _, item := range snap.Messages {
		if item.Message.ID != messageID {
			continue
		}
		for _, re := range item.Message.Reactions {
			if re.UserID == e.opts.SelfUserID && re.Emoji == emoji {
				mine = true
				break
			}
		}
		break
	}
	if mine {
		return e.store.RemoveReaction(ctx, messageID, emoji)
	}
	return e.store.SetReaction(ctx, messageID, emoji)
}

// DeleteMessage soft-deletes a message. The tombstone is applied locally
// right away; the broadcast event makes other clients converge.
func (e *SyncEngine) DeleteMessage(ctx context.Context, messageID string) error {
	deletedAt, err := e.store.DeleteMessage(ctx, messageID)
	if err != nil {
		return err
	}
	e.state.updateMessage(messageID, func(m *Message) {
		m.DeletedAt = deletedAt
	})
	return nil
}

// ── Viewport & input ─────────────────────────────────────

// SetViewportNearBottom records whether the viewer is scrolled to the
// bottom. Returning to the bottom clears the new-message count and
// schedules a read acknowledgement.
func (e *SyncEngine) SetViewportNearBottom(near bool) {
	e.state.setNearBottom(near)
	if near {
		e.receipts.schedule(e.ctx)
	}
}

// MarkReadNow acknowledges reads immediately, bypassing the debounce.
func (e *SyncEngine) MarkReadNow(ctx context.Context) {
	e.receipts.flush(ctx)
}

// NotifyTyping records viewer input activity in the active conversation,
// driving the outbound typing indicator.
func (e *SyncEngine) NotifyTyping() {
	conversationID, _ := e.state.active()
	if conversationID == "" {
		return
	}
	e.typing.keystroke(conversationID)
}

// SetOnline feeds external connectivity signals to the connection manager.
func (e *SyncEngine) SetOnline(online bool) {
	e.conn.SetOnline(e.ctx, online)
}

// RefreshCredentials clears a needs-reauth pause after the credential
// source has been updated and reconnects.
func (e *SyncEngine) RefreshCredentials() {
	e.conn.Refresh(e.ctx)
}
