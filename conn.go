package chatsync

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// ============================================================================
// Connection Manager
// ============================================================================

// ConnState is the coarse transport state.
type ConnState string

const (
	StateConnecting ConnState = "connecting"
	StateOpen       ConnState = "open"
	StateClosed     ConnState = "closed"
)

// ConnStatus is the connection status exposed for display. Offline and
// NeedsReauth refine StateClosed so the UI can distinguish "no network"
// from "reconnecting" from "unauthenticated".
type ConnStatus struct {
	State       ConnState
	Offline     bool
	NeedsReauth bool
}

// backoff implements the reconnect delay policy: starts at the base value,
// grows multiplicatively up to the ceiling on each failed attempt, and
// resets to the base on every successful open.
type backoff struct {
	base    time.Duration
	max     time.Duration
	factor  float64
	current time.Duration
}

func newBackoff(base, max time.Duration, factor float64) *backoff {
	return &backoff{base: base, max: max, factor: factor, current: base}
}

// next returns the delay before the upcoming attempt and advances the policy.
func (b *backoff) next() time.Duration {
	d := b.current
	grown := time.Duration(float64(b.current) * b.factor)
	if grown > b.max {
		grown = b.max
	}
	b.current = grown
	return d
}

func (b *backoff) reset() {
	b.current = b.base
}

// connManager owns the single transport connection of a session:
// authenticates it, keeps it alive with periodic pings, and reconnects
// with exponential backoff. Raw frames are parsed and handed to onEvent;
// malformed frames are dropped and logged.
type connManager struct {
	wsURL        string
	tenantID     string
	creds        CredentialSource
	pingInterval time.Duration
	logger       *log.Logger

	onEvent  func(*Event)
	onOpen   func()
	onStatus func(ConnStatus)

	mu             sync.Mutex
	state          ConnState
	offline        bool
	needsReauth    bool
	intentional    bool
	connecting     bool
	conn           *websocket.Conn
	cancelRead     context.CancelFunc
	reconnectTimer *time.Timer
	recon          *backoff
}

func newConnManager(wsURL, tenantID string, creds CredentialSource, pingInterval time.Duration, logger *log.Logger) *connManager {
	return &connManager{
		wsURL:        wsURL,
		tenantID:     tenantID,
		creds:        creds,
		pingInterval: pingInterval,
		logger:       logger,
		state:        StateClosed,
		recon:        newBackoff(500*time.Millisecond, 10*time.Second, 1.7),
	}
}

// Status returns the current connection status.
func (c *connManager) Status() ConnStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ConnStatus{State: c.state, Offline: c.offline, NeedsReauth: c.needsReauth}
}

func (c *connManager) setState(state ConnState) {
	c.mu.Lock()
	c.state = state
	status := ConnStatus{State: c.state, Offline: c.offline, NeedsReauth: c.needsReauth}
	c.mu.Unlock()
	if c.onStatus != nil {
		c.onStatus(status)
	}
}

// Connect establishes the transport session: dial with the short-lived
// credential and tenant scope, then start the read and ping loops. Safe to
// call while already connecting or open.
func (c *connManager) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.connecting || c.state == StateOpen || c.offline {
		c.mu.Unlock()
		return
	}
	c.connecting = true
	c.intentional = false
	c.mu.Unlock()

	c.setState(StateConnecting)

	token, err := c.creds.Token(ctx)
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		var authErr *AuthError
		if errors.As(err, &authErr) {
			// Reconnection pauses until the credential is refreshed;
			// backoff churn against a dead token helps no one.
			c.needsReauth = true
			c.mu.Unlock()
			c.setState(StateClosed)
			return
		}
		c.mu.Unlock()
		c.setState(StateClosed)
		c.scheduleReconnect(ctx)
		return
	}

	dialURL := c.buildURL(token)
	conn, resp, err := websocket.Dial(ctx, dialURL, nil)
	if err != nil {
		c.mu.Lock()
		c.connecting = false
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			c.needsReauth = true
			c.mu.Unlock()
			c.setState(StateClosed)
			return
		}
		c.mu.Unlock()
		c.logger.Printf("chatsync: dial failed: %v", err)
		c.setState(StateClosed)
		c.scheduleReconnect(ctx)
		return
	}

	readCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.connecting = false
	c.needsReauth = false
	c.conn = conn
	c.cancelRead = cancel
	c.recon.reset()
	c.mu.Unlock()
	c.setState(StateOpen)

	go c.readLoop(readCtx, cancel, conn)
	go c.pingLoop(readCtx)

	// Every transition into OPEN triggers a full reconciliation to close
	// any gap caused by the outage.
	c.Send(outboundFrame{Type: frameTypeConversationSync})
	if c.onOpen != nil {
		c.onOpen()
	}
}

func (c *connManager) buildURL(token string) string {
	u := strings.Replace(c.wsURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	params := url.Values{}
	params.Set("token", token)
	params.Set("organizationId", c.tenantID)
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + params.Encode()
}

// Disconnect closes the connection without scheduling a reconnect.
func (c *connManager) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.cancelRead != nil {
		c.cancelRead()
		c.cancelRead = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	c.setState(StateClosed)

	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
}

// SetOnline records connectivity. Going offline suppresses reconnection
// and closes any live connection; coming back online reconnects
// immediately, skipping whatever delay was pending.
func (c *connManager) SetOnline(ctx context.Context, online bool) {
	c.mu.Lock()
	wasOffline := c.offline
	c.offline = !online
	if !online {
		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
			c.reconnectTimer = nil
		}
		if c.cancelRead != nil {
			c.cancelRead()
			c.cancelRead = nil
		}
		conn := c.conn
		c.conn = nil
		c.mu.Unlock()
		c.setState(StateClosed)
		if conn != nil {
			conn.Close(websocket.StatusGoingAway, "offline")
		}
		return
	}
	if wasOffline {
		// recon is guarded by mu; scheduleReconnect advances it under the
		// same lock.
		c.recon.reset()
	}
	c.mu.Unlock()
	if wasOffline {
		go c.Connect(ctx)
	}
}

// Refresh clears a needs-reauth pause after the credential source has been
// updated, and tries to connect again.
func (c *connManager) Refresh(ctx context.Context) {
	c.mu.Lock()
	c.needsReauth = false
	c.mu.Unlock()
	go c.Connect(ctx)
}

// Send transmits one frame, fire-and-forget: delivery is not guaranteed
// unless the connection is OPEN.
func (c *connManager) Send(frame outboundFrame) {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()
	if conn == nil || !open {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		c.logger.Printf("chatsync: send %s failed: %v", frame.Type, err)
	}
}

func (c *connManager) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn) {
	// The ping loop shares this connection's context; cancelling on exit
	// stops it with the read loop instead of leaving it running into the
	// next connection.
	defer cancel()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.mu.Lock()
			intentional := c.intentional
			offline := c.offline
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			if intentional {
				return
			}
			c.setState(StateClosed)
			if !offline {
				c.scheduleReconnect(context.Background())
			}
			return
		}
		ev, err := parseEvent(data)
		if err != nil {
			c.logger.Printf("chatsync: dropping frame: %v", err)
			continue
		}
		if c.onEvent != nil {
			c.onEvent(ev)
		}
	}
}

func (c *connManager) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Send(outboundFrame{Type: frameTypePing})
		}
	}
}

func (c *connManager) scheduleReconnect(ctx context.Context) {
	c.mu.Lock()
	if c.reconnectTimer != nil || c.offline || c.needsReauth {
		c.mu.Unlock()
		return
	}
	delay := c.recon.next()
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		c.mu.Unlock()
		c.Connect(ctx)
	})
	c.mu.Unlock()
	c.logger.Printf("chatsync: reconnect in %s", delay)
}
