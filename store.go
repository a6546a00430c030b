package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ============================================================================
// Message Store Client
// ============================================================================

// Store is the REST client for the message store. It is the single
// authoritative ordering source per conversation; the engine never
// re-orders by arrival time, only by (createdAt, id).
type Store struct {
	baseURL    string
	creds      CredentialSource
	httpClient *http.Client
}

// NewStore creates a message-store client. httpClient may be nil.
func NewStore(baseURL string, creds CredentialSource, httpClient *http.Client) *Store {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Store{
		baseURL:    strings.TrimRight(baseURL, "/"),
		creds:      creds,
		httpClient: httpClient,
	}
}

func (s *Store) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) (*Result, error) {
	u := s.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	token, err := s.creds.Token(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &StoreError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{Reason: fmt.Sprintf("store rejected credential (HTTP %d)", resp.StatusCode)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &StoreError{Op: method + " " + path, Err: err}
	}
	var result Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &StoreError{Op: method + " " + path, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}
	if !result.OK {
		code := "UNKNOWN"
		if result.Error != nil {
			code = result.Error.Code
		}
		return nil, &StoreError{Op: method + " " + path, Code: code, Err: result.Error}
	}
	return &result, nil
}

func decodePayload[T any](r *Result, op string) (*T, error) {
	var out T
	if err := r.Decode(&out); err != nil {
		return nil, &StoreError{Op: op, Err: fmt.Errorf("failed to decode payload: %w", err)}
	}
	return &out, nil
}

// ── Conversations ────────────────────────────────────────

// ListConversations fetches the viewer's conversation list. A non-zero
// updatedAfter makes the fetch incremental: only conversations changed
// since that sync point are returned.
func (s *Store) ListConversations(ctx context.Context, updatedAfter time.Time) ([]Conversation, error) {
	var query map[string]string
	if !updatedAfter.IsZero() {
		query = map[string]string{"updatedAfter": updatedAfter.UTC().Format(time.RFC3339Nano)}
	}
	res, err := s.doRequest(ctx, "GET", "/api/chat/conversations", nil, query)
	if err != nil {
		return nil, err
	}
	page, err := decodePayload[ConversationsPage](res, "listConversations")
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// CreateConversationOptions describes a new conversation. Direct
// conversations take UserID; groups and channels take Title and MemberIDs.
type CreateConversationOptions struct {
	Kind      ConversationKind `json:"type"`
	UserID    string           `json:"userId,omitempty"`
	Title     string           `json:"title,omitempty"`
	MemberIDs []string         `json:"memberIds,omitempty"`
}

// CreateConversation creates a conversation and returns it.
func (s *Store) CreateConversation(ctx context.Context, opts CreateConversationOptions) (*Conversation, error) {
	res, err := s.doRequest(ctx, "POST", "/api/chat/conversations", opts, nil)
	if err != nil {
		return nil, err
	}
	type payload struct {
		Conversation Conversation `json:"conversation"`
	}
	p, err := decodePayload[payload](res, "createConversation")
	if err != nil {
		return nil, err
	}
	return &p.Conversation, nil
}

// ── Messages ─────────────────────────────────────────────

// MessageQuery selects one fetch mode: Cursor pages strictly older,
// After catches up strictly newer, Around centers on a target message.
// At most one should be set; all empty fetches the most recent page.
type MessageQuery struct {
	Cursor         string
	After          string
	Around         string
	IncludeMembers bool
}

// ListMessages fetches one window of a conversation's messages.
func (s *Store) ListMessages(ctx context.Context, conversationID string, q MessageQuery) (*MessagesPage, error) {
	query := map[string]string{}
	if q.Cursor != "" {
		query["cursor"] = q.Cursor
	}
	if q.After != "" {
		query["after"] = q.After
	}
	if q.Around != "" {
		query["around"] = q.Around
	}
	if !q.IncludeMembers {
		query["includeMembers"] = "0"
	}
	res, err := s.doRequest(ctx, "GET", "/api/chat/conversations/"+conversationID+"/messages", nil, query)
	if err != nil {
		return nil, err
	}
	return decodePayload[MessagesPage](res, "listMessages")
}

// CreateMessage submits a message. The server deduplicates on
// clientMessageID, so retrying with the same id never produces a
// duplicate; the returned Message is the confirmed copy either way.
func (s *Store) CreateMessage(ctx context.Context, conversationID, body string, attachments []Attachment, clientMessageID string) (*Message, error) {
	payload := map[string]interface{}{
		"conversationId":  conversationID,
		"body":            body,
		"clientMessageId": clientMessageID,
	}
	if len(attachments) > 0 {
		payload["attachments"] = attachments
	}
	res, err := s.doRequest(ctx, "POST", "/api/chat/messages", payload, nil)
	if err != nil {
		return nil, err
	}
	type result struct {
		Message Message `json:"message"`
	}
	p, err := decodePayload[result](res, "createMessage")
	if err != nil {
		return nil, err
	}
	if p.Message.ID == "" {
		return nil, &StoreError{Op: "createMessage", Err: fmt.Errorf("response without message")}
	}
	return &p.Message, nil
}

// MarkRead acknowledges reads up to lastReadMessageID. The returned flag is
// false when the server's read position was already at or past the boundary.
func (s *Store) MarkRead(ctx context.Context, conversationID, lastReadMessageID string) (bool, error) {
	payload := map[string]string{"lastReadMessageId": lastReadMessageID}
	res, err := s.doRequest(ctx, "POST", "/api/chat/conversations/"+conversationID+"/read", payload, nil)
	if err != nil {
		return false, err
	}
	p, err := decodePayload[MarkReadResult](res, "markRead")
	if err != nil {
		return false, err
	}
	return p.Updated, nil
}

// SetReaction adds or replaces the viewer's reaction on a message.
func (s *Store) SetReaction(ctx context.Context, messageID, emoji string) error {
	_, err := s.doRequest(ctx, "POST", "/api/chat/messages/"+messageID+"/reactions", map[string]string{"emoji": emoji}, nil)
	return err
}

// RemoveReaction removes the viewer's reaction from a message.
func (s *Store) RemoveReaction(ctx context.Context, messageID, emoji string) error {
	_, err := s.doRequest(ctx, "DELETE", "/api/chat/messages/"+messageID+"/reactions", map[string]string{"emoji": emoji}, nil)
	return err
}

// DeleteMessage soft-deletes a message and returns the deletion timestamp.
func (s *Store) DeleteMessage(ctx context.Context, messageID string) (*time.Time, error) {
	res, err := s.doRequest(ctx, "DELETE", "/api/chat/messages/"+messageID, nil, nil)
	if err != nil {
		return nil, err
	}
	type payload struct {
		DeletedAt time.Time `json:"deletedAt"`
	}
	p, err := decodePayload[payload](res, "deleteMessage")
	if err != nil {
		return nil, err
	}
	return &p.DeletedAt, nil
}

// Search runs a full-text search within one conversation.
func (s *Store) Search(ctx context.Context, conversationID, query string) ([]SearchResult, error) {
	res, err := s.doRequest(ctx, "GET", "/api/chat/search", nil, map[string]string{
		"query":          query,
		"conversationId": conversationID,
	})
	if err != nil {
		return nil, err
	}
	type payload struct {
		Items []SearchResult `json:"items"`
	}
	p, err := decodePayload[payload](res, "search")
	if err != nil {
		return nil, err
	}
	return p.Items, nil
}

// ── Attachment presign ───────────────────────────────────

// PresignRequest asks the store for a one-shot upload grant.
type PresignRequest struct {
	Type     AttachmentType `json:"type"`
	Mime     string         `json:"mime"`
	Size     int64          `json:"size"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PresignGrant is the store's reply: where to upload and the stable
// retrieval URL to embed in the message payload.
type PresignGrant struct {
	UploadURL   string `json:"uploadUrl"`
	UploadToken string `json:"uploadToken"`
	Path        string `json:"path"`
	Bucket      string `json:"bucket,omitempty"`
	URL         string `json:"url"`
}

// PresignUpload requests an upload grant for one attachment.
func (s *Store) PresignUpload(ctx context.Context, req PresignRequest) (*PresignGrant, error) {
	res, err := s.doRequest(ctx, "POST", "/api/chat/attachments/presign", req, nil)
	if err != nil {
		return nil, err
	}
	return decodePayload[PresignGrant](res, "presignUpload")
}
