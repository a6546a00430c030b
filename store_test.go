package chatsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// newTestStore spins up a fake message-store endpoint for one test.
func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewStore(srv.URL, StaticToken("test-token"), srv.Client())
}

func writeOK(w http.ResponseWriter, data any) {
	payload, _ := json.Marshal(data)
	json.NewEncoder(w).Encode(Result{OK: true, Data: payload})
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Result{OK: false, Error: &APIError{Code: code, Message: message}})
}

func TestStore_BearerHeader(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		writeOK(w, ConversationsPage{})
	})
	if _, err := store.ListConversations(context.Background(), time.Time{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStore_ErrorEnvelope(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusOK, "CONVERSATION_NOT_FOUND", "no such conversation")
	})
	_, err := store.ListMessages(context.Background(), "conv-x", MessageQuery{})
	var serr *StoreError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *StoreError, got %T: %v", err, err)
	}
	if serr.Code != "CONVERSATION_NOT_FOUND" {
		t.Errorf("code = %q", serr.Code)
	}
}

func TestStore_AuthRejection(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := store.ListConversations(context.Background(), time.Time{})
	var aerr *AuthError
	if !errors.As(err, &aerr) {
		t.Fatalf("expected *AuthError, got %T: %v", err, err)
	}
}

func TestStore_ListMessagesQueryModes(t *testing.T) {
	var lastQuery map[string]string
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		lastQuery = map[string]string{}
		for k := range r.URL.Query() {
			lastQuery[k] = r.URL.Query().Get(k)
		}
		writeOK(w, MessagesPage{})
	})

	ctx := context.Background()
	if _, err := store.ListMessages(ctx, "conv-1", MessageQuery{Cursor: "cur-9"}); err != nil {
		t.Fatal(err)
	}
	if lastQuery["cursor"] != "cur-9" || lastQuery["includeMembers"] != "0" {
		t.Errorf("cursor fetch query = %v", lastQuery)
	}

	if _, err := store.ListMessages(ctx, "conv-1", MessageQuery{After: "m7", IncludeMembers: true}); err != nil {
		t.Fatal(err)
	}
	if lastQuery["after"] != "m7" {
		t.Errorf("after fetch query = %v", lastQuery)
	}
	if _, present := lastQuery["includeMembers"]; present {
		t.Errorf("includeMembers must be omitted when requested: %v", lastQuery)
	}

	if _, err := store.ListMessages(ctx, "conv-1", MessageQuery{Around: "m3"}); err != nil {
		t.Fatal(err)
	}
	if lastQuery["around"] != "m3" {
		t.Errorf("around fetch query = %v", lastQuery)
	}
}

func TestStore_ListConversationsIncremental(t *testing.T) {
	var gotUpdatedAfter string
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		gotUpdatedAfter = r.URL.Query().Get("updatedAfter")
		writeOK(w, ConversationsPage{Items: []Conversation{{ID: "conv-1"}}})
	})

	since := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	items, err := store.ListConversations(context.Background(), since)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %+v", items)
	}
	if gotUpdatedAfter == "" {
		t.Error("incremental fetch must carry updatedAfter")
	}
	if parsed, err := time.Parse(time.RFC3339Nano, gotUpdatedAfter); err != nil || !parsed.Equal(since) {
		t.Errorf("updatedAfter = %q", gotUpdatedAfter)
	}
}

func TestStore_CreateMessageCarriesIdempotencyKey(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		json.NewDecoder(r.Body).Decode(&payload)
		if payload["clientMessageId"] != "c-42" {
			t.Errorf("clientMessageId = %v", payload["clientMessageId"])
		}
		writeOK(w, map[string]any{"message": Message{
			ID:             "m-server",
			ConversationID: "conv-1",
			Body:           fmt.Sprint(payload["body"]),
			CreatedAt:      time.Now().UTC(),
		}})
	})

	msg, err := store.CreateMessage(context.Background(), "conv-1", "hello", nil, "c-42")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != "m-server" {
		t.Errorf("message id = %q", msg.ID)
	}
}

func TestStore_MarkReadNoop(t *testing.T) {
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		writeOK(w, MarkReadResult{Updated: false})
	})
	updated, err := store.MarkRead(context.Background(), "conv-1", "m5")
	if err != nil {
		t.Fatal(err)
	}
	if updated {
		t.Error("expected updated=false passthrough")
	}
}
