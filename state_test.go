package chatsync

import (
	"testing"
	"time"
)

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func msgAt(id string, offset time.Duration) Message {
	return Message{
		ID:             id,
		ConversationID: "conv-1",
		Body:           "body " + id,
		CreatedAt:      testEpoch.Add(offset),
		Sender:         &Profile{ID: "user-2"},
	}
}

func messageIDs(items []Message) []string {
	out := make([]string, len(items))
	for i, m := range items {
		out[i] = m.ID
	}
	return out
}

func wantIDs(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMergeInto_OrderAndDedupe(t *testing.T) {
	existing := []Message{msgAt("m2", 2*time.Minute), msgAt("m4", 4*time.Minute)}
	incoming := []Message{msgAt("m1", time.Minute), msgAt("m3", 3*time.Minute), msgAt("m2", 2*time.Minute)}

	merged := mergeInto(existing, incoming)
	wantIDs(t, messageIDs(merged), []string{"m1", "m2", "m3", "m4"})

	// Merging the same window again changes nothing.
	again := mergeInto(merged, incoming)
	wantIDs(t, messageIDs(again), []string{"m1", "m2", "m3", "m4"})
}

func TestMergeInto_ReplacesByID(t *testing.T) {
	existing := []Message{msgAt("m1", time.Minute)}
	edited := msgAt("m1", time.Minute)
	edited.Body = "edited"

	merged := mergeInto(existing, []Message{edited})
	if len(merged) != 1 || merged[0].Body != "edited" {
		t.Fatalf("expected incoming copy to replace existing, got %+v", merged)
	}
}

func TestMessageOrder_TiesBreakOnID(t *testing.T) {
	a := msgAt("aaa", time.Minute)
	b := msgAt("bbb", time.Minute)
	if !a.Before(&b) {
		t.Error("equal timestamps must order by id")
	}
	if b.Before(&a) {
		t.Error("order must be strict")
	}
}

func TestReplaceWindow_DropsAbsentInsideBounds(t *testing.T) {
	s := newLocalState("user-1")
	gen := s.setActive("conv-1")
	s.mergeMessages(gen, []Message{
		msgAt("m1", time.Minute),
		msgAt("m2", 2*time.Minute),
		msgAt("m3", 3*time.Minute),
		msgAt("m5", 5*time.Minute),
	})

	// Authoritative window covering [m2, m5]; m3 is gone server-side.
	ok := s.replaceWindow(gen, []Message{
		msgAt("m2", 2*time.Minute),
		msgAt("m4", 4*time.Minute),
		msgAt("m5", 5*time.Minute),
	}, false)
	if !ok {
		t.Fatal("replaceWindow reported stale generation")
	}

	snap := s.snapshot()
	got := make([]string, len(snap.Messages))
	for i, d := range snap.Messages {
		got[i] = d.Message.ID
	}
	// m1 is older than the window and survives; m3 is dropped.
	wantIDs(t, got, []string{"m1", "m2", "m4", "m5"})
}

func TestReplaceWindow_OpenEndedDropsNewerAbsent(t *testing.T) {
	s := newLocalState("user-1")
	gen := s.setActive("conv-1")
	s.mergeMessages(gen, []Message{
		msgAt("m1", time.Minute),
		msgAt("m2", 2*time.Minute),
		msgAt("m9", 9*time.Minute),
	})

	// Refresh returns [m2, m3]: everything from m2 onward is authoritative,
	// so the locally-known m9 (deleted during the outage) is dropped.
	s.replaceWindow(gen, []Message{
		msgAt("m2", 2*time.Minute),
		msgAt("m3", 3*time.Minute),
	}, true)

	snap := s.snapshot()
	got := make([]string, len(snap.Messages))
	for i, d := range snap.Messages {
		got[i] = d.Message.ID
	}
	wantIDs(t, got, []string{"m1", "m2", "m3"})
}

func TestReplaceWindow_EmptyRefreshClearsWindow(t *testing.T) {
	s := newLocalState("user-1")
	gen := s.setActive("conv-1")
	s.mergeMessages(gen, []Message{
		msgAt("m1", time.Minute),
		msgAt("m2", 2*time.Minute),
	})

	// Every message was deleted during the outage: the open-ended refresh
	// comes back empty, and the local copies go with it.
	if !s.replaceWindow(gen, nil, true) {
		t.Fatal("refresh merge discarded as stale")
	}
	if snap := s.snapshot(); len(snap.Messages) != 0 {
		t.Fatalf("window not cleared: %+v", snap.Messages)
	}

	// A bounded around-result carries no bounds when empty; it must not
	// wipe unrelated local state.
	s.mergeMessages(gen, []Message{msgAt("m3", 3*time.Minute)})
	if !s.replaceWindow(gen, nil, false) {
		t.Fatal("around merge discarded as stale")
	}
	if snap := s.snapshot(); len(snap.Messages) != 1 {
		t.Fatalf("bounded empty result must leave the window, got %+v", snap.Messages)
	}
}

func TestGeneration_DiscardsStaleLoads(t *testing.T) {
	s := newLocalState("user-1")
	gen := s.setActive("conv-1")
	s.setActive("conv-2")

	if s.mergeMessages(gen, []Message{msgAt("m1", time.Minute)}) {
		t.Error("merge with stale generation must be discarded")
	}
	if s.replaceWindow(gen, []Message{msgAt("m1", time.Minute)}, false) {
		t.Error("replace with stale generation must be discarded")
	}
	if snap := s.snapshot(); len(snap.Messages) != 0 {
		t.Errorf("stale load leaked into new window: %d messages", len(snap.Messages))
	}
}

func TestSnapshot_PendingProjection(t *testing.T) {
	s := newLocalState("user-1")
	gen := s.setActive("conv-1")
	s.mergeMessages(gen, []Message{msgAt("m1", time.Minute)})
	s.addPending(PendingMessage{
		ConversationID:  "conv-1",
		ClientMessageID: "c-1",
		Body:            "optimistic",
		CreatedAt:       testEpoch.Add(2 * time.Minute),
		Status:          StatusPending,
	})
	s.addPending(PendingMessage{
		ConversationID:  "conv-other",
		ClientMessageID: "c-2",
		Body:            "elsewhere",
		CreatedAt:       testEpoch.Add(3 * time.Minute),
		Status:          StatusPending,
	})

	snap := s.snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("expected confirmed + active-conversation pending, got %d entries", len(snap.Messages))
	}
	last := snap.Messages[1]
	if !last.IsPending() || last.Pending.ClientMessageID != "c-1" {
		t.Fatalf("expected pending projection last, got %+v", last)
	}
	if snap.Messages[0].IsPending() {
		t.Error("confirmed message marked pending")
	}
}

func TestConfirmPending_AtomicSwap(t *testing.T) {
	s := newLocalState("user-1")
	gen := s.setActive("conv-1")
	_ = gen
	s.addPending(PendingMessage{
		ConversationID:  "conv-1",
		ClientMessageID: "c-1",
		Body:            "hello",
		CreatedAt:       testEpoch,
		Status:          StatusPending,
	})

	confirmed := msgAt("m1", 0)
	confirmed.ClientMessageID = "c-1"
	s.confirmPending("c-1", confirmed)

	snap := s.snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("expected exactly one entry after confirm, got %d", len(snap.Messages))
	}
	if snap.Messages[0].IsPending() || snap.Messages[0].Message.ID != "m1" {
		t.Fatalf("expected confirmed message, got %+v", snap.Messages[0])
	}
}

func TestQueuedInOrder(t *testing.T) {
	s := newLocalState("user-1")
	for i, id := range []string{"c-1", "c-2", "c-3"} {
		status := StatusQueued
		if id == "c-2" {
			status = StatusFailed
		}
		s.addPending(PendingMessage{
			ConversationID:  "conv-1",
			ClientMessageID: id,
			CreatedAt:       testEpoch.Add(time.Duration(i) * time.Second),
			Status:          status,
		})
	}
	queued := s.queuedInOrder()
	if len(queued) != 2 || queued[0].ClientMessageID != "c-1" || queued[1].ClientMessageID != "c-3" {
		t.Fatalf("unexpected queue order: %+v", queued)
	}
}

func TestLatestReadableID_SkipsDeleted(t *testing.T) {
	s := newLocalState("user-1")
	gen := s.setActive("conv-1")
	deleted := msgAt("m2", 2*time.Minute)
	now := testEpoch.Add(time.Hour)
	deleted.DeletedAt = &now
	s.mergeMessages(gen, []Message{msgAt("m1", time.Minute), deleted})

	if got := s.latestReadableID(); got != "m1" {
		t.Fatalf("boundary = %q, want m1", got)
	}
}

func TestSortConversations_NewestFirst(t *testing.T) {
	s := newLocalState("user-1")
	older := testEpoch
	newer := testEpoch.Add(time.Hour)
	s.setConversations([]Conversation{
		{ID: "conv-a", LastMessageAt: &older},
		{ID: "conv-b", LastMessageAt: &newer},
		{ID: "conv-c"},
	})
	snap := s.snapshot()
	if snap.Conversations[0].ID != "conv-b" || snap.Conversations[2].ID != "conv-c" {
		t.Fatalf("unexpected ordering: %v", snap.Conversations)
	}
}

func TestSnapshot_FirstUnreadMessageID(t *testing.T) {
	s := newLocalState("user-1")
	s.setConversations([]Conversation{{ID: "conv-1", ViewerLastReadMessageID: "m2"}})
	gen := s.setActive("conv-1")
	s.mergeMessages(gen, []Message{
		msgAt("m1", time.Minute),
		msgAt("m2", 2*time.Minute),
		msgAt("m3", 3*time.Minute),
	})

	snap := s.snapshot()
	if got := snap.FirstUnreadMessageID(); got != "m3" {
		t.Fatalf("FirstUnreadMessageID = %q, want m3", got)
	}
}
