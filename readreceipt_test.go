package chatsync

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

type receiptFixture struct {
	receipts *readReceipts
	state    *localState
	calls    atomic.Int32
	lastSent atomic.Value
}

func newReceiptFixture(t *testing.T, debounce time.Duration) *receiptFixture {
	t.Helper()
	f := &receiptFixture{}
	store := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		f.calls.Add(1)
		f.lastSent.Store(payload["lastReadMessageId"])
		writeOK(w, MarkReadResult{Updated: true})
	})
	f.state = newLocalState("user-1")
	f.receipts = newReadReceipts(store, f.state, debounce, testLogger())
	t.Cleanup(f.receipts.closeTimers)
	return f
}

func TestReadReceipts_DebounceCollapsesBurst(t *testing.T) {
	f := newReceiptFixture(t, 30*time.Millisecond)
	f.state.setConversations([]Conversation{{ID: "conv-1", UnreadCount: 3}})
	gen := f.state.setActive("conv-1")
	f.state.mergeMessages(gen, []Message{msgAt("m1", time.Minute), msgAt("m2", 2*time.Minute)})

	ctx := context.Background()
	f.receipts.schedule(ctx)
	f.receipts.schedule(ctx)
	f.receipts.schedule(ctx)

	waitFor(t, func() bool { return f.calls.Load() == 1 })
	time.Sleep(60 * time.Millisecond)
	if f.calls.Load() != 1 {
		t.Fatalf("burst produced %d acknowledgements, want 1", f.calls.Load())
	}
	if got := f.lastSent.Load(); got != "m2" {
		t.Errorf("boundary = %v, want m2", got)
	}

	conv := f.state.snapshot().Conversations[0]
	if conv.UnreadCount != 0 || conv.ViewerLastReadMessageID != "m2" {
		t.Errorf("local read state not advanced: %+v", conv)
	}
}

func TestReadReceipts_SameBoundaryNotResent(t *testing.T) {
	f := newReceiptFixture(t, time.Millisecond)
	gen := f.state.setActive("conv-1")
	f.state.mergeMessages(gen, []Message{msgAt("m1", time.Minute)})

	ctx := context.Background()
	f.receipts.flush(ctx)
	f.receipts.flush(ctx)
	if f.calls.Load() != 1 {
		t.Fatalf("same boundary acknowledged %d times", f.calls.Load())
	}

	// A newer message moves the boundary and re-arms the receipt.
	f.state.mergeMessages(gen, []Message{msgAt("m2", 2*time.Minute)})
	f.receipts.flush(ctx)
	if f.calls.Load() != 2 || f.lastSent.Load() != "m2" {
		t.Fatalf("calls = %d, boundary = %v", f.calls.Load(), f.lastSent.Load())
	}
}

func TestReadReceipts_GatedOnViewport(t *testing.T) {
	f := newReceiptFixture(t, time.Millisecond)
	gen := f.state.setActive("conv-1")
	f.state.mergeMessages(gen, []Message{msgAt("m1", time.Minute)})
	f.state.setNearBottom(false)

	ctx := context.Background()
	f.receipts.schedule(ctx)
	f.receipts.flush(ctx)
	time.Sleep(20 * time.Millisecond)
	if f.calls.Load() != 0 {
		t.Fatal("scrolled-up viewport must not acknowledge reads")
	}
}

func TestReadReceipts_SkipsDeletedBoundary(t *testing.T) {
	f := newReceiptFixture(t, time.Millisecond)
	gen := f.state.setActive("conv-1")
	deleted := msgAt("m2", 2*time.Minute)
	at := testEpoch.Add(time.Hour)
	deleted.DeletedAt = &at
	f.state.mergeMessages(gen, []Message{msgAt("m1", time.Minute), deleted})

	f.receipts.flush(context.Background())
	if got := f.lastSent.Load(); got != "m1" {
		t.Fatalf("boundary = %v, want the newest non-deleted message", got)
	}
}

func TestReadReceipts_EmptyWindowIsNoop(t *testing.T) {
	f := newReceiptFixture(t, time.Millisecond)
	f.state.setActive("conv-1")
	f.receipts.flush(context.Background())
	if f.calls.Load() != 0 {
		t.Fatal("empty window must not acknowledge anything")
	}
}
