package chatsync

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Send Pipeline
// ============================================================================

// sendPipeline turns submissions into optimistic local messages and
// delivers them to the store. Deliveries are serialized per conversation so
// a user's messages arrive in submission order; different conversations
// proceed independently. The clientMessageId assigned at submission is the
// idempotency key for the message's whole lifetime: every retry reuses it,
// and the server dedupes on it, so at-least-once delivery never produces
// duplicates.
type sendPipeline struct {
	store    *Store
	uploader *uploader
	state    *localState
	typing   *typingSender
	isOnline func() bool
	logger   *log.Logger

	mu     sync.Mutex
	chains map[string]chan func()
	files  map[string][]UploadFile
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

func newSendPipeline(store *Store, up *uploader, state *localState, typing *typingSender, isOnline func() bool, logger *log.Logger) *sendPipeline {
	return &sendPipeline{
		store:    store,
		uploader: up,
		state:    state,
		typing:   typing,
		isOnline: isOnline,
		logger:   logger,
		chains:   make(map[string]chan func()),
		files:    make(map[string][]UploadFile),
		done:     make(chan struct{}),
	}
}

// enqueue appends a task to the conversation's delivery chain, creating the
// chain worker on first use. Workers drain their chain until the pipeline
// shuts down; the done channel stops them without closing the task
// channels, so a submission racing close never panics.
func (p *sendPipeline) enqueue(conversationID string, task func()) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	ch, ok := p.chains[conversationID]
	if !ok {
		ch = make(chan func(), 64)
		p.chains[conversationID] = ch
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-p.done:
					return
				case task := <-ch:
					task()
				}
			}
		}()
	}
	p.mu.Unlock()
	select {
	case ch <- task:
	case <-p.done:
	}
}

func (p *sendPipeline) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.done)
	p.wg.Wait()
}

// Submit creates the optimistic entry and schedules delivery. While
// offline, a text message parks as QUEUED for replay when connectivity
// returns; a message with attachments is rejected outright, since its
// uploads cannot be deferred meaningfully.
func (p *sendPipeline) Submit(ctx context.Context, conversationID, body string, files []UploadFile) error {
	if body == "" && len(files) == 0 {
		return &ValidationError{Detail: "empty message"}
	}
	p.typing.stop()

	// One connectivity snapshot decides the whole submission, so a drop
	// mid-submit cannot park an attachment message as QUEUED.
	online := p.isOnline()
	if !online && len(files) > 0 {
		return &UploadError{FileName: files[0].Name, Err: fmt.Errorf("offline")}
	}

	pending := PendingMessage{
		ConversationID:  conversationID,
		ClientMessageID: uuid.NewString(),
		Body:            body,
		CreatedAt:       time.Now().UTC(),
		Status:          StatusPending,
	}
	if !online {
		pending.Status = StatusQueued
		p.state.addPending(pending)
		return nil
	}

	if len(files) > 0 {
		p.mu.Lock()
		p.files[pending.ClientMessageID] = files
		p.mu.Unlock()
	}
	p.state.addPending(pending)
	p.enqueue(conversationID, func() {
		p.deliver(ctx, pending.ClientMessageID)
	})
	return nil
}

// deliver pushes one pending message through uploads and message creation.
// Any failure marks the entry FAILED and stops; the user decides between
// retry and discard.
func (p *sendPipeline) deliver(ctx context.Context, clientMessageID string) {
	pending, ok := p.state.findPending(clientMessageID)
	if !ok || pending.Status != StatusPending {
		return
	}

	p.mu.Lock()
	files := p.files[clientMessageID]
	p.mu.Unlock()

	var attachments []Attachment
	for _, f := range files {
		att, err := p.uploader.upload(ctx, f)
		if err != nil {
			p.logger.Printf("chatsync: %v", err)
			p.state.setPendingStatus(clientMessageID, StatusFailed)
			return
		}
		attachments = append(attachments, att)
	}

	msg, err := p.store.CreateMessage(ctx, pending.ConversationID, pending.Body, attachments, clientMessageID)
	if err != nil {
		p.logger.Printf("chatsync: send failed: %v", err)
		p.state.setPendingStatus(clientMessageID, StatusFailed)
		return
	}

	p.mu.Lock()
	delete(p.files, clientMessageID)
	p.mu.Unlock()
	p.state.confirmPending(clientMessageID, *msg)
}

// Retry re-dispatches a FAILED or QUEUED message, reusing its
// clientMessageId. If the earlier attempt actually reached the server, the
// dedupe there returns the already-created message.
func (p *sendPipeline) Retry(ctx context.Context, clientMessageID string) error {
	pending, ok := p.state.findPending(clientMessageID)
	if !ok {
		return &ValidationError{Detail: "no pending message " + clientMessageID}
	}
	if pending.Status == StatusPending {
		return nil
	}
	if !p.isOnline() {
		p.state.setPendingStatus(clientMessageID, StatusQueued)
		return nil
	}
	p.state.setPendingStatus(clientMessageID, StatusPending)
	p.enqueue(pending.ConversationID, func() {
		p.deliver(ctx, clientMessageID)
	})
	return nil
}

// Discard drops a FAILED or QUEUED message without sending it.
func (p *sendPipeline) Discard(clientMessageID string) {
	p.mu.Lock()
	delete(p.files, clientMessageID)
	p.mu.Unlock()
	p.state.removePending(clientMessageID)
}

// flushQueued replays everything parked while offline, in original
// submission order per conversation.
func (p *sendPipeline) flushQueued(ctx context.Context) {
	for _, pending := range p.state.queuedInOrder() {
		id := pending.ClientMessageID
		p.state.setPendingStatus(id, StatusPending)
		p.enqueue(pending.ConversationID, func() {
			p.deliver(ctx, id)
		})
	}
}
