// Package messaging holds the client-side message channel: the local message
// list, optimistic sends reconciled against the REST backend, and inbound
// delivery over the realtime channel.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"

	"classroom-messaging/internal/api"
	"classroom-messaging/internal/models"
	"classroom-messaging/internal/observability"
	"classroom-messaging/internal/realtime"
	"classroom-messaging/internal/receipts"
)

// ErrInvalidDraft rejects an incomplete send form before any network action.
var ErrInvalidDraft = errors.New("messaging: invalid draft")

// Inbox owns the in-memory message list for one session. The list is rebuilt
// wholesale by FetchInitial and then extended by Send and inbound deliveries;
// display order is append order. All mutations are serialized by the inbox
// mutex, the Go rendition of the source's single event loop.
type Inbox struct {
	api      api.MessagesAPI
	channel  realtime.Channel
	identity models.Identity
	receipts *receipts.Tracker
	validate *validator.Validate

	mu       sync.Mutex
	messages []models.Message
	seen     map[int64]struct{}

	tempSeq atomic.Int64

	onUpdate func(messages []models.Message)

	unsubscribes []func()
}

// NewInbox wires an Inbox to its REST collaborator and realtime channel.
func NewInbox(messagesAPI api.MessagesAPI, ch realtime.Channel, identity models.Identity) *Inbox {
	in := &Inbox{
		api:      messagesAPI,
		channel:  ch,
		identity: identity,
		validate: validator.New(),
		seen:     make(map[int64]struct{}),
	}
	in.receipts = receipts.NewTracker(ch, in.applyReadConfirmation)
	in.unsubscribes = append(in.unsubscribes,
		ch.Subscribe(realtime.EventNewMessage, in.onInbound),
		ch.Subscribe(realtime.EventMessageSent, in.onSendAck),
	)
	return in
}

// Receipts exposes the read-receipt tracker so views can acknowledge messages
// as they become visible.
func (in *Inbox) Receipts() *receipts.Tracker {
	return in.receipts
}

// OnUpdate registers a callback invoked with a snapshot of the list after
// every change.
func (in *Inbox) OnUpdate(fn func(messages []models.Message)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.onUpdate = fn
}

// Messages returns a copy of the current list in display order.
func (in *Inbox) Messages() []models.Message {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.snapshotLocked()
}

// FetchInitial replaces the local list with the backend's. It must run once
// per view activation before incremental updates are trusted. On failure the
// previously known list is kept.
func (in *Inbox) FetchInitial(ctx context.Context) error {
	msgs, err := in.api.ListMessages(ctx)
	if err != nil {
		return fmt.Errorf("messaging: initial fetch: %w", err)
	}

	in.mu.Lock()
	in.messages = append([]models.Message(nil), msgs...)
	in.seen = make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		in.seen[m.ID] = struct{}{}
	}
	snapshot := in.snapshotLocked()
	in.mu.Unlock()

	in.notify(snapshot)
	return nil
}

// Send validates the draft, inserts an optimistic entry, creates the message
// through the REST collaborator and reconciles: on success the optimistic
// entry is replaced by the confirmed record and the record is published over
// the channel; on failure the entry is rolled back. There is no automatic
// retry. While disconnected Send does nothing.
func (in *Inbox) Send(ctx context.Context, draft models.SendDraft) (models.Message, error) {
	if err := in.validate.Struct(draft); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}
	if !in.channel.Connected() {
		return models.Message{}, realtime.ErrNotConnected
	}

	optimistic := in.optimisticFromDraft(draft)

	in.mu.Lock()
	in.messages = append(in.messages, optimistic)
	snapshot := in.snapshotLocked()
	in.mu.Unlock()
	in.notify(snapshot)

	confirmed, err := in.api.CreateMessage(ctx, draft)
	if err != nil {
		in.rollback(optimistic.ID)
		observability.IncSendOutcome("rolled_back")
		return models.Message{}, fmt.Errorf("messaging: send: %w", err)
	}

	in.mu.Lock()
	replaced := false
	for i := range in.messages {
		if in.messages[i].ID == optimistic.ID {
			in.messages[i] = confirmed
			replaced = true
			break
		}
	}
	if !replaced {
		// The optimistic entry is gone (view reset in flight); append instead.
		in.messages = append(in.messages, confirmed)
	}
	in.seen[confirmed.ID] = struct{}{}
	snapshot = in.snapshotLocked()
	in.mu.Unlock()
	in.notify(snapshot)
	observability.IncSendOutcome("confirmed")

	in.publishConfirmed(confirmed, draft.ReceiverRole)
	return confirmed, nil
}

// Close removes channel subscriptions and the receipt tracker.
func (in *Inbox) Close() {
	for _, unsub := range in.unsubscribes {
		unsub()
	}
	in.receipts.Close()
}

// optimisticFromDraft synthesizes the local entry shown until confirmation.
// Temporary ids are negative and monotonically unique, so rapid sends can
// never collide and a temporary id can never match a server id.
func (in *Inbox) optimisticFromDraft(draft models.SendDraft) models.Message {
	msgType := draft.MessageType
	if msgType == "" {
		msgType = models.MessageGeneral
	}
	priority := draft.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	return models.Message{
		ID:               -in.tempSeq.Add(1),
		SenderID:         in.identity.UserID,
		ReceiverID:       draft.ReceiverID,
		Subject:          draft.Subject,
		Content:          draft.Content,
		MessageType:      msgType,
		Priority:         priority,
		RelatedStudentID: draft.RelatedStudentID,
		CreatedAt:        time.Now(),
		Sender: &models.UserSummary{
			ID:   in.identity.UserID,
			Role: in.identity.Role,
		},
		IsOptimistic: true,
	}
}

func (in *Inbox) rollback(tempID int64) {
	in.mu.Lock()
	kept := in.messages[:0]
	for _, m := range in.messages {
		if m.ID != tempID {
			kept = append(kept, m)
		}
	}
	in.messages = kept
	snapshot := in.snapshotLocked()
	in.mu.Unlock()
	in.notify(snapshot)
}

func (in *Inbox) publishConfirmed(confirmed models.Message, receiverRole models.Role) {
	if !in.channel.Connected() {
		return
	}
	err := in.channel.Emit(realtime.EventSendMessage, models.SendMessagePayload{
		Message:      confirmed,
		ReceiverRole: receiverRole,
		SenderRole:   in.identity.Role,
	})
	if err != nil {
		log.Printf("messaging: publish of message %d dropped: %v", confirmed.ID, err)
	}
}

// onInbound appends a message delivered over the channel and immediately
// acknowledges it as read: delivery implies the view is open and visible.
// Duplicate deliveries of the same id are dropped.
func (in *Inbox) onInbound(data json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("messaging: bad inbound message: %v", err)
		return
	}

	in.mu.Lock()
	if _, dup := in.seen[msg.ID]; dup {
		in.mu.Unlock()
		return
	}
	in.seen[msg.ID] = struct{}{}
	in.messages = append(in.messages, msg)
	snapshot := in.snapshotLocked()
	in.mu.Unlock()
	in.notify(snapshot)

	var senderRole models.Role
	if msg.Sender != nil {
		senderRole = msg.Sender.Role
	}
	in.receipts.MarkRead(msg.ID, msg.SenderID, senderRole)
}

// onSendAck consumes the informational message-sent acknowledgment.
func (in *Inbox) onSendAck(data json.RawMessage) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	log.Printf("messaging: message %d acknowledged by relay", msg.ID)
}

// applyReadConfirmation flips the read flag on the local copy of an outbound
// message. Unknown ids are a no-op, not an error.
func (in *Inbox) applyReadConfirmation(messageID int64) {
	in.mu.Lock()
	updated := false
	for i := range in.messages {
		if in.messages[i].ID == messageID && !in.messages[i].IsRead {
			in.messages[i].IsRead = true
			updated = true
			break
		}
	}
	var snapshot []models.Message
	if updated {
		snapshot = in.snapshotLocked()
	}
	in.mu.Unlock()

	if updated {
		in.notify(snapshot)
	}
}

func (in *Inbox) snapshotLocked() []models.Message {
	return append([]models.Message(nil), in.messages...)
}

func (in *Inbox) notify(snapshot []models.Message) {
	in.mu.Lock()
	fn := in.onUpdate
	in.mu.Unlock()
	if fn != nil {
		fn(snapshot)
	}
}
