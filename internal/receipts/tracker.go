// Package receipts tracks read state for messages exchanged over the realtime
// channel: it acknowledges inbound messages as read and applies read
// confirmations for outbound ones.
package receipts

import (
	"encoding/json"
	"log"
	"sync"

	"classroom-messaging/internal/models"
	"classroom-messaging/internal/realtime"
)

// Tracker emits mark-message-read acknowledgments and consumes message-read
// confirmations. Both directions are best-effort: failures are logged, never
// surfaced.
type Tracker struct {
	channel realtime.Channel
	apply   func(messageID int64)

	mu     sync.Mutex
	marked map[int64]struct{}

	unsubscribe func()
}

// NewTracker subscribes to read confirmations on ch. apply is invoked with the
// message id whenever a confirmation arrives; it is expected to flip the local
// copy's read flag and to tolerate unknown ids.
func NewTracker(ch realtime.Channel, apply func(messageID int64)) *Tracker {
	t := &Tracker{
		channel: ch,
		apply:   apply,
		marked:  make(map[int64]struct{}),
	}
	t.unsubscribe = ch.Subscribe(realtime.EventMessageRead, t.onConfirmation)
	return t
}

// MarkRead acknowledges that the message is displayed to its recipient.
// Marking the same id twice emits once. Disconnected channels make this a
// no-op rather than an error; the mark is not recorded so a later call after
// reconnect still reaches the relay.
func (t *Tracker) MarkRead(messageID int64, senderID int, senderRole models.Role) {
	t.mu.Lock()
	if _, done := t.marked[messageID]; done {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	if !t.channel.Connected() {
		return
	}

	err := t.channel.Emit(realtime.EventMarkRead, models.ReadReceiptPayload{
		MessageID:  messageID,
		SenderID:   senderID,
		SenderRole: senderRole,
	})
	if err != nil {
		log.Printf("receipts: mark-read dropped for message %d: %v", messageID, err)
		return
	}

	t.mu.Lock()
	t.marked[messageID] = struct{}{}
	t.mu.Unlock()
}

// Close removes the channel subscription.
func (t *Tracker) Close() {
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
}

func (t *Tracker) onConfirmation(data json.RawMessage) {
	var notice models.ReadNotice
	if err := json.Unmarshal(data, &notice); err != nil {
		log.Printf("receipts: bad read notice: %v", err)
		return
	}
	if t.apply != nil {
		t.apply(notice.MessageID)
	}
}
