// Package typing coordinates ephemeral typing indicators: outbound
// start/stop signals driven by keystrokes with a debounce-based auto-stop,
// and the inbound set of users currently typing toward the viewer.
package typing

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"

	"classroom-messaging/internal/models"
	"classroom-messaging/internal/realtime"
)

// InactivityTimeout is how long after the last keystroke a typing-stop is
// emitted automatically. The sender side owns this timeout.
const InactivityTimeout = 2000 * time.Millisecond

// Coordinator runs the Idle/Typing state machine for the composing user and
// tracks who is typing toward them. All signals are best-effort: they are
// skipped while disconnected and their errors are only logged.
type Coordinator struct {
	channel   realtime.Channel
	scheduler Scheduler
	timeout   time.Duration

	mu           sync.Mutex
	active       bool
	receiverID   int
	receiverRole models.Role
	armSeq       int
	cancelTimer  func()
	typers       map[int]struct{}

	onOccupancy func(occupied bool)
	unsubscribe func()
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithScheduler substitutes the timer source, for tests.
func WithScheduler(s Scheduler) Option {
	return func(c *Coordinator) { c.scheduler = s }
}

// WithTimeout overrides the inactivity timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// NewCoordinator builds a Coordinator subscribed to inbound typing notices.
func NewCoordinator(ch realtime.Channel, opts ...Option) *Coordinator {
	c := &Coordinator{
		channel:   ch,
		scheduler: TimerScheduler{},
		timeout:   InactivityTimeout,
		typers:    make(map[int]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.unsubscribe = ch.Subscribe(realtime.EventUserTyping, c.onUserTyping)
	return c
}

// OnOccupancyChange registers a callback fired when the typing set becomes
// occupied or empty. The UI only needs occupancy, not identities.
func (c *Coordinator) OnOccupancyChange(fn func(occupied bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOccupancy = fn
}

// KeyPressed records a keystroke in the composition field addressed to
// receiverID. The first keystroke emits typing-start; every keystroke re-arms
// the inactivity timer. Changing the receiver mid-composition stops typing
// toward the previous receiver before starting toward the new one.
func (c *Coordinator) KeyPressed(receiverID int, receiverRole models.Role) {
	if !c.channel.Connected() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active && c.receiverID != receiverID {
		c.emitStopLocked()
		c.active = false
	}

	if !c.active {
		c.receiverID = receiverID
		c.receiverRole = receiverRole
		c.emit(realtime.EventTypingStart, models.TypingPayload{
			ReceiverID:   receiverID,
			ReceiverRole: receiverRole,
		})
		c.active = true
	}

	c.armLocked()
}

// Stop ends composition immediately: field blur or a completed send. It emits
// typing-stop if a start was emitted and is a no-op otherwise.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

// Occupied reports whether anyone is currently typing toward the viewer.
func (c *Coordinator) Occupied() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.typers) > 0
}

// Typers returns the ids of users currently typing toward the viewer.
func (c *Coordinator) Typers() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int, 0, len(c.typers))
	for id := range c.typers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Close stops any active composition and removes the channel subscription.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

func (c *Coordinator) stopLocked() {
	if c.cancelTimer != nil {
		c.cancelTimer()
		c.cancelTimer = nil
	}
	c.armSeq++
	if c.active {
		c.emitStopLocked()
		c.active = false
	}
}

// armLocked (re)starts the inactivity timer. The sequence number invalidates
// timers that fire after a re-arm or an explicit stop.
func (c *Coordinator) armLocked() {
	if c.cancelTimer != nil {
		c.cancelTimer()
	}
	c.armSeq++
	seq := c.armSeq
	c.cancelTimer = c.scheduler.Schedule(c.timeout, func() {
		c.onInactivity(seq)
	})
}

func (c *Coordinator) onInactivity(seq int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.armSeq || !c.active {
		return
	}
	c.emitStopLocked()
	c.active = false
	c.cancelTimer = nil
}

func (c *Coordinator) emitStopLocked() {
	c.emit(realtime.EventTypingStop, models.TypingPayload{
		ReceiverID:   c.receiverID,
		ReceiverRole: c.receiverRole,
	})
}

func (c *Coordinator) emit(event string, payload models.TypingPayload) {
	if !c.channel.Connected() {
		return
	}
	if err := c.channel.Emit(event, payload); err != nil {
		log.Printf("typing: %s dropped: %v", event, err)
	}
}

func (c *Coordinator) onUserTyping(data json.RawMessage) {
	var notice models.TypingNotice
	if err := json.Unmarshal(data, &notice); err != nil {
		log.Printf("typing: bad notice: %v", err)
		return
	}

	c.mu.Lock()
	before := len(c.typers) > 0
	if notice.IsTyping {
		c.typers[notice.UserID] = struct{}{}
	} else {
		delete(c.typers, notice.UserID)
	}
	after := len(c.typers) > 0
	fn := c.onOccupancy
	c.mu.Unlock()

	if fn != nil && before != after {
		fn(after)
	}
}
