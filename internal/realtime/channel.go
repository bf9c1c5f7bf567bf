package realtime

import (
	"encoding/json"
	"errors"
)

// Channel event names, mirrored by the relay.
const (
	EventJoinRoom    = "join-room"
	EventSendMessage = "send-message"
	EventMarkRead    = "mark-message-read"
	EventTypingStart = "typing-start"
	EventTypingStop  = "typing-stop"
	EventNewMessage  = "new-message"
	EventMessageSent = "message-sent"
	EventUserTyping  = "user-typing"
	EventMessageRead = "message-read"
)

// ErrNotConnected is returned by Emit while the channel is down.
var ErrNotConnected = errors.New("realtime: not connected")

// Handler consumes the raw payload of a subscribed event.
type Handler func(data json.RawMessage)

// Channel is the capability the messaging components depend on: emit an event
// and subscribe to inbound ones. It is the seam that lets tests substitute a
// recording double for the websocket transport.
type Channel interface {
	// Emit sends an event to the relay. It returns ErrNotConnected while the
	// connection is down.
	Emit(event string, payload any) error

	// Subscribe registers a handler for an inbound event and returns a
	// function that removes it. Handlers for one event run in registration
	// order on the connection's read loop.
	Subscribe(event string, h Handler) (unsubscribe func())

	// Connected reports current connectivity. Callers of best-effort emits
	// check this first so signals become no-ops instead of errors while the
	// connection is down.
	Connected() bool
}
