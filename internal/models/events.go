package models

import "encoding/json"

// Envelope is the wire frame exchanged over the realtime channel. Data holds
// the event-specific payload, decoded by the subscriber that owns the event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope wraps payload into an Envelope, marshaling it into Data.
func NewEnvelope(event string, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: data}, nil
}

// JoinPayload announces a session into its per-user room.
type JoinPayload struct {
	UserID int  `json:"userId"`
	Role   Role `json:"role"`
}

// SendMessagePayload carries a confirmed message over the channel so the
// receiver's live session is notified without polling.
type SendMessagePayload struct {
	Message
	ReceiverRole Role `json:"receiverRole"`
	SenderRole   Role `json:"senderRole"`
}

// ReadReceiptPayload acknowledges that an inbound message was displayed.
type ReadReceiptPayload struct {
	MessageID  int64 `json:"messageId"`
	SenderID   int   `json:"senderId"`
	SenderRole Role  `json:"senderRole"`
}

// TypingPayload addresses a typing-start or typing-stop signal.
type TypingPayload struct {
	ReceiverID   int  `json:"receiverId"`
	ReceiverRole Role `json:"receiverRole"`
}

// TypingNotice is the inbound side of a typing signal.
type TypingNotice struct {
	UserID   int  `json:"userId"`
	IsTyping bool `json:"isTyping"`
}

// ReadNotice confirms that an outbound message was read.
type ReadNotice struct {
	MessageID int64 `json:"messageId"`
}
