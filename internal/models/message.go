package models

import "time"

// Role identifies the kind of account a user holds in the learning center.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleParent  Role = "parent"
	RoleAdmin   Role = "admin"
)

// MessageType categorizes a parent-teacher message.
type MessageType string

const (
	MessageGeneral      MessageType = "general"
	MessageHomework     MessageType = "homework"
	MessageBehavior     MessageType = "behavior"
	MessageAnnouncement MessageType = "announcement"
)

// Priority indicates how urgently a message should be surfaced.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Identity is the session identity established at login. It is immutable for
// the lifetime of a realtime connection and drives room registration.
type Identity struct {
	UserID int  `json:"userId"`
	Role   Role `json:"role"`
}

// UserSummary is the embedded sender/receiver view carried on a message.
type UserSummary struct {
	ID        int    `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Role      Role   `json:"role"`
}

// Message is a parent-teacher message. The same struct flows through the REST
// surface, the realtime channel and the client's local list.
//
// IsOptimistic is client-only: true while the entry carries a temporary
// (negative) id and the create call has not yet been confirmed.
type Message struct {
	ID               int64        `db:"id" json:"id"`
	SenderID         int          `db:"sender_id" json:"senderId"`
	ReceiverID       int          `db:"receiver_id" json:"receiverId"`
	Subject          string       `db:"subject" json:"subject"`
	Content          string       `db:"content" json:"content"`
	MessageType      MessageType  `db:"message_type" json:"messageType"`
	Priority         Priority     `db:"priority" json:"priority"`
	RelatedStudentID *int         `db:"related_student_id" json:"relatedStudentId,omitempty"`
	IsRead           bool         `db:"is_read" json:"isRead"`
	CreatedAt        time.Time    `db:"created_at" json:"createdAt"`
	Sender           *UserSummary `db:"-" json:"sender,omitempty"`
	Receiver         *UserSummary `db:"-" json:"receiver,omitempty"`

	IsOptimistic bool `db:"-" json:"-"`
}

// SendDraft is the user-composed input for a new message.
type SendDraft struct {
	ReceiverID       int         `json:"receiverId" binding:"required,gt=0" validate:"required,gt=0"`
	ReceiverRole     Role        `json:"receiverRole,omitempty"`
	Subject          string      `json:"subject" binding:"required" validate:"required"`
	Content          string      `json:"content" binding:"required" validate:"required"`
	MessageType      MessageType `json:"messageType,omitempty"`
	Priority         Priority    `json:"priority,omitempty"`
	RelatedStudentID *int        `json:"relatedStudentId,omitempty"`
}
