package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"classroom-messaging/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines storage interactions for parent-teacher messages.
type MessageRepository interface {
	Create(ctx context.Context, sender models.Identity, draft models.SendDraft) (models.Message, error)
	ListForUser(ctx context.Context, userID int) ([]models.Message, error)
	Get(ctx context.Context, messageID int64) (models.Message, error)
	MarkRead(ctx context.Context, messageID int64) error
	UnreadCount(ctx context.Context, userID int) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

type messageRow struct {
	models.Message
	SenderRole   models.Role `db:"sender_role"`
	ReceiverRole models.Role `db:"receiver_role"`
}

func (r messageRow) toMessage() models.Message {
	msg := r.Message
	msg.Sender = &models.UserSummary{ID: msg.SenderID, Role: r.SenderRole}
	msg.Receiver = &models.UserSummary{ID: msg.ReceiverID, Role: r.ReceiverRole}
	return msg
}

const messageColumns = `id, sender_id, sender_role, receiver_id, receiver_role,
	subject, content, message_type, priority, related_student_id, is_read, created_at`

// Create stores a message and returns the confirmed record.
func (r *MessageRepo) Create(ctx context.Context, sender models.Identity, draft models.SendDraft) (models.Message, error) {
	msgType := draft.MessageType
	if msgType == "" {
		msgType = models.MessageGeneral
	}
	priority := draft.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	var row messageRow
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages
		(sender_id, sender_role, receiver_id, receiver_role, subject, content, message_type, priority, related_student_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+messageColumns,
		sender.UserID, sender.Role, draft.ReceiverID, draft.ReceiverRole,
		draft.Subject, draft.Content, msgType, priority, draft.RelatedStudentID).
		StructScan(&row)
	if err != nil {
		return models.Message{}, err
	}
	return row.toMessage(), nil
}

// ListForUser returns every message the user sent or received, oldest first.
func (r *MessageRepo) ListForUser(ctx context.Context, userID int) ([]models.Message, error) {
	var rows []messageRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+`
		FROM messages
		WHERE sender_id=$1 OR receiver_id=$1
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}

	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toMessage())
	}
	return msgs, nil
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID int64) (models.Message, error) {
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	return row.toMessage(), nil
}

// MarkRead flags a message as read. Marking an already-read message again is
// a no-op, not an error.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE WHERE id=$1`, messageID)
	return err
}

// UnreadCount counts unread messages addressed to the user.
func (r *MessageRepo) UnreadCount(ctx context.Context, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages WHERE receiver_id=$1 AND is_read = FALSE`, userID)
	return count, err
}
