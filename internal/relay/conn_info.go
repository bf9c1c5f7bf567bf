package relay

import (
	"time"

	"classroom-messaging/internal/models"
)

// ConnInfo carries per-connection metadata used for audit and error events.
type ConnInfo struct {
	ConnID      string
	UserID      int
	Role        models.Role
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
