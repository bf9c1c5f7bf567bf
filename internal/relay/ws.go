package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"classroom-messaging/internal/middleware"
	"classroom-messaging/internal/models"
	"classroom-messaging/internal/observability"
	"classroom-messaging/internal/realtime"
	"classroom-messaging/internal/repositories"
	"classroom-messaging/internal/telemetry"
)

// ChannelHandler upgrades websocket connections and routes channel events.
type ChannelHandler struct {
	hub     *Hub
	repo    repositories.MessageRepository
	secret  []byte
	emitter *telemetry.AuditEmitter
}

// NewChannelHandler constructs a ChannelHandler.
func NewChannelHandler(hub *Hub, repo repositories.MessageRepository, secret []byte, emitter *telemetry.AuditEmitter) *ChannelHandler {
	return &ChannelHandler{hub: hub, repo: repo, secret: secret, emitter: emitter}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the caller, upgrades the connection and serves its
// event loop until the connection drops.
func (h *ChannelHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("classroom-messaging/relay").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := bearerToken(c)
	identity, err := middleware.ParseToken(token, h.secret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      identity.UserID,
		Role:        identity.Role,
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	observability.IncWSActive("relay")
	h.emitter.Emit(ctx, "ws_connect", &identity.UserID, telemetry.AuditPayload{})

	go h.serve(conn, identity, info)
}

func (h *ChannelHandler) serve(conn *websocket.Conn, identity models.Identity, info ConnInfo) {
	ctx := context.Background()
	defer func() {
		h.hub.Unregister(identity.UserID, conn)
		conn.Close()
		observability.DecWSActive("relay")
		h.emitter.Emit(ctx, "ws_disconnect", &identity.UserID, telemetry.AuditPayload{})
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("relay: read error for user %d: %v", identity.UserID, err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("relay: bad frame from user %d: %v", identity.UserID, err)
			continue
		}

		h.route(ctx, conn, identity, info, env)
	}
}

func (h *ChannelHandler) route(ctx context.Context, conn *websocket.Conn, identity models.Identity, info ConnInfo, env models.Envelope) {
	switch env.Event {
	case realtime.EventJoinRoom:
		// Registration uses the authenticated identity, not the payload;
		// a mismatched announcement is logged and ignored.
		var join models.JoinPayload
		if err := json.Unmarshal(env.Data, &join); err == nil && join.UserID != identity.UserID {
			log.Printf("relay: join for user %d from session of user %d ignored", join.UserID, identity.UserID)
			return
		}
		h.hub.Register(identity.UserID, conn, info)

	case realtime.EventSendMessage:
		var payload models.SendMessagePayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			log.Printf("relay: bad send-message from user %d: %v", identity.UserID, err)
			return
		}
		h.hub.SendToUser(payload.ReceiverID, realtime.EventNewMessage, payload.Message)
		h.hub.SendToUser(identity.UserID, realtime.EventMessageSent, payload.Message)
		h.emitter.Emit(ctx, "message_forwarded", &identity.UserID, telemetry.AuditPayload{
			MessageID: payload.ID,
			PeerID:    payload.ReceiverID,
		})

	case realtime.EventMarkRead:
		var receipt models.ReadReceiptPayload
		if err := json.Unmarshal(env.Data, &receipt); err != nil {
			log.Printf("relay: bad read receipt from user %d: %v", identity.UserID, err)
			return
		}
		if err := h.repo.MarkRead(ctx, receipt.MessageID); err != nil {
			log.Printf("relay: mark read %d failed: %v", receipt.MessageID, err)
		}
		h.hub.SendToUser(receipt.SenderID, realtime.EventMessageRead, models.ReadNotice{MessageID: receipt.MessageID})
		h.emitter.Emit(ctx, "message_read", &identity.UserID, telemetry.AuditPayload{
			MessageID: receipt.MessageID,
			PeerID:    receipt.SenderID,
		})

	case realtime.EventTypingStart, realtime.EventTypingStop:
		var typing models.TypingPayload
		if err := json.Unmarshal(env.Data, &typing); err != nil {
			log.Printf("relay: bad typing signal from user %d: %v", identity.UserID, err)
			return
		}
		h.hub.SendToUser(typing.ReceiverID, realtime.EventUserTyping, models.TypingNotice{
			UserID:   identity.UserID,
			IsTyping: env.Event == realtime.EventTypingStart,
		})

	default:
		log.Printf("relay: unknown event %q from user %d", env.Event, identity.UserID)
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return c.Query("token")
}
