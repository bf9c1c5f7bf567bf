// Package handlers holds the relay's REST endpoints.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"classroom-messaging/internal/middleware"
	"classroom-messaging/internal/models"
	"classroom-messaging/internal/repositories"
	"classroom-messaging/internal/telemetry"
)

// MessageHandler serves the message REST surface consumed by the client's
// fetch and send paths.
type MessageHandler struct {
	repo    repositories.MessageRepository
	emitter *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(repo repositories.MessageRepository, emitter *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{repo: repo, emitter: emitter}
}

// ListMessages returns every message the authenticated user participates in.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	userID := c.GetInt(middleware.ContextUserID)

	msgs, err := h.repo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"messages": msgs},
	})
}

// CreateMessage validates and stores a new message, returning the confirmed
// record the client reconciles its optimistic entry against.
func (h *MessageHandler) CreateMessage(c *gin.Context) {
	var draft models.SendDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	sender := models.Identity{
		UserID: c.GetInt(middleware.ContextUserID),
		Role:   models.Role(c.GetString(middleware.ContextRole)),
	}
	if draft.ReceiverID == sender.UserID {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "cannot message yourself"})
		return
	}

	msg, err := h.repo.Create(c.Request.Context(), sender, draft)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "could not create message"})
		return
	}

	h.emitter.Emit(c.Request.Context(), "message_created", &sender.UserID, telemetry.AuditPayload{
		MessageID: msg.ID,
		PeerID:    msg.ReceiverID,
	})

	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"data":    msg,
	})
}

// UnreadCount returns the number of unread messages addressed to the user,
// used for dashboard badges.
func (h *MessageHandler) UnreadCount(c *gin.Context) {
	userID := c.GetInt(middleware.ContextUserID)

	count, err := h.repo.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to count messages"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"count": count},
	})
}
