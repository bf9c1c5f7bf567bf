package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"classroom-messaging/internal/middleware"
	"classroom-messaging/internal/mocks"
	"classroom-messaging/internal/models"
)

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserID, 1)
		c.Set(middleware.ContextRole, string(models.RoleTeacher))
		c.Next()
	})
	r.GET("/messages", handler.ListMessages)
	r.POST("/messages", handler.CreateMessage)
	r.GET("/messages/unread-count", handler.UnreadCount)
	return r
}

func TestListMessagesSuccess(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(repo, nil)
	router := setupMessageRouter(handler)

	repo.On("ListForUser", mock.Anything, 1).Return([]models.Message{
		{ID: 5, SenderID: 2, ReceiverID: 1, Subject: "a"},
	}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Messages []models.Message `json:"messages"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Data.Messages, 1)
	assert.Equal(t, int64(5), resp.Data.Messages[0].ID)

	repo.AssertExpectations(t)
}

func TestListMessagesRepoError(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(repo, nil)
	router := setupMessageRouter(handler)

	repo.On("ListForUser", mock.Anything, 1).Return(nil, assert.AnError).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	repo.AssertExpectations(t)
}

func TestCreateMessageSuccess(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(repo, nil)
	router := setupMessageRouter(handler)

	sender := models.Identity{UserID: 1, Role: models.RoleTeacher}
	draft := models.SendDraft{ReceiverID: 2, Subject: "Homework", Content: "Please review"}
	repo.On("Create", mock.Anything, sender, draft).
		Return(models.Message{ID: 99, SenderID: 1, ReceiverID: 2, Subject: "Homework"}, nil).Once()

	body := bytes.NewBufferString(`{"receiverId":2,"subject":"Homework","content":"Please review"}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Success bool           `json:"success"`
		Data    models.Message `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, int64(99), resp.Data.ID)

	repo.AssertExpectations(t)
}

func TestCreateMessageValidation(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(repo, nil)
	router := setupMessageRouter(handler)

	bodies := []string{
		`{"receiverId":2,"content":"no subject"}`,
		`{"receiverId":2,"subject":"no content"}`,
		`{"subject":"s","content":"c"}`,
	}
	for _, body := range bodies {
		req := httptest.NewRequest(http.MethodPost, "/messages", bytes.NewBufferString(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, "body %s", body)
	}

	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateMessageToSelfRejected(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(repo, nil)
	router := setupMessageRouter(handler)

	body := bytes.NewBufferString(`{"receiverId":1,"subject":"s","content":"c"}`)
	req := httptest.NewRequest(http.MethodPost, "/messages", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestUnreadCount(t *testing.T) {
	repo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(repo, nil)
	router := setupMessageRouter(handler)

	repo.On("UnreadCount", mock.Anything, 1).Return(3, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/messages/unread-count", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Data.Count)

	repo.AssertExpectations(t)
}
