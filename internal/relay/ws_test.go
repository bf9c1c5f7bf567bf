package relay

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"classroom-messaging/internal/mocks"
	"classroom-messaging/internal/models"
	"classroom-messaging/internal/realtime"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, identity models.Identity) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"userId": identity.UserID,
		"role":   string(identity.Role),
		"exp":    time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)
	return signed
}

type testSession struct {
	conn     *websocket.Conn
	inbound  chan models.Envelope
	identity models.Identity
}

func dialSession(t *testing.T, server *httptest.Server, identity models.Identity) *testSession {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=" + signToken(t, identity)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	s := &testSession{conn: conn, inbound: make(chan models.Envelope, 16), identity: identity}
	go func() {
		for {
			var env models.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				close(s.inbound)
				return
			}
			s.inbound <- env
		}
	}()
	return s
}

func (s *testSession) emit(t *testing.T, event string, payload any) {
	t.Helper()
	env, err := models.NewEnvelope(event, payload)
	require.NoError(t, err)
	require.NoError(t, s.conn.WriteJSON(env))
}

func (s *testSession) join(t *testing.T) {
	t.Helper()
	s.emit(t, realtime.EventJoinRoom, models.JoinPayload(s.identity))
}

func (s *testSession) next(t *testing.T) models.Envelope {
	t.Helper()
	select {
	case env, ok := <-s.inbound:
		require.True(t, ok, "connection closed")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return models.Envelope{}
	}
}

func waitForRoom(t *testing.T, hub *Hub, userID int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for hub.RoomSize(userID) == 0 {
		select {
		case <-deadline:
			t.Fatalf("user %d never joined", userID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func setupRelay(t *testing.T) (*httptest.Server, *Hub, *mocks.MessageRepositoryMock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := new(mocks.MessageRepositoryMock)
	hub := NewHub(nil)
	handler := NewChannelHandler(hub, repo, testSecret, nil)

	router := gin.New()
	router.GET("/ws", handler.Handle)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, hub, repo
}

func TestHandshakeRejectsBadToken(t *testing.T) {
	server, _, _ := setupRelay(t)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestSendMessageRoutedToReceiver(t *testing.T) {
	server, hub, _ := setupRelay(t)

	teacher := dialSession(t, server, models.Identity{UserID: 1, Role: models.RoleTeacher})
	parent := dialSession(t, server, models.Identity{UserID: 2, Role: models.RoleParent})
	teacher.join(t)
	parent.join(t)
	waitForRoom(t, hub, 1)
	waitForRoom(t, hub, 2)

	msg := models.Message{ID: 99, SenderID: 1, ReceiverID: 2, Subject: "Homework", Content: "Please review"}
	teacher.emit(t, realtime.EventSendMessage, models.SendMessagePayload{
		Message:      msg,
		ReceiverRole: models.RoleParent,
		SenderRole:   models.RoleTeacher,
	})

	env := parent.next(t)
	require.Equal(t, realtime.EventNewMessage, env.Event)
	var delivered models.Message
	require.NoError(t, json.Unmarshal(env.Data, &delivered))
	assert.Equal(t, int64(99), delivered.ID)
	assert.Equal(t, "Homework", delivered.Subject)

	// The sender gets the informational acknowledgment.
	ack := teacher.next(t)
	require.Equal(t, realtime.EventMessageSent, ack.Event)
}

func TestMarkReadPersistsAndNotifiesSender(t *testing.T) {
	server, hub, repo := setupRelay(t)
	repo.On("MarkRead", mock.Anything, int64(99)).Return(nil).Once()

	teacher := dialSession(t, server, models.Identity{UserID: 1, Role: models.RoleTeacher})
	parent := dialSession(t, server, models.Identity{UserID: 2, Role: models.RoleParent})
	teacher.join(t)
	parent.join(t)
	waitForRoom(t, hub, 1)
	waitForRoom(t, hub, 2)

	parent.emit(t, realtime.EventMarkRead, models.ReadReceiptPayload{
		MessageID:  99,
		SenderID:   1,
		SenderRole: models.RoleTeacher,
	})

	env := teacher.next(t)
	require.Equal(t, realtime.EventMessageRead, env.Event)
	var notice models.ReadNotice
	require.NoError(t, json.Unmarshal(env.Data, &notice))
	assert.Equal(t, int64(99), notice.MessageID)

	repo.AssertExpectations(t)
}

func TestTypingSignalsRelayed(t *testing.T) {
	server, hub, _ := setupRelay(t)

	teacher := dialSession(t, server, models.Identity{UserID: 1, Role: models.RoleTeacher})
	parent := dialSession(t, server, models.Identity{UserID: 2, Role: models.RoleParent})
	teacher.join(t)
	parent.join(t)
	waitForRoom(t, hub, 1)
	waitForRoom(t, hub, 2)

	teacher.emit(t, realtime.EventTypingStart, models.TypingPayload{ReceiverID: 2, ReceiverRole: models.RoleParent})

	env := parent.next(t)
	require.Equal(t, realtime.EventUserTyping, env.Event)
	var notice models.TypingNotice
	require.NoError(t, json.Unmarshal(env.Data, &notice))
	assert.Equal(t, models.TypingNotice{UserID: 1, IsTyping: true}, notice)

	teacher.emit(t, realtime.EventTypingStop, models.TypingPayload{ReceiverID: 2, ReceiverRole: models.RoleParent})

	env = parent.next(t)
	require.Equal(t, realtime.EventUserTyping, env.Event)
	require.NoError(t, json.Unmarshal(env.Data, &notice))
	assert.Equal(t, models.TypingNotice{UserID: 1, IsTyping: false}, notice)
}

func TestJoinWithForeignIdentityIgnored(t *testing.T) {
	server, hub, _ := setupRelay(t)

	teacher := dialSession(t, server, models.Identity{UserID: 1, Role: models.RoleTeacher})
	teacher.emit(t, realtime.EventJoinRoom, models.JoinPayload{UserID: 42, Role: models.RoleAdmin})

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, hub.RoomSize(1))
	assert.Equal(t, 0, hub.RoomSize(42))
}
