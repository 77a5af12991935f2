package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messenger-service/internal/bus"
	"messenger-service/internal/mocks"
	"messenger-service/internal/models"
	"messenger-service/internal/repositories"
	"messenger-service/internal/sync"
)

var testSecret = []byte("test-secret")

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   userID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString(testSecret)
	require.NoError(t, err)
	return token
}

func dialConversation(t *testing.T, handler *ConversationSocketHandler, conversationID, token string) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/conversations/:conversation_id", handler.Handle)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/conversations/" + conversationID + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) models.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev models.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestConversationSocketAcknowledgesMessagesWhileOpen(t *testing.T) {
	broker := bus.NewMemory()
	defer broker.Close()

	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	users := new(mocks.UserRepositoryMock)
	cursors := new(mocks.SeenRepositoryMock)
	engine := sync.NewEngine(conversations, messages, users, cursors, broker)
	handler := NewConversationSocketHandler(broker, conversations, messages, engine, testSecret)

	conv := models.Conversation{ID: "c1", MemberIDs: []string{"u1", "u2"}}
	now := time.Now()
	incoming := models.Message{ID: "m1", ConversationID: "c1", SenderID: "u2", Body: "hi", CreatedAt: now, SeenBy: []string{"u2"}}

	conversations.On("IsMember", mock.Anything, "c1", "u1").Return(true, nil).Once()
	conversations.On("GetConversation", mock.Anything, "c1").Return(conv, nil)
	messages.On("ListMessages", mock.Anything, "c1").Return([]models.Message(nil), nil).Once()
	// The conversation is empty at open, so the first acknowledgement is
	// a no-op.
	messages.On("GetLatestMessage", mock.Anything, "c1").Return(nil, repositories.ErrNoMessages).Once()
	messages.On("GetLatestMessage", mock.Anything, "c1").Return(incoming, nil).Once()
	cursors.On("GetCursor", mock.Anything, "c1", "u1").Return(nil, repositories.ErrCursorNotFound).Once()
	cursors.On("AdvanceCursor", mock.Anything, mock.Anything).Return(true, nil).Once()
	messages.On("AddSeen", mock.Anything, "m1", "u1").Return(nil).Once()

	conn := dialConversation(t, handler, "c1", signToken(t, "u1"))

	snapshot := readEvent(t, conn)
	require.Equal(t, snapshotEvent, snapshot.Type)

	// Another member sends while the conversation is open.
	require.NoError(t, broker.Publish(context.Background(), bus.ConversationChannel("c1"), models.EventMessageNew, incoming))

	ev := readEvent(t, conn)
	require.Equal(t, models.EventMessageNew, ev.Type)

	// The in-session acknowledgement publishes the grown seen set back to
	// the conversation channel.
	ev = readEvent(t, conn)
	require.Equal(t, models.EventMessageUpdate, ev.Type)
	var updated models.Message
	require.NoError(t, json.Unmarshal(ev.Payload, &updated))
	require.Equal(t, "m1", updated.ID)
	require.True(t, updated.SeenByUser("u1"))

	messages.AssertExpectations(t)
	cursors.AssertExpectations(t)
}

func TestConversationSocketDoesNotAcknowledgeOwnMessages(t *testing.T) {
	broker := bus.NewMemory()
	defer broker.Close()

	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	users := new(mocks.UserRepositoryMock)
	cursors := new(mocks.SeenRepositoryMock)
	engine := sync.NewEngine(conversations, messages, users, cursors, broker)
	handler := NewConversationSocketHandler(broker, conversations, messages, engine, testSecret)

	own := models.Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Body: "hi", CreatedAt: time.Now(), SeenBy: []string{"u1"}}

	conversations.On("IsMember", mock.Anything, "c1", "u1").Return(true, nil).Once()
	conversations.On("GetConversation", mock.Anything, "c1").Return(models.Conversation{ID: "c1", MemberIDs: []string{"u1", "u2"}}, nil)
	messages.On("ListMessages", mock.Anything, "c1").Return([]models.Message(nil), nil).Once()
	messages.On("GetLatestMessage", mock.Anything, "c1").Return(nil, repositories.ErrNoMessages).Once()

	conn := dialConversation(t, handler, "c1", signToken(t, "u1"))

	snapshot := readEvent(t, conn)
	require.Equal(t, snapshotEvent, snapshot.Type)

	require.NoError(t, broker.Publish(context.Background(), bus.ConversationChannel("c1"), models.EventMessageNew, own))

	ev := readEvent(t, conn)
	require.Equal(t, models.EventMessageNew, ev.Type)

	// No second acknowledgement fires for the sender's own message, so no
	// message:update comes back.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var extra models.Event
	require.Error(t, conn.ReadJSON(&extra))

	messages.AssertNotCalled(t, "AddSeen", mock.Anything, mock.Anything, mock.Anything)
	cursors.AssertNotCalled(t, "AdvanceCursor", mock.Anything, mock.Anything)
}

func TestConversationSocketRejectsNonMember(t *testing.T) {
	broker := bus.NewMemory()
	defer broker.Close()

	conversations := new(mocks.ConversationRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	engine := sync.NewEngine(conversations, messages, new(mocks.UserRepositoryMock), new(mocks.SeenRepositoryMock), broker)
	handler := NewConversationSocketHandler(broker, conversations, messages, engine, testSecret)

	conversations.On("IsMember", mock.Anything, "c1", "u1").Return(false, nil).Once()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/conversations/:conversation_id", handler.Handle)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/conversations/c1?token=" + signToken(t, "u1")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, 403, resp.StatusCode)
}
