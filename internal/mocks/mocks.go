package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"classroom-messaging/internal/api"
	"classroom-messaging/internal/models"
	"classroom-messaging/internal/repositories"
)

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Create(ctx context.Context, sender models.Identity, draft models.SendDraft) (models.Message, error) {
	args := m.Called(ctx, sender, draft)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListForUser(ctx context.Context, userID int) ([]models.Message, error) {
	args := m.Called(ctx, userID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) Get(ctx context.Context, messageID int64) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, messageID int64) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) UnreadCount(ctx context.Context, userID int) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type MessagesAPIMock struct {
	mock.Mock
}

func (m *MessagesAPIMock) ListMessages(ctx context.Context) ([]models.Message, error) {
	args := m.Called(ctx)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessagesAPIMock) CreateMessage(ctx context.Context, draft models.SendDraft) (models.Message, error) {
	args := m.Called(ctx, draft)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ api.MessagesAPI = (*MessagesAPIMock)(nil)
