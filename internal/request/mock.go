package request

import (
	"context"

	"github.com/dmeise/gotalk/internal/types"
	"github.com/stretchr/testify/mock"
)

// MockRequester substitutes the dispatcher in room and session tests.
type MockRequester struct {
	mock.Mock
}

func (m *MockRequester) RoomList(modifiedSince int64) (<-chan RoomListResult, error) {
	args := m.Called(modifiedSince)
	if ch, ok := args.Get(0).(<-chan RoomListResult); ok {
		return ch, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRequester) ChatInitial(token string, limit int) (<-chan MessagesResult, error) {
	args := m.Called(token, limit)
	if ch, ok := args.Get(0).(<-chan MessagesResult); ok {
		return ch, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRequester) ChatUpdate(token string, limit, lastKnownID int) (<-chan MessagesResult, error) {
	args := m.Called(token, limit, lastKnownID)
	if ch, ok := args.Get(0).(<-chan MessagesResult); ok {
		return ch, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRequester) SendMessage(token, message string) (<-chan MessageResult, error) {
	args := m.Called(token, message)
	if ch, ok := args.Get(0).(<-chan MessageResult); ok {
		return ch, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRequester) MarkRead(token string, lastID int) (<-chan AckResult, error) {
	args := m.Called(token, lastID)
	if ch, ok := args.Get(0).(<-chan AckResult); ok {
		return ch, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRequester) Participants(token string) (<-chan ParticipantsResult, error) {
	args := m.Called(token)
	if ch, ok := args.Get(0).(<-chan ParticipantsResult); ok {
		return ch, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRequester) AutocompleteUsers(search string) (<-chan UsersResult, error) {
	args := m.Called(search)
	if ch, ok := args.Get(0).(<-chan UsersResult); ok {
		return ch, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockRemoteAPI substitutes the HTTP client in dispatcher tests.
type MockRemoteAPI struct {
	mock.Mock
}

func (m *MockRemoteAPI) RoomList(ctx context.Context, modifiedSince int64) ([]types.Room, int64, error) {
	args := m.Called(ctx, modifiedSince)
	var rooms []types.Room
	if r, ok := args.Get(0).([]types.Room); ok {
		rooms = r
	}
	return rooms, args.Get(1).(int64), args.Error(2)
}

func (m *MockRemoteAPI) ChatInitial(ctx context.Context, token string, limit int) ([]types.Message, error) {
	args := m.Called(ctx, token, limit)
	var messages []types.Message
	if msgs, ok := args.Get(0).([]types.Message); ok {
		messages = msgs
	}
	return messages, args.Error(1)
}

func (m *MockRemoteAPI) ChatUpdate(ctx context.Context, token string, limit, lastKnownID int) ([]types.Message, error) {
	args := m.Called(ctx, token, limit, lastKnownID)
	var messages []types.Message
	if msgs, ok := args.Get(0).([]types.Message); ok {
		messages = msgs
	}
	return messages, args.Error(1)
}

func (m *MockRemoteAPI) SendMessage(ctx context.Context, token, message string) (types.Message, error) {
	args := m.Called(ctx, token, message)
	return args.Get(0).(types.Message), args.Error(1)
}

func (m *MockRemoteAPI) MarkRead(ctx context.Context, token string, lastID int) error {
	args := m.Called(ctx, token, lastID)
	return args.Error(0)
}

func (m *MockRemoteAPI) Participants(ctx context.Context, token string) ([]types.Participant, error) {
	args := m.Called(ctx, token)
	var participants []types.Participant
	if p, ok := args.Get(0).([]types.Participant); ok {
		participants = p
	}
	return participants, args.Error(1)
}

func (m *MockRemoteAPI) AutocompleteUsers(ctx context.Context, search string) ([]types.User, error) {
	args := m.Called(ctx, search)
	var users []types.User
	if u, ok := args.Get(0).([]types.User); ok {
		users = u
	}
	return users, args.Error(1)
}
