package notify

import "github.com/stretchr/testify/mock"

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) UnreadMessage(roomName string, count int) error {
	args := m.Called(roomName, count)
	return args.Error(0)
}

func (m *MockNotifier) NewRoom(roomName string) error {
	args := m.Called(roomName)
	return args.Error(0)
}
