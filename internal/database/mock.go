package database

import (
	"github.com/stretchr/testify/mock"
)

type MockStudyHallRepository struct {
	mock.Mock
}

func (m *MockStudyHallRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockStudyHallRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockStudyHallRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockStudyHallRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockStudyHallRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockStudyHallRepository) GetRoomByExternalId(externalId string) (Room, error) {
	args := m.Called(externalId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockStudyHallRepository) GetRoomById(id int) (Room, error) {
	args := m.Called(id)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockStudyHallRepository) DeleteRoom(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockStudyHallRepository) AddRoomMember(roomId, accountId int) error {
	args := m.Called(roomId, accountId)
	return args.Error(0)
}
func (m *MockStudyHallRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	args := m.Called(params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockStudyHallRepository) GetMessages(roomId, before, limit int) ([]Message, error) {
	args := m.Called(roomId, before, limit)
	return args.Get(0).([]Message), args.Error(1)
}
func (m *MockStudyHallRepository) GetMessageById(id int) (Message, error) {
	args := m.Called(id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockStudyHallRepository) DeleteMessage(id int) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockStudyHallRepository) SetMessagePinned(id int, pinned bool) error {
	args := m.Called(id, pinned)
	return args.Error(0)
}
func (m *MockStudyHallRepository) AddReaction(messageId, accountId int, emoji string) error {
	args := m.Called(messageId, accountId, emoji)
	return args.Error(0)
}
func (m *MockStudyHallRepository) RemoveReaction(messageId, accountId int, emoji string) error {
	args := m.Called(messageId, accountId, emoji)
	return args.Error(0)
}
