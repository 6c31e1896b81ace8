package database

import (
	"github.com/stretchr/testify/mock"
)

type MockQnaRepository struct {
	mock.Mock
}

func (m *MockQnaRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockQnaRepository) CreateAccount(params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockQnaRepository) GetAccountById(accountId int) (User, error) {
	args := m.Called(accountId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockQnaRepository) GetAccountByEmail(email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockQnaRepository) CreateQuestion(params CreateQuestionParams) (Question, error) {
	args := m.Called(params)
	return args.Get(0).(Question), args.Error(1)
}
func (m *MockQnaRepository) GetQuestionByExternalId(externalId string) (Question, error) {
	args := m.Called(externalId)
	return args.Get(0).(Question), args.Error(1)
}
func (m *MockQnaRepository) ListQuestions() ([]Question, error) {
	args := m.Called()
	return args.Get(0).([]Question), args.Error(1)
}
func (m *MockQnaRepository) UpdateQuestionStatus(questionId int, status string) (Question, error) {
	args := m.Called(questionId, status)
	return args.Get(0).(Question), args.Error(1)
}
func (m *MockQnaRepository) CreateAnswer(params CreateAnswerParams) (Answer, error) {
	args := m.Called(params)
	return args.Get(0).(Answer), args.Error(1)
}
func (m *MockQnaRepository) ListAnswersByQuestionId(questionId int) ([]Answer, error) {
	args := m.Called(questionId)
	return args.Get(0).([]Answer), args.Error(1)
}
