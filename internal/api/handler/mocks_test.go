package handler_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Rrens/imagegen-studio/internal/domain"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GenerateResponse), args.Error(1)
}

func (m *MockGenerator) GenerateBatch(ctx context.Context, req domain.GenerateRequest) (*domain.BatchGenerateResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BatchGenerateResponse), args.Error(1)
}

func (m *MockGenerator) Cancel(requestID string) bool {
	return m.Called(requestID).Bool(0)
}

type MockKeys struct {
	mock.Mock
}

func (m *MockKeys) APIKey() (string, error) {
	args := m.Called()
	return args.String(0), args.Error(1)
}

func (m *MockKeys) Source() string {
	return m.Called().String(0)
}

func (m *MockKeys) SetAPIKey(key string) error {
	return m.Called(key).Error(0)
}

func (m *MockKeys) RemoveAPIKey() error {
	return m.Called().Error(0)
}

type MockTester struct {
	mock.Mock
}

func (m *MockTester) TestConnection(ctx context.Context) (bool, string) {
	args := m.Called(ctx)
	return args.Bool(0), args.String(1)
}

type MockConversations struct {
	mock.Mock
}

func (m *MockConversations) Create(ctx context.Context, req domain.CreateSessionRequest) (*domain.ConversationSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConversationSession), args.Error(1)
}

func (m *MockConversations) Get(ctx context.Context, project, sessionID string) (*domain.ConversationSession, error) {
	args := m.Called(ctx, project, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConversationSession), args.Error(1)
}

func (m *MockConversations) List(ctx context.Context, project string) ([]domain.ConversationSessionSummary, error) {
	args := m.Called(ctx, project)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ConversationSessionSummary), args.Error(1)
}

func (m *MockConversations) Delete(ctx context.Context, project, sessionID string) error {
	return m.Called(ctx, project, sessionID).Error(0)
}

func (m *MockConversations) Edit(ctx context.Context, req domain.ConversationEditRequest) (*domain.GenerateResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GenerateResponse), args.Error(1)
}

func (m *MockConversations) Undo(ctx context.Context, project, sessionID string) (bool, error) {
	args := m.Called(ctx, project, sessionID)
	return args.Bool(0), args.Error(1)
}

func (m *MockConversations) Revert(ctx context.Context, project, sessionID string, index int) (bool, error) {
	args := m.Called(ctx, project, sessionID, index)
	return args.Bool(0), args.Error(1)
}

func (m *MockConversations) Branch(ctx context.Context, project, sessionID string, index int) (*domain.ConversationBranch, error) {
	args := m.Called(ctx, project, sessionID, index)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConversationBranch), args.Error(1)
}

func (m *MockConversations) SwitchBranch(ctx context.Context, project, sessionID, branchID string) (bool, error) {
	args := m.Called(ctx, project, sessionID, branchID)
	return args.Bool(0), args.Error(1)
}

func (m *MockConversations) SetSubjectLock(ctx context.Context, project, sessionID string, locked bool, imageID string) (*domain.ConversationSession, error) {
	args := m.Called(ctx, project, sessionID, locked, imageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConversationSession), args.Error(1)
}

func (m *MockConversations) TokenUsage(ctx context.Context, project, sessionID string) (domain.TokenUsage, error) {
	args := m.Called(ctx, project, sessionID)
	return args.Get(0).(domain.TokenUsage), args.Error(1)
}
