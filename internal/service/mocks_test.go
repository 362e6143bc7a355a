package service

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/Rrens/imagegen-studio/internal/domain"
	"github.com/Rrens/imagegen-studio/internal/llm"
)

// MockGenerator mocks llm.Generator
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.GenerateResult), args.Error(1)
}

// MockImageStore mocks domain.ImageStore
type MockImageStore struct {
	mock.Mock
}

func (m *MockImageStore) Save(ctx context.Context, project string, data []byte) (*domain.StoredImage, error) {
	args := m.Called(ctx, project, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.StoredImage), args.Error(1)
}

func (m *MockImageStore) Path(project, name string) (string, error) {
	args := m.Called(project, name)
	return args.String(0), args.Error(1)
}

// MockHistoryStore mocks domain.HistoryStore
type MockHistoryStore struct {
	mock.Mock
}

func (m *MockHistoryStore) Append(ctx context.Context, project string, entry domain.HistoryEntry) error {
	args := m.Called(ctx, project, entry)
	return args.Error(0)
}

func (m *MockHistoryStore) List(ctx context.Context, project string) ([]domain.HistoryEntry, error) {
	args := m.Called(ctx, project)
	return args.Get(0).([]domain.HistoryEntry), args.Error(1)
}

// MockSessionStore mocks domain.SessionStore
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Save(ctx context.Context, session *domain.ConversationSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionStore) Load(ctx context.Context, project, sessionID string) (*domain.ConversationSession, error) {
	args := m.Called(ctx, project, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ConversationSession), args.Error(1)
}

func (m *MockSessionStore) List(ctx context.Context, project string) ([]*domain.ConversationSession, error) {
	args := m.Called(ctx, project)
	return args.Get(0).([]*domain.ConversationSession), args.Error(1)
}

func (m *MockSessionStore) Delete(ctx context.Context, project, sessionID string) error {
	args := m.Called(ctx, project, sessionID)
	return args.Error(0)
}

// MockReferenceResolver mocks ReferenceResolver
type MockReferenceResolver struct {
	mock.Mock
}

func (m *MockReferenceResolver) ResolveReferenceURLs(ctx context.Context, primaryID, styleID string, characterIDs []string) (string, []string, error) {
	args := m.Called(ctx, primaryID, styleID, characterIDs)
	var additional []string
	if v := args.Get(1); v != nil {
		additional = v.([]string)
	}
	return args.String(0), additional, args.Error(2)
}

// MockReferenceStore mocks domain.ReferenceStore
type MockReferenceStore struct {
	mock.Mock
}

func (m *MockReferenceStore) Save(ctx context.Context, referenceID string, jpeg, thumbnail []byte) error {
	args := m.Called(ctx, referenceID, jpeg, thumbnail)
	return args.Error(0)
}

func (m *MockReferenceStore) Load(ctx context.Context, referenceID string) ([]byte, error) {
	args := m.Called(ctx, referenceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockReferenceStore) Delete(ctx context.Context, referenceID string) error {
	args := m.Called(ctx, referenceID)
	return args.Error(0)
}

func (m *MockReferenceStore) ThumbnailPath(referenceID string) (string, error) {
	args := m.Called(referenceID)
	return args.String(0), args.Error(1)
}

// MockReferenceCache mocks ReferenceCacheWriter
type MockReferenceCache struct {
	mock.Mock
}

func (m *MockReferenceCache) Store(id, dataURL string) {
	m.Called(id, dataURL)
}

func (m *MockReferenceCache) Delete(id string) {
	m.Called(id)
}

// recordingSleep stands in for llm.Sleep. It returns at once and remembers
// every requested wait; a cancelled token still aborts.
type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleep) Sleep(ctx context.Context, token *llm.CancelToken, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	if token.Cancelled() {
		return llm.ErrCancelled()
	}
	return ctx.Err()
}

func (r *recordingSleep) Waits() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}
