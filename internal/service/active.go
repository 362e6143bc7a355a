package service

import (
	"sync"

	"github.com/Rrens/imagegen-studio/internal/llm"
)

// ActiveGenerations tracks the cancel token of every in-flight top-level
// generation by request id.
type ActiveGenerations struct {
	mu     sync.Mutex
	tokens map[string]*llm.CancelToken
}

// NewActiveGenerations creates an empty registry
func NewActiveGenerations() *ActiveGenerations {
	return &ActiveGenerations{tokens: make(map[string]*llm.CancelToken)}
}

// Register creates a token for requestID. A second registration under the
// same id replaces the first.
func (a *ActiveGenerations) Register(requestID string) *llm.CancelToken {
	token := llm.NewCancelToken()
	a.mu.Lock()
	a.tokens[requestID] = token
	a.mu.Unlock()
	return token
}

// Cancel fires the token of requestID. It reports false when no such
// generation is running.
func (a *ActiveGenerations) Cancel(requestID string) bool {
	a.mu.Lock()
	token, ok := a.tokens[requestID]
	a.mu.Unlock()
	if !ok {
		return false
	}
	token.Cancel()
	return true
}

// Release forgets requestID if it still maps to token
func (a *ActiveGenerations) Release(requestID string, token *llm.CancelToken) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.tokens[requestID] == token {
		delete(a.tokens, requestID)
	}
}

// Len returns the number of tracked generations
func (a *ActiveGenerations) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tokens)
}
