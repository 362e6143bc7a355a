package handler

import (
	"context"
	"net/http"

	"github.com/Rrens/imagegen-studio/internal/api/response"
)

// KeyStore manages the stored provider API key
type KeyStore interface {
	KeySource
	Source() string
	SetAPIKey(key string) error
	RemoveAPIKey() error
}

// ConnectionTester checks the configured key against the provider
type ConnectionTester interface {
	TestConnection(ctx context.Context) (bool, string)
}

// SettingsHandler handles API key management endpoints
type SettingsHandler struct {
	keys   KeyStore
	tester ConnectionTester
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(keys KeyStore, tester ConnectionTester) *SettingsHandler {
	return &SettingsHandler{keys: keys, tester: tester}
}

type apiKeyRequest struct {
	APIKey string `json:"api_key" validate:"required,min=8,max=512"`
}

func (h *SettingsHandler) status(w http.ResponseWriter) {
	source := h.keys.Source()
	response.OK(w, map[string]any{
		"configured": source != "",
		"source":     source,
	})
}

// APIKeyStatus reports whether a key is configured and where it comes from
func (h *SettingsHandler) APIKeyStatus(w http.ResponseWriter, r *http.Request) {
	h.status(w)
}

// SetAPIKey stores a new key, encrypted at rest
func (h *SettingsHandler) SetAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.keys.SetAPIKey(req.APIKey); err != nil {
		writeError(w, r, err)
		return
	}
	h.status(w)
}

// RemoveAPIKey deletes the stored key
func (h *SettingsHandler) RemoveAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := h.keys.RemoveAPIKey(); err != nil {
		writeError(w, r, err)
		return
	}
	h.status(w)
}

// TestConnection verifies the key with the provider
func (h *SettingsHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	ok, message := h.tester.TestConnection(r.Context())
	response.OK(w, map[string]any{
		"success": ok,
		"message": message,
	})
}
