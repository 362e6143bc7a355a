package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/imagegen-studio/internal/api/response"
	"github.com/Rrens/imagegen-studio/internal/domain"
)

// Generator is the generation service surface used by GenerateHandler
type Generator interface {
	Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error)
	GenerateBatch(ctx context.Context, req domain.GenerateRequest) (*domain.BatchGenerateResponse, error)
	Cancel(requestID string) bool
}

// KeySource reports the configured provider API key
type KeySource interface {
	APIKey() (string, error)
}

// GenerateHandler handles generation endpoints
type GenerateHandler struct {
	generator Generator
	keys      KeySource
}

// NewGenerateHandler creates a new generate handler
func NewGenerateHandler(generator Generator, keys KeySource) *GenerateHandler {
	return &GenerateHandler{generator: generator, keys: keys}
}

// requireKey writes an auth error when no provider key is configured
func requireKey(w http.ResponseWriter, r *http.Request, keys KeySource) bool {
	key, err := keys.APIKey()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read stored API key")
	}
	if key == "" {
		writeError(w, r, domain.NewError(domain.KindAuth,
			"No API key configured. Go to Settings to add your OpenRouter API key."))
		return false
	}
	return true
}

// Generate runs a single generation, or a batch when more than one
// variation is requested
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerateRequest
	if !decode(w, r, &req) {
		return
	}
	if !requireKey(w, r, h.keys) {
		return
	}

	if req.Variations > 1 {
		resp, err := h.generator.GenerateBatch(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.OK(w, resp)
		return
	}

	resp, err := h.generator.Generate(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, resp)
}

// Cancel cancels an in-flight generation by request id
func (h *GenerateHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestID")
	if h.generator.Cancel(requestID) {
		response.OK(w, map[string]any{"cancelled": true})
		return
	}
	response.OK(w, map[string]any{
		"cancelled": false,
		"message":   "Generation not found or already completed",
	})
}
