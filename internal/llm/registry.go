package llm

import (
	"fmt"
	"sync"

	"github.com/Rrens/imagegen-studio/internal/domain"
)

// ModelType separates models that hold a conversation from pure image
// generators.
type ModelType string

const (
	ModelConversational ModelType = "conversational"
	ModelImageOnly      ModelType = "image_only"
)

// ModelInfo contains metadata about a generation model
type ModelInfo struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Provider        string    `json:"provider"`
	Type            ModelType `json:"type"`
	Modalities      []string  `json:"modalities"`
	Strengths       string    `json:"strengths"`
	MaxRequestBytes int       `json:"max_request_bytes,omitempty"`
	ContextLimit    int       `json:"context_limit"`
}

// ModelOverride adjusts limits of a registered model
type ModelOverride struct {
	ID              string
	MaxRequestBytes int
	ContextLimit    int
}

// DefaultModels is the built-in catalogue
func DefaultModels() []ModelInfo {
	return []ModelInfo{
		{
			ID:         "google/gemini-2.5-flash-image",
			Name:       "Gemini 2.5 Flash",
			Provider:   "Google",
			Type:       ModelConversational,
			Modalities: []string{"image", "text"},
			Strengths:  "Fast, cost-effective, multi-image blending, character consistency",
		},
		{
			ID:         "google/gemini-3-pro-image-preview",
			Name:       "Gemini 3 Pro",
			Provider:   "Google",
			Type:       ModelConversational,
			Modalities: []string{"image", "text"},
			Strengths:  "Highest fidelity, identity preservation, text rendering, 4K output",
		},
		{
			ID:         "openai/gpt-5-image",
			Name:       "GPT-5 Image",
			Provider:   "OpenAI",
			Type:       ModelConversational,
			Modalities: []string{"image", "text"},
			Strengths:  "Strong instruction following, text rendering, detailed editing",
		},
		{
			ID:         "black-forest-labs/flux.2-max",
			Name:       "Flux.2 Max",
			Provider:   "Black Forest Labs",
			Type:       ModelImageOnly,
			Modalities: []string{"image"},
			Strengths:  "Top-tier image quality, prompt understanding, editing consistency",
		},
		{
			ID:         "bytedance-seed/seedream-4.5",
			Name:       "Seedream 4.5",
			Provider:   "ByteDance",
			Type:       ModelImageOnly,
			Modalities: []string{"image"},
			Strengths:  "Subject detail preservation, portrait refinement, visual aesthetics",
		},
	}
}

// Registry manages the known models. It is safe for concurrent use.
type Registry struct {
	order  []string
	models map[string]ModelInfo
	mu     sync.RWMutex
}

// NewRegistry creates a registry holding models in the given order
func NewRegistry(models ...ModelInfo) *Registry {
	r := &Registry{models: make(map[string]ModelInfo, len(models))}
	for _, m := range models {
		r.Register(m)
	}
	return r
}

// Register adds or replaces a model
func (r *Registry) Register(m ModelInfo) {
	if m.ContextLimit <= 0 {
		m.ContextLimit = domain.DefaultContextLimit
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.models[m.ID]; !exists {
		r.order = append(r.order, m.ID)
	}
	r.models[m.ID] = m
}

// ApplyOverrides merges configured limits into registered models
func (r *Registry) ApplyOverrides(overrides []ModelOverride) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range overrides {
		m, ok := r.models[o.ID]
		if !ok {
			return fmt.Errorf("override for unknown model: %s", o.ID)
		}
		if o.MaxRequestBytes > 0 {
			m.MaxRequestBytes = o.MaxRequestBytes
		}
		if o.ContextLimit > 0 {
			m.ContextLimit = o.ContextLimit
		}
		r.models[o.ID] = m
	}
	return nil
}

// Lookup returns a model by id
func (r *Registry) Lookup(id string) (ModelInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// MustKnow returns an invalid_argument error for unknown ids
func (r *Registry) MustKnow(id string) (ModelInfo, error) {
	m, ok := r.Lookup(id)
	if !ok {
		return ModelInfo{}, domain.Errorf(domain.KindInvalidArgument, "Unknown model: %s", id)
	}
	return m, nil
}

// IsConversational reports whether id names a conversational model.
// Unknown ids are treated as image-only.
func (r *Registry) IsConversational(id string) bool {
	m, ok := r.Lookup(id)
	return ok && m.Type == ModelConversational
}

// ContextLimit returns the context window of id, or the default for
// unknown models.
func (r *Registry) ContextLimit(id string) int {
	if m, ok := r.Lookup(id); ok {
		return m.ContextLimit
	}
	return domain.DefaultContextLimit
}

// List returns all models in registration order
func (r *Registry) List() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]ModelInfo, 0, len(r.order))
	for _, id := range r.order {
		models = append(models, r.models[id])
	}
	return models
}
