package domain

import (
	"context"
	"encoding/json"
	"time"
)

const (
	DefaultProject = "default"
	MaxVariations  = 4
)

// GenerateRequest is the client request for a single generation or a batch
// of variations.
type GenerateRequest struct {
	Prompt                string   `json:"prompt" validate:"required,max=10000"`
	ModelID               string   `json:"model_id" validate:"required"`
	ModelIDs              []string `json:"model_ids,omitempty"`
	RequestID             string   `json:"request_id,omitempty"`
	AspectRatio           string   `json:"aspect_ratio,omitempty"`
	Resolution            string   `json:"resolution,omitempty"`
	StylePreset           string   `json:"style_preset,omitempty"`
	NegativePrompt        string   `json:"negative_prompt,omitempty"`
	ReferenceImageID      string   `json:"reference_image_id,omitempty"`
	ImageWeight           *int     `json:"image_weight,omitempty" validate:"omitempty,min=0,max=100"`
	StyleReferenceID      string   `json:"style_reference_id,omitempty"`
	CharacterReferenceIDs []string `json:"character_reference_ids,omitempty" validate:"max=5"`
	Variations            int      `json:"variations,omitempty"`
	BatchID               string   `json:"batch_id,omitempty"`
	Project               string   `json:"project,omitempty" validate:"omitempty,max=64"`
}

// GenerateResponse describes one stored generation result
type GenerateResponse struct {
	ImageID        string          `json:"image_id"`
	ImageURL       string          `json:"image_url"`
	ThumbnailURL   string          `json:"thumbnail_url"`
	TextResponse   string          `json:"text_response,omitempty"`
	ModelID        string          `json:"model_id"`
	Prompt         string          `json:"prompt"`
	Timestamp      time.Time       `json:"timestamp"`
	Usage          json.RawMessage `json:"usage,omitempty"`
	AspectRatio    string          `json:"aspect_ratio,omitempty"`
	Resolution     string          `json:"resolution,omitempty"`
	StylePreset    string          `json:"style_preset,omitempty"`
	NegativePrompt string          `json:"negative_prompt,omitempty"`
	ImageWeight    *int            `json:"image_weight,omitempty"`
	BatchID        string          `json:"batch_id,omitempty"`
}

// BatchGenerateResponse carries every completed variation plus the
// per-variation failures.
type BatchGenerateResponse struct {
	BatchID        string             `json:"batch_id"`
	Results        []GenerateResponse `json:"results"`
	TotalRequested int                `json:"total_requested"`
	TotalCompleted int                `json:"total_completed"`
	Errors         []string           `json:"errors"`
}

// StoredImage is a generated image persisted with its thumbnail
type StoredImage struct {
	ImageID           string `json:"image_id"`
	ImageFilename     string `json:"image_filename"`
	ThumbnailFilename string `json:"thumbnail_filename"`
	ImageURL          string `json:"image_url"`
	ThumbnailURL      string `json:"thumbnail_url"`
}

// HistoryEntry is one line of a project's generation history
type HistoryEntry struct {
	ImageID           string          `json:"image_id"`
	ImageFilename     string          `json:"image_filename"`
	ThumbnailFilename string          `json:"thumbnail_filename"`
	Prompt            string          `json:"prompt"`
	ModelID           string          `json:"model_id"`
	Timestamp         time.Time       `json:"timestamp"`
	TextResponse      string          `json:"text_response,omitempty"`
	Usage             json.RawMessage `json:"usage,omitempty"`
	AspectRatio       string          `json:"aspect_ratio,omitempty"`
	Resolution        string          `json:"resolution,omitempty"`
	StylePreset       string          `json:"style_preset,omitempty"`
	NegativePrompt    string          `json:"negative_prompt,omitempty"`
	ImageWeight       *int            `json:"image_weight,omitempty"`
	BatchID           string          `json:"batch_id,omitempty"`
	SessionID         string          `json:"session_id,omitempty"`
}

// ReferenceUploadResponse is returned after a reference image is accepted
type ReferenceUploadResponse struct {
	ReferenceID  string `json:"reference_id"`
	WasResized   bool   `json:"was_resized"`
	ThumbnailURL string `json:"thumbnail_url"`
}

// ImageStore persists generated images
type ImageStore interface {
	Save(ctx context.Context, project string, data []byte) (*StoredImage, error)
	// Path resolves a stored file for serving. Thumbnails live under
	// "thumbnails/".
	Path(project, name string) (string, error)
}

// HistoryStore appends to a project's generation history
type HistoryStore interface {
	Append(ctx context.Context, project string, entry HistoryEntry) error
	List(ctx context.Context, project string) ([]HistoryEntry, error)
}

// ReferenceStore is the authoritative disk copy of uploaded reference
// images. Load returns an error matching fs.ErrNotExist when absent.
type ReferenceStore interface {
	Save(ctx context.Context, referenceID string, jpeg, thumbnail []byte) error
	Load(ctx context.Context, referenceID string) ([]byte, error)
	Delete(ctx context.Context, referenceID string) error
	ThumbnailPath(referenceID string) (string, error)
}
