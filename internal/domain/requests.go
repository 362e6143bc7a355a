package domain

import "fmt"

// CreateSessionRequest starts a conversation, optionally seeded with the
// prompt and image of an earlier generation.
type CreateSessionRequest struct {
	ModelID        string `json:"model_id" validate:"required"`
	Project        string `json:"project,omitempty" validate:"omitempty,max=64"`
	InitialPrompt  string `json:"initial_prompt,omitempty"`
	InitialImageID string `json:"initial_image_id,omitempty" validate:"omitempty,uuid"`
}

// ConversationEditRequest is one editing instruction within a session
type ConversationEditRequest struct {
	SessionID      string `json:"session_id" validate:"required"`
	Project        string `json:"project,omitempty" validate:"omitempty,max=64"`
	Prompt         string `json:"prompt" validate:"required,max=10000"`
	ModelID        string `json:"model_id,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	Resolution     string `json:"resolution,omitempty"`
	StylePreset    string `json:"style_preset,omitempty"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	ImageWeight    *int   `json:"image_weight,omitempty" validate:"omitempty,min=0,max=100"`
}

// TurnIndexRequest addresses a turn of the session's active branch
type TurnIndexRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Project   string `json:"project,omitempty" validate:"omitempty,max=64"`
	TurnIndex *int   `json:"turn_index" validate:"required"`
}

// SubjectLockRequest sets or clears a session's subject lock
type SubjectLockRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Project   string `json:"project,omitempty" validate:"omitempty,max=64"`
	Locked    bool   `json:"locked"`
	ImageID   string `json:"image_id,omitempty"`
}

// ImageURLs returns the public image and thumbnail URLs of a stored image
func ImageURLs(project, imageID string) (string, string) {
	return fmt.Sprintf("/api/images/%s/%s.png", project, imageID),
		fmt.Sprintf("/api/images/%s/thumbnails/%s_thumb.png", project, imageID)
}
