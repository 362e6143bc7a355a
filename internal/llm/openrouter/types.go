package openrouter

import (
	"encoding/json"
)

type chatRequest struct {
	Model       string        `json:"model"`
	Modalities  []string      `json:"modalities"`
	Messages    []chatMessage `json:"messages"`
	ImageConfig *imageConfig  `json:"image_config,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspect_ratio,omitempty"`
	ImageSize   string `json:"image_size,omitempty"`
}

// chatMessage carries either a list of typed parts or, for assistant
// history, a plain string.
type chatMessage struct {
	Role  string
	Parts []contentPart
	Text  string
}

func (m chatMessage) MarshalJSON() ([]byte, error) {
	if m.Parts != nil {
		return json.Marshal(struct {
			Role    string        `json:"role"`
			Content []contentPart `json:"content"`
		}{m.Role, m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{m.Role, m.Text})
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

func textPart(text string) contentPart {
	return contentPart{Type: "text", Text: text}
}

func imagePart(url string) contentPart {
	return contentPart{Type: "image_url", ImageURL: &imageURL{URL: url}}
}

type chatResponse struct {
	Choices []struct {
		Message responseMessage `json:"message"`
	} `json:"choices"`
	Usage json.RawMessage `json:"usage"`
}

type responseMessage struct {
	// Content is a string or a list of typed parts depending on the model.
	Content json.RawMessage `json:"content"`
	Images  []contentPart   `json:"images"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
