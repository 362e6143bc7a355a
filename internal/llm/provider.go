package llm

import (
	"context"
	"encoding/json"

	"github.com/Rrens/imagegen-studio/internal/domain"
)

// GenerateRequest contains the parameters of one image generation call
type GenerateRequest struct {
	Prompt  string
	ModelID string
	// Cancel is checked between attempts and interrupts backoff sleeps.
	// A nil token never fires.
	Cancel              *CancelToken
	ReferenceImageURL   string
	AdditionalImageURLs []string
	AspectRatio         string
	Resolution          string
	History             []domain.HistoryMessage
}

// GenerateResult contains the decoded provider output
type GenerateResult struct {
	ImageData    []byte
	TextResponse string
	Usage        json.RawMessage
}

// Generator sends generation calls to a remote provider.
// Failures are *domain.Error values.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
}

// GeneratorFunc adapts a function to Generator
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	return f(ctx, req)
}
