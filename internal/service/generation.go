package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/imagegen-studio/internal/domain"
	"github.com/Rrens/imagegen-studio/internal/llm"
)

// ReferenceResolver turns reference ids into embeddable data URLs
type ReferenceResolver interface {
	ResolveReferenceURLs(ctx context.Context, primaryID, styleID string, characterIDs []string) (string, []string, error)
}

// GenerationService runs single and batch generations and records their
// results.
type GenerationService struct {
	generator llm.Generator
	registry  *llm.Registry
	refs      ReferenceResolver
	images    domain.ImageStore
	history   domain.HistoryStore
	batch     *BatchOrchestrator
	active    *ActiveGenerations
	now       func() time.Time
}

// NewGenerationService creates a new generation service
func NewGenerationService(
	generator llm.Generator,
	registry *llm.Registry,
	refs ReferenceResolver,
	images domain.ImageStore,
	history domain.HistoryStore,
	batch *BatchOrchestrator,
	active *ActiveGenerations,
) *GenerationService {
	return &GenerationService{
		generator: generator,
		registry:  registry,
		refs:      refs,
		images:    images,
		history:   history,
		batch:     batch,
		active:    active,
		now:       time.Now,
	}
}

// Cancel signals the generation registered under requestID
func (s *GenerationService) Cancel(requestID string) bool {
	return s.active.Cancel(requestID)
}

func (s *GenerationService) track(requestID string) (string, *llm.CancelToken, func()) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	token := s.active.Register(requestID)
	return requestID, token, func() { s.active.Release(requestID, token) }
}

// Generate runs a single generation
func (s *GenerationService) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResponse, error) {
	if _, err := s.registry.MustKnow(req.ModelID); err != nil {
		return nil, err
	}

	_, token, release := s.track(req.RequestID)
	defer release()

	return s.generateOne(ctx, token, req, "")
}

// GenerateBatch runs req.Variations variations through the batch
// orchestrator under one cancel token.
func (s *GenerationService) GenerateBatch(ctx context.Context, req domain.GenerateRequest) (*domain.BatchGenerateResponse, error) {
	batchID := req.BatchID
	if batchID == "" {
		batchID = uuid.NewString()
	}

	_, token, release := s.track(req.RequestID)
	defer release()

	run := func(ctx context.Context, _ int, modelID string) (*domain.GenerateResponse, error) {
		variation := req
		variation.ModelID = modelID
		return s.generateOne(ctx, token, variation, batchID)
	}

	result, err := s.batch.Run(ctx, token, req.Variations, req.ModelID, req.ModelIDs, run)
	if err != nil {
		return nil, err
	}

	errs := result.Errors
	if errs == nil {
		errs = []string{}
	}
	return &domain.BatchGenerateResponse{
		BatchID:        batchID,
		Results:        result.Completed,
		TotalRequested: result.Requested,
		TotalCompleted: len(result.Completed),
		Errors:         errs,
	}, nil
}

func (s *GenerationService) generateOne(ctx context.Context, token *llm.CancelToken, req domain.GenerateRequest, batchID string) (*domain.GenerateResponse, error) {
	project := req.Project
	if project == "" {
		project = domain.DefaultProject
	}

	prompt := llm.BuildPrompt(llm.PromptRequest{
		UserPrompt:       req.Prompt,
		StylePreset:      req.StylePreset,
		NegativePrompt:   req.NegativePrompt,
		Conversational:   s.registry.IsConversational(req.ModelID),
		HasCharacterRefs: len(req.CharacterReferenceIDs) > 0,
		HasStyleRef:      req.StyleReferenceID != "",
		ImageWeight:      req.ImageWeight,
	})

	primary, additional, err := s.refs.ResolveReferenceURLs(ctx, req.ReferenceImageID, req.StyleReferenceID, req.CharacterReferenceIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve references: %w", err)
	}

	result, err := s.generator.Generate(ctx, llm.GenerateRequest{
		Prompt:              prompt,
		ModelID:             req.ModelID,
		Cancel:              token,
		ReferenceImageURL:   primary,
		AdditionalImageURLs: additional,
		AspectRatio:         req.AspectRatio,
		Resolution:          req.Resolution,
	})
	if err != nil {
		return nil, err
	}

	stored, err := s.images.Save(ctx, project, result.ImageData)
	if err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	now := s.now().UTC()
	entry := domain.HistoryEntry{
		ImageID:           stored.ImageID,
		ImageFilename:     stored.ImageFilename,
		ThumbnailFilename: stored.ThumbnailFilename,
		Prompt:            req.Prompt,
		ModelID:           req.ModelID,
		Timestamp:         now,
		TextResponse:      result.TextResponse,
		Usage:             result.Usage,
		AspectRatio:       req.AspectRatio,
		Resolution:        req.Resolution,
		StylePreset:       req.StylePreset,
		NegativePrompt:    req.NegativePrompt,
		ImageWeight:       req.ImageWeight,
		BatchID:           batchID,
	}
	if err := s.history.Append(ctx, project, entry); err != nil {
		// history is best effort once the image is stored
		log.Error().Err(err).Str("image_id", stored.ImageID).Msg("Failed to record history entry")
	}

	return &domain.GenerateResponse{
		ImageID:        stored.ImageID,
		ImageURL:       stored.ImageURL,
		ThumbnailURL:   stored.ThumbnailURL,
		TextResponse:   result.TextResponse,
		ModelID:        req.ModelID,
		Prompt:         req.Prompt,
		Timestamp:      now,
		Usage:          result.Usage,
		AspectRatio:    req.AspectRatio,
		Resolution:     req.Resolution,
		StylePreset:    req.StylePreset,
		NegativePrompt: req.NegativePrompt,
		ImageWeight:    req.ImageWeight,
		BatchID:        batchID,
	}, nil
}
