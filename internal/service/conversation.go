package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/imagegen-studio/internal/domain"
	"github.com/Rrens/imagegen-studio/internal/imaging"
	"github.com/Rrens/imagegen-studio/internal/llm"
)

// ConversationService drives multi-turn editing sessions. Every mutation of
// a session runs under that session's lock as load, mutate, save.
type ConversationService struct {
	store     domain.SessionStore
	registry  *llm.Registry
	generator llm.Generator
	images    domain.ImageStore
	history   domain.HistoryStore
	active    *ActiveGenerations
	locks     *keyedMutex
	now       func() time.Time
}

// NewConversationService creates a new conversation service
func NewConversationService(
	store domain.SessionStore,
	registry *llm.Registry,
	generator llm.Generator,
	images domain.ImageStore,
	history domain.HistoryStore,
	active *ActiveGenerations,
) *ConversationService {
	return &ConversationService{
		store:     store,
		registry:  registry,
		generator: generator,
		images:    images,
		history:   history,
		active:    active,
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

func projectOrDefault(project string) string {
	if project == "" {
		return domain.DefaultProject
	}
	return project
}

// mutate applies fn to the stored session and saves it when fn reports a
// change.
func (s *ConversationService) mutate(ctx context.Context, project, sessionID string, fn func(*domain.ConversationSession) (bool, error)) (*domain.ConversationSession, error) {
	project = projectOrDefault(project)
	unlock := s.locks.Lock(project + "/" + sessionID)
	defer unlock()

	session, err := s.store.Load(ctx, project, sessionID)
	if err != nil {
		return nil, err
	}
	changed, err := fn(session)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := s.save(ctx, session); err != nil {
			return nil, err
		}
	}
	return session, nil
}

func (s *ConversationService) save(ctx context.Context, session *domain.ConversationSession) error {
	session.UpdatedAt = s.now().UTC()
	if err := s.store.Save(ctx, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Create starts a session. An initial prompt and image seed it so the model
// knows what is being edited.
func (s *ConversationService) Create(ctx context.Context, req domain.CreateSessionRequest) (*domain.ConversationSession, error) {
	if _, err := s.registry.MustKnow(req.ModelID); err != nil {
		return nil, err
	}
	project := projectOrDefault(req.Project)

	session := domain.NewConversationSession(project, req.ModelID, s.now())
	if req.InitialPrompt != "" {
		if _, err := session.AddTurn(domain.ConversationTurn{Role: domain.RoleUser, Prompt: req.InitialPrompt}); err != nil {
			return nil, err
		}
	}
	if req.InitialImageID != "" {
		imageURL, thumbURL := domain.ImageURLs(project, req.InitialImageID)
		turn := domain.ConversationTurn{
			Role:         domain.RoleAssistant,
			ImageID:      req.InitialImageID,
			ImageURL:     imageURL,
			ThumbnailURL: thumbURL,
		}
		if _, err := session.AddTurn(turn); err != nil {
			return nil, err
		}
	}

	if err := s.save(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get loads a session
func (s *ConversationService) Get(ctx context.Context, project, sessionID string) (*domain.ConversationSession, error) {
	return s.store.Load(ctx, projectOrDefault(project), sessionID)
}

// List returns session summaries, most recently updated first
func (s *ConversationService) List(ctx context.Context, project string) ([]domain.ConversationSessionSummary, error) {
	sessions, err := s.store.List(ctx, projectOrDefault(project))
	if err != nil {
		return nil, err
	}

	summaries := make([]domain.ConversationSessionSummary, 0, len(sessions))
	for _, session := range sessions {
		summaries = append(summaries, session.Summary())
	}
	slices.SortStableFunc(summaries, func(a, b domain.ConversationSessionSummary) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return summaries, nil
}

// Delete removes a session
func (s *ConversationService) Delete(ctx context.Context, project, sessionID string) error {
	project = projectOrDefault(project)
	unlock := s.locks.Lock(project + "/" + sessionID)
	defer unlock()
	return s.store.Delete(ctx, project, sessionID)
}

// AddTurn appends a turn to the active branch
func (s *ConversationService) AddTurn(ctx context.Context, project, sessionID string, turn domain.ConversationTurn) (*domain.ConversationTurn, error) {
	var added domain.ConversationTurn
	_, err := s.mutate(ctx, project, sessionID, func(session *domain.ConversationSession) (bool, error) {
		t, err := session.AddTurn(turn)
		if err != nil {
			return false, err
		}
		added = *t
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &added, nil
}

// Undo removes the last turn of the active branch
func (s *ConversationService) Undo(ctx context.Context, project, sessionID string) (bool, error) {
	var undone bool
	_, err := s.mutate(ctx, project, sessionID, func(session *domain.ConversationSession) (bool, error) {
		undone = session.UndoTurn()
		return undone, nil
	})
	return undone, err
}

// Revert truncates the active branch after index
func (s *ConversationService) Revert(ctx context.Context, project, sessionID string, index int) (bool, error) {
	var reverted bool
	_, err := s.mutate(ctx, project, sessionID, func(session *domain.ConversationSession) (bool, error) {
		reverted = session.RevertToTurn(index)
		return reverted, nil
	})
	return reverted, err
}

// Branch forks the active branch at index and activates the fork
func (s *ConversationService) Branch(ctx context.Context, project, sessionID string, index int) (*domain.ConversationBranch, error) {
	var created domain.ConversationBranch
	_, err := s.mutate(ctx, project, sessionID, func(session *domain.ConversationSession) (bool, error) {
		b, err := session.BranchFromTurn(index)
		if err != nil {
			return false, err
		}
		created = *b
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// SwitchBranch activates branchID
func (s *ConversationService) SwitchBranch(ctx context.Context, project, sessionID, branchID string) (bool, error) {
	var switched bool
	_, err := s.mutate(ctx, project, sessionID, func(session *domain.ConversationSession) (bool, error) {
		switched = session.SwitchBranch(branchID)
		return switched, nil
	})
	return switched, err
}

// SetSubjectLock pins or releases the session's subject image
func (s *ConversationService) SetSubjectLock(ctx context.Context, project, sessionID string, locked bool, imageID string) (*domain.ConversationSession, error) {
	return s.mutate(ctx, project, sessionID, func(session *domain.ConversationSession) (bool, error) {
		session.SetSubjectLock(locked, imageID)
		return true, nil
	})
}

// TokenUsage estimates the context consumption of the active branch
func (s *ConversationService) TokenUsage(ctx context.Context, project, sessionID string) (domain.TokenUsage, error) {
	session, err := s.Get(ctx, project, sessionID)
	if err != nil {
		return domain.TokenUsage{}, err
	}
	return session.EstimateTokenUsage(s.registry.ContextLimit(session.ModelID)), nil
}

// imageDataURL reads a stored image of project as a data URL. Missing
// images yield "".
func (s *ConversationService) imageDataURL(project, imageID string) string {
	path, err := s.images.Path(project, imageID+".png")
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn().Err(err).Str("image_id", imageID).Msg("Failed to read session image")
		}
		return ""
	}
	return imaging.EncodeDataURL(data, "image/png")
}

// Edit sends one editing turn. The user turn is appended before the call
// and removed again if the generation or storing its image fails, so a
// failed edit leaves the active branch unchanged.
func (s *ConversationService) Edit(ctx context.Context, req domain.ConversationEditRequest) (*domain.GenerateResponse, error) {
	project := projectOrDefault(req.Project)
	unlock := s.locks.Lock(project + "/" + req.SessionID)
	defer unlock()

	session, err := s.store.Load(ctx, project, req.SessionID)
	if err != nil {
		return nil, err
	}

	modelID := req.ModelID
	if modelID == "" {
		modelID = session.ModelID
	}
	if _, err := s.registry.MustKnow(modelID); err != nil {
		return nil, err
	}
	conversational := s.registry.IsConversational(modelID)

	prompt := llm.BuildPrompt(llm.PromptRequest{
		UserPrompt:     req.Prompt,
		StylePreset:    req.StylePreset,
		NegativePrompt: req.NegativePrompt,
		Conversational: conversational,
		ImageWeight:    req.ImageWeight,
	})

	var (
		history   []domain.HistoryMessage
		reference string
	)
	if conversational {
		history = session.HistoryMessages()
	} else if last := session.LastImageTurn(); last != nil {
		reference = s.imageDataURL(project, last.ImageID)
	}
	if session.SubjectLocked && session.SubjectLockImageID != "" {
		if locked := s.imageDataURL(project, session.SubjectLockImageID); locked != "" {
			reference = locked
		}
	}

	if _, err := session.AddTurn(domain.ConversationTurn{Role: domain.RoleUser, Prompt: req.Prompt}); err != nil {
		return nil, err
	}
	if err := s.save(ctx, session); err != nil {
		return nil, err
	}

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	token := s.active.Register(requestID)
	defer s.active.Release(requestID, token)

	resp, err := s.runEdit(ctx, token, session, req, modelID, prompt, reference, history)
	if err != nil {
		session.UndoTurn()
		// The rollback must land even when the request was cancelled.
		if saveErr := s.save(context.WithoutCancel(ctx), session); saveErr != nil {
			log.Error().Err(saveErr).Str("session_id", session.SessionID).Msg("Failed to roll back user turn")
		}
		return nil, err
	}
	return resp, nil
}

func (s *ConversationService) runEdit(
	ctx context.Context,
	token *llm.CancelToken,
	session *domain.ConversationSession,
	req domain.ConversationEditRequest,
	modelID, prompt, reference string,
	history []domain.HistoryMessage,
) (*domain.GenerateResponse, error) {
	result, err := s.generator.Generate(ctx, llm.GenerateRequest{
		Prompt:            prompt,
		ModelID:           modelID,
		Cancel:            token,
		ReferenceImageURL: reference,
		AspectRatio:       req.AspectRatio,
		Resolution:        req.Resolution,
		History:           history,
	})
	if err != nil {
		return nil, err
	}

	// Once an image came back it is persisted regardless of the caller.
	ctx = context.WithoutCancel(ctx)
	stored, err := s.images.Save(ctx, session.Project, result.ImageData)
	if err != nil {
		return nil, fmt.Errorf("failed to store image: %w", err)
	}

	now := s.now().UTC()
	if _, err := session.AddTurn(domain.ConversationTurn{
		Role:         domain.RoleAssistant,
		ImageID:      stored.ImageID,
		ImageURL:     stored.ImageURL,
		ThumbnailURL: stored.ThumbnailURL,
		TextResponse: result.TextResponse,
		Timestamp:    now,
		Usage:        result.Usage,
	}); err != nil {
		return nil, err
	}
	if err := s.save(ctx, session); err != nil {
		session.UndoTurn()
		return nil, err
	}

	entry := domain.HistoryEntry{
		ImageID:           stored.ImageID,
		ImageFilename:     stored.ImageFilename,
		ThumbnailFilename: stored.ThumbnailFilename,
		Prompt:            req.Prompt,
		ModelID:           modelID,
		Timestamp:         now,
		TextResponse:      result.TextResponse,
		Usage:             result.Usage,
		SessionID:         session.SessionID,
	}
	if err := s.history.Append(ctx, session.Project, entry); err != nil {
		log.Error().Err(err).Str("image_id", stored.ImageID).Msg("Failed to record history entry")
	}

	return &domain.GenerateResponse{
		ImageID:      stored.ImageID,
		ImageURL:     stored.ImageURL,
		ThumbnailURL: stored.ThumbnailURL,
		TextResponse: result.TextResponse,
		ModelID:      modelID,
		Prompt:       req.Prompt,
		Timestamp:    now,
		Usage:        result.Usage,
		AspectRatio:  req.AspectRatio,
		Resolution:   req.Resolution,
	}, nil
}
