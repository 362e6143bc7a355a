package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/imagegen-studio/internal/domain"
)

// SessionRepository implements domain.SessionStore with one JSON document
// per session under <root>/projects/<project>/conversations.
type SessionRepository struct {
	root string
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(root string) *SessionRepository {
	return &SessionRepository{root: root}
}

func (r *SessionRepository) dir(project string) (string, error) {
	dir, err := projectDir(r.root, project)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "conversations"), nil
}

func (r *SessionRepository) path(project, sessionID string) (string, error) {
	if err := validateID(sessionID); err != nil {
		return "", domain.Errorf(domain.KindNotFound, "Session %s not found", sessionID)
	}
	dir, err := r.dir(project)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, sessionID+".json"), nil
}

// Save writes the whole session document atomically
func (r *SessionRepository) Save(_ context.Context, session *domain.ConversationSession) error {
	path, err := r.path(session.Project, session.SessionID)
	if err != nil {
		return err
	}
	if err := writeJSON(path, session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Load reads a session document
func (r *SessionRepository) Load(_ context.Context, project, sessionID string) (*domain.ConversationSession, error) {
	path, err := r.path(project, sessionID)
	if err != nil {
		return nil, err
	}

	var session domain.ConversationSession
	if err := readJSON(path, &session); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.Errorf(domain.KindNotFound, "Session %s not found", sessionID)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &session, nil
}

// List loads every readable session of a project. Corrupt documents are
// skipped.
func (r *SessionRepository) List(_ context.Context, project string) ([]*domain.ConversationSession, error) {
	dir, err := r.dir(project)
	if err != nil {
		return nil, err
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	sessions := make([]*domain.ConversationSession, 0, len(paths))
	for _, p := range paths {
		var session domain.ConversationSession
		if err := readJSON(p, &session); err != nil {
			log.Warn().Err(err).Str("path", p).Msg("Skipping unreadable session")
			continue
		}
		sessions = append(sessions, &session)
	}
	return sessions, nil
}

// Delete removes a session document
func (r *SessionRepository) Delete(_ context.Context, project, sessionID string) error {
	path, err := r.path(project, sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Errorf(domain.KindNotFound, "Session %s not found", sessionID)
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
