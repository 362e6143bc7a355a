package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/imagegen-studio/internal/domain"
)

// SessionRepository implements domain.SessionStore with one jsonb document
// per session.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Save(ctx context.Context, session *domain.ConversationSession) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	query := `
		INSERT INTO conversation_sessions (id, project, model_id, document, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET model_id = EXCLUDED.model_id, document = EXCLUDED.document, updated_at = EXCLUDED.updated_at
	`
	_, err = r.pool.Exec(ctx, query,
		session.SessionID,
		session.Project,
		session.ModelID,
		doc,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Load(ctx context.Context, project, sessionID string) (*domain.ConversationSession, error) {
	query := `
		SELECT document
		FROM conversation_sessions
		WHERE id::text = $1 AND project = $2
	`
	var doc []byte
	if err := r.pool.QueryRow(ctx, query, sessionID, project).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.Errorf(domain.KindNotFound, "Session %s not found", sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session domain.ConversationSession
	if err := json.Unmarshal(doc, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) List(ctx context.Context, project string) ([]*domain.ConversationSession, error) {
	query := `
		SELECT id::text, document
		FROM conversation_sessions
		WHERE project = $1
		ORDER BY updated_at DESC
	`
	rows, err := r.pool.Query(ctx, query, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.ConversationSession
	for rows.Next() {
		var (
			id  string
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		var session domain.ConversationSession
		if err := json.Unmarshal(doc, &session); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("Skipping unreadable session")
			continue
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) Delete(ctx context.Context, project, sessionID string) error {
	query := `DELETE FROM conversation_sessions WHERE id::text = $1 AND project = $2`
	tag, err := r.pool.Exec(ctx, query, sessionID, project)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Errorf(domain.KindNotFound, "Session %s not found", sessionID)
	}
	return nil
}
