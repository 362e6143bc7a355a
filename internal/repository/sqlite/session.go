// Package sqlite stores conversation sessions in an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/Rrens/imagegen-studio/internal/domain"
)

// SessionRepository implements domain.SessionStore on SQLite. Each session is
// one JSON document row.
type SessionRepository struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema
func Open(ctx context.Context, path string) (*SessionRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer

	r := &SessionRepository{db: db}
	if err := r.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SessionRepository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_sessions (
			id TEXT PRIMARY KEY,
			project TEXT NOT NULL,
			document TEXT NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_by_project ON conversation_sessions(project, updated_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := r.db.ExecContext(ctx, st); err != nil {
			return fmt.Errorf("failed to migrate sqlite store: %w", err)
		}
	}
	return nil
}

// Close closes the database
func (r *SessionRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SessionRepository) Save(ctx context.Context, session *domain.ConversationSession) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversation_sessions (id, project, document, updated_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at_ms = excluded.updated_at_ms
	`, session.SessionID, session.Project, string(doc), session.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Load(ctx context.Context, project, sessionID string) (*domain.ConversationSession, error) {
	var doc string
	err := r.db.QueryRowContext(ctx,
		`SELECT document FROM conversation_sessions WHERE id = ? AND project = ?`,
		sessionID, project,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Errorf(domain.KindNotFound, "Session %s not found", sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session domain.ConversationSession
	if err := json.Unmarshal([]byte(doc), &session); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) List(ctx context.Context, project string) ([]*domain.ConversationSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, document FROM conversation_sessions WHERE project = ? ORDER BY updated_at_ms DESC`,
		project,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.ConversationSession
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		var session domain.ConversationSession
		if err := json.Unmarshal([]byte(doc), &session); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("Skipping unreadable session")
			continue
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

func (r *SessionRepository) Delete(ctx context.Context, project, sessionID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM conversation_sessions WHERE id = ? AND project = ?`,
		sessionID, project,
	)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Errorf(domain.KindNotFound, "Session %s not found", sessionID)
	}
	return nil
}
