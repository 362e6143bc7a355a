package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/Rrens/imagegen-studio/internal/domain"
)

// HistoryRepository keeps each project's generation history as one JSON
// array.
type HistoryRepository struct {
	root string
	mu   sync.Mutex
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(root string) *HistoryRepository {
	return &HistoryRepository{root: root}
}

func (r *HistoryRepository) path(project string) (string, error) {
	dir, err := projectDir(r.root, project)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.json"), nil
}

func (r *HistoryRepository) read(path string) ([]domain.HistoryEntry, error) {
	var entries []domain.HistoryEntry
	if err := readJSON(path, &entries); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.HistoryEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	if entries == nil {
		entries = []domain.HistoryEntry{}
	}
	return entries, nil
}

// Append adds entry to the end of the project history
func (r *HistoryRepository) Append(_ context.Context, project string, entry domain.HistoryEntry) error {
	path, err := r.path(project)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.read(path)
	if err != nil {
		return err
	}
	entries = append(entries, entry)
	if err := writeJSON(path, entries); err != nil {
		return fmt.Errorf("failed to write history: %w", err)
	}
	return nil
}

// List returns the project history oldest first
func (r *HistoryRepository) List(_ context.Context, project string) ([]domain.HistoryEntry, error) {
	path, err := r.path(project)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(path)
}
