package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Rrens/imagegen-studio/internal/domain"
)

// ReferenceRepository is the authoritative disk copy of uploaded reference
// images. References are shared by all projects and live under the default
// project.
type ReferenceRepository struct {
	dir string
}

// NewReferenceRepository creates a new reference repository
func NewReferenceRepository(root string) *ReferenceRepository {
	return &ReferenceRepository{dir: filepath.Join(root, "projects", domain.DefaultProject, "references")}
}

func (r *ReferenceRepository) jpegPath(id string) string {
	return filepath.Join(r.dir, id+".jpg")
}

func (r *ReferenceRepository) thumbPath(id string) string {
	return filepath.Join(r.dir, "thumbnails", id+"_thumb.png")
}

// Save writes the normalised JPEG and its thumbnail
func (r *ReferenceRepository) Save(_ context.Context, referenceID string, jpeg, thumbnail []byte) error {
	if err := validateID(referenceID); err != nil {
		return err
	}
	if err := WriteFileAtomic(r.jpegPath(referenceID), jpeg, 0o644); err != nil {
		return fmt.Errorf("failed to save reference: %w", err)
	}
	if err := WriteFileAtomic(r.thumbPath(referenceID), thumbnail, 0o644); err != nil {
		return fmt.Errorf("failed to save reference thumbnail: %w", err)
	}
	return nil
}

// Load reads the reference JPEG. Unknown or malformed ids report
// fs.ErrNotExist.
func (r *ReferenceRepository) Load(_ context.Context, referenceID string) ([]byte, error) {
	if err := validateID(referenceID); err != nil {
		return nil, fmt.Errorf("reference %q: %w", referenceID, fs.ErrNotExist)
	}
	return os.ReadFile(r.jpegPath(referenceID))
}

// Delete removes the reference and its thumbnail. Missing files are not an
// error.
func (r *ReferenceRepository) Delete(_ context.Context, referenceID string) error {
	if err := validateID(referenceID); err != nil {
		return err
	}
	for _, p := range []string{r.jpegPath(referenceID), r.thumbPath(referenceID)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to delete reference: %w", err)
		}
	}
	return nil
}

// ThumbnailPath returns the thumbnail file of a reference
func (r *ReferenceRepository) ThumbnailPath(referenceID string) (string, error) {
	if err := validateID(referenceID); err != nil {
		return "", err
	}
	path := r.thumbPath(referenceID)
	if _, err := os.Stat(path); err != nil {
		return "", domain.NewError(domain.KindNotFound, "Not found")
	}
	return path, nil
}
