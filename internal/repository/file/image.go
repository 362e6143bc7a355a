package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/Rrens/imagegen-studio/internal/domain"
	"github.com/Rrens/imagegen-studio/internal/imaging"
)

var imageFileRe = regexp.MustCompile(`^[a-f0-9-]{36}(_thumb)?\.png$`)

// ImageRepository writes generated images and their thumbnails as PNG
type ImageRepository struct {
	root string
}

// NewImageRepository creates a new image repository
func NewImageRepository(root string) *ImageRepository {
	return &ImageRepository{root: root}
}

// Save re-encodes data as a clean PNG, writes a thumbnail next to it and
// returns the public URLs.
func (r *ImageRepository) Save(_ context.Context, project string, data []byte) (*domain.StoredImage, error) {
	dir, err := projectDir(r.root, project)
	if err != nil {
		return nil, err
	}

	img, err := imaging.Decode(data)
	if err != nil {
		return nil, domain.NewError(domain.KindServer, "Model returned an unreadable image", domain.WithWrapped(err))
	}

	full, err := imaging.EncodePNG(img)
	if err != nil {
		return nil, err
	}
	thumb, err := imaging.EncodePNG(imaging.Thumbnail(img, imaging.ThumbnailSize))
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	stored := &domain.StoredImage{
		ImageID:           id,
		ImageFilename:     id + ".png",
		ThumbnailFilename: id + "_thumb.png",
	}
	stored.ImageURL, stored.ThumbnailURL = domain.ImageURLs(project, id)

	if err := WriteFileAtomic(filepath.Join(dir, "images", stored.ImageFilename), full, 0o644); err != nil {
		return nil, fmt.Errorf("failed to save image: %w", err)
	}
	if err := WriteFileAtomic(filepath.Join(dir, "thumbnails", stored.ThumbnailFilename), thumb, 0o644); err != nil {
		return nil, fmt.Errorf("failed to save thumbnail: %w", err)
	}
	return stored, nil
}

// Path resolves "<id>.png" or "thumbnails/<id>_thumb.png" to a file on
// disk.
func (r *ImageRepository) Path(project, name string) (string, error) {
	dir, err := projectDir(r.root, project)
	if err != nil {
		return "", domain.NewError(domain.KindNotFound, "Not found")
	}

	sub := "images"
	if rest, ok := strings.CutPrefix(name, "thumbnails/"); ok {
		sub, name = "thumbnails", rest
	}
	if !imageFileRe.MatchString(name) {
		return "", domain.NewError(domain.KindNotFound, "Not found")
	}

	path := filepath.Join(dir, sub, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", domain.NewError(domain.KindNotFound, "Not found")
		}
		return "", fmt.Errorf("failed to stat image: %w", err)
	}
	return path, nil
}
