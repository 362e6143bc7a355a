package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/Rrens/imagegen-studio/internal/domain"
	"github.com/Rrens/imagegen-studio/internal/imaging"
)

// ReferenceCacheWriter is the part of the reference cache the upload path
// touches.
type ReferenceCacheWriter interface {
	Store(id, dataURL string)
	Delete(id string)
}

// ReferenceService accepts uploaded reference images
type ReferenceService struct {
	store domain.ReferenceStore
	cache ReferenceCacheWriter
}

// NewReferenceService creates a new reference service
func NewReferenceService(store domain.ReferenceStore, cache ReferenceCacheWriter) *ReferenceService {
	return &ReferenceService{store: store, cache: cache}
}

// Upload validates and normalises data, stores it on disk and warms the
// cache.
func (s *ReferenceService) Upload(ctx context.Context, data []byte) (*domain.ReferenceUploadResponse, error) {
	jpeg, resized, err := imaging.ProcessUpload(data)
	if err != nil {
		if errors.Is(err, imaging.ErrUploadTooLarge) || errors.Is(err, imaging.ErrInvalidImage) {
			return nil, domain.NewError(domain.KindInvalidArgument, err.Error(), domain.WithWrapped(err))
		}
		return nil, fmt.Errorf("failed to process upload: %w", err)
	}

	img, err := imaging.Decode(jpeg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode processed upload: %w", err)
	}
	thumb, err := imaging.EncodePNG(imaging.Thumbnail(img, imaging.ThumbnailSize))
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if err := s.store.Save(ctx, id, jpeg, thumb); err != nil {
		return nil, err
	}
	s.cache.Store(id, imaging.EncodeDataURL(jpeg, "image/jpeg"))

	return &domain.ReferenceUploadResponse{
		ReferenceID:  id,
		WasResized:   resized,
		ThumbnailURL: fmt.Sprintf("/api/reference/%s/thumbnail", id),
	}, nil
}

// Delete drops a reference from the cache and from disk
func (s *ReferenceService) Delete(ctx context.Context, referenceID string) error {
	s.cache.Delete(referenceID)
	return s.store.Delete(ctx, referenceID)
}

// ThumbnailPath resolves the thumbnail file of a reference
func (s *ReferenceService) ThumbnailPath(referenceID string) (string, error) {
	return s.store.ThumbnailPath(referenceID)
}
