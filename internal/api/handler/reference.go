package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Rrens/imagegen-studio/internal/api/response"
	"github.com/Rrens/imagegen-studio/internal/domain"
	"github.com/Rrens/imagegen-studio/internal/imaging"
)

// References is the reference service surface used by ReferenceHandler
type References interface {
	Upload(ctx context.Context, data []byte) (*domain.ReferenceUploadResponse, error)
	Delete(ctx context.Context, referenceID string) error
	ThumbnailPath(referenceID string) (string, error)
}

// ReferenceHandler handles reference image endpoints
type ReferenceHandler struct {
	references References
}

// NewReferenceHandler creates a new reference handler
func NewReferenceHandler(references References) *ReferenceHandler {
	return &ReferenceHandler{references: references}
}

// Upload accepts a multipart "file" field holding a reference image
func (h *ReferenceHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Leave headroom for the multipart envelope
	r.Body = http.MaxBytesReader(w, r.Body, imaging.MaxUploadBytes+1<<20)

	file, _, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, domain.NewError(domain.KindInvalidArgument, imaging.ErrUploadTooLarge.Error()))
			return
		}
		writeError(w, r, domain.NewError(domain.KindInvalidArgument, "no file uploaded"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, imaging.MaxUploadBytes+1))
	if err != nil {
		writeError(w, r, domain.NewError(domain.KindInvalidArgument, "failed to read upload"))
		return
	}

	resp, err := h.references.Upload(r.Context(), data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, resp)
}

// Delete removes a reference image
func (h *ReferenceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.references.Delete(r.Context(), chi.URLParam(r, "referenceID")); err != nil {
		writeError(w, r, err)
		return
	}
	response.OK(w, map[string]any{"deleted": true})
}

// Thumbnail serves the PNG thumbnail of a reference image
func (h *ReferenceHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	path, err := h.references.ThumbnailPath(chi.URLParam(r, "referenceID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, path)
}
