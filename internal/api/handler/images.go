package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Rrens/imagegen-studio/internal/domain"
)

// ImageHandler serves stored generations and their thumbnails
type ImageHandler struct {
	images domain.ImageStore
}

// NewImageHandler creates a new image handler
func NewImageHandler(images domain.ImageStore) *ImageHandler {
	return &ImageHandler{images: images}
}

func (h *ImageHandler) serve(w http.ResponseWriter, r *http.Request, name string) {
	path, err := h.images.Path(chi.URLParam(r, "project"), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, r, path)
}

// Image serves a full-size image
func (h *ImageHandler) Image(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, chi.URLParam(r, "filename"))
}

// Thumbnail serves an image thumbnail
func (h *ImageHandler) Thumbnail(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "thumbnails/"+chi.URLParam(r, "filename"))
}
