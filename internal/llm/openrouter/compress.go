package openrouter

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Rrens/imagegen-studio/internal/domain"
	"github.com/Rrens/imagegen-studio/internal/imaging"
)

func formatMB(n int) string {
	return fmt.Sprintf("%.1fMB", float64(n)/(1024*1024))
}

// compressPayload shrinks every embedded data-URL image in place so the
// serialized payload fits maxBytes. A tenth of the budget is held back for
// JSON structure and prompt text; the rest is split evenly per image.
func compressPayload(payload *chatRequest, maxBytes int) ([]byte, error) {
	var images []*contentPart
	for i := range payload.Messages {
		for j := range payload.Messages[i].Parts {
			part := &payload.Messages[i].Parts[j]
			if part.Type == "image_url" && part.ImageURL != nil && imaging.IsImageDataURL(part.ImageURL.URL) {
				images = append(images, part)
			}
		}
	}

	if len(images) > 0 {
		target := maxBytes - maxBytes/10
		perImage := target / len(images)

		for _, part := range images {
			raw, _, err := imaging.DecodeDataURL(part.ImageURL.URL)
			if err != nil {
				return nil, domain.NewError(domain.KindInvalidRequest, "Reference image could not be decoded", domain.WithWrapped(err))
			}
			compressed, err := imaging.CompressForSizeLimit(raw, perImage)
			if errors.Is(err, imaging.ErrTooLarge) {
				return nil, domain.NewError(domain.KindPayloadTooLarge,
					fmt.Sprintf("Reference image too large for this model's %s request limit (%d bytes). Try using a smaller image.",
						formatMB(maxBytes), maxBytes))
			}
			if err != nil {
				return nil, domain.NewError(domain.KindInvalidRequest, "Reference image could not be decoded", domain.WithWrapped(err))
			}
			part.ImageURL.URL = imaging.EncodeDataURL(compressed, "image/jpeg")
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	if len(body) > maxBytes {
		return nil, domain.NewError(domain.KindPayloadTooLarge,
			fmt.Sprintf("Request payload (%dKB) exceeds this model's %s limit even after compression. "+
				"Try using fewer or smaller reference images.", len(body)/1024, formatMB(maxBytes)))
	}
	return body, nil
}
