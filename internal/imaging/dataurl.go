// Package imaging holds the pixel-level helpers: data URLs, the
// size-limit compression ladder, upload normalisation and thumbnails.
package imaging

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const imageDataPrefix = "data:image/"

var ErrNotDataURL = errors.New("not a base64 image data URL")

// EncodeDataURL encodes data as a base64 data URL with the given mime type.
func EncodeDataURL(data []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
}

// IsImageDataURL reports whether url carries inline image data.
func IsImageDataURL(url string) bool {
	return strings.HasPrefix(url, imageDataPrefix)
}

// DecodeDataURL returns the payload bytes after the comma and the mime type.
func DecodeDataURL(url string) ([]byte, string, error) {
	if !IsImageDataURL(url) {
		return nil, "", ErrNotDataURL
	}
	header, payload, ok := strings.Cut(url, ",")
	if !ok {
		return nil, "", ErrNotDataURL
	}
	mimeType := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode data url payload: %w", err)
	}
	return data, mimeType, nil
}
