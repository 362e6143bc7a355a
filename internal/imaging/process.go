package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/png"

	_ "golang.org/x/image/webp"
)

const (
	MaxUploadBytes = 20 * 1024 * 1024
	MaxDimension   = 4096
	ThumbnailSize  = 256
	uploadQuality  = 90
)

var (
	ErrUploadTooLarge = fmt.Errorf("image exceeds %dMB limit", MaxUploadBytes/(1024*1024))
	ErrInvalidImage   = errors.New("invalid image file")
)

// ProcessUpload validates a reference upload, caps its longest side at
// MaxDimension and re-encodes it as JPEG.
func ProcessUpload(data []byte) ([]byte, bool, error) {
	if len(data) > MaxUploadBytes {
		return nil, false, ErrUploadTooLarge
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, ErrInvalidImage
	}

	resized := false
	b := img.Bounds()
	if longest := max(b.Dx(), b.Dy()); longest > MaxDimension {
		ratio := float64(MaxDimension) / float64(longest)
		img = Resize(img, int(float64(b.Dx())*ratio), int(float64(b.Dy())*ratio))
		resized = true
	}

	out, err := EncodeJPEG(Flatten(img), uploadQuality)
	if err != nil {
		return nil, false, err
	}
	return out, resized, nil
}

// Decode decodes any registered format.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, ErrInvalidImage
	}
	return img, nil
}

// EncodePNG encodes img as PNG. Re-encoding decoded pixels drops any
// metadata the provider attached.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail shrinks img so its longest side is at most size. Smaller
// images are returned unchanged.
func Thumbnail(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= size && h <= size {
		return img
	}
	if w >= h {
		h = max(h*size/w, 1)
		w = size
	} else {
		w = max(w*size/h, 1)
		h = size
	}
	return Resize(img, w, h)
}
