package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"
)

var ErrTooLarge = errors.New("image too large even after aggressive compression")

var (
	qualityLadder = []int{85, 70, 55, 40}
	scaleLadder   = []float64{0.75, 0.5}
)

// fits reports whether raw stays within budget once base64 encoded.
func fits(raw []byte, budget int) bool {
	return len(raw)*4/3 <= budget
}

// CompressForSizeLimit re-encodes data as JPEG until its base64 form fits
// in maxEncodedBytes. Quality drops first; then the image is downscaled at
// the lowest quality.
func CompressForSizeLimit(data []byte, maxEncodedBytes int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	img := Flatten(src)

	for _, q := range qualityLadder {
		raw, err := EncodeJPEG(img, q)
		if err != nil {
			return nil, err
		}
		if fits(raw, maxEncodedBytes) {
			return raw, nil
		}
	}

	lowest := qualityLadder[len(qualityLadder)-1]
	for _, factor := range scaleLadder {
		raw, err := EncodeJPEG(Scale(img, factor), lowest)
		if err != nil {
			return nil, err
		}
		if fits(raw, maxEncodedBytes) {
			return raw, nil
		}
	}

	return nil, ErrTooLarge
}

// Flatten draws img onto an opaque white canvas.
func Flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), image.White, image.Point{}, xdraw.Src)
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Over)
	return dst
}

// Scale resizes img by factor of its linear dimensions.
func Scale(img image.Image, factor float64) image.Image {
	b := img.Bounds()
	w := max(int(float64(b.Dx())*factor), 1)
	h := max(int(float64(b.Dy())*factor), 1)
	return Resize(img, w, h)
}

// Resize scales img to exactly w x h.
func Resize(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}

// EncodeJPEG encodes img at quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
