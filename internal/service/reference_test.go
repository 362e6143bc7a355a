package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/imagegen-studio/internal/domain"
)

func pngUpload(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 64, 32))
	for x := 0; x < 64; x++ {
		img.Set(x, x%32, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestReferenceService_Upload(t *testing.T) {
	store := new(MockReferenceStore)
	cache := new(MockReferenceCache)
	svc := NewReferenceService(store, cache)

	var savedID string
	store.On("Save", mock.Anything, mock.AnythingOfType("string"), mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { savedID = args.String(1) }).
		Return(nil)
	cache.On("Store", mock.AnythingOfType("string"), mock.MatchedBy(func(url string) bool {
		return strings.HasPrefix(url, "data:image/jpeg;base64,")
	})).Return()

	resp, err := svc.Upload(context.Background(), pngUpload(t))
	require.NoError(t, err)
	assert.Equal(t, savedID, resp.ReferenceID)
	assert.False(t, resp.WasResized)
	assert.Equal(t, "/api/reference/"+resp.ReferenceID+"/thumbnail", resp.ThumbnailURL)

	store.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestReferenceService_UploadRejectsGarbage(t *testing.T) {
	store := new(MockReferenceStore)
	cache := new(MockReferenceCache)
	svc := NewReferenceService(store, cache)

	_, err := svc.Upload(context.Background(), []byte("definitely not an image"))
	assert.True(t, domain.IsInvalidArgument(err))
	store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReferenceService_Delete(t *testing.T) {
	store := new(MockReferenceStore)
	cache := new(MockReferenceCache)
	svc := NewReferenceService(store, cache)

	cache.On("Delete", "ref").Return()
	store.On("Delete", mock.Anything, "ref").Return(nil)

	require.NoError(t, svc.Delete(context.Background(), "ref"))
	cache.AssertExpectations(t)
	store.AssertExpectations(t)
}
