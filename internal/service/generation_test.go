package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/imagegen-studio/internal/domain"
	"github.com/Rrens/imagegen-studio/internal/llm"
)

type generationFixture struct {
	svc     *GenerationService
	gen     *MockGenerator
	refs    *MockReferenceResolver
	images  *MockImageStore
	history *MockHistoryStore
	active  *ActiveGenerations
	sleep   *recordingSleep
}

func newGenerationFixture() *generationFixture {
	f := &generationFixture{
		gen:     new(MockGenerator),
		refs:    new(MockReferenceResolver),
		images:  new(MockImageStore),
		history: new(MockHistoryStore),
		active:  NewActiveGenerations(),
		sleep:   &recordingSleep{},
	}
	registry := llm.NewRegistry(llm.DefaultModels()...)
	batch := NewBatchOrchestrator(registry, 5*time.Second, 2, f.sleep.Sleep)
	f.svc = NewGenerationService(f.gen, registry, f.refs, f.images, f.history, batch, f.active)
	return f
}

func TestGenerationService_Generate(t *testing.T) {
	ctx := context.Background()
	f := newGenerationFixture()
	weight := 80

	req := domain.GenerateRequest{
		Prompt:                "a castle",
		ModelID:               testModel,
		RequestID:             "req-1",
		StylePreset:           "watercolor",
		ReferenceImageID:      "ref-primary",
		CharacterReferenceIDs: []string{"ref-char"},
		ImageWeight:           &weight,
		AspectRatio:           "16:9",
	}

	f.refs.On("ResolveReferenceURLs", mock.Anything, "ref-primary", "", []string{"ref-char"}).
		Return("data:image/jpeg;base64,AAAA", []string{"data:image/jpeg;base64,BBBB"}, nil)
	f.gen.On("Generate", mock.Anything, mock.MatchedBy(func(r llm.GenerateRequest) bool {
		return r.ModelID == testModel &&
			r.ReferenceImageURL == "data:image/jpeg;base64,AAAA" &&
			len(r.AdditionalImageURLs) == 1 &&
			r.AspectRatio == "16:9" &&
			r.Prompt != "a castle" &&
			r.Cancel != nil
	})).Return(&llm.GenerateResult{ImageData: []byte("png")}, nil)
	f.images.On("Save", mock.Anything, domain.DefaultProject, []byte("png")).
		Return(&domain.StoredImage{ImageID: "img", ImageURL: "/api/images/default/img.png"}, nil)
	f.history.On("Append", mock.Anything, domain.DefaultProject, mock.MatchedBy(func(e domain.HistoryEntry) bool {
		return e.ImageID == "img" && e.Prompt == "a castle" && e.StylePreset == "watercolor" && e.BatchID == ""
	})).Return(nil)

	resp, err := f.svc.Generate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "img", resp.ImageID)
	assert.Equal(t, "a castle", resp.Prompt)
	assert.Zero(t, f.active.Len())

	f.gen.AssertExpectations(t)
	f.history.AssertExpectations(t)
}

func TestGenerationService_GenerateUnknownModel(t *testing.T) {
	f := newGenerationFixture()
	_, err := f.svc.Generate(context.Background(), domain.GenerateRequest{Prompt: "x", ModelID: "nope/model"})
	assert.True(t, domain.IsInvalidArgument(err))
	f.gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerationService_GenerateBatch(t *testing.T) {
	ctx := context.Background()
	f := newGenerationFixture()

	f.refs.On("ResolveReferenceURLs", mock.Anything, "", "", []string(nil)).Return("", nil, nil)
	f.gen.On("Generate", mock.Anything, mock.Anything).
		Return(nil, domain.NewError(domain.KindInvalidRequest, "bad aspect ratio")).Once()
	f.gen.On("Generate", mock.Anything, mock.Anything).
		Return(&llm.GenerateResult{ImageData: []byte("png")}, nil)
	f.images.On("Save", mock.Anything, "proj", []byte("png")).Return(&domain.StoredImage{ImageID: "img"}, nil)
	f.history.On("Append", mock.Anything, "proj", mock.MatchedBy(func(e domain.HistoryEntry) bool {
		return e.BatchID == "batch-1"
	})).Return(nil)

	resp, err := f.svc.GenerateBatch(ctx, domain.GenerateRequest{
		Prompt:     "a castle",
		ModelID:    testModel,
		Variations: 3,
		BatchID:    "batch-1",
		Project:    "proj",
	})
	require.NoError(t, err)
	assert.Equal(t, "batch-1", resp.BatchID)
	assert.Equal(t, 3, resp.TotalRequested)
	assert.Equal(t, 2, resp.TotalCompleted)
	assert.Equal(t, []string{"Variation 1: bad aspect ratio"}, resp.Errors)
	for _, r := range resp.Results {
		assert.Equal(t, "batch-1", r.BatchID)
	}
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, f.sleep.Waits())
}

func TestGenerationService_CancelUsesRequestID(t *testing.T) {
	ctx := context.Background()
	f := newGenerationFixture()

	assert.False(t, f.svc.Cancel("req-42"))

	f.refs.On("ResolveReferenceURLs", mock.Anything, "", "", []string(nil)).Return("", nil, nil)
	f.gen.On("Generate", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		assert.True(t, f.svc.Cancel("req-42"))
	}).Return(nil, llm.ErrCancelled())

	_, err := f.svc.Generate(ctx, domain.GenerateRequest{Prompt: "x", ModelID: testModel, RequestID: "req-42"})
	assert.True(t, domain.IsCancelled(err))
	assert.False(t, f.svc.Cancel("req-42"))
}
