package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Rrens/imagegen-studio/internal/domain"
	"github.com/Rrens/imagegen-studio/internal/imaging"
	"github.com/Rrens/imagegen-studio/internal/llm"
)

const (
	conversationalModel = "google/gemini-2.5-flash-image"
	imageOnlyModel      = "black-forest-labs/flux.2-max"
	testKey             = "sk-or-v1-testkey"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type staticKeys string

func (k staticKeys) APIKey() (string, error) { return string(k), nil }

type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleep) Sleep(ctx context.Context, token *llm.CancelToken, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	if token.Cancelled() {
		return llm.ErrCancelled()
	}
	return ctx.Err()
}

func jsonResponse(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// scripted replays responses in order and records request bodies.
type scripted struct {
	mu        sync.Mutex
	responses []*http.Response
	requests  []*http.Request
	bodies    [][]byte
}

func (s *scripted) RoundTrip(r *http.Request) (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	s.requests = append(s.requests, r)
	s.bodies = append(s.bodies, body)
	if len(s.responses) == 0 {
		return nil, errors.New("unexpected request")
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func newTestProvider(rt http.RoundTripper, sleep llm.SleepFunc, models ...llm.ModelInfo) *Provider {
	registry := llm.NewRegistry(append(llm.DefaultModels(), models...)...)
	return NewProvider(&http.Client{Transport: rt}, registry, staticKeys(testKey), Config{
		BaseURL: "https://openrouter.test/api/v1/",
		Referer: "http://localhost:8000",
		Title:   "Punchy Image",
		Policy:  llm.DefaultClientPolicy(time.Second),
		Sleep:   sleep,
	})
}

func imageDataURL(payload string) string {
	return imaging.EncodeDataURL([]byte(payload), "image/png")
}

func successBody(t *testing.T, content any, images ...string) string {
	t.Helper()
	parts := make([]map[string]any, 0, len(images))
	for _, url := range images {
		parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]string{"url": url}})
	}
	body, err := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content, "images": parts}}},
		"usage":   map[string]int{"prompt_tokens": 12, "completion_tokens": 1290},
	})
	require.NoError(t, err)
	return string(body)
}

func TestGenerate_Success(t *testing.T) {
	rt := &scripted{responses: []*http.Response{
		jsonResponse(200, successBody(t, "  Here is your castle.  ", imageDataURL("png-bytes")), nil),
	}}
	p := newTestProvider(rt, (&recordingSleep{}).Sleep)

	result, err := p.Generate(context.Background(), llm.GenerateRequest{
		Prompt:              "a castle",
		ModelID:             conversationalModel,
		ReferenceImageURL:   "data:image/jpeg;base64,AAAA",
		AdditionalImageURLs: []string{"data:image/jpeg;base64,BBBB"},
		AspectRatio:         "16:9",
		History: []domain.HistoryMessage{
			{Role: domain.RoleUser, Content: "draw a castle"},
			{Role: domain.RoleAssistant, Content: "Done"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), result.ImageData)
	assert.Equal(t, "Here is your castle.", result.TextResponse)
	assert.JSONEq(t, `{"prompt_tokens":12,"completion_tokens":1290}`, string(result.Usage))

	require.Equal(t, 1, rt.calls())
	req := rt.requests[0]
	assert.Equal(t, "https://openrouter.test/api/v1/chat/completions", req.URL.String())
	assert.Equal(t, "Bearer "+testKey, req.Header.Get("Authorization"))
	assert.Equal(t, "http://localhost:8000", req.Header.Get("HTTP-Referer"))
	assert.Equal(t, "Punchy Image", req.Header.Get("X-Title"))

	var sent struct {
		Model       string            `json:"model"`
		Modalities  []string          `json:"modalities"`
		Messages    []json.RawMessage `json:"messages"`
		ImageConfig map[string]string `json:"image_config"`
	}
	require.NoError(t, json.Unmarshal(rt.bodies[0], &sent))
	assert.Equal(t, conversationalModel, sent.Model)
	assert.Equal(t, []string{"image", "text"}, sent.Modalities)
	assert.Equal(t, map[string]string{"aspect_ratio": "16:9"}, sent.ImageConfig)
	require.Len(t, sent.Messages, 3)
	assert.JSONEq(t, `{"role":"user","content":[{"type":"text","text":"draw a castle"}]}`, string(sent.Messages[0]))
	assert.JSONEq(t, `{"role":"assistant","content":"Done"}`, string(sent.Messages[1]))
	assert.JSONEq(t, `{"role":"user","content":[
		{"type":"text","text":"a castle"},
		{"type":"image_url","image_url":{"url":"data:image/jpeg;base64,AAAA"}},
		{"type":"image_url","image_url":{"url":"data:image/jpeg;base64,BBBB"}}
	]}`, string(sent.Messages[2]))
}

func TestParseResponse(t *testing.T) {
	registry := llm.NewRegistry(llm.DefaultModels()...)
	conversational, _ := registry.Lookup(conversationalModel)
	imageOnly, _ := registry.Lookup(imageOnlyModel)

	t.Run("inline image and text parts", func(t *testing.T) {
		body := successBody(t, []map[string]any{
			{"type": "text", "text": "First"},
			{"type": "image_url", "image_url": map[string]string{"url": imageDataURL("inline")}},
			{"type": "text", "text": "second "},
		})
		result, err := parseResponse([]byte(body), conversational)
		require.NoError(t, err)
		assert.Equal(t, []byte("inline"), result.ImageData)
		assert.Equal(t, "First second", result.TextResponse)
	})

	t.Run("image only models drop text", func(t *testing.T) {
		result, err := parseResponse([]byte(successBody(t, "ignored", imageDataURL("x"))), imageOnly)
		require.NoError(t, err)
		assert.Empty(t, result.TextResponse)
	})

	t.Run("blank text is no text", func(t *testing.T) {
		result, err := parseResponse([]byte(successBody(t, "   ", imageDataURL("x"))), conversational)
		require.NoError(t, err)
		assert.Empty(t, result.TextResponse)
	})

	t.Run("no image", func(t *testing.T) {
		_, err := parseResponse([]byte(successBody(t, "sorry, I can't")), conversational)
		assert.Equal(t, domain.KindServer, domain.KindOf(err))
		assert.Equal(t, "No image returned by model", err.Error())
	})

	t.Run("no choices", func(t *testing.T) {
		_, err := parseResponse([]byte(`{"choices":[]}`), conversational)
		assert.Equal(t, domain.KindServer, domain.KindOf(err))
	})

	t.Run("remote url is rejected", func(t *testing.T) {
		_, err := parseResponse([]byte(successBody(t, nil, "https://cdn.example.com/a.png")), conversational)
		assert.Equal(t, domain.KindServer, domain.KindOf(err))
	})
}

func TestGenerate_Classification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind domain.ErrorKind
		wantMsg  string
	}{
		{"unauthorized", 401, `{"error":{"message":"bad key"}}`, domain.KindAuth, "Invalid API key. Update it in Settings."},
		{"credits", 402, `{}`, domain.KindCredits, ""},
		{"moderation", 400, `{"error":{"message":"Request was flagged by moderation"}}`, domain.KindContentPolicy, ""},
		{"content rules", 400, `{"error":{"message":"Prompt violates Content guidelines"}}`, domain.KindContentPolicy, ""},
		{"bad request", 400, `{"error":{"message":"bad size"}}`, domain.KindInvalidRequest, "Bad request: bad size"},
		{"too large", 413, `{}`, domain.KindPayloadTooLarge, ""},
		{"teapot", 418, `short and stout`, domain.KindServer, "Unexpected error (418): short and stout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := &scripted{responses: []*http.Response{jsonResponse(tt.status, tt.body, nil)}}
			sleep := &recordingSleep{}
			p := newTestProvider(rt, sleep.Sleep)

			_, err := p.Generate(context.Background(), llm.GenerateRequest{Prompt: "x", ModelID: conversationalModel})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, domain.KindOf(err))
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, err.Error())
			}
			assert.Equal(t, 1, rt.calls(), "non-transient failures are not retried")
			assert.Empty(t, sleep.waits)
		})
	}
}

func TestGenerate_RetriesServerErrors(t *testing.T) {
	rt := &scripted{responses: []*http.Response{
		jsonResponse(503, `{}`, nil),
		jsonResponse(503, `{}`, nil),
		jsonResponse(503, `{}`, nil),
	}}
	sleep := &recordingSleep{}
	p := newTestProvider(rt, sleep.Sleep)

	_, err := p.Generate(context.Background(), llm.GenerateRequest{Prompt: "x", ModelID: conversationalModel})

	require.Error(t, err)
	assert.Equal(t, domain.KindServer, domain.KindOf(err))
	assert.Contains(t, err.Error(), "Server error (503)")
	assert.Equal(t, 3, rt.calls())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleep.waits)
}

func TestGenerate_RateLimitThenSuccess(t *testing.T) {
	rt := &scripted{responses: []*http.Response{
		jsonResponse(429, `{}`, http.Header{"Retry-After": []string{"7"}}),
		jsonResponse(200, successBody(t, nil, imageDataURL("ok")), nil),
	}}
	sleep := &recordingSleep{}
	p := newTestProvider(rt, sleep.Sleep)

	result, err := p.Generate(context.Background(), llm.GenerateRequest{Prompt: "x", ModelID: conversationalModel})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), result.ImageData)
	assert.Equal(t, []time.Duration{2 * time.Second}, sleep.waits)
}

func TestClassifyStatus_RetryAfter(t *testing.T) {
	p := newTestProvider(nil, nil)

	err := p.classifyStatus(429, http.Header{"Retry-After": []string{"7"}}, nil, 0)
	assert.Equal(t, 7*time.Second, domain.RetryAfterOf(err))

	err = p.classifyStatus(429, http.Header{}, nil, 1)
	assert.Equal(t, 4*time.Second, domain.RetryAfterOf(err), "falls back to the backoff schedule")
}

func TestGenerate_CancelDuringBackoff(t *testing.T) {
	token := llm.NewCancelToken()
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		time.AfterFunc(20*time.Millisecond, token.Cancel)
		return jsonResponse(503, `{}`, nil), nil
	})
	registry := llm.NewRegistry(llm.DefaultModels()...)
	p := NewProvider(&http.Client{Transport: rt}, registry, staticKeys(testKey), Config{
		Policy: llm.DefaultClientPolicy(time.Hour),
	})

	start := time.Now()
	_, err := p.Generate(context.Background(), llm.GenerateRequest{Prompt: "x", ModelID: conversationalModel, Cancel: token})

	assert.True(t, domain.IsCancelled(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGenerate_CancelledBeforeFirstAttempt(t *testing.T) {
	rt := &scripted{}
	p := newTestProvider(rt, (&recordingSleep{}).Sleep)
	token := llm.NewCancelToken()
	token.Cancel()

	_, err := p.Generate(context.Background(), llm.GenerateRequest{Prompt: "x", ModelID: conversationalModel, Cancel: token})
	assert.True(t, domain.IsCancelled(err))
	assert.Zero(t, rt.calls())
}

func TestGenerate_Preconditions(t *testing.T) {
	rt := &scripted{}

	t.Run("unknown model", func(t *testing.T) {
		_, err := newTestProvider(rt, nil).Generate(context.Background(), llm.GenerateRequest{Prompt: "x", ModelID: "nope/model"})
		assert.True(t, domain.IsInvalidArgument(err))
	})

	t.Run("no key", func(t *testing.T) {
		p := NewProvider(&http.Client{Transport: rt}, llm.NewRegistry(llm.DefaultModels()...), staticKeys(""), Config{})
		_, err := p.Generate(context.Background(), llm.GenerateRequest{Prompt: "x", ModelID: conversationalModel})
		assert.Equal(t, domain.KindAuth, domain.KindOf(err))
	})

	assert.Zero(t, rt.calls())
}

func TestGenerate_TransportErrors(t *testing.T) {
	t.Run("network", func(t *testing.T) {
		rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		})
		_, err := newTestProvider(rt, (&recordingSleep{}).Sleep).
			Generate(context.Background(), llm.GenerateRequest{Prompt: "x", ModelID: conversationalModel})
		assert.Equal(t, domain.KindNetwork, domain.KindOf(err))
	})

	t.Run("timeout", func(t *testing.T) {
		rt := roundTripFunc(func(*http.Request) (*http.Response, error) {
			return nil, context.DeadlineExceeded
		})
		_, err := newTestProvider(rt, (&recordingSleep{}).Sleep).
			Generate(context.Background(), llm.GenerateRequest{Prompt: "x", ModelID: conversationalModel})
		assert.Equal(t, domain.KindTimeout, domain.KindOf(err))
	})
}

func noisyPNG(t *testing.T, size int) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func limitedModel(maxBytes int) llm.ModelInfo {
	return llm.ModelInfo{
		ID:              "test/limited",
		Name:            "Limited",
		Type:            llm.ModelConversational,
		Modalities:      []string{"image", "text"},
		MaxRequestBytes: maxBytes,
	}
}

func TestGenerate_CompressesOversizedPayload(t *testing.T) {
	const limit = 200_000
	ref := noisyPNG(t, 300)
	require.Greater(t, len(ref), limit)

	rt := &scripted{responses: []*http.Response{jsonResponse(200, successBody(t, nil, imageDataURL("ok")), nil)}}
	p := newTestProvider(rt, (&recordingSleep{}).Sleep, limitedModel(limit))

	_, err := p.Generate(context.Background(), llm.GenerateRequest{
		Prompt:            "x",
		ModelID:           "test/limited",
		ReferenceImageURL: imaging.EncodeDataURL(ref, "image/png"),
	})
	require.NoError(t, err)

	require.Equal(t, 1, rt.calls())
	assert.LessOrEqual(t, len(rt.bodies[0]), limit)
	assert.Contains(t, string(rt.bodies[0]), "data:image/jpeg;base64,")
}

func TestGenerate_PayloadTooLargeFailsBeforeSending(t *testing.T) {
	const limit = 1000
	rt := &scripted{}
	p := newTestProvider(rt, (&recordingSleep{}).Sleep, limitedModel(limit))

	_, err := p.Generate(context.Background(), llm.GenerateRequest{
		Prompt:            "x",
		ModelID:           "test/limited",
		ReferenceImageURL: imaging.EncodeDataURL(noisyPNG(t, 300), "image/png"),
	})

	assert.Equal(t, domain.KindPayloadTooLarge, domain.KindOf(err))
	assert.Contains(t, err.Error(), fmt.Sprintf("(%d bytes)", limit))
	assert.Zero(t, rt.calls())
}

func TestTestConnection(t *testing.T) {
	tests := []struct {
		status  int
		ok      bool
		message string
	}{
		{200, true, "Connection successful"},
		{401, false, "Invalid API key"},
		{402, false, "Insufficient credits on your OpenRouter account"},
		{500, false, "Unexpected response: 500"},
	}
	for _, tt := range tests {
		rt := &scripted{responses: []*http.Response{jsonResponse(tt.status, `{}`, nil)}}
		ok, message := newTestProvider(rt, nil).TestConnection(context.Background())
		assert.Equal(t, tt.ok, ok)
		assert.Equal(t, tt.message, message)
		assert.Equal(t, http.MethodGet, rt.requests[0].Method)
		assert.True(t, strings.HasSuffix(rt.requests[0].URL.Path, "/models"))
	}
}
