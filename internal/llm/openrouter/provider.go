// Package openrouter implements llm.Generator against the OpenRouter
// chat-completions API.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/imagegen-studio/internal/domain"
	"github.com/Rrens/imagegen-studio/internal/imaging"
	"github.com/Rrens/imagegen-studio/internal/llm"
	"github.com/Rrens/imagegen-studio/internal/logging"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	maxResponseBytes = 128 * 1024 * 1024
	errorSnippetLen  = 200
)

// KeySource supplies the provider API key. An empty key means none is
// configured.
type KeySource interface {
	APIKey() (string, error)
}

// Config contains provider settings
type Config struct {
	BaseURL string
	Referer string
	Title   string
	Policy  llm.RetryPolicy
	// Sleep waits between attempts. Defaults to llm.Sleep.
	Sleep llm.SleepFunc
}

// Provider implements llm.Generator for OpenRouter
type Provider struct {
	client   *http.Client
	registry *llm.Registry
	keys     KeySource
	baseURL  string
	referer  string
	title    string
	policy   llm.RetryPolicy
	sleep    llm.SleepFunc
}

// NewProvider creates a new OpenRouter provider. client is shared and never
// mutated.
func NewProvider(client *http.Client, registry *llm.Registry, keys KeySource, cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = llm.DefaultClientPolicy(time.Second)
	}
	if cfg.Sleep == nil {
		cfg.Sleep = llm.Sleep
	}
	return &Provider{
		client:   client,
		registry: registry,
		keys:     keys,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		referer:  cfg.Referer,
		title:    cfg.Title,
		policy:   cfg.Policy,
		sleep:    cfg.Sleep,
	}
}

// Generate sends one generation request, retrying transient failures.
func (p *Provider) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResult, error) {
	model, err := p.registry.MustKnow(req.ModelID)
	if err != nil {
		return nil, err
	}

	apiKey, err := p.apiKey()
	if err != nil {
		return nil, err
	}

	payload := buildPayload(model, req)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if model.MaxRequestBytes > 0 && len(body) > model.MaxRequestBytes {
		log.Info().
			Str("model", model.ID).
			Int("payload_bytes", len(body)).
			Int("limit", model.MaxRequestBytes).
			Msg("Compressing reference images to fit request limit")
		body, err = compressPayload(&payload, model.MaxRequestBytes)
		if err != nil {
			return nil, err
		}
	}

	for attempt := 0; attempt < p.policy.MaxAttempts; attempt++ {
		if req.Cancel.Cancelled() {
			return nil, llm.ErrCancelled()
		}

		result, err := p.send(ctx, apiKey, model, body, attempt)
		if err == nil {
			return result, nil
		}
		if !p.policy.ShouldRetry(attempt, err) {
			return nil, err
		}

		wait := p.policy.Wait(attempt, err)
		log.Warn().
			Str("model", model.ID).
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Str("error", logging.Redact(err.Error(), apiKey)).
			Msg("Generation attempt failed, retrying")

		if err := p.sleep(ctx, req.Cancel, wait); err != nil {
			return nil, err
		}
	}

	return nil, domain.NewError(domain.KindServer, "Max retries exceeded")
}

func (p *Provider) apiKey() (string, error) {
	if p.keys == nil {
		return "", domain.NewError(domain.KindAuth, "No API key configured")
	}
	key, err := p.keys.APIKey()
	if err != nil {
		return "", domain.NewError(domain.KindServer, "Failed to read API key", domain.WithWrapped(err))
	}
	if key == "" {
		return "", domain.NewError(domain.KindAuth, "No API key configured")
	}
	return key, nil
}

func buildPayload(model llm.ModelInfo, req llm.GenerateRequest) chatRequest {
	messages := make([]chatMessage, 0, len(req.History)+1)
	for _, h := range req.History {
		if h.Role == domain.RoleUser {
			messages = append(messages, chatMessage{Role: string(h.Role), Parts: []contentPart{textPart(h.Content)}})
		} else {
			messages = append(messages, chatMessage{Role: string(h.Role), Text: h.Content})
		}
	}

	parts := []contentPart{textPart(req.Prompt)}
	if req.ReferenceImageURL != "" {
		parts = append(parts, imagePart(req.ReferenceImageURL))
	}
	for _, url := range req.AdditionalImageURLs {
		parts = append(parts, imagePart(url))
	}
	messages = append(messages, chatMessage{Role: string(domain.RoleUser), Parts: parts})

	payload := chatRequest{
		Model:      model.ID,
		Modalities: append([]string(nil), model.Modalities...),
		Messages:   messages,
	}
	if req.AspectRatio != "" || req.Resolution != "" {
		payload.ImageConfig = &imageConfig{AspectRatio: req.AspectRatio, ImageSize: req.Resolution}
	}
	return payload
}

func (p *Provider) newRequest(ctx context.Context, method, path, apiKey string, body io.Reader) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	// OpenRouter attribution headers
	if p.referer != "" {
		httpReq.Header.Set("HTTP-Referer", p.referer)
	}
	if p.title != "" {
		httpReq.Header.Set("X-Title", p.title)
	}
	return httpReq, nil
}

// send performs one HTTP round trip. The request context, not the cancel
// token, governs the in-flight call.
func (p *Provider) send(ctx context.Context, apiKey string, model llm.ModelInfo, body []byte, attempt int) (*llm.GenerateResult, error) {
	httpReq, err := p.newRequest(ctx, http.MethodPost, "/chat/completions", apiKey, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	log.Debug().
		Str("model", model.ID).
		Int("status", resp.StatusCode).
		Int64("latency_ms", time.Since(start).Milliseconds()).
		Msg("OpenRouter response")

	if resp.StatusCode != http.StatusOK {
		return nil, p.classifyStatus(resp.StatusCode, resp.Header, respBody, attempt)
	}
	return parseResponse(respBody, model)
}

func classifyTransportError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return domain.NewError(domain.KindCancelled, "Generation cancelled", domain.WithWrapped(err))
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return domain.NewError(domain.KindTimeout, "Request timed out", domain.WithWrapped(err))
	default:
		return domain.NewError(domain.KindNetwork,
			"Unable to connect to OpenRouter. Check your internet connection.", domain.WithWrapped(err))
	}
}

var policyWords = []string{"safety", "content", "policy", "moderation", "flagged"}

func errorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	s := string(body)
	if len(s) > errorSnippetLen {
		s = s[:errorSnippetLen]
	}
	return s
}

func (p *Provider) classifyStatus(status int, header http.Header, body []byte, attempt int) error {
	msg := errorMessage(body)
	withStatus := domain.WithStatus(status)

	switch {
	case status == http.StatusUnauthorized:
		return domain.NewError(domain.KindAuth, "Invalid API key. Update it in Settings.", withStatus)
	case status == http.StatusPaymentRequired:
		return domain.NewError(domain.KindCredits, "Insufficient credits. Add credits at openrouter.ai.", withStatus)
	case status == http.StatusTooManyRequests:
		retryAfter := p.policy.Wait(attempt, nil)
		if secs, err := strconv.Atoi(strings.TrimSpace(header.Get("Retry-After"))); err == nil && secs >= 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
		return domain.NewError(domain.KindRateLimit, "Rate limited. Please wait and try again.",
			withStatus, domain.WithTransient(true), domain.WithRetryAfter(retryAfter))
	case status == http.StatusBadRequest:
		lower := strings.ToLower(msg)
		for _, w := range policyWords {
			if strings.Contains(lower, w) {
				return domain.NewError(domain.KindContentPolicy,
					"Your prompt was flagged by the model's content policy. Try adjusting your prompt.", withStatus)
			}
		}
		return domain.NewError(domain.KindInvalidRequest, "Bad request: "+msg, withStatus)
	case status == http.StatusRequestEntityTooLarge:
		return domain.NewError(domain.KindPayloadTooLarge,
			"Request too large. Try a shorter prompt or smaller image.", withStatus)
	case status == http.StatusInternalServerError, status == http.StatusBadGateway, status == http.StatusServiceUnavailable:
		return domain.NewError(domain.KindServer,
			fmt.Sprintf("Server error (%d). The model may be temporarily unavailable.", status),
			withStatus, domain.WithTransient(true))
	default:
		return domain.NewError(domain.KindServer, fmt.Sprintf("Unexpected error (%d): %s", status, msg), withStatus)
	}
}

func parseResponse(body []byte, model llm.ModelInfo) (*llm.GenerateResult, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewError(domain.KindServer, "Malformed response from provider", domain.WithWrapped(err))
	}
	if len(resp.Choices) == 0 {
		return nil, domain.NewError(domain.KindServer, "No choices in response")
	}
	msg := resp.Choices[0].Message

	var contentText string
	var contentParts []contentPart
	if len(msg.Content) > 0 {
		// content is either a string, a list of parts or null
		if err := json.Unmarshal(msg.Content, &contentText); err != nil {
			_ = json.Unmarshal(msg.Content, &contentParts)
		}
	}

	url := ""
	if len(msg.Images) > 0 && msg.Images[0].ImageURL != nil {
		url = msg.Images[0].ImageURL.URL
	} else if len(msg.Images) == 0 {
		for _, part := range contentParts {
			if part.Type == "image_url" && part.ImageURL != nil && imaging.IsImageDataURL(part.ImageURL.URL) {
				url = part.ImageURL.URL
				break
			}
		}
		if url == "" {
			return nil, domain.NewError(domain.KindServer, "No image returned by model")
		}
	}

	if !imaging.IsImageDataURL(url) {
		return nil, domain.NewError(domain.KindServer, "Invalid image data in response")
	}
	data, _, err := imaging.DecodeDataURL(url)
	if err != nil {
		return nil, domain.NewError(domain.KindServer, "Invalid image data in response", domain.WithWrapped(err))
	}

	result := &llm.GenerateResult{ImageData: data}
	if len(resp.Usage) > 0 && string(resp.Usage) != "null" {
		result.Usage = resp.Usage
	}

	if model.Type == llm.ModelConversational {
		if text := strings.TrimSpace(contentText); text != "" {
			result.TextResponse = text
		} else if len(contentParts) > 0 {
			var texts []string
			for _, part := range contentParts {
				if part.Type == "text" && part.Text != "" {
					texts = append(texts, part.Text)
				}
			}
			result.TextResponse = strings.TrimSpace(strings.Join(texts, " "))
		}
	}
	return result, nil
}

// TestConnection checks the configured key against the models endpoint.
func (p *Provider) TestConnection(ctx context.Context) (bool, string) {
	apiKey, err := p.apiKey()
	if err != nil {
		return false, "No API key configured"
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	httpReq, err := p.newRequest(ctx, http.MethodGet, "/models", apiKey, nil)
	if err != nil {
		return false, err.Error()
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if domain.IsKind(classifyTransportError(err), domain.KindTimeout) {
			return false, "Connection timed out"
		}
		return false, "Unable to connect to OpenRouter. Check your internet connection."
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	switch resp.StatusCode {
	case http.StatusOK:
		return true, "Connection successful"
	case http.StatusUnauthorized:
		return false, "Invalid API key"
	case http.StatusPaymentRequired:
		return false, "Insufficient credits on your OpenRouter account"
	default:
		return false, fmt.Sprintf("Unexpected response: %d", resp.StatusCode)
	}
}
