package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rrens/imagegen-studio/internal/domain"
	"github.com/Rrens/imagegen-studio/internal/llm"
)

const (
	DefaultStaggerDelay         = 5 * time.Second
	DefaultMaxVariationAttempts = 2
)

// VariationFunc runs one complete variation (generate and persist) for the
// given zero-based index and model.
type VariationFunc func(ctx context.Context, index int, modelID string) (*domain.GenerateResponse, error)

// BatchResult is the outcome of a batch with at least one completion
type BatchResult struct {
	Completed    []domain.GenerateResponse
	Errors       []string
	Requested    int
	FinalStagger time.Duration
}

// BatchOrchestrator dispatches variations one after another with a stagger
// delay between dispatches and a small per-variation retry budget.
type BatchOrchestrator struct {
	registry     *llm.Registry
	staggerDelay time.Duration
	maxAttempts  int
	sleep        llm.SleepFunc
}

// NewBatchOrchestrator creates a new batch orchestrator. Zero values pick
// the defaults.
func NewBatchOrchestrator(registry *llm.Registry, staggerDelay time.Duration, maxAttempts int, sleep llm.SleepFunc) *BatchOrchestrator {
	if staggerDelay <= 0 {
		staggerDelay = DefaultStaggerDelay
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxVariationAttempts
	}
	if sleep == nil {
		sleep = llm.Sleep
	}
	return &BatchOrchestrator{
		registry:     registry,
		staggerDelay: staggerDelay,
		maxAttempts:  maxAttempts,
		sleep:        sleep,
	}
}

// ClampVariations limits a requested variation count to 1..MaxVariations
func ClampVariations(n int) int {
	return max(1, min(domain.MaxVariations, n))
}

func (b *BatchOrchestrator) variationModels(count int, modelID string, modelIDs []string) ([]string, error) {
	if len(modelIDs) == 0 {
		if _, err := b.registry.MustKnow(modelID); err != nil {
			return nil, err
		}
		ids := make([]string, count)
		for i := range ids {
			ids[i] = modelID
		}
		return ids, nil
	}
	if len(modelIDs) != count {
		return nil, domain.Errorf(domain.KindInvalidArgument,
			"model_ids has %d entries but %d variations were requested", len(modelIDs), count)
	}
	for _, id := range modelIDs {
		if _, ok := b.registry.Lookup(id); !ok {
			return nil, domain.Errorf(domain.KindInvalidArgument, "Unknown model in model_ids: %s", id)
		}
	}
	return modelIDs, nil
}

// Run executes count variations through fn. It fails only when no variation
// completes: with a cancelled error if the batch was cancelled, otherwise
// with a server error listing every variation failure.
func (b *BatchOrchestrator) Run(ctx context.Context, token *llm.CancelToken, count int, modelID string, modelIDs []string, fn VariationFunc) (*BatchResult, error) {
	count = ClampVariations(count)
	models, err := b.variationModels(count, modelID, modelIDs)
	if err != nil {
		return nil, err
	}

	stagger := b.staggerDelay
	policy := llm.RetryPolicy{
		MaxAttempts: b.maxAttempts,
		RetryOn:     []domain.ErrorKind{domain.KindRateLimit, domain.KindServer},
		Backoff: func(_ int, err error) time.Duration {
			if ra := domain.RetryAfterOf(err); ra > 0 {
				return ra
			}
			return 2 * stagger
		},
	}

	result := &BatchResult{Requested: count}
	cancelled := false

dispatch:
	for i := 0; i < count; i++ {
		if i > 0 {
			if err := b.sleep(ctx, token, stagger); err != nil {
				cancelled = true
				break
			}
		}
		if token.Cancelled() || ctx.Err() != nil {
			cancelled = true
			break
		}

		for attempt := 0; ; attempt++ {
			resp, err := fn(ctx, i, models[i])
			if err == nil {
				result.Completed = append(result.Completed, *resp)
				break
			}

			e, ok := domain.AsError(err)
			if !ok {
				log.Error().Err(err).Int("variation", i+1).Int("total", count).Msg("Batch variation unexpected error")
				result.Errors = append(result.Errors, fmt.Sprintf("Variation %d: unexpected error", i+1))
				break
			}

			log.Warn().
				Int("variation", i+1).
				Int("total", count).
				Int("attempt", attempt+1).
				Str("model", models[i]).
				Str("error_type", string(e.Kind)).
				Msg("Batch variation failed")

			if e.Kind == domain.KindRateLimit && e.RetryAfter > stagger {
				stagger = e.RetryAfter
			}
			if !policy.ShouldRetry(attempt, err) {
				result.Errors = append(result.Errors, fmt.Sprintf("Variation %d: %s", i+1, e.Message))
				break
			}
			if err := b.sleep(ctx, token, policy.Wait(attempt, err)); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("Variation %d: %s", i+1, e.Message))
				cancelled = true
				break dispatch
			}
		}
	}

	result.FinalStagger = stagger
	if len(result.Completed) > 0 {
		return result, nil
	}
	if cancelled {
		return nil, llm.ErrCancelled()
	}
	return nil, domain.NewError(domain.KindServer, "All variations failed. "+strings.Join(result.Errors, "; "))
}
