package llm

import (
	"slices"
	"time"

	"github.com/Rrens/imagegen-studio/internal/domain"
)

// RetryPolicy decides whether a failed attempt is tried again and how long
// to wait first. It is shared by the provider client and the batch runner.
type RetryPolicy struct {
	MaxAttempts int
	RetryOn     []domain.ErrorKind
	// TransientOnly restricts retries to errors flagged Transient.
	TransientOnly bool
	Backoff       func(attempt int, err error) time.Duration
}

// Retryable reports whether err belongs to the retryable set.
func (p RetryPolicy) Retryable(err error) bool {
	e, ok := domain.AsError(err)
	if !ok {
		return false
	}
	if p.TransientOnly && !e.Transient {
		return false
	}
	return slices.Contains(p.RetryOn, e.Kind)
}

// ShouldRetry reports whether another attempt follows the zero-based
// attempt that just failed with err.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	return attempt+1 < p.MaxAttempts && p.Retryable(err)
}

// Wait returns the pause before the attempt after attempt.
func (p RetryPolicy) Wait(attempt int, err error) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	return p.Backoff(attempt, err)
}

// ExponentialBackoff waits unit * 2^(attempt+1).
func ExponentialBackoff(unit time.Duration) func(int, error) time.Duration {
	return func(attempt int, _ error) time.Duration {
		return unit * time.Duration(1<<(attempt+1))
	}
}

// DefaultClientPolicy retries transient rate limits and server errors up to
// three attempts with 2s, 4s backoff.
func DefaultClientPolicy(unit time.Duration) RetryPolicy {
	if unit <= 0 {
		unit = time.Second
	}
	return RetryPolicy{
		MaxAttempts:   3,
		RetryOn:       []domain.ErrorKind{domain.KindRateLimit, domain.KindServer},
		TransientOnly: true,
		Backoff:       ExponentialBackoff(unit),
	}
}
