package llm

import (
	"context"
	"sync"
	"time"

	"github.com/Rrens/imagegen-studio/internal/domain"
)

// CancelToken is a one-shot cancellation flag shared by everything working
// on one top-level generation. The zero value is not usable; a nil token is
// valid and never fires.
type CancelToken struct {
	once sync.Once
	done chan struct{}
}

func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

// Cancel signals the token. Safe to call more than once.
func (t *CancelToken) Cancel() {
	if t == nil {
		return
	}
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed on cancellation. A nil token returns a nil
// channel, which blocks forever in a select.
func (t *CancelToken) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}

// ErrCancelled builds the error returned when a generation is cancelled.
func ErrCancelled() *domain.Error {
	return domain.NewError(domain.KindCancelled, "Generation cancelled by user")
}

// SleepFunc waits for d unless cancellation comes first.
type SleepFunc func(ctx context.Context, token *CancelToken, d time.Duration) error

// Sleep races a timer against the token and ctx. Whichever happens first
// decides the outcome; cancellation yields a cancelled error.
func Sleep(ctx context.Context, token *CancelToken, d time.Duration) error {
	if token.Cancelled() {
		return ErrCancelled()
	}
	if err := ctx.Err(); err != nil {
		return domain.NewError(domain.KindCancelled, "Generation cancelled", domain.WithWrapped(err))
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-token.Done():
		return ErrCancelled()
	case <-ctx.Done():
		return domain.NewError(domain.KindCancelled, "Generation cancelled", domain.WithWrapped(ctx.Err()))
	}
}
