package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/user/ticketdigest/internal/retry"
	"github.com/user/ticketdigest/internal/types"
)

var (
	errRewind    = errors.New("rewind body")
	errPermanent = errors.New("rejected by backend")
)

// Retrying retries failed uploads with backoff, rewinding the body before
// every attempt. Exhausted or permanent failures surface as
// types.ErrStorage.
type Retrying struct {
	next    ObjectStore
	policy  *retry.Policy
	onRetry func(key string, attempt int, err error)
}

// WithRetry wraps next. A nil policy uses retry.DefaultPolicy.
func WithRetry(next ObjectStore, policy *retry.Policy) *Retrying {
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	p := *policy
	p.Retryable = func(err error) bool {
		return !errors.Is(err, errRewind) && !errors.Is(err, errPermanent) && retry.IsRetryable(err)
	}
	return &Retrying{next: next, policy: &p}
}

// OnRetry registers a hook called after each failed attempt.
func (r *Retrying) OnRetry(fn func(key string, attempt int, err error)) {
	r.onRetry = fn
}

func (r *Retrying) Put(ctx context.Context, key string, body io.ReadSeeker, contentType string) error {
	err := r.policy.Do(ctx, func(attempt int) error {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("%w: %v", errRewind, err)
		}
		err := r.next.Put(ctx, key, body, contentType)
		if err != nil {
			slog.Warn("object upload failed", "key", key, "attempt", attempt, "error", err)
			if r.onRetry != nil {
				r.onRetry(key, attempt, err)
			}
		}
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, types.ErrStorage) {
		return err
	}
	return types.Wrap(types.ErrStorage, "put "+key, err)
}
