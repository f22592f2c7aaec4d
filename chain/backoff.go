package chain

import (
	"context"
	"errors"
	"time"
)

// retryPolicy bounds the exponential backoff applied to transient
// failures. Protocol-level rejections are never retried.
type retryPolicy struct {
	attempts int
	base     time.Duration
	max      time.Duration
}

var defaultRetry = retryPolicy{attempts: 3, base: 250 * time.Millisecond, max: 5 * time.Second}

// do runs fn, retrying with exponential backoff while the error is
// ErrUnreachable and the context remains live.
func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	delay := p.base
	var err error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, ErrUnreachable) {
			return err
		}
		if attempt == p.attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > p.max {
			delay = p.max
		}
	}
	return err
}
