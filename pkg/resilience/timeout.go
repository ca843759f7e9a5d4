package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/docsink/docsink/pkg/errors"
)

// WithTimeout runs fn under a deadline. On expiry the caller gets ErrTimeout
// while fn keeps running in the background until it notices its cancelled
// context, so fn must tolerate being abandoned.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(timeoutCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-timeoutCtx.Done():
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return fmt.Errorf("%s: %w after %v", name, apperrors.ErrTimeout, timeout)
	}
}
