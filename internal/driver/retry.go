package driver

import (
	"context"
	"time"

	"github.com/gestock/dbgate/internal/logging"
)

// retryBackoff is the pause before the single retry of a failed
// connection-level call.
var retryBackoff = 500 * time.Millisecond

// WithRetry runs op, retrying exactly once after a backoff when the
// failure is connection-level. Engine-rejected statements are not retried;
// the caller may be inside a user-facing request and the statement will
// not get better on its own.
func WithRetry(ctx context.Context, what string, op func() error) error {
	err := op()
	if err == nil || !IsUnavailable(err) {
		return err
	}
	logging.Warn("%s failed (%v), retrying once after %s", what, err, retryBackoff)
	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return Unavailable(ctx.Err())
	}
	return op()
}
