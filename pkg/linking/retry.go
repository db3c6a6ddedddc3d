package linking

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/metrics"
)

// RetryPolicy bounds retries of store calls. Delays follow the Fibonacci sequence scaled by
// BaseDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy makes up to four attempts, waiting 50ms, 50ms and 100ms between them.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 4, BaseDelay: 50 * time.Millisecond}

// Retry calls fn until it succeeds, returns a permanent error, or the attempts run out.
func Retry[T any](ctx context.Context, logger ectologger.Logger, policy RetryPolicy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := max(policy.MaxAttempts, 1)

	var (
		result T
		err    error
	)
	a, b := 1, 1
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = fn(ctx)
		if err == nil || !Retryable(err) || attempt == attempts {
			return result, err
		}

		wait := time.Duration(a) * policy.BaseDelay
		logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"operation": operation,
			"attempt":   attempt,
			"wait_ms":   wait.Milliseconds(),
		}).Warn("Store operation failed, retrying")
		metrics.RecordStoreRetry(operation)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(wait):
		}
		a, b = b, a+b
	}
	return result, err
}

// Retryable reports whether err is transient. Client errors, comparator type errors, rule set
// errors and context cancellation are permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if matching.IsTypeError(err) || matching.IsConfigError(err) {
		return false
	}
	if httperror.IsHTTPError(err) {
		return httperror.GetStatusCode(err) >= http.StatusInternalServerError
	}
	return true
}

// IsNotFound reports whether err is a 404 httperror.
func IsNotFound(err error) bool {
	return err != nil && httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}
