package linking

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/pkg/matching"
)

var fastRetry = RetryPolicy{MaxAttempts: 4, BaseDelay: time.Millisecond}

func quietLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), quietLogger(), fastRetry, "test", func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, httperror.NewHTTPError(http.StatusServiceUnavailable, "unavailable")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), quietLogger(), fastRetry, "test", func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("connection reset")
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetryDoesNotRetryPermanentErrors(t *testing.T) {
	for name, perm := range map[string]error{
		"not found":    httperror.NewHTTPError(http.StatusNotFound, "missing"),
		"conflict":     httperror.NewHTTPError(http.StatusConflict, "conflict"),
		"type error":   &matching.TypeError{Field: "dob", Kind: "date", Value: 1, Reason: "expected a date string"},
		"config error": &matching.ConfigError{Reason: "bad"},
		"canceled":     context.Canceled,
	} {
		t.Run(name, func(t *testing.T) {
			calls := 0
			_, err := Retry(context.Background(), quietLogger(), fastRetry, "test", func(context.Context) (int, error) {
				calls++
				return 0, perm
			})
			assert.Equal(t, perm, err)
			assert.Equal(t, 1, calls)
		})
	}
}

func TestRetryStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, quietLogger(), RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}, "test", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(httperror.NewHTTPError(http.StatusNotFound, "missing")))
	assert.False(t, IsNotFound(httperror.NewHTTPError(http.StatusInternalServerError, "boom")))
	assert.False(t, IsNotFound(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}
