package stream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want RetryClass
	}{
		{"nil", nil, RetryClassNonRetryable},
		{"aborted", ErrAborted, RetryClassNonRetryable},
		{"canceled", context.Canceled, RetryClassNonRetryable},
		{"plain error", errors.New("x"), RetryClassNonRetryable},
		{"500", statusError(http.StatusInternalServerError), RetryClassRetryable},
		{"503 wrapped", fmt.Errorf("open: %w", statusError(http.StatusServiceUnavailable)), RetryClassRetryable},
		{"429", statusError(http.StatusTooManyRequests), RetryClassRetryable},
		{"408", statusError(http.StatusRequestTimeout), RetryClassMaybe},
		{"400", statusError(http.StatusBadRequest), RetryClassNonRetryable},
		{"401", statusError(http.StatusUnauthorized), RetryClassNonRetryable},
		{"refused", transportError(syscall.ECONNREFUSED, "connect"), RetryClassRetryable},
		{"timeout", transportError(context.DeadlineExceeded, "connect"), RetryClassMaybe},
		{"decode", decodeError("empty_body"), RetryClassNonRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestErrorReason(t *testing.T) {
	assert.Equal(t, "status 502", statusError(http.StatusBadGateway).Reason())
	assert.Equal(t, "connection_refused", transportError(syscall.ECONNREFUSED, "connect").Reason())
	assert.Equal(t, "connection_reset", transportError(fmt.Errorf("read: %w", syscall.ECONNRESET), "stream_reset").Reason())
	assert.Equal(t, "stream_reset", transportError(errors.New("unexpected EOF"), "stream_reset").Reason())
}

func TestError_Unwrap(t *testing.T) {
	err := transportError(syscall.ECONNREFUSED, "connect")
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
	assert.Contains(t, err.Error(), "transport failure")
}

func TestCalculateDelay(t *testing.T) {
	policy := RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	assert.Equal(t, 100*time.Millisecond, calculateDelay(policy, 0))
	assert.Equal(t, 400*time.Millisecond, calculateDelay(policy, 2))
	assert.Equal(t, time.Second, calculateDelay(policy, 10), "capped at MaxDelay")

	policy.Jitter = true
	d := calculateDelay(policy, 0)
	assert.GreaterOrEqual(t, d, 100*time.Millisecond)
	assert.LessOrEqual(t, d, 120*time.Millisecond)
}

func TestRetryWithPolicy_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := retryWithPolicy(context.Background(), RetryPolicy{MaxRetries: 5, InitialDelay: time.Millisecond},
		func(context.Context) (int, error) {
			calls++
			return 0, statusError(http.StatusBadRequest)
		}, nil)

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithPolicy_ReturnsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := retryWithPolicy(ctx, RetryPolicy{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour},
		func(context.Context) (int, error) {
			calls++
			return 0, statusError(http.StatusServiceUnavailable)
		},
		func(int, time.Duration, error) { cancel() })

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
