package retry

import (
	"context"
	"testing"
	"time"

	"github.com/corelink-ai/provider-gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffFormula(t *testing.T) {
	exec := NewExecutor(models.RetryConfig{})
	expected := []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
		8000 * time.Millisecond,
		10000 * time.Millisecond,
	}
	for attempt, want := range expected {
		assert.Equal(t, want, exec.backoff(attempt), "attempt %d", attempt)
	}
	// Stays capped well past the window that matters.
	assert.Equal(t, 10000*time.Millisecond, exec.backoff(10))
}

func TestExecutorHonorsConfiguredDelays(t *testing.T) {
	exec := NewExecutor(models.RetryConfig{MaxRetries: 2, BaseDelayMs: 5, MaxDelayMs: 20})
	assert.Equal(t, 5*time.Millisecond, exec.backoff(0))
	assert.Equal(t, 10*time.Millisecond, exec.backoff(1))
	assert.Equal(t, 20*time.Millisecond, exec.backoff(2))
	assert.Equal(t, 20*time.Millisecond, exec.backoff(3), "configured ceiling holds")
}

func TestShouldRetryClassification(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		retry bool
	}{
		{"rate limited", models.NewRateLimitedError("openai", nil), true},
		{"transient 503", models.NewTransientError("openai", nil), true},
		{"authentication", models.NewAuthenticationError("openai", nil), false},
		{"quota exhausted", models.NewQuotaExhaustedError("openai", nil), false},
		{"content rejection", models.NewRejectedError("openai", "safety filter"), false},
		{"validation", models.NewValidationError("bad request", nil), false},
		{"deadline", context.DeadlineExceeded, true},
		{"unclassified error", assert.AnError, false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retry, ShouldRetry(tc.err))
		})
	}
}

func TestShouldRetryStatusMessages(t *testing.T) {
	assert.True(t, retryableStatus("request failed with status code 429"))
	assert.True(t, retryableStatus("request failed with status code 503"))
	assert.True(t, retryableStatus("dial tcp: connection refused"))
	assert.False(t, retryableStatus("request failed with status code 401"))
	assert.False(t, retryableStatus("request failed with status code 400"))
}

func TestRunStopsOnTerminalError(t *testing.T) {
	exec := NewExecutor(models.RetryConfig{MaxRetries: 3})
	attempts := 0

	err := exec.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		return models.NewAuthenticationError("openai", nil)
	}, "test-req")

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "terminal errors must not be retried")

	var gwErr *models.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, models.ErrorKindAuthentication, gwErr.Kind)
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	exec := NewExecutor(models.RetryConfig{MaxRetries: 3, BaseDelayMs: 20, MaxDelayMs: 100})
	attempts := 0

	start := time.Now()
	err := exec.Run(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return models.NewTransientError("openai", nil)
		}
		return nil
	}, "test-req")

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	// One configured backoff between the two attempts.
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRunReturnsLastErrorUnchanged(t *testing.T) {
	exec := NewExecutor(models.RetryConfig{MaxRetries: 1, BaseDelayMs: 1})
	last := models.NewRateLimitedError("openai", nil)

	err := exec.Run(context.Background(), func(ctx context.Context) error {
		return last
	}, "test-req")

	assert.Same(t, last, err, "last observed error must propagate unwrapped")
}

func TestRunHonorsContextCancellation(t *testing.T) {
	exec := NewExecutor(models.RetryConfig{MaxRetries: 5})
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	err := exec.Run(ctx, func(ctx context.Context) error {
		attempts++
		return models.NewTransientError("openai", nil)
	}, "test-req")

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "cancellation during backoff must stop further attempts")
}
