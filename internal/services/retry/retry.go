package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/corelink-ai/provider-gateway/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

const (
	// DefaultMaxRetries gives 4 attempts total.
	DefaultMaxRetries = 3

	defaultBaseDelay = 1000 * time.Millisecond
	defaultMaxDelay  = 10000 * time.Millisecond
)

// Operation performs exactly one outbound call attempt.
type Operation func(ctx context.Context) error

// Executor wraps a single outbound call with bounded retries and exponential
// backoff. It is a pure control-flow combinator: no side effects beyond the
// wrapped operation.
type Executor struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewExecutor creates an executor from the retry section of the config; any
// field <= 0 falls back to its default.
func NewExecutor(cfg models.RetryConfig) *Executor {
	e := &Executor{
		maxRetries: cfg.MaxRetries,
		baseDelay:  time.Duration(cfg.BaseDelayMs) * time.Millisecond,
		maxDelay:   time.Duration(cfg.MaxDelayMs) * time.Millisecond,
	}
	if e.maxRetries <= 0 {
		e.maxRetries = DefaultMaxRetries
	}
	if e.baseDelay <= 0 {
		e.baseDelay = defaultBaseDelay
	}
	if e.maxDelay <= 0 {
		e.maxDelay = defaultMaxDelay
	}
	return e
}

// Run attempts op up to maxRetries+1 times. Only retryable failures are
// re-attempted; on exhaustion the last observed error is returned unchanged
// so its classification survives.
func (e *Executor) Run(ctx context.Context, op Operation, requestID string) error {
	var lastErr error

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			delay := e.backoff(attempt - 1)
			fiberlog.Debugf("[%s] retrying after %v (attempt %d/%d)", requestID, delay, attempt+1, e.maxRetries+1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return lastErr
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !ShouldRetry(err) {
			fiberlog.Debugf("[%s] error not retryable, giving up: %v", requestID, err)
			return lastErr
		}
		fiberlog.Warnf("[%s] attempt %d/%d failed: %v", requestID, attempt+1, e.maxRetries+1, err)
	}

	return lastErr
}

// backoff returns the delay before the attempt following the given one,
// counted from 0: min(base * 2^attempt, max).
func (e *Executor) backoff(attempt int) time.Duration {
	delay := e.baseDelay << uint(attempt)
	if delay > e.maxDelay || delay <= 0 {
		return e.maxDelay
	}
	return delay
}

// ShouldRetry classifies an error: connection refusal/timeout, HTTP 429 and
// HTTP 5xx are retryable; everything else (authentication, malformed
// requests, content-policy rejections) is not.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}

	var gwErr *models.GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.IsRetryable()
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return retryableStatus(err.Error())
}

// retryableStatus scans an error message for a 429 or 5xx status marker.
func retryableStatus(msg string) bool {
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "timeout") {
		return true
	}
	for _, marker := range []string{"status code ", "status ", "code "} {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		rest := lower[idx+len(marker):]
		if len(rest) < 3 {
			continue
		}
		code := rest[:3]
		if code == "429" || (code[0] == '5' && isDigits(code)) {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
