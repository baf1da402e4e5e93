package credential

import (
	"context"
	"strings"
	"time"

	"github.com/corelink-ai/provider-gateway/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

var authFailurePatterns = []string{
	"invalid api key",
	"invalid x-api-key",
	"incorrect api key",
	"authentication",
	"unauthorized",
	"invalid_api_key",
	"401",
}

var quotaExhaustionPatterns = []string{
	"insufficient balance",
	"insufficient_quota",
	"insufficient credit",
	"quota exceeded",
	"exceeded your current quota",
	"billing",
	"account balance",
}

var rateLimitPatterns = []string{
	"429",
	"rate limit",
	"rate_limit",
	"too many requests",
}

// Accountant updates counters and health after every call. Health
// transitions to `error` and `exhausted` are terminal until an administrator
// or the daily reset intervenes.
type Accountant struct {
	store   *Store
	nowFunc func() time.Time
}

func NewAccountant(store *Store) *Accountant {
	return &Accountant{store: store, nowFunc: time.Now}
}

// RecordSuccess bumps today's and lifetime request/token counters and the
// last-used stamp. A success alone does not clear a `rate_limited` mark:
// that designation is day-scoped and only the daily reset or an admin
// removes it.
func (a *Accountant) RecordSuccess(ctx context.Context, cred *models.Credential, tokensUsed int64) error {
	return a.store.IncrementSuccess(ctx, cred.ID, tokensUsed, a.nowFunc())
}

// RecordFailure bumps error counters and last-error fields, transitioning
// health when the failure text matches a terminal pattern.
func (a *Accountant) RecordFailure(ctx context.Context, cred *models.Credential, errMsg string) error {
	health := ClassifyFailureHealth(errMsg)
	if health != "" {
		fiberlog.Warnf("credential %d health -> %s after failure: %s", cred.ID, health, errMsg)
	}
	return a.store.IncrementFailure(ctx, cred.ID, errMsg, health, a.nowFunc())
}

// ClassifyFailureHealth maps an error message onto the terminal health state
// it implies, or "" when the failure carries no credential-health signal.
func ClassifyFailureHealth(errMsg string) models.HealthStatus {
	if IsAuthFailure(errMsg) {
		return models.HealthError
	}
	if IsQuotaExhaustion(errMsg) {
		return models.HealthExhausted
	}
	if IsRateLimit(errMsg) {
		return models.HealthRateLimited
	}
	return ""
}

// IsAuthFailure reports whether the error text matches an
// authentication-failure pattern.
func IsAuthFailure(errMsg string) bool {
	return matchesAny(errMsg, authFailurePatterns)
}

// IsQuotaExhaustion reports whether the error text matches a balance or
// quota-exhaustion pattern.
func IsQuotaExhaustion(errMsg string) bool {
	return matchesAny(errMsg, quotaExhaustionPatterns)
}

// IsRateLimit reports whether the error text signals throttling without an
// exhaustion signal.
func IsRateLimit(errMsg string) bool {
	return matchesAny(errMsg, rateLimitPatterns)
}

func matchesAny(msg string, patterns []string) bool {
	lower := strings.ToLower(msg)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
