package credential

import (
	"context"
	"time"

	"github.com/corelink-ai/provider-gateway/internal/models"
	"github.com/corelink-ai/provider-gateway/internal/services/ratelimit"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

const minuteWindow = 60 * time.Second

// Selector chooses the best eligible credential for a provider, honoring
// priority and quota windows. When nothing is eligible it degrades to the
// least-recently-used candidate rather than failing outright: an
// available-but-possibly-throttled credential beats a hard failure, and the
// vendor will reject the overflow upstream if it must.
type Selector struct {
	store   *Store
	cfg     models.CredentialsConfig
	window  *ratelimit.SlidingWindow
	nowFunc func() time.Time
}

func NewSelector(store *Store, cfg models.CredentialsConfig) *Selector {
	s := &Selector{
		store:   store,
		cfg:     cfg,
		nowFunc: time.Now,
	}
	if cfg.PreciseRateWindow {
		s.window = ratelimit.NewSlidingWindow(minuteWindow)
	}
	return s
}

// Select returns the first eligible credential for the provider. Only an
// empty pool fails; an exhausted pool returns the LRU candidate with a
// warning.
func (s *Selector) Select(ctx context.Context, provider *models.Provider, requestID string) (*models.Credential, error) {
	creds, err := s.store.ListActiveByProvider(ctx, provider.ID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, models.NewNoCredentialError(provider.Code)
	}

	now := s.nowFunc()
	for i := range creds {
		cred := &creds[i]

		// Lazy per-day rollover: the first evaluation on a new day resets
		// the stored counters before quota is judged.
		if !cred.CountersCurrent(now) {
			if err := s.store.ResetDaily(ctx, cred.ID, now, s.cfg.Amnesty); err != nil {
				return nil, err
			}
			day := models.UTCDay(now)
			cred.RequestsToday = 0
			cred.TokensToday = 0
			cred.ErrorsToday = 0
			cred.CountersDate = &day
			if s.cfg.Amnesty == models.AmnestyAll || cred.Health != models.HealthError {
				cred.Health = models.HealthNormal
			}
		}

		if s.eligible(cred, now) {
			fiberlog.Debugf("[%s] selected credential %d (%s) for provider %s", requestID, cred.ID, cred.Name, provider.Code)
			return cred, nil
		}
	}

	// Overflow mode: quota enforcement here is best-effort, so hand out the
	// least-recently-used credential instead of failing the request.
	fallback := leastRecentlyUsed(creds)
	fiberlog.Warnf("[%s] no eligible credential for provider %s, falling back to LRU credential %d",
		requestID, provider.Code, fallback.ID)
	return fallback, nil
}

// Stop releases the sliding-window pruner.
func (s *Selector) Stop() {
	if s.window != nil {
		s.window.Stop()
	}
}

func (s *Selector) eligible(cred *models.Credential, now time.Time) bool {
	if cred.Health == models.HealthError || cred.Health == models.HealthExhausted {
		return false
	}
	if !cred.DailyBudgetRemaining() {
		return false
	}
	return s.minuteWindowOpen(cred, now)
}

// minuteWindowOpen approximates a sliding per-minute window. The default
// heuristic treats a credential as saturated when it was used inside the
// last 60 seconds and today's count sits exactly on a full per-minute batch;
// precise mode counts actual call timestamps instead.
func (s *Selector) minuteWindowOpen(cred *models.Credential, now time.Time) bool {
	if cred.RateLimitRPM <= 0 {
		return true
	}

	if s.window != nil {
		return s.window.Allow(cred.ID, cred.RateLimitRPM)
	}

	if !cred.UsedWithin(minuteWindow, now) {
		return true
	}
	return cred.RequestsToday == 0 || cred.RequestsToday%cred.RateLimitRPM != 0
}

func leastRecentlyUsed(creds []models.Credential) *models.Credential {
	best := &creds[0]
	for i := 1; i < len(creds); i++ {
		c := &creds[i]
		switch {
		case c.LastUsedAt == nil && best.LastUsedAt != nil:
			best = c
		case c.LastUsedAt != nil && best.LastUsedAt != nil && c.LastUsedAt.Before(*best.LastUsedAt):
			best = c
		}
	}
	return best
}
