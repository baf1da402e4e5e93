package credential

import (
	"context"
	"time"

	"github.com/corelink-ai/provider-gateway/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Sweeper periodically rolls daily counters for every active credential, so
// idle credentials do not wait for their next selection to be forgiven.
type Sweeper struct {
	store    *Store
	amnesty  models.AmnestyPolicy
	interval time.Duration
	stopChan chan struct{}
}

func NewSweeper(store *Store, amnesty models.AmnestyPolicy, interval time.Duration) *Sweeper {
	if interval == 0 {
		interval = 1 * time.Hour
	}
	return &Sweeper{
		store:    store,
		amnesty:  amnesty,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start blocks until Stop is called or ctx is cancelled; run it on its own
// goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	fiberlog.Infof("credential sweeper started, running every %s", s.interval)

	for {
		select {
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				fiberlog.Errorf("credential sweep failed: %v", err)
			}
		case <-s.stopChan:
			fiberlog.Info("credential sweeper stopped")
			return
		case <-ctx.Done():
			fiberlog.Info("credential sweeper stopped due to context cancellation")
			return
		}
	}
}

func (s *Sweeper) Stop() {
	close(s.stopChan)
}

// Sweep resets every active credential whose counters are stale.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := time.Now()
	stale, err := s.store.ListStale(ctx, now)
	if err != nil {
		return err
	}

	for _, cred := range stale {
		if err := s.store.ResetDaily(ctx, cred.ID, now, s.amnesty); err != nil {
			return err
		}
	}

	if len(stale) > 0 {
		fiberlog.Infof("credential sweep reset %d credential(s)", len(stale))
	}
	return nil
}
