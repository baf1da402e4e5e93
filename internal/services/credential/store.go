package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corelink-ai/provider-gateway/internal/models"
	"gorm.io/gorm"
)

// Store is the gorm-backed credential repository. Counter mutation goes
// through single atomic UPDATEs so two concurrent requests can never both
// increment from the same read value.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Provider{}, &models.Credential{})
}

// GetProviderByCode resolves an active provider or reports it unknown.
func (s *Store) GetProviderByCode(ctx context.Context, code string) (*models.Provider, error) {
	var provider models.Provider
	err := s.db.WithContext(ctx).
		Where("code = ? AND is_active = ?", code, true).
		First(&provider).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewValidationError(fmt.Sprintf("unknown or inactive provider %q", code), nil)
		}
		return nil, fmt.Errorf("failed to load provider %s: %w", code, err)
	}
	return &provider, nil
}

// ListActiveByProvider returns active credentials ordered by priority
// descending, then least-recently-used first. Never-used credentials sort
// ahead of used ones regardless of driver NULL ordering.
func (s *Store) ListActiveByProvider(ctx context.Context, providerID uint) ([]models.Credential, error) {
	var creds []models.Credential
	err := s.db.WithContext(ctx).
		Where("provider_id = ? AND is_active = ?", providerID, true).
		Order("priority DESC, last_used_at IS NOT NULL, last_used_at ASC").
		Find(&creds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return creds, nil
}

func (s *Store) GetByID(ctx context.Context, id uint) (*models.Credential, error) {
	var cred models.Credential
	if err := s.db.WithContext(ctx).Preload("Provider").First(&cred, id).Error; err != nil {
		return nil, fmt.Errorf("failed to load credential %d: %w", id, err)
	}
	return &cred, nil
}

// ResetDaily zeroes today's counters, stamps the date and applies the
// amnesty policy. Idempotent: running it twice on the same day leaves
// counters at zero and health at its post-amnesty value.
func (s *Store) ResetDaily(ctx context.Context, credentialID uint, now time.Time, amnesty models.AmnestyPolicy) error {
	day := models.UTCDay(now)
	updates := map[string]any{
		"requests_today": 0,
		"tokens_today":   0,
		"errors_today":   0,
		"counters_date":  day,
	}

	query := s.db.WithContext(ctx).Model(&models.Credential{}).Where("id = ?", credentialID)
	if amnesty == models.AmnestyQuotaOnly {
		// Authentication failures stay flagged for an administrator.
		query = query.Where("health <> ?", models.HealthError)
	}

	updates["health"] = models.HealthNormal
	if err := query.Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to reset daily counters for credential %d: %w", credentialID, err)
	}

	if amnesty == models.AmnestyQuotaOnly {
		// Still roll the counters for flagged credentials, just not the health.
		err := s.db.WithContext(ctx).Model(&models.Credential{}).
			Where("id = ? AND health = ?", credentialID, models.HealthError).
			Updates(map[string]any{
				"requests_today": 0,
				"tokens_today":   0,
				"errors_today":   0,
				"counters_date":  day,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to reset daily counters for credential %d: %w", credentialID, err)
		}
	}

	return nil
}

// ListStale returns active credentials whose counters are not stamped with
// today's date; the sweeper resets these in bulk.
func (s *Store) ListStale(ctx context.Context, now time.Time) ([]models.Credential, error) {
	day := models.UTCDay(now)
	var creds []models.Credential
	err := s.db.WithContext(ctx).
		Where("is_active = ? AND (counters_date IS NULL OR counters_date < ?)", true, day).
		Find(&creds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale credentials: %w", err)
	}
	return creds, nil
}

// IncrementSuccess applies the success-side accounting in one atomic UPDATE.
func (s *Store) IncrementSuccess(ctx context.Context, credentialID uint, tokens int64, now time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("id = ?", credentialID).
		Updates(map[string]any{
			"requests_today": gorm.Expr("requests_today + ?", 1),
			"tokens_today":   gorm.Expr("tokens_today + ?", tokens),
			"total_requests": gorm.Expr("total_requests + ?", 1),
			"total_tokens":   gorm.Expr("total_tokens + ?", tokens),
			"last_used_at":   now,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record success for credential %d: %w", credentialID, err)
	}
	return nil
}

// IncrementFailure applies the failure-side accounting in one atomic UPDATE,
// optionally transitioning health when the error classified as terminal.
func (s *Store) IncrementFailure(ctx context.Context, credentialID uint, errMsg string, health models.HealthStatus, now time.Time) error {
	updates := map[string]any{
		"errors_today":   gorm.Expr("errors_today + ?", 1),
		"total_errors":   gorm.Expr("total_errors + ?", 1),
		"last_error_at":  now,
		"last_error_msg": errMsg,
	}
	if health != "" {
		updates["health"] = health
	}

	err := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("id = ?", credentialID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to record failure for credential %d: %w", credentialID, err)
	}
	return nil
}

// TouchLastUsed stamps use time without touching counters; the selector's
// minute-window heuristic depends on it being current.
func (s *Store) TouchLastUsed(ctx context.Context, credentialID uint, now time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("id = ?", credentialID).
		Update("last_used_at", now).Error
	if err != nil {
		return fmt.Errorf("failed to touch credential %d: %w", credentialID, err)
	}
	return nil
}

// SetHealth is the admin-facing health override.
func (s *Store) SetHealth(ctx context.Context, credentialID uint, health models.HealthStatus) error {
	err := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("id = ?", credentialID).
		Update("health", health).Error
	if err != nil {
		return fmt.Errorf("failed to set health for credential %d: %w", credentialID, err)
	}
	return nil
}

func (s *Store) CreateProvider(ctx context.Context, provider *models.Provider) error {
	if err := s.db.WithContext(ctx).Create(provider).Error; err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, cred *models.Credential) error {
	if err := s.db.WithContext(ctx).Create(cred).Error; err != nil {
		return fmt.Errorf("failed to create credential: %w", err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, cred *models.Credential) error {
	if err := s.db.WithContext(ctx).Save(cred).Error; err != nil {
		return fmt.Errorf("failed to update credential %d: %w", cred.ID, err)
	}
	return nil
}

// Disable soft-disables a credential; records are never deleted while in use.
func (s *Store) Disable(ctx context.Context, credentialID uint) error {
	err := s.db.WithContext(ctx).Model(&models.Credential{}).
		Where("id = ?", credentialID).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("failed to disable credential %d: %w", credentialID, err)
	}
	return nil
}

// Delete removes a credential record permanently.
func (s *Store) Delete(ctx context.Context, credentialID uint) error {
	err := s.db.WithContext(ctx).Delete(&models.Credential{}, credentialID).Error
	if err != nil {
		return fmt.Errorf("failed to delete credential %d: %w", credentialID, err)
	}
	return nil
}

// List returns every credential, active or not, for the admin surface.
func (s *Store) List(ctx context.Context) ([]models.Credential, error) {
	var creds []models.Credential
	err := s.db.WithContext(ctx).
		Preload("Provider").
		Order("provider_id ASC, priority DESC").
		Find(&creds).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return creds, nil
}

// ListProviders returns every provider row for the admin surface.
func (s *Store) ListProviders(ctx context.Context) ([]models.Provider, error) {
	var providers []models.Provider
	if err := s.db.WithContext(ctx).Order("code ASC").Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}
	return providers, nil
}

// ListProviderSummaries backs the public provider listing.
func (s *Store) ListProviderSummaries(ctx context.Context) ([]models.ProviderSummary, error) {
	var providers []models.Provider
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&providers).Error; err != nil {
		return nil, fmt.Errorf("failed to list providers: %w", err)
	}

	summaries := make([]models.ProviderSummary, 0, len(providers))
	for _, p := range providers {
		var count int64
		err := s.db.WithContext(ctx).Model(&models.Credential{}).
			Where("provider_id = ? AND is_active = ?", p.ID, true).
			Count(&count).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count credentials for provider %s: %w", p.Code, err)
		}
		summaries = append(summaries, models.ProviderSummary{
			Code:                  p.Code,
			Name:                  p.Name,
			ActiveCredentialCount: count,
		})
	}
	return summaries, nil
}
