package models

import "time"

// HealthStatus is the single health state a credential is in at any moment.
type HealthStatus string

const (
	HealthNormal      HealthStatus = "normal"
	HealthRateLimited HealthStatus = "rate_limited"
	HealthError       HealthStatus = "error"
	HealthExhausted   HealthStatus = "exhausted"
)

// Credential is one vendor secret with its quotas, counters and health state.
// Counters for "today" are logically reset once per calendar day, lazily, the
// first time the credential is evaluated on a new day.
type Credential struct {
	ID         uint `gorm:"primaryKey" json:"id"`
	ProviderID uint `gorm:"index;not null" json:"provider_id"`

	Name            string       `gorm:"not null;size:255" json:"name"`
	EncryptedSecret string       `gorm:"not null;type:text" json:"-"`
	BaseURLOverride string       `gorm:"size:512" json:"base_url_override,omitempty"`
	Priority        int          `gorm:"default:0;index" json:"priority"`
	IsActive        bool         `gorm:"default:true;index" json:"is_active"`
	Health          HealthStatus `gorm:"size:20;default:'normal'" json:"health"`

	RequestsToday int64      `gorm:"default:0" json:"requests_today"`
	TokensToday   int64      `gorm:"default:0" json:"tokens_today"`
	ErrorsToday   int64      `gorm:"default:0" json:"errors_today"`
	CountersDate  *time.Time `json:"counters_date,omitempty"`

	TotalRequests int64 `gorm:"default:0" json:"total_requests"`
	TotalTokens   int64 `gorm:"default:0" json:"total_tokens"`
	TotalErrors   int64 `gorm:"default:0" json:"total_errors"`

	LastUsedAt   *time.Time `gorm:"index" json:"last_used_at,omitempty"`
	LastErrorAt  *time.Time `json:"last_error_at,omitempty"`
	LastErrorMsg string     `gorm:"type:text" json:"last_error_msg,omitempty"`

	RateLimitRPM int64 `gorm:"default:0" json:"rate_limit_rpm"`
	RateLimitTPM int64 `gorm:"default:0" json:"rate_limit_tpm"`
	RateLimitRPD int64 `gorm:"default:0" json:"rate_limit_rpd"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Provider Provider `gorm:"foreignKey:ProviderID" json:"provider,omitempty"`
}

func (Credential) TableName() string {
	return "credentials"
}

// UTCDay returns the UTC calendar day t falls on, at midnight. Counter
// stamps and staleness checks both go through this so a process running in
// a non-UTC zone reads back the same day the store wrote.
func UTCDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CountersCurrent reports whether the daily counters already belong to today.
func (c *Credential) CountersCurrent(now time.Time) bool {
	if c.CountersDate == nil {
		return false
	}
	y1, m1, d1 := c.CountersDate.UTC().Date()
	y2, m2, d2 := now.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// DailyBudgetRemaining reports whether the credential can take another request
// today. A zero RPD limit means unlimited.
func (c *Credential) DailyBudgetRemaining() bool {
	return c.RateLimitRPD <= 0 || c.RequestsToday < c.RateLimitRPD
}

// UsedWithin reports whether the credential was used inside the trailing window.
func (c *Credential) UsedWithin(window time.Duration, now time.Time) bool {
	return c.LastUsedAt != nil && now.Sub(*c.LastUsedAt) < window
}

// CredentialCreateRequest is the admin payload for adding a credential.
type CredentialCreateRequest struct {
	ProviderCode    string `json:"provider_code" validate:"required"`
	Name            string `json:"name" validate:"required,min=1,max=255"`
	Secret          string `json:"secret" validate:"required"`
	BaseURLOverride string `json:"base_url_override,omitempty"`
	Priority        int    `json:"priority,omitempty"`
	RateLimitRPM    int64  `json:"rate_limit_rpm,omitempty"`
	RateLimitTPM    int64  `json:"rate_limit_tpm,omitempty"`
	RateLimitRPD    int64  `json:"rate_limit_rpd,omitempty"`
}

// CredentialUpdateRequest is the admin payload for editing a credential.
// Nil fields are left untouched.
type CredentialUpdateRequest struct {
	Name            *string `json:"name,omitempty"`
	Secret          *string `json:"secret,omitempty"`
	BaseURLOverride *string `json:"base_url_override,omitempty"`
	Priority        *int    `json:"priority,omitempty"`
	IsActive        *bool   `json:"is_active,omitempty"`
	RateLimitRPM    *int64  `json:"rate_limit_rpm,omitempty"`
	RateLimitTPM    *int64  `json:"rate_limit_tpm,omitempty"`
	RateLimitRPD    *int64  `json:"rate_limit_rpd,omitempty"`
}
