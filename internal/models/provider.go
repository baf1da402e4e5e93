package models

import "time"

// Provider is a logical vendor: one row per upstream service the gateway can call.
// Administrators create and edit these; the gateway only reads them.
type Provider struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"uniqueIndex;not null;size:64" json:"code"`
	Name      string    `gorm:"not null;size:255" json:"name"`
	BaseURL   string    `gorm:"size:512" json:"base_url,omitempty"`
	IsActive  bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Credentials []Credential `gorm:"foreignKey:ProviderID" json:"credentials,omitempty"`
}

func (Provider) TableName() string {
	return "providers"
}

// ProviderSummary is the shape returned by the public provider listing.
type ProviderSummary struct {
	Code                  string `json:"code"`
	Name                  string `json:"name"`
	ActiveCredentialCount int64  `json:"active_credential_count"`
}
