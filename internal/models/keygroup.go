package models

import "time"

// RotationStrategy selects how a key group hands out its entries.
type RotationStrategy string

const (
	// RotationSequential advances the pointer on every Next, regardless of outcome.
	RotationSequential RotationStrategy = "sequential"
	// RotationFailover holds the pointer until an error forces a move.
	RotationFailover RotationStrategy = "failover"
)

// EntryStatus is the per-entry health inside a key group.
type EntryStatus string

const (
	EntryActive    EntryStatus = "active"
	EntryError     EntryStatus = "error"
	EntryExhausted EntryStatus = "exhausted"
)

// KeyGroup pools interchangeable secrets for a single logical provider.
// Invariant: the entry list is never empty while the group is active, and
// CurrentIndex always points at a valid entry (wrapped modulo length on
// mutation).
type KeyGroup struct {
	ID         uint             `gorm:"primaryKey" json:"id"`
	ProviderID uint             `gorm:"index;not null" json:"provider_id"`
	Name       string           `gorm:"not null;size:255" json:"name"`
	Strategy   RotationStrategy `gorm:"size:20;default:'sequential'" json:"strategy"`

	CurrentIndex int  `gorm:"default:0" json:"current_index"`
	IsActive     bool `gorm:"default:true;index" json:"is_active"`

	TotalSuccesses int64 `gorm:"default:0" json:"total_successes"`
	TotalErrors    int64 `gorm:"default:0" json:"total_errors"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Entries  []KeyGroupEntry `gorm:"foreignKey:GroupID" json:"entries,omitempty"`
	Provider Provider        `gorm:"foreignKey:ProviderID" json:"provider,omitempty"`
}

func (KeyGroup) TableName() string {
	return "key_groups"
}

// KeyGroupEntry is one secret inside a key group. Position is the stable
// 0-based index the rotator addresses entries by.
type KeyGroupEntry struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	GroupID uint `gorm:"index;not null" json:"group_id"`

	Position        int         `gorm:"not null" json:"position"`
	EncryptedSecret string      `gorm:"not null;type:text" json:"-"`
	Status          EntryStatus `gorm:"size:20;default:'active'" json:"status"`
	ErrorCount      int64       `gorm:"default:0" json:"error_count"`
	LastUsedAt      *time.Time  `json:"last_used_at,omitempty"`
	LastErrorMsg    string      `gorm:"type:text" json:"last_error_msg,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (KeyGroupEntry) TableName() string {
	return "key_group_entries"
}

// KeyGroupCreateRequest is the admin payload for creating a key group.
type KeyGroupCreateRequest struct {
	ProviderCode string           `json:"provider_code" validate:"required"`
	Name         string           `json:"name" validate:"required,min=1,max=255"`
	Strategy     RotationStrategy `json:"strategy,omitempty"`
	Secrets      []string         `json:"secrets" validate:"required,min=1"`
}
