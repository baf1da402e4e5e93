package keygroup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/corelink-ai/provider-gateway/internal/models"

	"gorm.io/gorm"
)

// Store persists key groups and their entries. Entries are addressed by
// their stable zero-based position; the rotator owns all pointer movement.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&models.KeyGroup{}, &models.KeyGroupEntry{})
}

// Create inserts the group with its entries, assigning positions in order.
func (s *Store) Create(ctx context.Context, group *models.KeyGroup) error {
	if len(group.Entries) == 0 {
		return models.NewValidationError("a key group needs at least one entry", nil)
	}
	for i := range group.Entries {
		group.Entries[i].Position = i
		if group.Entries[i].Status == "" {
			group.Entries[i].Status = models.EntryActive
		}
	}
	if group.Strategy == "" {
		group.Strategy = models.RotationSequential
	}
	if err := s.db.WithContext(ctx).Create(group).Error; err != nil {
		return fmt.Errorf("failed to create key group: %w", err)
	}
	return nil
}

// GetByID loads the group with entries ordered by position.
func (s *Store) GetByID(ctx context.Context, id uint) (*models.KeyGroup, error) {
	var group models.KeyGroup
	err := s.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&group, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewValidationError(fmt.Sprintf("key group %d not found", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load key group %d: %w", id, err)
	}
	return &group, nil
}

// GetActiveByProvider returns the active group serving a provider, or nil
// when the provider is credential-backed instead.
func (s *Store) GetActiveByProvider(ctx context.Context, providerID uint) (*models.KeyGroup, error) {
	var group models.KeyGroup
	err := s.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("provider_id = ? AND is_active = ?", providerID, true).
		First(&group).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load key group for provider %d: %w", providerID, err)
	}
	return &group, nil
}

func (s *Store) List(ctx context.Context) ([]models.KeyGroup, error) {
	var groups []models.KeyGroup
	err := s.db.WithContext(ctx).
		Preload("Entries", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Find(&groups).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list key groups: %w", err)
	}
	return groups, nil
}

// SetPointer moves the rotation pointer. Callers hold the group lock.
func (s *Store) SetPointer(ctx context.Context, groupID uint, index int) error {
	err := s.db.WithContext(ctx).Model(&models.KeyGroup{}).
		Where("id = ?", groupID).
		Update("current_index", index).Error
	if err != nil {
		return fmt.Errorf("failed to move pointer for key group %d: %w", groupID, err)
	}
	return nil
}

// RecordUse stamps an entry's last-used time.
func (s *Store) RecordUse(ctx context.Context, entryID uint, now time.Time) error {
	err := s.db.WithContext(ctx).Model(&models.KeyGroupEntry{}).
		Where("id = ?", entryID).
		Update("last_used_at", now).Error
	if err != nil {
		return fmt.Errorf("failed to stamp key group entry %d: %w", entryID, err)
	}
	return nil
}

// MarkEntryError bumps the entry's error count and records the new status
// and message in one atomic UPDATE.
func (s *Store) MarkEntryError(ctx context.Context, entryID uint, status models.EntryStatus, errMsg string) error {
	err := s.db.WithContext(ctx).Model(&models.KeyGroupEntry{}).
		Where("id = ?", entryID).
		Updates(map[string]any{
			"error_count":    gorm.Expr("error_count + ?", 1),
			"status":         status,
			"last_error_msg": errMsg,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark key group entry %d: %w", entryID, err)
	}
	return nil
}

// ResetEntry restores an entry to active with a clean error count.
func (s *Store) ResetEntry(ctx context.Context, entryID uint) error {
	err := s.db.WithContext(ctx).Model(&models.KeyGroupEntry{}).
		Where("id = ?", entryID).
		Updates(map[string]any{
			"status":         models.EntryActive,
			"error_count":    0,
			"last_error_msg": "",
		}).Error
	if err != nil {
		return fmt.Errorf("failed to reset key group entry %d: %w", entryID, err)
	}
	return nil
}

func (s *Store) IncrementSuccesses(ctx context.Context, groupID uint) error {
	err := s.db.WithContext(ctx).Model(&models.KeyGroup{}).
		Where("id = ?", groupID).
		Update("total_successes", gorm.Expr("total_successes + ?", 1)).Error
	if err != nil {
		return fmt.Errorf("failed to count success for key group %d: %w", groupID, err)
	}
	return nil
}

func (s *Store) IncrementErrors(ctx context.Context, groupID uint) error {
	err := s.db.WithContext(ctx).Model(&models.KeyGroup{}).
		Where("id = ?", groupID).
		Update("total_errors", gorm.Expr("total_errors + ?", 1)).Error
	if err != nil {
		return fmt.Errorf("failed to count error for key group %d: %w", groupID, err)
	}
	return nil
}

// AddEntry appends a secret at the end of the group's entry list.
func (s *Store) AddEntry(ctx context.Context, groupID uint, encryptedSecret string) (*models.KeyGroupEntry, error) {
	var entry *models.KeyGroupEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.KeyGroupEntry{}).Where("group_id = ?", groupID).Count(&count).Error; err != nil {
			return err
		}
		entry = &models.KeyGroupEntry{
			GroupID:         groupID,
			Position:        int(count),
			EncryptedSecret: encryptedSecret,
			Status:          models.EntryActive,
		}
		return tx.Create(entry).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add entry to key group %d: %w", groupID, err)
	}
	return entry, nil
}

// RemoveEntry deletes the entry at the given position, shifts the survivors
// down to keep positions dense, and wraps a pointer left past the new end
// back to zero. The last remaining entry cannot be removed.
func (s *Store) RemoveEntry(ctx context.Context, groupID uint, position int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.KeyGroupEntry{}).Where("group_id = ?", groupID).Count(&count).Error; err != nil {
			return err
		}
		if count <= 1 {
			return models.NewValidationError("cannot remove the last entry of a key group", nil)
		}

		res := tx.Where("group_id = ? AND position = ?", groupID, position).
			Delete(&models.KeyGroupEntry{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.NewValidationError(fmt.Sprintf("key group %d has no entry at position %d", groupID, position), nil)
		}

		err := tx.Model(&models.KeyGroupEntry{}).
			Where("group_id = ? AND position > ?", groupID, position).
			Update("position", gorm.Expr("position - ?", 1)).Error
		if err != nil {
			return err
		}

		var group models.KeyGroup
		if err := tx.First(&group, groupID).Error; err != nil {
			return err
		}
		if group.CurrentIndex >= int(count)-1 {
			return tx.Model(&models.KeyGroup{}).
				Where("id = ?", groupID).
				Update("current_index", 0).Error
		}
		return nil
	})
}

// Delete removes the group and its entries.
func (s *Store) Delete(ctx context.Context, groupID uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("group_id = ?", groupID).Delete(&models.KeyGroupEntry{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.KeyGroup{}, groupID).Error
	})
}
