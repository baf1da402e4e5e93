package keygroup

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/corelink-ai/provider-gateway/internal/models"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

// Rotator hands out key-group entries under the group's rotation strategy.
// A per-group mutex serializes pointer movement so N sequential Next calls
// advance the pointer exactly N times regardless of interleaving.
type Rotator struct {
	store   *Store
	locks   sync.Map // group id -> *sync.Mutex
	nowFunc func() time.Time
}

func NewRotator(store *Store) *Rotator {
	return &Rotator{store: store, nowFunc: time.Now}
}

func (r *Rotator) lock(groupID uint) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(groupID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Next returns the entry at the current pointer. Under the sequential
// strategy the pointer advances modulo the entry count before the call's
// outcome is known; under failover it stays put until an error moves it.
// Secrets come back encrypted, the caller decrypts.
func (r *Rotator) Next(ctx context.Context, groupID uint) (*models.KeyGroupEntry, error) {
	mu := r.lock(groupID)
	mu.Lock()
	defer mu.Unlock()

	group, err := r.store.GetByID(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.IsActive {
		return nil, models.NewNoCredentialError(group.Name)
	}
	n := len(group.Entries)
	if n == 0 {
		return nil, models.NewNoCredentialError(group.Name)
	}

	idx := group.CurrentIndex
	if idx < 0 || idx >= n {
		idx = 0
	}
	entry := group.Entries[idx]

	now := r.nowFunc()
	if err := r.store.RecordUse(ctx, entry.ID, now); err != nil {
		return nil, err
	}
	entry.LastUsedAt = &now

	if group.Strategy == models.RotationSequential {
		if err := r.store.SetPointer(ctx, groupID, (idx+1)%n); err != nil {
			return nil, err
		}
	}

	return &entry, nil
}

// ReportSuccess marks the entry healthy again. A recovered entry is trusted
// immediately: status back to active, error count cleared.
func (r *Rotator) ReportSuccess(ctx context.Context, groupID uint, position int) error {
	mu := r.lock(groupID)
	mu.Lock()
	defer mu.Unlock()

	group, err := r.store.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	entry := entryAt(group, position)
	if entry == nil {
		return models.NewValidationError("unknown key group entry position", nil)
	}

	if err := r.store.ResetEntry(ctx, entry.ID); err != nil {
		return err
	}
	return r.store.IncrementSuccesses(ctx, groupID)
}

// ReportError demotes the entry and, under the failover strategy, moves the
// pointer to the best surviving candidate.
func (r *Rotator) ReportError(ctx context.Context, groupID uint, position int, message string, httpStatus int) error {
	mu := r.lock(groupID)
	mu.Lock()
	defer mu.Unlock()

	group, err := r.store.GetByID(ctx, groupID)
	if err != nil {
		return err
	}
	entry := entryAt(group, position)
	if entry == nil {
		return models.NewValidationError("unknown key group entry position", nil)
	}

	status := models.EntryError
	if exhaustionSignal(message, httpStatus) {
		status = models.EntryExhausted
	}
	if err := r.store.MarkEntryError(ctx, entry.ID, status, message); err != nil {
		return err
	}
	if err := r.store.IncrementErrors(ctx, groupID); err != nil {
		return err
	}
	entry.Status = status
	entry.ErrorCount++

	if group.Strategy != models.RotationFailover {
		return nil
	}

	next := failoverTarget(group, position)
	if next != group.CurrentIndex {
		fiberlog.Warnf("key group %d entry %d marked %s, failing over to entry %d", groupID, position, status, next)
		return r.store.SetPointer(ctx, groupID, next)
	}
	return nil
}

// failoverTarget scans forward from the failed position for the first active
// entry. With none left it falls back to the other entry with the fewest
// errors, lowest position winning ties, so the group keeps making progress.
func failoverTarget(group *models.KeyGroup, failed int) int {
	n := len(group.Entries)
	for step := 1; step < n; step++ {
		idx := (failed + step) % n
		if group.Entries[idx].Status == models.EntryActive {
			return idx
		}
	}

	best := -1
	for i := range group.Entries {
		if i == failed {
			continue
		}
		if best == -1 || group.Entries[i].ErrorCount < group.Entries[best].ErrorCount {
			best = i
		}
	}
	if best == -1 {
		return failed
	}
	return best
}

func entryAt(group *models.KeyGroup, position int) *models.KeyGroupEntry {
	for i := range group.Entries {
		if group.Entries[i].Position == position {
			return &group.Entries[i]
		}
	}
	return nil
}

// exhaustionSignal reports whether the failure looks like quota or rate
// limit exhaustion rather than a plain entry fault.
func exhaustionSignal(message string, httpStatus int) bool {
	if httpStatus == 429 {
		return true
	}
	lower := strings.ToLower(message)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "rate limit")
}
