package keygroup

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/corelink-ai/provider-gateway/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	store := NewStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func seedGroup(t *testing.T, store *Store, strategy models.RotationStrategy, size int) *models.KeyGroup {
	t.Helper()
	group := &models.KeyGroup{
		ProviderID: 1,
		Name:       "pool",
		Strategy:   strategy,
		IsActive:   true,
	}
	for i := 0; i < size; i++ {
		group.Entries = append(group.Entries, models.KeyGroupEntry{
			EncryptedSecret: fmt.Sprintf("secret-%d", i),
		})
	}
	require.NoError(t, store.Create(context.Background(), group))
	return group
}

func TestSequentialRoundTrip(t *testing.T) {
	store := newTestStore(t)
	group := seedGroup(t, store, models.RotationSequential, 4)
	rotator := NewRotator(store)
	ctx := context.Background()

	seen := make(map[int]int)
	for i := 0; i < 4; i++ {
		entry, err := rotator.Next(ctx, group.ID)
		require.NoError(t, err)
		seen[entry.Position]++
	}

	for pos := 0; pos < 4; pos++ {
		assert.Equal(t, 1, seen[pos], "each entry is handed out exactly once per full cycle")
	}

	reloaded, err := store.GetByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.CurrentIndex, "pointer returns to its starting position after n calls")
}

func TestSequentialAdvancesRegardlessOfOutcome(t *testing.T) {
	store := newTestStore(t)
	group := seedGroup(t, store, models.RotationSequential, 3)
	rotator := NewRotator(store)
	ctx := context.Background()

	entry, err := rotator.Next(ctx, group.ID)
	require.NoError(t, err)
	require.NoError(t, rotator.ReportError(ctx, group.ID, entry.Position, "server error", 500))

	next, err := rotator.Next(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, next.Position, "sequential never revisits based on outcome, the pointer already moved")
}

func TestFailoverHoldsPointerOnSuccess(t *testing.T) {
	store := newTestStore(t)
	group := seedGroup(t, store, models.RotationFailover, 3)
	rotator := NewRotator(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entry, err := rotator.Next(ctx, group.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, entry.Position)
		require.NoError(t, rotator.ReportSuccess(ctx, group.ID, entry.Position))
	}
}

func TestFailoverFullCycle(t *testing.T) {
	store := newTestStore(t)
	group := seedGroup(t, store, models.RotationFailover, 3)
	rotator := NewRotator(store)
	ctx := context.Background()

	require.NoError(t, rotator.ReportError(ctx, group.ID, 0, "rate limit exceeded", 429))
	reloaded, err := store.GetByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryExhausted, reloaded.Entries[0].Status)
	assert.Equal(t, 1, reloaded.CurrentIndex)

	require.NoError(t, rotator.ReportError(ctx, group.ID, 1, "server error", 500))
	reloaded, err = store.GetByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryError, reloaded.Entries[1].Status)
	assert.Equal(t, 2, reloaded.CurrentIndex)

	entry, err := rotator.Next(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Position)
}

func TestFailoverAllEntriesDownPicksLowestErrorCount(t *testing.T) {
	store := newTestStore(t)
	group := seedGroup(t, store, models.RotationFailover, 3)
	rotator := NewRotator(store)
	ctx := context.Background()

	// Burn entry 1 twice and entry 2 once, then fail entry 0.
	require.NoError(t, rotator.ReportError(ctx, group.ID, 1, "server error", 500))
	require.NoError(t, rotator.ReportError(ctx, group.ID, 1, "server error", 500))
	require.NoError(t, rotator.ReportError(ctx, group.ID, 2, "server error", 500))
	require.NoError(t, rotator.ReportError(ctx, group.ID, 0, "server error", 500))

	reloaded, err := store.GetByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.CurrentIndex, "with no active entry left, the fewest-errors sibling wins")
}

func TestFailoverTiesResolveToLowestIndex(t *testing.T) {
	store := newTestStore(t)
	group := seedGroup(t, store, models.RotationFailover, 3)
	rotator := NewRotator(store)
	ctx := context.Background()

	require.NoError(t, rotator.ReportError(ctx, group.ID, 0, "server error", 500))
	require.NoError(t, rotator.ReportError(ctx, group.ID, 1, "server error", 500))
	require.NoError(t, rotator.ReportError(ctx, group.ID, 2, "server error", 500))

	reloaded, err := store.GetByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.CurrentIndex)
}

func TestReportSuccessRestoresEntry(t *testing.T) {
	store := newTestStore(t)
	group := seedGroup(t, store, models.RotationFailover, 2)
	rotator := NewRotator(store)
	ctx := context.Background()

	require.NoError(t, rotator.ReportError(ctx, group.ID, 0, "quota exceeded", 402))
	require.NoError(t, rotator.ReportSuccess(ctx, group.ID, 0))

	reloaded, err := store.GetByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntryActive, reloaded.Entries[0].Status)
	assert.Zero(t, reloaded.Entries[0].ErrorCount, "a recovered entry is trusted again immediately")
	assert.Equal(t, int64(1), reloaded.TotalSuccesses)
	assert.Equal(t, int64(1), reloaded.TotalErrors)
}

func TestExhaustionClassification(t *testing.T) {
	cases := []struct {
		name      string
		message   string
		status    int
		exhausted bool
	}{
		{"http 429", "anything", 429, true},
		{"quota wording", "monthly quota exceeded", 402, true},
		{"rate limit wording", "Rate Limit reached", 500, true},
		{"plain server error", "internal server error", 500, false},
		{"auth error", "invalid api key", 401, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.exhausted, exhaustionSignal(tc.message, tc.status))
		})
	}
}

func TestConcurrentSequentialPointerAdvance(t *testing.T) {
	store := newTestStore(t)
	group := seedGroup(t, store, models.RotationSequential, 3)
	rotator := NewRotator(store)
	ctx := context.Background()

	const calls = 30
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := rotator.Next(ctx, group.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	reloaded, err := store.GetByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, calls%3, reloaded.CurrentIndex, "the pointer advanced exactly once per call in total")
}

func TestRemoveEntryWrapsPointer(t *testing.T) {
	store := newTestStore(t)
	group := seedGroup(t, store, models.RotationSequential, 3)
	ctx := context.Background()

	require.NoError(t, store.SetPointer(ctx, group.ID, 2))
	require.NoError(t, store.RemoveEntry(ctx, group.ID, 2))

	reloaded, err := store.GetByID(ctx, group.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, reloaded.CurrentIndex, "a pointer past the new end wraps to zero")
	require.Len(t, reloaded.Entries, 2)
	assert.Equal(t, []int{0, 1}, []int{reloaded.Entries[0].Position, reloaded.Entries[1].Position})
}

func TestRemoveEntryShiftsPositions(t *testing.T) {
	store := newTestStore(t)
	group := seedGroup(t, store, models.RotationSequential, 3)
	ctx := context.Background()

	require.NoError(t, store.RemoveEntry(ctx, group.ID, 0))

	reloaded, err := store.GetByID(ctx, group.ID)
	require.NoError(t, err)
	require.Len(t, reloaded.Entries, 2)
	assert.Equal(t, "secret-1", reloaded.Entries[0].EncryptedSecret)
	assert.Equal(t, 0, reloaded.Entries[0].Position)
	assert.Equal(t, "secret-2", reloaded.Entries[1].EncryptedSecret)
	assert.Equal(t, 1, reloaded.Entries[1].Position)
}

func TestRemoveLastEntryRejected(t *testing.T) {
	store := newTestStore(t)
	group := seedGroup(t, store, models.RotationSequential, 1)
	ctx := context.Background()

	err := store.RemoveEntry(ctx, group.ID, 0)
	require.Error(t, err)

	var gwErr *models.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, models.ErrorKindValidation, gwErr.Kind)
}
