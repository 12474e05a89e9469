package resolver

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbridge/internal/database"
	"taskbridge/internal/models"
)

func setupResolver(t *testing.T) (*Resolver, *database.DB) {
	t.Helper()
	logger := zerolog.New(zerolog.NewConsoleWriter())
	dbPath := filepath.Join(t.TempDir(), "resolver.db")
	db, err := database.NewDB(dbPath, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return New(db, &logger), db
}

func TestLockMutualExclusion(t *testing.T) {
	r, _ := setupResolver(t)
	ctx := context.Background()

	ok, err := r.AcquireFieldLock(ctx, 1, "title", "alice", models.PlatformMotion)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second owner within the live window fails.
	ok, err = r.AcquireFieldLock(ctx, 1, "title", "bob", models.PlatformTrello)
	require.NoError(t, err)
	assert.False(t, ok)

	// Same owner renews successfully.
	ok, err = r.AcquireFieldLock(ctx, 1, "title", "alice", models.PlatformMotion)
	require.NoError(t, err)
	assert.True(t, ok)

	// A different field on the same mapping is independent.
	ok, err = r.AcquireFieldLock(ctx, 1, "description", "bob", models.PlatformTrello)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentAcquireSingleWinner(t *testing.T) {
	r, _ := setupResolver(t)
	ctx := context.Background()

	const workers = 8
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := r.AcquireFieldLock(ctx, 9, "title", fmt.Sprintf("owner-%d", n), models.PlatformMotion)
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins, "racing owners must not both take the lock")
}

func TestExpiredLockIsReacquirable(t *testing.T) {
	r, db := setupResolver(t)
	ctx := context.Background()

	// Plant an expired lock row owned by someone else.
	ok, err := db.AcquireFieldLock(ctx, &models.EditLock{
		TaskMappingID: 2,
		FieldName:     "title",
		LockedBy:      "alice",
		Platform:      models.PlatformMotion,
		ExpiresAt:     time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.AcquireFieldLock(ctx, 2, "title", "bob", models.PlatformTrello)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock must be overwritten and reacquired")

	locked, err := r.IsFieldLocked(ctx, 2, "title")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestIsFieldLockedLazyCleanup(t *testing.T) {
	r, db := setupResolver(t)
	ctx := context.Background()

	ok, err := db.AcquireFieldLock(ctx, &models.EditLock{
		TaskMappingID: 3,
		FieldName:     "due_date",
		LockedBy:      "alice",
		Platform:      models.PlatformMotion,
		ExpiresAt:     time.Now().Add(-time.Second),
	})
	require.NoError(t, err)
	require.True(t, ok)

	locked, err := r.IsFieldLocked(ctx, 3, "due_date")
	require.NoError(t, err)
	assert.False(t, locked)

	// Row must be gone after the lazy cleanup.
	lock, err := db.GetFieldLock(ctx, 3, "due_date")
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestReleaseIsIdempotent(t *testing.T) {
	r, _ := setupResolver(t)
	ctx := context.Background()

	require.NoError(t, r.ReleaseFieldLock(ctx, 4, "title"))

	ok, err := r.AcquireFieldLock(ctx, 4, "title", "alice", models.PlatformMotion)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, r.ReleaseFieldLock(ctx, 4, "title"))
	require.NoError(t, r.ReleaseFieldLock(ctx, 4, "title"))
}

func TestForceReleaseAllLocks(t *testing.T) {
	r, _ := setupResolver(t)
	ctx := context.Background()

	for _, field := range []string{"title", "description", "status"} {
		ok, err := r.AcquireFieldLock(ctx, 5, field, "alice", models.PlatformMotion)
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.NoError(t, r.ForceReleaseAllLocks(ctx, 5))

	locks, err := r.ActiveLocks(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestResolveStrategies(t *testing.T) {
	r, _ := setupResolver(t)
	ctx := context.Background()

	motionTime := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	trelloTime := motionTime.Add(-time.Hour)
	conflict := &models.Conflict{
		Type:             models.ConflictFieldMismatch,
		Field:            "title",
		MotionValue:      "from motion",
		TrelloValue:      "from trello",
		Severity:         models.SeverityMedium,
		MotionLastUpdate: &motionTime,
		TrelloLastUpdate: &trelloTime,
	}

	res, err := r.Resolve(ctx, conflict, MergeRequest{Strategy: models.StrategyMotionWins})
	require.NoError(t, err)
	assert.Equal(t, "from motion", res.ResolvedValue)
	assert.Equal(t, models.PlatformMotion, res.Platform)

	res, err = r.Resolve(ctx, conflict, MergeRequest{Strategy: models.StrategyTrelloWins})
	require.NoError(t, err)
	assert.Equal(t, "from trello", res.ResolvedValue)

	merged := "my merge"
	res, err = r.Resolve(ctx, conflict, MergeRequest{Strategy: models.StrategyManualMerge, MergedValue: &merged})
	require.NoError(t, err)
	assert.Equal(t, "my merge", res.ResolvedValue)

	_, err = r.Resolve(ctx, conflict, MergeRequest{Strategy: models.StrategyManualMerge})
	assert.Error(t, err, "manual merge without merged value errors")

	res, err = r.Resolve(ctx, conflict, MergeRequest{Strategy: models.StrategyConcatenate})
	require.NoError(t, err)
	assert.Equal(t, "from motion\n\n---\n\nfrom trello", res.ResolvedValue)

	res, err = r.Resolve(ctx, conflict, MergeRequest{Strategy: models.StrategySkip})
	require.NoError(t, err)
	assert.Equal(t, "", res.ResolvedValue)

	_, err = r.Resolve(ctx, conflict, MergeRequest{Strategy: "coin_flip"})
	assert.Error(t, err)
}

func TestResolveLatestWinsDeterminism(t *testing.T) {
	r, _ := setupResolver(t)
	ctx := context.Background()

	motionTime := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
	trelloTime := motionTime.Add(-time.Minute)
	conflict := &models.Conflict{
		Type:             models.ConflictFieldMismatch,
		Field:            "title",
		MotionValue:      "newer",
		TrelloValue:      "older",
		MotionLastUpdate: &motionTime,
		TrelloLastUpdate: &trelloTime,
	}

	for i := 0; i < 5; i++ {
		res, err := r.Resolve(ctx, conflict, MergeRequest{Strategy: models.StrategyLatestWins})
		require.NoError(t, err)
		assert.Equal(t, "newer", res.ResolvedValue)
		assert.Equal(t, models.PlatformMotion, res.Platform)
	}

	// Missing timestamps error out.
	bare := &models.Conflict{Type: models.ConflictFieldMismatch, Field: "title"}
	_, err := r.Resolve(ctx, bare, MergeRequest{Strategy: models.StrategyLatestWins})
	assert.Error(t, err)
}

func TestResolutionAuditTrail(t *testing.T) {
	r, db := setupResolver(t)
	ctx := context.Background()

	conflict := &models.Conflict{Type: models.ConflictFieldMismatch, Field: "title", MotionValue: "a", TrelloValue: "b"}

	_, err := r.Resolve(ctx, conflict, MergeRequest{Strategy: models.StrategyMotionWins})
	require.NoError(t, err)
	_, err = r.Resolve(ctx, conflict, MergeRequest{Strategy: "bogus"})
	require.Error(t, err)

	entries, err := db.GetSyncLogs(ctx, "conflict_resolution", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2, "failures are audited too")

	successes := 0
	for _, e := range entries {
		if e.Success {
			successes++
		}
		assert.Equal(t, "both", e.Platform)
	}
	assert.Equal(t, 1, successes)
}

func TestSuggestStrategies(t *testing.T) {
	r, _ := setupResolver(t)

	got := r.SuggestStrategies(&models.Conflict{Type: models.ConflictSimultaneousEdit, Field: "metadata"})
	require.NotEmpty(t, got)
	assert.Equal(t, models.StrategyLatestWins, got[0].Strategy)

	got = r.SuggestStrategies(&models.Conflict{Type: models.ConflictFieldMismatch, Field: "description"})
	require.NotEmpty(t, got)
	assert.Equal(t, models.StrategyConcatenate, got[0].Strategy, "text fields offer concatenate first")

	got = r.SuggestStrategies(&models.Conflict{Type: models.ConflictFieldMismatch, Field: "due_date"})
	for _, s := range got {
		assert.NotEqual(t, models.StrategyConcatenate, s.Strategy, "structural fields do not offer concatenate")
	}

	got = r.SuggestStrategies(&models.Conflict{Type: "weird"})
	require.NotEmpty(t, got)
	assert.Equal(t, models.StrategySkip, got[0].Strategy)
}
