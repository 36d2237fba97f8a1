package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/lockout/internal/game/lockout"
	"github.com/udisondev/lockout/internal/model"
)

func testLock(owner model.Owner, mapID model.MapID, instanceID model.InstanceID) lockout.Lock {
	created := time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)
	return lockout.Lock{
		Key: model.LockKey{
			Owner:         owner,
			MapDifficulty: model.MapDifficulty{Map: mapID, Difficulty: model.DifficultyHeroic},
		},
		InstanceID: instanceID,
		Completed:  lockout.EncounterMask(0b1000),
		CreatedAt:  created,
		ExpiresAt:  created.Add(7 * 24 * time.Hour),
	}
}

func openTestSQLite(t *testing.T) *SQLiteLockRepository {
	t.Helper()
	repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "locks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteLockRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openTestSQLite(t)

	want := testLock(model.PlayerOwner(42), 509, 7)
	want.Extended = true
	require.NoError(t, repo.UpsertLock(ctx, want))
	require.NoError(t, repo.UpsertLock(ctx, testLock(model.GroupOwner(5), 631, 8)))

	got, err := repo.LoadLocks(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byKey := make(map[model.LockKey]lockout.Lock, len(got))
	for _, l := range got {
		byKey[l.Key] = l
	}
	assert.Equal(t, want, byKey[want.Key])
}

func TestSQLiteLockRepository_SubSecondTimes(t *testing.T) {
	ctx := context.Background()
	repo := openTestSQLite(t)

	want := testLock(model.PlayerOwner(42), 509, 7)
	want.CreatedAt = time.Date(2026, 1, 6, 9, 0, 0, 750_000_123, time.UTC)
	want.ExpiresAt = want.CreatedAt.Add(time.Hour)
	require.NoError(t, repo.UpsertLock(ctx, want))

	got, err := repo.LoadLocks(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want, got[0])
	assert.True(t, got[0].Active(want.ExpiresAt.Add(-time.Millisecond)))
}

func TestSQLiteLockRepository_UpsertReplaces(t *testing.T) {
	ctx := context.Background()
	repo := openTestSQLite(t)

	l := testLock(model.PlayerOwner(42), 509, 7)
	require.NoError(t, repo.UpsertLock(ctx, l))

	l.Completed = l.Completed.MarkCompleted(0)
	l.Carried = true
	require.NoError(t, repo.UpsertLock(ctx, l))

	got, err := repo.LoadLocks(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, lockout.EncounterMask(0b1001), got[0].Completed)
	assert.True(t, got[0].Carried)
}

func TestSQLiteLockRepository_FullMask(t *testing.T) {
	ctx := context.Background()
	repo := openTestSQLite(t)

	l := testLock(model.PlayerOwner(42), 509, 7)
	l.Completed = ^lockout.EncounterMask(0)
	require.NoError(t, repo.UpsertLock(ctx, l))

	got, err := repo.LoadLocks(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 64, got[0].Completed.Count(), "high bit survives the signed column")
}

func TestSQLiteLockRepository_Delete(t *testing.T) {
	ctx := context.Background()
	repo := openTestSQLite(t)

	l := testLock(model.PlayerOwner(42), 509, 7)
	require.NoError(t, repo.UpsertLock(ctx, l))
	require.NoError(t, repo.DeleteLock(ctx, l.Key))
	require.NoError(t, repo.DeleteLock(ctx, l.Key), "deleting a missing row is not an error")

	got, err := repo.LoadLocks(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteLockRepository_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "locks.db")

	repo, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	l := testLock(model.PlayerOwner(42), 509, 7)
	require.NoError(t, repo.UpsertLock(ctx, l))
	require.NoError(t, repo.Close())

	repo, err = OpenSQLite(ctx, path)
	require.NoError(t, err)
	defer repo.Close()

	got, err := repo.LoadLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []lockout.Lock{l}, got)
}

func TestSQLiteLockRepository_RegistryRestart(t *testing.T) {
	ctx := context.Background()
	repo := openTestSQLite(t)

	schedules := lockout.NewSchedules(time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC), lockout.WeeklySchedule)
	now := func() time.Time { return time.Date(2026, 1, 6, 9, 0, 0, 750_000_000, time.UTC) }

	persister := lockout.NewPersister(repo)
	reg := lockout.NewRegistry(schedules, persister, nil)
	reg.SetClock(now)

	key := model.LockKey{Owner: model.PlayerOwner(42), MapDifficulty: model.MapDifficulty{Map: 509, Difficulty: model.DifficultyHeroic}}
	_, err := reg.CreateOrReplaceLock(key, 7)
	require.NoError(t, err)
	_, _, err = reg.RecordEncounterCompletion(key, 3)
	require.NoError(t, err)
	_, err = reg.ExtendLock(key)
	require.NoError(t, err)
	require.NoError(t, persister.Flush(ctx))

	before, _ := reg.Find(key)

	restarted := lockout.NewRegistry(schedules, nil, nil)
	restarted.SetClock(now)
	maxID, err := restarted.Load(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceID(7), maxID)

	after, ok := restarted.FindActiveLock(key)
	require.True(t, ok)
	assert.Equal(t, before, after)
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite(context.Background(), "")
	assert.Error(t, err)
}

func TestOpenLockStore_SQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "locks.db")

	s, err := OpenLockStore(ctx, BackendSQLite, "", path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, BackendSQLite, s.Backend)
	locks, err := s.LoadLocks(ctx)
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestOpenLockStore_UnknownBackend(t *testing.T) {
	_, err := OpenLockStore(context.Background(), "redis", "", "")
	assert.ErrorContains(t, err, "unknown store backend")
}
