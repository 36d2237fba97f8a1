package binding

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/lockout/internal/game/instance"
	"github.com/udisondev/lockout/internal/game/lockout"
	"github.com/udisondev/lockout/internal/model"
)

// First entry, first kill, sweep before and after expiry.
func TestManager_LockLifecycleScenario(t *testing.T) {
	e := newTestEnv(t, Config{})
	key := playerKey(42, mapDungeon, model.DifficultyHeroic)

	d := e.mgr.Validate(42, mapDungeon, model.DifficultyHeroic)
	require.True(t, d.Allowed)
	require.True(t, d.Fresh)
	newID := d.Instance

	ref := e.enter(t, 42, mapDungeon, model.DifficultyHeroic)
	assert.Equal(t, newID, ref.Instance)
	_, locked := e.locks.Find(key)
	assert.False(t, locked, "first-kill policy defers the lock")

	e.kill(t, ref, 3)
	lock, ok := e.locks.FindActiveLock(key)
	require.True(t, ok)
	assert.Equal(t, newID, lock.InstanceID)
	assert.Equal(t, lockout.EncounterMask(0b1000), lock.Completed)

	rep := e.mgr.Scheduler().Tick(e.clock.Now())
	assert.Zero(t, rep.Expired)
	unchanged, ok := e.locks.Find(key)
	require.True(t, ok)
	assert.Equal(t, lock, unchanged)

	e.leave(t, 42, ref)
	e.clock.Set(lock.ExpiresAt)
	rep = e.mgr.Scheduler().Tick(e.clock.Now())
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, 1, rep.Reset)

	_, ok = e.locks.Find(key)
	assert.False(t, ok)
	_, live := e.maps.FindInstance(ref)
	assert.False(t, live)
	assert.True(t, e.maps.IsRetired(ref), "instance was reset on expiry")

	ev, ok := e.events.last(lockout.EventLockExpired)
	require.True(t, ok)
	assert.Equal(t, key, ev.Key)

	next := e.mgr.Validate(42, mapDungeon, model.DifficultyHeroic)
	assert.True(t, next.Fresh)
	assert.NotEqual(t, newID, next.Instance)
}

func TestManager_RaidCreatesGroupLock(t *testing.T) {
	group := model.Group{ID: 5, Leader: 1, Members: []model.PlayerID{1, 2}, Raid: true}
	e := newTestEnv(t, Config{}, group)

	ref := e.enter(t, 1, mapRaid, model.DifficultyRaid25Normal)
	assert.Equal(t, ref, e.enter(t, 2, mapRaid, model.DifficultyRaid25Normal))

	e.kill(t, ref, 0)
	e.kill(t, ref, 5)

	for _, key := range []model.LockKey{
		playerKey(1, mapRaid, model.DifficultyRaid25Normal),
		playerKey(2, mapRaid, model.DifficultyRaid25Normal),
		groupKey(5, mapRaid, model.DifficultyRaid25Normal),
	} {
		l, ok := e.locks.FindActiveLock(key)
		require.True(t, ok, key.String())
		assert.Equal(t, ref.Instance, l.InstanceID)
		assert.Equal(t, lockout.EncounterMask(0b100001), l.Completed)
	}

	// A newcomer locked elsewhere cannot join the raid's instance.
	_, err := e.locks.CreateOrReplaceLock(playerKey(3, mapRaid, model.DifficultyRaid25Normal), ref.Instance+50)
	require.NoError(t, err)
	group.Members = append(group.Members, 3)
	e.groups.set(group)

	entry, err := e.mgr.Enter(3, mapRaid, model.DifficultyRaid25Normal)
	require.NoError(t, err)
	assert.Equal(t, Deny(DenyGroupLockMismatch), entry.Decision)
}

func TestManager_LockOnEnterPolicy(t *testing.T) {
	e := newTestEnv(t, Config{LockPolicy: instance.LockOnEnter})

	ref := e.enter(t, 42, mapDungeon, model.DifficultyNormal)
	l, ok := e.locks.FindActiveLock(playerKey(42, mapDungeon, model.DifficultyNormal))
	require.True(t, ok)
	assert.Equal(t, ref.Instance, l.InstanceID)
	assert.Zero(t, l.Completed)
}

func TestManager_TemplatePolicyOverridesDefault(t *testing.T) {
	e := newTestEnv(t, Config{LockPolicy: instance.LockOnEnter})
	tmpl, ok := e.maps.Template(model.MapDifficulty{Map: mapDungeon, Difficulty: model.DifficultyNormal})
	require.True(t, ok)
	tmpl.LockPolicy = instance.LockOnFirstKill

	e.enter(t, 42, mapDungeon, model.DifficultyNormal)
	_, ok = e.locks.Find(playerKey(42, mapDungeon, model.DifficultyNormal))
	assert.False(t, ok)
}

func TestManager_EnterCreationFailure(t *testing.T) {
	e := newTestEnv(t, Config{})
	e.maps = instance.NewManager(instance.Config{MaxInstances: 1})
	e.mgr = NewManager(Config{}, e.locks, e.maps, e.groups, nil, e.events)
	e.mgr.SetClock(e.clock.Now)
	require.NoError(t, e.maps.RegisterTemplate(dungeonTemplate(model.DifficultyNormal)))
	require.NoError(t, e.maps.RegisterTemplate(dungeonTemplate(model.DifficultyHeroic)))

	e.enter(t, 1, mapDungeon, model.DifficultyNormal)

	_, err := e.mgr.Enter(2, mapDungeon, model.DifficultyHeroic)
	assert.ErrorIs(t, err, instance.ErrInstanceCreationFailed)
	assert.ErrorIs(t, err, instance.ErrInstanceLimit)
}

func TestManager_DeleteOwner(t *testing.T) {
	e := newTestEnv(t, Config{})
	ref := e.enter(t, 42, mapDungeon, model.DifficultyHeroic)
	e.kill(t, ref, 0)
	e.leave(t, 42, ref)

	e.mgr.DeleteOwner(model.PlayerOwner(42))

	assert.Empty(t, e.mgr.ListLocks(model.PlayerOwner(42)))
	_, live := e.maps.FindInstance(ref)
	assert.False(t, live, "orphaned empty instance released")
	assert.False(t, e.maps.IsRetired(ref))
}

func TestManager_ExtendLock(t *testing.T) {
	e := newTestEnv(t, Config{})
	key := playerKey(42, mapDungeon, model.DifficultyHeroic)

	_, err := e.mgr.ExtendLock(key)
	assert.ErrorIs(t, err, lockout.ErrLockNotFound)

	ref := e.enter(t, 42, mapDungeon, model.DifficultyHeroic)
	e.kill(t, ref, 1)
	e.leave(t, 42, ref)

	l, err := e.mgr.ExtendLock(key)
	require.NoError(t, err)
	assert.True(t, l.Extended)

	e.clock.Set(l.ExpiresAt)
	rep := e.mgr.Scheduler().Tick(e.clock.Now())
	assert.Zero(t, rep.Expired)
	assert.Zero(t, rep.Reset)

	carried, ok := e.mgr.ShowLock(key)
	require.True(t, ok)
	assert.False(t, carried.Extended)
	assert.True(t, carried.Carried)
	assert.Equal(t, l.ExpiresAt.Add(7*24*time.Hour), carried.ExpiresAt)
	_, live := e.maps.FindInstance(ref)
	assert.True(t, live, "extended lock keeps its instance")
}

func TestManager_Load(t *testing.T) {
	e := newTestEnv(t, Config{})
	persisted := lockout.Lock{
		Key:        playerKey(42, mapDungeon, model.DifficultyHeroic),
		InstanceID: 900,
		Completed:  0b101,
		CreatedAt:  testEpoch,
		ExpiresAt:  testEpoch.Add(7 * 24 * time.Hour),
	}

	require.NoError(t, e.mgr.Load(context.Background(), newMemStore(persisted)))
	assert.Equal(t, model.InstanceID(901), e.maps.AllocateInstanceID())
	assert.Equal(t, Allow(900), e.mgr.Validate(42, mapDungeon, model.DifficultyHeroic))
}

func TestManager_LoadFailureIsFatal(t *testing.T) {
	e := newTestEnv(t, Config{})
	store := newMemStore()
	store.loadErr = errStoreDown

	err := e.mgr.Load(context.Background(), store)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	e := newTestEnv(t, Config{TickInterval: time.Millisecond, ResetInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.mgr.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
}
