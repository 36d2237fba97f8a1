package instance

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/lockout/internal/model"
)

var testNow = time.Date(2026, 1, 6, 9, 0, 0, 0, time.UTC)

func testTemplate(mapID model.MapID, d model.Difficulty) *Template {
	return &Template{
		Map:        mapID,
		Difficulty: d,
		Name:       "Halls of Testing",
		Kind:       KindDungeon,
		MaxPlayers: 5,
		Encounters: 4,
		Resettable: true,
		Exit:       model.Location{X: 100, Y: 200, Z: -10},
		Spawns: []Spawn{
			{NpcID: 1001, Encounter: 0},
			{NpcID: 1002, Encounter: 0},
			{NpcID: 1003, Encounter: 3},
			{NpcID: 2000, Encounter: -1},
		},
	}
}

func newTestInstance(t *testing.T) *Instance {
	t.Helper()
	inst := newInstance(model.InstanceRef{Map: 509, Instance: 7}, testTemplate(509, model.DifficultyHeroic), testNow, time.Minute)
	var ids atomic.Uint32
	inst.seed(&ids)
	return inst
}

// tickReply ticks once and returns the reply to a queued intent.
func tickReply(t *testing.T, inst *Instance, ch <-chan error) error {
	t.Helper()
	inst.Tick(testNow)
	select {
	case err := <-ch:
		return err
	default:
		t.Fatal("intent not applied by tick")
		return nil
	}
}

func TestInstance_New(t *testing.T) {
	inst := newTestInstance(t)

	assert.Equal(t, model.InstanceID(7), inst.ID())
	assert.Equal(t, model.MapID(509), inst.MapID())
	assert.Equal(t, model.DifficultyHeroic, inst.Difficulty())
	assert.Equal(t, StateCreated, inst.State())
	assert.Zero(t, inst.PlayerCount())
	assert.Equal(t, 4, inst.NpcCount())
}

func TestInstance_EnterLeave(t *testing.T) {
	inst := newTestInstance(t)

	ch := inst.Enter(1)
	assert.False(t, inst.HasPlayer(1), "entry is applied on tick")
	require.NoError(t, tickReply(t, inst, ch))
	assert.True(t, inst.HasPlayer(1))
	assert.Equal(t, StateActive, inst.State())

	assert.ErrorIs(t, tickReply(t, inst, inst.Enter(1)), ErrAlreadyInInstance)

	require.NoError(t, tickReply(t, inst, inst.Enter(2)))
	assert.Equal(t, []model.PlayerID{1, 2}, inst.Players())

	require.NoError(t, tickReply(t, inst, inst.Leave(1)))
	assert.Equal(t, StateActive, inst.State())
	require.NoError(t, tickReply(t, inst, inst.Leave(2)))
	assert.Equal(t, StateIdle, inst.State())

	assert.ErrorIs(t, tickReply(t, inst, inst.Leave(2)), ErrNotInInstance)
}

func TestInstance_Full(t *testing.T) {
	inst := newTestInstance(t)
	for p := model.PlayerID(1); p <= 5; p++ {
		require.NoError(t, tickReply(t, inst, inst.Enter(p)))
	}
	assert.ErrorIs(t, tickReply(t, inst, inst.Enter(6)), ErrInstanceFull)
}

func TestInstance_IntentsAppliedInOrder(t *testing.T) {
	inst := newTestInstance(t)

	enter := inst.Enter(1)
	leave := inst.Leave(1)
	inst.Tick(testNow)

	assert.NoError(t, <-enter)
	assert.NoError(t, <-leave)
	assert.False(t, inst.HasPlayer(1))
}

func TestInstance_EncounterCompletion(t *testing.T) {
	inst := newTestInstance(t)
	inst.BindGroup(3)
	inst.BindGroup(4)
	require.NoError(t, tickReply(t, inst, inst.Enter(1)))

	require.NoError(t, tickReply(t, inst, inst.SetEncounterState(0, EncounterInProgress)))
	assert.True(t, inst.EncounterInProgress())

	done := inst.SetEncounterState(0, EncounterDone)
	res := inst.Tick(testNow)
	require.NoError(t, <-done)

	require.Len(t, res.Completions, 1)
	c := res.Completions[0]
	assert.Equal(t, uint8(0), c.Encounter)
	assert.Equal(t, []model.PlayerID{1}, c.Players)
	assert.Equal(t, model.GroupID(3), c.Group, "first bound group wins")
	assert.Equal(t, model.InstanceRef{Map: 509, Instance: 7}, c.Ref)

	assert.False(t, inst.EncounterInProgress())
	assert.Equal(t, 2, inst.NpcCount(), "encounter npcs despawned")

	assert.ErrorIs(t, tickReply(t, inst, inst.SetEncounterState(0, EncounterDone)), ErrEncounterAlreadyDone)
	assert.ErrorIs(t, tickReply(t, inst, inst.SetEncounterState(4, EncounterDone)), ErrInvalidEncounter)
}

func TestInstance_IdleExpiry(t *testing.T) {
	inst := newTestInstance(t)

	assert.False(t, inst.Tick(testNow.Add(59*time.Second)).IdleExpired)
	assert.True(t, inst.Tick(testNow.Add(time.Minute)).IdleExpired)

	require.NoError(t, tickReply(t, inst, inst.Enter(1)))
	assert.False(t, inst.Tick(testNow.Add(time.Hour)).IdleExpired, "occupied instance never idles out")
}

func TestInstance_TryReset(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		inst := newTestInstance(t)
		outcome, evicted, err := inst.tryReset(MethodManual, nil)
		require.NoError(t, err)
		assert.Equal(t, ResetSuccess, outcome)
		assert.Empty(t, evicted)
		assert.Equal(t, StateDestroyed, inst.State())
		assert.Zero(t, inst.NpcCount())
	})

	t.Run("occupied", func(t *testing.T) {
		inst := newTestInstance(t)
		require.NoError(t, tickReply(t, inst, inst.Enter(1)))
		outcome, _, err := inst.tryReset(MethodManual, nil)
		require.NoError(t, err)
		assert.Equal(t, ResetNotEmpty, outcome)
		assert.Equal(t, StateActive, inst.State())
	})

	t.Run("pending entry counts as occupant", func(t *testing.T) {
		inst := newTestInstance(t)
		inst.Enter(1)
		outcome, _, err := inst.tryReset(MethodOnChangeDifficulty, nil)
		require.NoError(t, err)
		assert.Equal(t, ResetNotEmpty, outcome)
	})

	t.Run("encounter in progress", func(t *testing.T) {
		inst := newTestInstance(t)
		require.NoError(t, tickReply(t, inst, inst.SetEncounterState(1, EncounterInProgress)))
		outcome, _, err := inst.tryReset(MethodManual, nil)
		require.NoError(t, err)
		assert.Equal(t, ResetCannotReset, outcome)
	})

	t.Run("not resettable by hand", func(t *testing.T) {
		inst := newTestInstance(t)
		inst.tmpl.Resettable = false
		outcome, _, _ := inst.tryReset(MethodManual, nil)
		assert.Equal(t, ResetCannotReset, outcome)

		outcome, _, _ = inst.tryReset(MethodOnExpiry, nil)
		assert.Equal(t, ResetSuccess, outcome)
	})

	t.Run("force evicts", func(t *testing.T) {
		inst := newTestInstance(t)
		require.NoError(t, tickReply(t, inst, inst.Enter(2)))
		require.NoError(t, tickReply(t, inst, inst.Enter(1)))
		require.NoError(t, tickReply(t, inst, inst.SetEncounterState(1, EncounterInProgress)))
		pending := inst.Enter(3)

		outcome, evicted, err := inst.tryReset(MethodForce, nil)
		require.NoError(t, err)
		assert.Equal(t, ResetSuccess, outcome)
		assert.Equal(t, []model.PlayerID{1, 2}, evicted)
		assert.ErrorIs(t, <-pending, ErrInstanceDestroyed)
		assert.ErrorIs(t, <-inst.Enter(4), ErrInstanceDestroyed)
	})

	t.Run("guard aborts", func(t *testing.T) {
		inst := newTestInstance(t)
		_, _, err := inst.tryReset(MethodManual, func() bool { return false })
		assert.ErrorIs(t, err, ErrResetAborted)
		assert.Equal(t, StateCreated, inst.State())
	})
}

func TestInstance_DestroyIfIdle(t *testing.T) {
	inst := newTestInstance(t)
	require.NoError(t, tickReply(t, inst, inst.Enter(1)))
	assert.False(t, inst.destroyIfIdle())

	require.NoError(t, tickReply(t, inst, inst.Leave(1)))
	assert.True(t, inst.destroyIfIdle())
	assert.Equal(t, StateDestroyed, inst.State())
}
