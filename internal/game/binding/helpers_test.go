package binding

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/lockout/internal/game/instance"
	"github.com/udisondev/lockout/internal/game/lockout"
	"github.com/udisondev/lockout/internal/model"
)

var testEpoch = time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC)

const (
	mapDungeon model.MapID = 509
	mapRaid    model.MapID = 631
	mapOther   model.MapID = 510
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []lockout.Event
}

func (r *recorder) Notify(e lockout.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) last(kind lockout.EventKind) (lockout.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind == kind {
			return r.events[i], true
		}
	}
	return lockout.Event{}, false
}

// fakeGroups is a GroupLookup over a fixed set of groups. When demoteAfter
// is set, Group reports the group leaderless after that many calls.
type fakeGroups struct {
	mu          sync.Mutex
	groups      map[model.GroupID]model.Group
	calls       int
	demoteAfter int
}

func newFakeGroups(groups ...model.Group) *fakeGroups {
	f := &fakeGroups{groups: make(map[model.GroupID]model.Group)}
	for _, g := range groups {
		f.groups[g.ID] = g
	}
	return f
}

func (f *fakeGroups) GroupOf(player model.PlayerID) (model.Group, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, g := range f.groups {
		if slices.Contains(g.Members, player) {
			return g, true
		}
	}
	return model.Group{}, false
}

func (f *fakeGroups) Group(id model.GroupID) (model.Group, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	g, ok := f.groups[id]
	if ok && f.demoteAfter > 0 && f.calls > f.demoteAfter {
		g.Leader = 0
	}
	return g, ok
}

func (f *fakeGroups) set(g model.Group) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups[g.ID] = g
}

type memStore struct {
	mu      sync.Mutex
	rows    map[model.LockKey]lockout.Lock
	loadErr error
}

func newMemStore(locks ...lockout.Lock) *memStore {
	s := &memStore{rows: make(map[model.LockKey]lockout.Lock)}
	for _, l := range locks {
		s.rows[l.Key] = l
	}
	return s
}

func (s *memStore) LoadLocks(context.Context) ([]lockout.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make([]lockout.Lock, 0, len(s.rows))
	for _, l := range s.rows {
		out = append(out, l)
	}
	return out, nil
}

func (s *memStore) UpsertLock(_ context.Context, l lockout.Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[l.Key] = l
	return nil
}

func (s *memStore) DeleteLock(_ context.Context, key model.LockKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, key)
	return nil
}

var errStoreDown = errors.New("store unavailable")

func dungeonTemplate(d model.Difficulty) *instance.Template {
	return &instance.Template{
		Map:        mapDungeon,
		Difficulty: d,
		Name:       "Halls of Testing",
		Kind:       instance.KindDungeon,
		MaxPlayers: 5,
		Encounters: 4,
		Resettable: true,
		Exit:       model.Location{X: 1, Y: 2, Z: 3},
		Spawns:     []instance.Spawn{{NpcID: 100, Encounter: 3}},
	}
}

func raidTemplate() *instance.Template {
	return &instance.Template{
		Map:           mapRaid,
		Difficulty:    model.DifficultyRaid25Normal,
		Name:          "Citadel of Testing",
		Kind:          instance.KindRaid,
		MaxPlayers:    25,
		Encounters:    12,
		Resettable:    true,
		GroupRequired: true,
	}
}

type testEnv struct {
	clock    *fakeClock
	events   *recorder
	groups   *fakeGroups
	bypass   map[model.PlayerID]bool
	locks    *lockout.Registry
	maps     *instance.Manager
	mgr      *Manager
	evictors []model.PlayerID
}

func newTestEnv(t *testing.T, cfg Config, groups ...model.Group) *testEnv {
	t.Helper()

	e := &testEnv{
		clock:  &fakeClock{now: testEpoch.Add(time.Hour)},
		events: &recorder{},
		groups: newFakeGroups(groups...),
		bypass: make(map[model.PlayerID]bool),
	}
	e.locks = lockout.NewRegistry(lockout.NewSchedules(testEpoch, lockout.WeeklySchedule), nil, e.events)
	e.maps = instance.NewManager(instance.Config{})
	e.maps.SetEvictor(instance.EvictorFunc(func(p model.PlayerID, _ model.InstanceRef, _ model.Location) {
		e.evictors = append(e.evictors, p)
	}))

	other := dungeonTemplate(model.DifficultyNormal)
	other.Map = mapOther
	for _, tmpl := range []*instance.Template{
		dungeonTemplate(model.DifficultyNormal),
		dungeonTemplate(model.DifficultyHeroic),
		other,
		raidTemplate(),
	} {
		require.NoError(t, e.maps.RegisterTemplate(tmpl))
	}

	perms := PermissionsFunc(func(p model.PlayerID) bool { return e.bypass[p] })
	e.mgr = NewManager(cfg, e.locks, e.maps, e.groups, perms, e.events)
	e.mgr.SetClock(e.clock.Now)
	return e
}

func (e *testEnv) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, e.maps.TickAll(context.Background(), e.clock.Now()))
}

// enter performs a full entry and waits for the instance to apply it.
func (e *testEnv) enter(t *testing.T, p model.PlayerID, mapID model.MapID, d model.Difficulty) model.InstanceRef {
	t.Helper()
	entry, err := e.mgr.Enter(p, mapID, d)
	require.NoError(t, err)
	require.True(t, entry.Decision.Allowed, entry.Decision.String())
	e.tick(t)
	require.NoError(t, <-entry.Done)
	return entry.Ref
}

func (e *testEnv) leave(t *testing.T, p model.PlayerID, ref model.InstanceRef) {
	t.Helper()
	ch := e.mgr.Leave(p, ref)
	e.tick(t)
	require.NoError(t, <-ch)
}

func (e *testEnv) kill(t *testing.T, ref model.InstanceRef, encounter uint8) {
	t.Helper()
	ch := e.mgr.UpdateEncounter(ref, encounter, instance.EncounterDone)
	e.tick(t)
	require.NoError(t, <-ch)
}

func playerKey(p model.PlayerID, mapID model.MapID, d model.Difficulty) model.LockKey {
	return model.LockKey{Owner: model.PlayerOwner(p), MapDifficulty: model.MapDifficulty{Map: mapID, Difficulty: d}}
}

func groupKey(g model.GroupID, mapID model.MapID, d model.Difficulty) model.LockKey {
	return model.LockKey{Owner: model.GroupOwner(g), MapDifficulty: model.MapDifficulty{Map: mapID, Difficulty: d}}
}
