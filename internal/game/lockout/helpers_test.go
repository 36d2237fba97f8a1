package lockout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/udisondev/lockout/internal/model"
)

var testEpoch = time.Date(2026, 1, 6, 8, 0, 0, 0, time.UTC)

// mockStore implements Store in memory.
type mockStore struct {
	mu      sync.Mutex
	rows    map[model.LockKey]Lock
	failing bool
	loadErr error
	writes  int
}

func newMockStore() *mockStore {
	return &mockStore{rows: make(map[model.LockKey]Lock)}
}

func (s *mockStore) LoadLocks(_ context.Context) ([]Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	result := make([]Lock, 0, len(s.rows))
	for _, l := range s.rows {
		result = append(result, l)
	}
	return result, nil
}

func (s *mockStore) UpsertLock(_ context.Context, l Lock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failing {
		return errors.New("store unavailable")
	}
	s.rows[l.Key] = l
	return nil
}

func (s *mockStore) DeleteLock(_ context.Context, key model.LockKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failing {
		return errors.New("store unavailable")
	}
	delete(s.rows, key)
	return nil
}

func (s *mockStore) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

func (s *mockStore) get(key model.LockKey) (Lock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.rows[key]
	return l, ok
}

// recorder collects notifications.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

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

func testKey(owner uint32, mapID model.MapID, diff model.Difficulty) model.LockKey {
	return model.LockKey{
		Owner:         model.PlayerOwner(model.PlayerID(owner)),
		MapDifficulty: model.MapDifficulty{Map: mapID, Difficulty: diff},
	}
}

func newTestRegistry(t *testing.T, sink Sink, notifier Notifier) (*Registry, *fakeClock) {
	t.Helper()
	clock := newFakeClock(testEpoch.Add(time.Hour))
	r := NewRegistry(NewSchedules(testEpoch, WeeklySchedule), sink, notifier)
	r.SetClock(clock.Now)
	return r, clock
}
