package lockout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udisondev/lockout/internal/model"
)

func TestPersister_CoalescesPerKey(t *testing.T) {
	store := newMockStore()
	p := NewPersister(store)
	key := testKey(1, 509, model.DifficultyHeroic)

	p.Upsert(Lock{Key: key, InstanceID: 7})
	p.Upsert(Lock{Key: key, InstanceID: 7, Completed: 0b1})
	p.Upsert(Lock{Key: key, InstanceID: 7, Completed: 0b11})
	assert.Equal(t, 1, p.Pending())

	require.NoError(t, p.Flush(context.Background()))
	assert.Equal(t, 1, store.writes)

	got, ok := store.get(key)
	require.True(t, ok)
	assert.Equal(t, EncounterMask(0b11), got.Completed)
}

func TestPersister_DeleteWins(t *testing.T) {
	store := newMockStore()
	p := NewPersister(store)
	key := testKey(1, 509, model.DifficultyHeroic)

	p.Upsert(Lock{Key: key, InstanceID: 7})
	require.NoError(t, p.Flush(context.Background()))

	p.Upsert(Lock{Key: key, InstanceID: 7, Completed: 0b1})
	p.Delete(key)
	require.NoError(t, p.Flush(context.Background()))

	_, ok := store.get(key)
	assert.False(t, ok)
}

func TestPersister_RetriesFailedWrites(t *testing.T) {
	store := newMockStore()
	store.setFailing(true)
	p := NewPersister(store)
	p.SetRetry(time.Millisecond, 3)
	key := testKey(1, 509, model.DifficultyHeroic)

	p.Upsert(Lock{Key: key, InstanceID: 7})
	assert.Error(t, p.Flush(context.Background()))
	assert.Equal(t, 1, p.Pending(), "failed write is requeued")

	store.setFailing(false)
	require.NoError(t, p.Flush(context.Background()))
	assert.Zero(t, p.Pending())
	_, ok := store.get(key)
	assert.True(t, ok)
}

func TestPersister_DropsAfterMaxAttempts(t *testing.T) {
	store := newMockStore()
	store.setFailing(true)
	p := NewPersister(store)
	p.SetRetry(time.Millisecond, 2)

	p.Upsert(Lock{Key: testKey(1, 509, model.DifficultyHeroic), InstanceID: 7})
	assert.Error(t, p.Flush(context.Background()))
	assert.Error(t, p.Flush(context.Background()))
	assert.Zero(t, p.Pending())
}

func TestPersister_RunFlushesOnShutdown(t *testing.T) {
	store := newMockStore()
	p := NewPersister(store)
	key := testKey(1, 509, model.DifficultyHeroic)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	p.Upsert(Lock{Key: key, InstanceID: 7})
	require.Eventually(t, func() bool {
		_, ok := store.get(key)
		return ok
	}, time.Second, 5*time.Millisecond)

	p.Upsert(Lock{Key: key, InstanceID: 7, Completed: 0b1})
	cancel()
	require.NoError(t, <-done)

	got, ok := store.get(key)
	require.True(t, ok)
	assert.Equal(t, EncounterMask(0b1), got.Completed)
}

// gatedStore holds the first upsert until release is closed.
type gatedStore struct {
	*mockStore
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *gatedStore) UpsertLock(ctx context.Context, l Lock) error {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.mockStore.UpsertLock(ctx, l)
}

func TestPersister_ConcurrentFlushesApplyInOrder(t *testing.T) {
	store := &gatedStore{
		mockStore: newMockStore(),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	p := NewPersister(store)
	key := testKey(1, 509, model.DifficultyHeroic)
	ctx := context.Background()

	p.Upsert(Lock{Key: key, InstanceID: 7})
	first := make(chan error, 1)
	go func() { first <- p.Flush(ctx) }()
	<-store.entered

	p.Delete(key)
	second := make(chan error, 1)
	go func() { second <- p.Flush(ctx) }()

	assert.Never(t, func() bool { return len(second) > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"a later batch waits for the one in flight")

	close(store.release)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	_, ok := store.get(key)
	assert.False(t, ok)
}
