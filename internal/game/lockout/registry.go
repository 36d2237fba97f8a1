package lockout

import (
	"cmp"
	"context"
	"fmt"
	"hash/maphash"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/udisondev/lockout/internal/model"
)

// stripeCount is the number of mutation buckets. Every key maps to one
// stripe; all mutations of a key run under that stripe.
const stripeCount = 64

// Registry is the authoritative in-memory index of instance locks.
// At most one lock exists per (owner, map, difficulty).
//
// Thread-safe. Mutations of the same key are strictly ordered: the key's
// stripe is held across the state change, the persistence enqueue and the
// notification, so the store and the client see them in the same order.
type Registry struct {
	mu      sync.RWMutex
	locks   map[model.LockKey]*Lock
	byRef   map[model.InstanceRef]map[model.LockKey]struct{}
	byOwner map[model.Owner]map[model.LockKey]struct{}

	stripes [stripeCount]sync.Mutex
	seed    maphash.Seed

	schedules *Schedules
	sink      Sink
	notifier  Notifier
	now       func() time.Time
}

// NewRegistry creates an empty registry. sink and notifier may be nil.
func NewRegistry(schedules *Schedules, sink Sink, notifier Notifier) *Registry {
	if sink == nil {
		sink = NopSink
	}
	if notifier == nil {
		notifier = Discard
	}
	return &Registry{
		locks:     make(map[model.LockKey]*Lock, 256),
		byRef:     make(map[model.InstanceRef]map[model.LockKey]struct{}, 64),
		byOwner:   make(map[model.Owner]map[model.LockKey]struct{}, 128),
		seed:      maphash.MakeSeed(),
		schedules: schedules,
		sink:      sink,
		notifier:  notifier,
		now:       time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Schedules returns the reset schedule table.
func (r *Registry) Schedules() *Schedules { return r.schedules }

func (r *Registry) stripe(key model.LockKey) *sync.Mutex {
	return &r.stripes[maphash.Comparable(r.seed, key)%stripeCount]
}

func validKey(key model.LockKey) error {
	if key.Owner.IsZero() || key.Map == 0 || key.Difficulty == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	return nil
}

// Load replaces the registry contents with the store's locks.
// Returns the highest instance id seen so the id counter can be seeded past it.
// A store failure here must abort startup: running with no locks would hand
// every player a fresh instance.
func (r *Registry) Load(ctx context.Context, store Store) (model.InstanceID, error) {
	locks, err := store.LoadLocks(ctx)
	if err != nil {
		return 0, fmt.Errorf("load instance locks: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	clear(r.locks)
	clear(r.byRef)
	clear(r.byOwner)

	var maxID model.InstanceID
	for _, l := range locks {
		if validKey(l.Key) != nil {
			slog.Warn("skipping invalid persisted lock", "key", l.Key.String())
			continue
		}
		r.insertLocked(l)
		maxID = max(maxID, l.InstanceID)
	}

	slog.Info("instance locks loaded", "count", len(r.locks), "maxInstanceID", maxID)
	return maxID, nil
}

// FindActiveLock returns the lock for key if it exists and has not expired.
// Expired locks are reported absent even before the sweep removes them.
func (r *Registry) FindActiveLock(key model.LockKey) (Lock, bool) {
	now := r.now()
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.locks[key]
	if !ok || l.Expired(now) {
		return Lock{}, false
	}
	return *l, true
}

// Find returns the lock for key regardless of expiry.
func (r *Registry) Find(key model.LockKey) (Lock, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.locks[key]
	if !ok {
		return Lock{}, false
	}
	return *l, true
}

// CreateOrReplaceLock binds key's owner to instanceID.
//
// An active lock bound to the same instance is returned unchanged. An active
// lock bound to a different instance yields ErrLockConflict unless it is a
// carried lock. Expired locks are replaced by a fresh one.
func (r *Registry) CreateOrReplaceLock(key model.LockKey, instanceID model.InstanceID) (Lock, error) {
	if err := validKey(key); err != nil {
		return Lock{}, err
	}
	if instanceID == 0 {
		return Lock{}, fmt.Errorf("%w: zero instance id for %s", ErrInvalidKey, key)
	}

	s := r.stripe(key)
	s.Lock()
	defer s.Unlock()

	now := r.now()

	r.mu.Lock()
	if existing, ok := r.locks[key]; ok && existing.Active(now) {
		if existing.InstanceID == instanceID {
			l := *existing
			r.mu.Unlock()
			return l, nil
		}
		if !existing.Carried {
			bound := existing.InstanceID
			r.mu.Unlock()
			return Lock{}, fmt.Errorf("%w: %s bound to %d, requested %d", ErrLockConflict, key, bound, instanceID)
		}
	}
	r.removeLocked(key)
	l := Lock{
		Key:        key,
		InstanceID: instanceID,
		CreatedAt:  now,
		ExpiresAt:  r.schedules.Expiry(key.MapDifficulty, now),
	}
	r.insertLocked(l)
	r.mu.Unlock()

	r.sink.Upsert(l)

	ev := NewEvent(EventLockCreated, now, key, instanceID)
	ev.ExpiresAt = l.ExpiresAt
	r.notifier.Notify(ev)

	slog.Debug("instance lock created",
		"key", key.String(),
		"instanceID", instanceID,
		"expiresAt", l.ExpiresAt)
	return l, nil
}

// RecordEncounterCompletion sets encounter bit i on key's lock.
// Setting an already-set bit is a no-op and reports changed=false.
func (r *Registry) RecordEncounterCompletion(key model.LockKey, i uint8) (lock Lock, changed bool, err error) {
	if err := validEncounter(i); err != nil {
		return Lock{}, false, err
	}

	s := r.stripe(key)
	s.Lock()
	defer s.Unlock()

	now := r.now()

	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok || l.Expired(now) {
		r.mu.Unlock()
		return Lock{}, false, fmt.Errorf("%w: %s", ErrLockNotFound, key)
	}
	if l.Completed.HasCompleted(i) {
		snap := *l
		r.mu.Unlock()
		return snap, false, nil
	}
	l.Completed = l.Completed.MarkCompleted(i)
	snap := *l
	r.mu.Unlock()

	r.sink.Upsert(snap)

	ev := NewEvent(EventEncounterCompleted, now, key, snap.InstanceID)
	ev.Encounter = i
	ev.Completed = snap.Completed
	r.notifier.Notify(ev)
	return snap, true, nil
}

// ExtendLock opts key's lock into surviving the next reset once.
func (r *Registry) ExtendLock(key model.LockKey) (Lock, error) {
	return r.setExtended(key, true)
}

// CancelExtension withdraws a pending extension.
func (r *Registry) CancelExtension(key model.LockKey) (Lock, error) {
	return r.setExtended(key, false)
}

func (r *Registry) setExtended(key model.LockKey, extended bool) (Lock, error) {
	s := r.stripe(key)
	s.Lock()
	defer s.Unlock()

	now := r.now()

	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok || l.Expired(now) {
		r.mu.Unlock()
		return Lock{}, fmt.Errorf("%w: %s", ErrLockNotFound, key)
	}
	if l.Extended == extended {
		snap := *l
		r.mu.Unlock()
		return snap, nil
	}
	l.Extended = extended
	snap := *l
	r.mu.Unlock()

	r.sink.Upsert(snap)
	if extended {
		ev := NewEvent(EventLockExtended, now, key, snap.InstanceID)
		ev.ExpiresAt = snap.ExpiresAt
		r.notifier.Notify(ev)
	}
	return snap, nil
}

// ExpireAndSweep removes every lock whose expiry is at or before now and
// that is not extended. Extended locks instead consume their extension:
// the flag is cleared and the expiry advances by one period.
// Returns the removed locks so their instances can be reset.
func (r *Registry) ExpireAndSweep(now time.Time) []Lock {
	r.mu.RLock()
	candidates := make([]model.LockKey, 0, 16)
	for key, l := range r.locks {
		if l.Expired(now) {
			candidates = append(candidates, key)
		}
	}
	r.mu.RUnlock()

	var removed []Lock
	for _, key := range candidates {
		if l, ok := r.sweepOne(key, now); ok {
			removed = append(removed, l)
		}
	}

	if len(candidates) > 0 {
		slog.Debug("lock sweep finished",
			"candidates", len(candidates),
			"removed", len(removed))
	}
	return removed
}

func (r *Registry) sweepOne(key model.LockKey, now time.Time) (Lock, bool) {
	s := r.stripe(key)
	s.Lock()
	defer s.Unlock()

	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok || !l.Expired(now) {
		// Replaced or already gone since the scan.
		r.mu.Unlock()
		return Lock{}, false
	}

	if l.Extended {
		sched := r.schedules.For(key.MapDifficulty)
		l.Extended = false
		l.Carried = true
		l.ExpiresAt = sched.Advance(l.ExpiresAt)
		snap := *l
		r.mu.Unlock()

		r.sink.Upsert(snap)
		slog.Debug("lock extension consumed",
			"key", key.String(),
			"expiresAt", snap.ExpiresAt)
		return Lock{}, false
	}

	snap := *l
	r.removeLocked(key)
	r.mu.Unlock()

	r.sink.Delete(key)

	ev := NewEvent(EventLockExpired, now, key, snap.InstanceID)
	ev.Completed = snap.Completed
	r.notifier.Notify(ev)
	return snap, true
}

// DeleteLock removes key's lock, if any.
func (r *Registry) DeleteLock(key model.LockKey) (Lock, bool) {
	s := r.stripe(key)
	s.Lock()
	defer s.Unlock()

	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		r.mu.Unlock()
		return Lock{}, false
	}
	snap := *l
	r.removeLocked(key)
	r.mu.Unlock()

	r.sink.Delete(key)
	return snap, true
}

// DeleteLockIfBound removes key's lock only while it is still bound to ref.
func (r *Registry) DeleteLockIfBound(key model.LockKey, ref model.InstanceRef) (Lock, bool) {
	s := r.stripe(key)
	s.Lock()
	defer s.Unlock()

	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok || l.Ref() != ref {
		r.mu.Unlock()
		return Lock{}, false
	}
	snap := *l
	r.removeLocked(key)
	r.mu.Unlock()

	r.sink.Delete(key)
	return snap, true
}

// DeleteLocksForOwner removes every lock of owner, e.g. on character deletion.
// Returns the instances left with no lock referencing them.
func (r *Registry) DeleteLocksForOwner(owner model.Owner) []model.InstanceRef {
	r.mu.RLock()
	keys := make([]model.LockKey, 0, len(r.byOwner[owner]))
	for key := range r.byOwner[owner] {
		keys = append(keys, key)
	}
	r.mu.RUnlock()

	var orphans []model.InstanceRef
	for _, key := range keys {
		l, ok := r.DeleteLock(key)
		if !ok {
			continue
		}
		if r.Referents(l.Ref()) == 0 && !slices.Contains(orphans, l.Ref()) {
			orphans = append(orphans, l.Ref())
		}
	}

	if len(keys) > 0 {
		slog.Info("owner locks deleted",
			"owner", owner.String(),
			"count", len(keys),
			"orphanedInstances", len(orphans))
	}
	return orphans
}

// Referents returns how many locks are bound to ref, expired or not.
func (r *Registry) Referents(ref model.InstanceRef) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRef[ref])
}

// BoundTo returns the keys of every lock bound to ref.
func (r *Registry) BoundTo(ref model.InstanceRef) []model.LockKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]model.LockKey, 0, len(r.byRef[ref]))
	for key := range r.byRef[ref] {
		keys = append(keys, key)
	}
	return keys
}

// Refs returns every instance some lock is bound to.
func (r *Registry) Refs() []model.InstanceRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]model.InstanceRef, 0, len(r.byRef))
	for ref := range r.byRef {
		refs = append(refs, ref)
	}
	return refs
}

// LocksFor returns all locks of owner, sorted by map and difficulty.
func (r *Registry) LocksFor(owner model.Owner) []Lock {
	r.mu.RLock()
	result := make([]Lock, 0, len(r.byOwner[owner]))
	for key := range r.byOwner[owner] {
		result = append(result, *r.locks[key])
	}
	r.mu.RUnlock()

	slices.SortFunc(result, func(a, b Lock) int {
		if c := cmp.Compare(a.Key.Map, b.Key.Map); c != 0 {
			return c
		}
		return cmp.Compare(a.Key.Difficulty, b.Key.Difficulty)
	})
	return result
}

// Len returns the number of locks, including expired ones not yet swept.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.locks)
}

// insertLocked must be called with mu held for writing.
func (r *Registry) insertLocked(l Lock) {
	lp := &l
	r.locks[l.Key] = lp

	ref := l.Ref()
	if r.byRef[ref] == nil {
		r.byRef[ref] = make(map[model.LockKey]struct{}, 4)
	}
	r.byRef[ref][l.Key] = struct{}{}

	if r.byOwner[l.Key.Owner] == nil {
		r.byOwner[l.Key.Owner] = make(map[model.LockKey]struct{}, 4)
	}
	r.byOwner[l.Key.Owner][l.Key] = struct{}{}
}

// removeLocked must be called with mu held for writing.
func (r *Registry) removeLocked(key model.LockKey) {
	l, ok := r.locks[key]
	if !ok {
		return
	}
	delete(r.locks, key)

	ref := l.Ref()
	if set := r.byRef[ref]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(r.byRef, ref)
		}
	}
	if set := r.byOwner[key.Owner]; set != nil {
		delete(set, key)
		if len(set) == 0 {
			delete(r.byOwner, key.Owner)
		}
	}
}
