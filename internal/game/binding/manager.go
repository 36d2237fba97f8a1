// Package binding ties players and groups to instances: entry validation,
// lock creation from encounter progress and the reset scheduler.
//
// Manager wires the lock registry and the map registry together; it is
// constructed once by the process root and handed to session and admin code.
package binding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/lockout/internal/game/instance"
	"github.com/udisondev/lockout/internal/game/lockout"
	"github.com/udisondev/lockout/internal/model"
)

// Config tunes the manager.
type Config struct {
	// LockPolicy is used by templates that do not set their own.
	LockPolicy       instance.LockPolicy
	InstancesPerHour int
	TickInterval     time.Duration
	ResetInterval    time.Duration
}

// DefaultTickInterval is the default world tick period for live instances.
const DefaultTickInterval = 100 * time.Millisecond

// Entry is an accepted entry request. Done reports once the instance has
// applied the entry on its tick.
type Entry struct {
	Decision Decision
	Ref      model.InstanceRef
	Done     <-chan error
}

// Manager is the entry point for the instance/lock core.
// Thread-safe.
type Manager struct {
	locks     *lockout.Registry
	maps      *instance.Manager
	resolver  *Resolver
	scheduler *ResetScheduler
	groups    GroupLookup
	notifier  lockout.Notifier

	policy        instance.LockPolicy
	tickInterval  time.Duration
	resetInterval time.Duration
}

// NewManager wires the registries together. The manager installs itself as
// the encounter and destroy handler of maps.
func NewManager(cfg Config, locks *lockout.Registry, maps *instance.Manager, groups GroupLookup, perms Permissions, notifier lockout.Notifier) *Manager {
	if groups == nil {
		groups = NoGroups
	}
	if notifier == nil {
		notifier = lockout.Discard
	}
	if cfg.LockPolicy == instance.LockPolicyDefault {
		cfg.LockPolicy = instance.LockOnFirstKill
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.ResetInterval <= 0 {
		cfg.ResetInterval = DefaultResetCheckInterval
	}

	resolver := NewResolver(locks, maps, perms, cfg.InstancesPerHour)
	m := &Manager{
		locks:         locks,
		maps:          maps,
		resolver:      resolver,
		scheduler:     NewResetScheduler(locks, maps, resolver, groups, perms, notifier),
		groups:        groups,
		notifier:      notifier,
		policy:        cfg.LockPolicy,
		tickInterval:  cfg.TickInterval,
		resetInterval: cfg.ResetInterval,
	}
	maps.SetEncounterHandler(m.onEncounterCompleted)
	maps.SetDestroyHandler(func(ref model.InstanceRef, _ instance.DestroyReason) {
		resolver.ForgetInstance(ref)
	})
	return m
}

// SetClock replaces the time source of every component. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.locks.SetClock(now)
	m.maps.SetClock(now)
	m.resolver.SetClock(now)
	m.scheduler.SetClock(now)
}

// Locks returns the lock registry.
func (m *Manager) Locks() *lockout.Registry { return m.locks }

// Maps returns the map registry.
func (m *Manager) Maps() *instance.Manager { return m.maps }

// Resolver returns the entry resolver.
func (m *Manager) Resolver() *Resolver { return m.resolver }

// Scheduler returns the reset scheduler.
func (m *Manager) Scheduler() *ResetScheduler { return m.scheduler }

// Load restores persisted locks and seeds the instance id counter above them.
// A failure here must abort startup: running with no locks would hand
// everyone fresh instances.
func (m *Manager) Load(ctx context.Context, store lockout.Store) error {
	maxID, err := m.locks.Load(ctx, store)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	m.maps.SeedInstanceIDs(maxID)
	return nil
}

// Validate checks whether player may enter without entering.
func (m *Manager) Validate(player model.PlayerID, mapID model.MapID, difficulty model.Difficulty) Decision {
	g, inGroup := m.groups.GroupOf(player)
	if !inGroup {
		return m.resolver.Validate(player, nil, mapID, difficulty)
	}
	return m.resolver.Validate(player, &g, mapID, difficulty)
}

// Enter validates the request and queues the player into the resolved
// instance, creating it if needed. A denial is returned as a Decision with a
// nil error; an error means the instance could not be created or bound.
func (m *Manager) Enter(player model.PlayerID, mapID model.MapID, difficulty model.Difficulty) (Entry, error) {
	g, inGroup := m.groups.GroupOf(player)
	var group *model.Group
	if inGroup {
		group = &g
	}

	d := m.resolver.Validate(player, group, mapID, difficulty)
	if !d.Allowed {
		return Entry{Decision: d}, nil
	}

	ref := model.InstanceRef{Map: mapID, Instance: d.Instance}
	inst, err := m.maps.FindOrCreateInstance(ref, difficulty)
	if err != nil {
		return Entry{Decision: d, Ref: ref}, fmt.Errorf("enter %s: %w", ref, err)
	}
	if group != nil {
		inst.BindGroup(group.ID)
	}

	if m.policyFor(inst.Template()) == instance.LockOnEnter {
		if err := m.bindOnEnter(player, group, inst); err != nil {
			return Entry{Decision: d, Ref: ref}, err
		}
	}

	return Entry{Decision: d, Ref: ref, Done: inst.Enter(player)}, nil
}

func (m *Manager) bindOnEnter(player model.PlayerID, group *model.Group, inst *instance.Instance) error {
	tmpl := inst.Template()
	key := model.LockKey{Owner: model.PlayerOwner(player), MapDifficulty: tmpl.Key()}
	if _, err := m.locks.CreateOrReplaceLock(key, inst.ID()); err != nil {
		return fmt.Errorf("bind %s on enter: %w", key, err)
	}
	if group != nil && tmpl.Kind == instance.KindRaid {
		gkey := model.LockKey{Owner: group.Owner(), MapDifficulty: tmpl.Key()}
		if _, err := m.locks.CreateOrReplaceLock(gkey, inst.ID()); err != nil {
			return fmt.Errorf("bind %s on enter: %w", gkey, err)
		}
	}
	return nil
}

// Leave queues the player's exit from ref.
func (m *Manager) Leave(player model.PlayerID, ref model.InstanceRef) <-chan error {
	inst, ok := m.maps.FindInstance(ref)
	if !ok {
		ch := make(chan error, 1)
		ch <- fmt.Errorf("%w: %s", instance.ErrInstanceNotFound, ref)
		return ch
	}
	return inst.Leave(player)
}

// UpdateEncounter forwards an encounter script's progress to the instance.
func (m *Manager) UpdateEncounter(ref model.InstanceRef, encounter uint8, state instance.EncounterState) <-chan error {
	inst, ok := m.maps.FindInstance(ref)
	if !ok {
		ch := make(chan error, 1)
		ch <- fmt.Errorf("%w: %s", instance.ErrInstanceNotFound, ref)
		return ch
	}
	return inst.SetEncounterState(encounter, state)
}

func (m *Manager) policyFor(tmpl *instance.Template) instance.LockPolicy {
	if tmpl.LockPolicy != instance.LockPolicyDefault {
		return tmpl.LockPolicy
	}
	return m.policy
}

// onEncounterCompleted binds every occupant, and the group for raid content,
// to the instance and records the kill.
func (m *Manager) onEncounterCompleted(c instance.EncounterCompletion) {
	key := model.MapDifficulty{Map: c.Ref.Map, Difficulty: c.Difficulty}

	owners := make([]model.Owner, 0, len(c.Players)+1)
	for _, p := range c.Players {
		owners = append(owners, model.PlayerOwner(p))
	}
	if c.Group != 0 && c.Kind == instance.KindRaid {
		owners = append(owners, model.GroupOwner(c.Group))
	}

	for _, owner := range owners {
		lk := model.LockKey{Owner: owner, MapDifficulty: key}
		if _, err := m.locks.CreateOrReplaceLock(lk, c.Ref.Instance); err != nil {
			// Entered through a personal-lock override or a stale group binding.
			slog.Warn("encounter lock skipped",
				"key", lk.String(),
				"instanceID", c.Ref.Instance,
				"encounter", c.Encounter,
				"error", err)
			continue
		}
		if _, _, err := m.locks.RecordEncounterCompletion(lk, c.Encounter); err != nil {
			slog.Error("record encounter",
				"key", lk.String(),
				"encounter", c.Encounter,
				"error", err)
		}
	}
}

// ForceReset resets an owner's instance on request. See ResetScheduler.ForceReset.
func (m *Manager) ForceReset(req ResetRequest) ResetResult {
	return m.scheduler.ForceReset(req)
}

// ExtendLock opts the lock into surviving the next reset once.
func (m *Manager) ExtendLock(key model.LockKey) (lockout.Lock, error) {
	return m.locks.ExtendLock(key)
}

// CancelExtension reverses ExtendLock before the reset happens.
func (m *Manager) CancelExtension(key model.LockKey) (lockout.Lock, error) {
	return m.locks.CancelExtension(key)
}

// ShowLock returns the lock for key, expired or not.
func (m *Manager) ShowLock(key model.LockKey) (lockout.Lock, bool) {
	return m.locks.Find(key)
}

// ListLocks returns every lock of owner.
func (m *Manager) ListLocks(owner model.Owner) []lockout.Lock {
	return m.locks.LocksFor(owner)
}

// Instances returns the live instances.
func (m *Manager) Instances() []*instance.Instance {
	return m.maps.Instances()
}

// NextReset returns the next global reset of key; false for relative schedules.
func (m *Manager) NextReset(key model.MapDifficulty) (time.Time, bool) {
	return m.locks.Schedules().NextReset(key, m.scheduler.now())
}

// DeleteOwner removes everything bound to an owner that ceased to exist and
// releases instances nobody references any more.
func (m *Manager) DeleteOwner(owner model.Owner) {
	orphans := m.locks.DeleteLocksForOwner(owner)
	m.resolver.ForgetOwner(owner)
	for _, ref := range orphans {
		if m.maps.Release(ref) {
			slog.Debug("orphaned instance released",
				"owner", owner.String(),
				"mapID", ref.Map,
				"instanceID", ref.Instance)
		}
	}
}

// Run ticks live instances and the reset scheduler until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return m.maps.Run(gctx, m.tickInterval)
	})
	g.Go(func() error {
		return m.scheduler.Run(gctx, m.resetInterval)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("instance manager: %w", err)
	}
	return nil
}
