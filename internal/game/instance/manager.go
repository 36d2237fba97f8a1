package instance

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/udisondev/lockout/internal/model"
)

// Evictor moves a player out of an instance being torn down.
type Evictor interface {
	Evict(player model.PlayerID, from model.InstanceRef, to model.Location)
}

// EvictorFunc adapts a function to Evictor.
type EvictorFunc func(player model.PlayerID, from model.InstanceRef, to model.Location)

func (f EvictorFunc) Evict(player model.PlayerID, from model.InstanceRef, to model.Location) {
	f(player, from, to)
}

// Config tunes the manager.
type Config struct {
	MaxInstances int           // 0 = unlimited
	IdleTimeout  time.Duration // 0 = DefaultIdleTimeout, <0 = never
	TickWorkers  int           // parallel instance ticks; 0 = unlimited
}

// Manager owns every live instance, independent of lock bookkeeping: an
// instance may exist with no lock referencing it until it idles out.
// Thread-safe for concurrent access.
type Manager struct {
	mu        sync.RWMutex
	instances map[model.InstanceRef]*Instance
	templates map[model.MapDifficulty]*Template
	retired   map[model.InstanceRef]time.Time

	nextID atomic.Uint32
	npcIDs atomic.Uint32
	create singleflight.Group

	maxInstances int
	idleTimeout  time.Duration
	workers      int

	evictor     Evictor
	onEncounter func(EncounterCompletion)
	onDestroyed func(model.InstanceRef, DestroyReason)
	now         func() time.Time
}

// NewManager creates a new instance manager.
func NewManager(cfg Config) *Manager {
	idle := cfg.IdleTimeout
	switch {
	case idle == 0:
		idle = DefaultIdleTimeout
	case idle < 0:
		idle = 0
	}
	return &Manager{
		instances:    make(map[model.InstanceRef]*Instance, 16),
		templates:    make(map[model.MapDifficulty]*Template, 16),
		retired:      make(map[model.InstanceRef]time.Time, 16),
		maxInstances: cfg.MaxInstances,
		idleTimeout:  idle,
		workers:      cfg.TickWorkers,
		evictor:      EvictorFunc(func(model.PlayerID, model.InstanceRef, model.Location) {}),
		now:          time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// SetEvictor sets where evicted players are handed off.
func (m *Manager) SetEvictor(e Evictor) { m.evictor = e }

// SetEncounterHandler sets the callback receiving encounter completions.
// It runs on the ticking goroutine after the instance tick finished.
func (m *Manager) SetEncounterHandler(fn func(EncounterCompletion)) { m.onEncounter = fn }

// SetDestroyHandler sets the callback invoked after an instance is torn down.
func (m *Manager) SetDestroyHandler(fn func(model.InstanceRef, DestroyReason)) { m.onDestroyed = fn }

// RegisterTemplate registers the static data of a map at one difficulty.
func (m *Manager) RegisterTemplate(tmpl *Template) error {
	if err := tmpl.Validate(); err != nil {
		return fmt.Errorf("validate template %s: %w", tmpl.Key(), err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[tmpl.Key()] = tmpl
	return nil
}

// Template returns a registered template.
func (m *Manager) Template(key model.MapDifficulty) (*Template, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[key]
	return t, ok
}

// TemplateCount returns the number of registered templates.
func (m *Manager) TemplateCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.templates)
}

// AllocateInstanceID returns a fresh instance id. Safe for concurrent use;
// ids are never handed out twice.
func (m *Manager) AllocateInstanceID() model.InstanceID {
	return model.InstanceID(m.nextID.Add(1))
}

// SeedInstanceIDs makes future allocations start above floor.
// Called at startup with the highest persisted instance id.
func (m *Manager) SeedInstanceIDs(floor model.InstanceID) {
	for {
		cur := m.nextID.Load()
		if cur >= uint32(floor) || m.nextID.CompareAndSwap(cur, uint32(floor)) {
			return
		}
	}
}

// FindOrCreateInstance returns the live instance for ref, creating and
// seeding it from the template on first use. Creation fails with
// ErrInstanceCreationFailed when the template is missing, the instance limit
// is reached, or the id was retired by a reset.
func (m *Manager) FindOrCreateInstance(ref model.InstanceRef, difficulty model.Difficulty) (*Instance, error) {
	if inst, ok := m.FindInstance(ref); ok {
		if inst.Difficulty() != difficulty {
			return nil, fmt.Errorf("%w: %s is %s", ErrDifficultyMismatch, ref, inst.Difficulty())
		}
		return inst, nil
	}

	v, err, _ := m.create.Do(ref.String(), func() (any, error) {
		return m.create1(ref, difficulty)
	})
	if err != nil {
		slog.Warn("instance creation failed",
			"mapID", ref.Map,
			"instanceID", ref.Instance,
			"difficulty", difficulty.String(),
			"error", err)
		return nil, err
	}

	inst := v.(*Instance)
	if inst.Difficulty() != difficulty {
		return nil, fmt.Errorf("%w: %s is %s", ErrDifficultyMismatch, ref, inst.Difficulty())
	}
	return inst, nil
}

func (m *Manager) create1(ref model.InstanceRef, difficulty model.Difficulty) (*Instance, error) {
	key := model.MapDifficulty{Map: ref.Map, Difficulty: difficulty}

	m.mu.RLock()
	existing, exists := m.instances[ref]
	tmpl, hasTemplate := m.templates[key]
	_, retired := m.retired[ref]
	m.mu.RUnlock()

	switch {
	case exists:
		return existing, nil
	case retired:
		return nil, fmt.Errorf("%w: %w: %s", ErrInstanceCreationFailed, ErrInstanceRetired, ref)
	case !hasTemplate:
		return nil, fmt.Errorf("%w: %w: %s", ErrInstanceCreationFailed, ErrTemplateNotFound, key)
	}

	inst := newInstance(ref, tmpl, m.now(), m.idleTimeout)
	inst.seed(&m.npcIDs)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.instances[ref]; ok {
		return existing, nil
	}
	if m.maxInstances > 0 && len(m.instances) >= m.maxInstances {
		return nil, fmt.Errorf("%w: %w: %d live", ErrInstanceCreationFailed, ErrInstanceLimit, len(m.instances))
	}
	m.instances[ref] = inst

	slog.Debug("instance created",
		"mapID", ref.Map,
		"instanceID", ref.Instance,
		"difficulty", difficulty.String(),
		"npcs", len(tmpl.Spawns))
	return inst, nil
}

// FindInstance returns a live instance.
func (m *Manager) FindInstance(ref model.InstanceRef) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[ref]
	return inst, ok
}

// IsRetired reports whether ref was destroyed by a reset and may not be recreated.
func (m *Manager) IsRetired(ref model.InstanceRef) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.retired[ref]
	return ok
}

// PruneRetired forgets ids retired before cutoff that inUse no longer
// reports as referenced, and returns how many were dropped.
func (m *Manager) PruneRetired(cutoff time.Time, inUse func(model.InstanceRef) bool) int {
	m.mu.RLock()
	var stale []model.InstanceRef
	for ref, at := range m.retired {
		if at.Before(cutoff) {
			stale = append(stale, ref)
		}
	}
	m.mu.RUnlock()

	pruned := 0
	for _, ref := range stale {
		if inUse != nil && inUse(ref) {
			continue
		}
		m.mu.Lock()
		if at, ok := m.retired[ref]; ok && at.Before(cutoff) {
			delete(m.retired, ref)
			pruned++
		}
		m.mu.Unlock()
	}
	return pruned
}

// RetiredCount returns the number of retired ids still remembered.
func (m *Manager) RetiredCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.retired)
}

// InstanceCount returns the number of live instances.
func (m *Manager) InstanceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}

// Instances returns all live instances ordered by map and id.
func (m *Manager) Instances() []*Instance {
	m.mu.RLock()
	list := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		list = append(list, inst)
	}
	m.mu.RUnlock()

	slices.SortFunc(list, func(a, b *Instance) int {
		if c := cmp.Compare(a.MapID(), b.MapID()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID(), b.ID())
	})
	return list
}

// DestroyInstance tears an instance down, evicting remaining occupants to
// the template's exit first.
func (m *Manager) DestroyInstance(ref model.InstanceRef, reason DestroyReason) error {
	m.mu.Lock()
	inst, ok := m.instances[ref]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, ref)
	}
	delete(m.instances, ref)
	if reason.retires() {
		m.retired[ref] = m.now()
	}
	m.mu.Unlock()

	m.finish(inst, inst.markDestroyed(), reason)
	return nil
}

// ResetInstance resets a live instance. See ResetInstanceIf.
func (m *Manager) ResetInstance(ref model.InstanceRef, method ResetMethod) ResetOutcome {
	outcome, _ := m.ResetInstanceIf(ref, method, nil)
	return outcome
}

// ResetInstanceIf resets ref by method. guard, when set, is evaluated under
// the instance lock right before the instance is torn down; returning false
// aborts with ErrResetAborted and leaves everything untouched.
//
// An instance that is not loaded resets trivially: its id is retired so no
// later entry can resurrect it.
func (m *Manager) ResetInstanceIf(ref model.InstanceRef, method ResetMethod, guard func() bool) (ResetOutcome, error) {
	inst, ok := m.FindInstance(ref)
	if !ok {
		if guard != nil && !guard() {
			return 0, ErrResetAborted
		}
		m.mu.Lock()
		m.retired[ref] = m.now()
		m.mu.Unlock()
		return ResetSuccess, nil
	}

	outcome, evicted, err := inst.tryReset(method, guard)
	if err != nil || outcome != ResetSuccess {
		slog.Debug("instance reset refused",
			"mapID", ref.Map,
			"instanceID", ref.Instance,
			"method", method.String(),
			"outcome", outcome.String(),
			"error", err)
		return outcome, err
	}

	m.mu.Lock()
	if cur, ok := m.instances[ref]; ok && cur == inst {
		delete(m.instances, ref)
	}
	m.retired[ref] = m.now()
	m.mu.Unlock()

	reason := DestroyReset
	if method == MethodForce {
		reason = DestroyAdminForce
	}
	m.finish(inst, evicted, reason)
	return ResetSuccess, nil
}

// Release destroys ref if it is empty. Used when the last lock bound to it
// disappears; occupied instances are left to their idle timer.
func (m *Manager) Release(ref model.InstanceRef) bool {
	inst, ok := m.FindInstance(ref)
	if !ok || !inst.destroyIfIdle() {
		return false
	}
	m.mu.Lock()
	if cur, ok := m.instances[ref]; ok && cur == inst {
		delete(m.instances, ref)
	}
	m.mu.Unlock()
	m.finish(inst, nil, DestroyIdleTimeout)
	return true
}

func (m *Manager) finish(inst *Instance, evicted []model.PlayerID, reason DestroyReason) {
	exit := inst.Template().Exit
	for _, p := range evicted {
		m.evictor.Evict(p, inst.Ref(), exit)
	}

	slog.Info("instance destroyed",
		"mapID", inst.MapID(),
		"instanceID", inst.ID(),
		"reason", reason.String(),
		"evicted", len(evicted))

	if m.onDestroyed != nil {
		m.onDestroyed(inst.Ref(), reason)
	}
}

// TickAll advances every live instance once. Instances tick in parallel,
// each on a single goroutine, bounded by the configured worker count.
func (m *Manager) TickAll(ctx context.Context, now time.Time) error {
	list := m.Instances()
	results := make([]TickResult, len(list))

	g, _ := errgroup.WithContext(ctx)
	if m.workers > 0 {
		g.SetLimit(m.workers)
	}
	for idx, inst := range list {
		g.Go(func() error {
			results[idx] = inst.Tick(now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for idx, res := range results {
		if m.onEncounter != nil {
			for _, c := range res.Completions {
				m.onEncounter(c)
			}
		}
		if res.IdleExpired {
			m.Release(list[idx].Ref())
		}
	}
	return ctx.Err()
}

// Run ticks all instances every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("instance tick loop started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("instance tick loop stopping")
			return nil
		case <-ticker.C:
			if err := m.TickAll(ctx, m.now()); err != nil && ctx.Err() == nil {
				slog.Error("instance tick", "error", err)
			}
		}
	}
}
