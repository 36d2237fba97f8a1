package binding

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/udisondev/lockout/internal/game/instance"
	"github.com/udisondev/lockout/internal/game/lockout"
	"github.com/udisondev/lockout/internal/model"
)

// DefaultRecentGrace is how long an allocated but never-created instance
// stays assigned to its owner.
const DefaultRecentGrace = 5 * time.Minute

// recent is an instance an owner entered without being locked to it.
type recent struct {
	ref model.InstanceRef
	at  time.Time
}

// Resolver decides at entry time which instance a player goes to.
// Thread-safe.
type Resolver struct {
	locks *lockout.Registry
	maps  *instance.Manager
	perms Permissions

	mu     sync.Mutex
	recent map[model.LockKey]recent
	grace  time.Duration

	perHour  int
	limiters map[model.PlayerID]*rate.Limiter

	now func() time.Time
}

// NewResolver creates a resolver. instancesPerHour limits fresh instances
// per player; 0 disables the limit.
func NewResolver(locks *lockout.Registry, maps *instance.Manager, perms Permissions, instancesPerHour int) *Resolver {
	if perms == nil {
		perms = NoBypass
	}
	return &Resolver{
		locks:    locks,
		maps:     maps,
		perms:    perms,
		recent:   make(map[model.LockKey]recent, 64),
		grace:    DefaultRecentGrace,
		perHour:  instancesPerHour,
		limiters: make(map[model.PlayerID]*rate.Limiter, 64),
		now:      time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (r *Resolver) SetClock(now func() time.Time) { r.now = now }

// SetRecentGrace sets how long an unentered fresh instance stays assigned.
func (r *Resolver) SetRecentGrace(d time.Duration) {
	r.mu.Lock()
	r.grace = d
	r.mu.Unlock()
}

// Validate decides whether player may enter mapID at difficulty and which
// instance id to use. group is nil for a solo player.
//
// Group locks take precedence over the personal and fresh-entry paths so a
// locked raid member cannot reach a fresh copy by entering alone.
func (r *Resolver) Validate(player model.PlayerID, group *model.Group, mapID model.MapID, difficulty model.Difficulty) Decision {
	key := model.MapDifficulty{Map: mapID, Difficulty: difficulty}
	tmpl, ok := r.maps.Template(key)
	if !ok {
		return Deny(DenyUnknownMap)
	}

	personalKey := model.LockKey{Owner: model.PlayerOwner(player), MapDifficulty: key}
	personal, hasPersonal := r.locks.FindActiveLock(personalKey)

	// Group lock or the group's current unsaved instance.
	if group != nil {
		groupKey := model.LockKey{Owner: group.Owner(), MapDifficulty: key}
		if id, ok := r.groupInstance(groupKey); ok {
			if hasPersonal && personal.InstanceID != id {
				if tmpl.SoloLockOverride {
					return Allow(personal.InstanceID)
				}
				slog.Debug("entry denied",
					"player", player,
					"group", group.ID,
					"key", key.String(),
					"personalInstance", personal.InstanceID,
					"groupInstance", id,
					"reason", DenyGroupLockMismatch.String())
				return Deny(DenyGroupLockMismatch)
			}
			return Allow(id)
		}
	}

	bypass := r.perms.CanBypassInstanceRestrictions(player)
	if group == nil && tmpl.GroupRequired && !bypass {
		return Deny(DenyGroupRequired)
	}

	// Owner of whatever instance this entry opens.
	owner := model.PlayerOwner(player)
	if group != nil {
		owner = group.Owner()
	}
	ownerKey := model.LockKey{Owner: owner, MapDifficulty: key}

	if hasPersonal {
		if group != nil {
			r.assign(ownerKey, personal.Ref())
		}
		return Allow(personal.InstanceID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under mu: another member may have opened the group's instance.
	if rc, ok := r.recentLocked(ownerKey); ok {
		return Allow(rc.ref.Instance)
	}
	if !bypass && !r.allowFreshLocked(player) {
		return Deny(DenyTooManyInstances)
	}

	id := r.maps.AllocateInstanceID()
	r.recent[ownerKey] = recent{ref: model.InstanceRef{Map: mapID, Instance: id}, at: r.now()}

	slog.Debug("fresh instance assigned",
		"player", player,
		"owner", owner.String(),
		"key", key.String(),
		"instanceID", id)
	return AllowFresh(id)
}

// groupInstance returns the instance bound by the group's lock, falling back
// to the instance the group currently has open.
func (r *Resolver) groupInstance(groupKey model.LockKey) (model.InstanceID, bool) {
	if l, ok := r.locks.FindActiveLock(groupKey); ok {
		return l.InstanceID, true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if rc, ok := r.recentLocked(groupKey); ok {
		return rc.ref.Instance, true
	}
	return 0, false
}

// RecentInstance returns the unsaved instance owner last entered for key.
func (r *Resolver) RecentInstance(key model.LockKey) (model.InstanceRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.recentLocked(key)
	return rc.ref, ok
}

func (r *Resolver) assign(key model.LockKey, ref model.InstanceRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rc, ok := r.recentLocked(key); ok && rc.ref == ref {
		return
	}
	r.recent[key] = recent{ref: ref, at: r.now()}
}

// recentLocked must be called with mu held. Stale entries are dropped.
func (r *Resolver) recentLocked(key model.LockKey) (recent, bool) {
	rc, ok := r.recent[key]
	if !ok {
		return recent{}, false
	}
	if r.maps.IsRetired(rc.ref) {
		delete(r.recent, key)
		return recent{}, false
	}
	if _, live := r.maps.FindInstance(rc.ref); !live && r.now().Sub(rc.at) >= r.grace {
		delete(r.recent, key)
		return recent{}, false
	}
	return rc, true
}

// PruneLimiters drops rate limiters that have refilled completely; a fresh
// limiter behaves the same. Returns how many were dropped.
func (r *Resolver) PruneLimiters(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	pruned := 0
	for player, lim := range r.limiters {
		if lim.TokensAt(now) >= float64(lim.Burst()) {
			delete(r.limiters, player)
			pruned++
		}
	}
	return pruned
}

// LimiterCount returns the number of players with a tracked rate limiter.
func (r *Resolver) LimiterCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

func (r *Resolver) recentGrace() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.grace
}

func (r *Resolver) allowFreshLocked(player model.PlayerID) bool {
	if r.perHour <= 0 {
		return true
	}
	lim, ok := r.limiters[player]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Hour/time.Duration(r.perHour)), r.perHour)
		r.limiters[player] = lim
	}
	return lim.AllowN(r.now(), 1)
}

// ForgetInstance drops every recent entry pointing at ref.
func (r *Resolver) ForgetInstance(ref model.InstanceRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, rc := range r.recent {
		if rc.ref == ref {
			delete(r.recent, key)
		}
	}
}

// ForgetOwner drops the owner's recent entries and rate state.
func (r *Resolver) ForgetOwner(owner model.Owner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.recent {
		if key.Owner == owner {
			delete(r.recent, key)
		}
	}
	if owner.IsPlayer() {
		delete(r.limiters, owner.Player())
	}
}
