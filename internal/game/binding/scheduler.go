package binding

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/udisondev/lockout/internal/game/instance"
	"github.com/udisondev/lockout/internal/game/lockout"
	"github.com/udisondev/lockout/internal/model"
)

// DefaultResetCheckInterval is how often the scheduler ticks by default.
const DefaultResetCheckInterval = time.Minute

// ResetRequest is a player- or administrator-initiated reset.
type ResetRequest struct {
	// Requester is the player asking; 0 means an already-authorized administrator.
	Requester model.PlayerID
	Owner     model.Owner
	Key       model.MapDifficulty
	Method    instance.ResetMethod
}

// LockKey returns the lock the request targets.
func (r ResetRequest) LockKey() model.LockKey {
	return model.LockKey{Owner: r.Owner, MapDifficulty: r.Key}
}

// ResetResult is the typed result of ForceReset. Reason is ResetFailedNone on success.
type ResetResult struct {
	Outcome      instance.ResetOutcome
	Reason       lockout.ResetFailedReason
	Instance     model.InstanceRef
	LocksDeleted int
}

// OK reports whether the reset happened.
func (r ResetResult) OK() bool { return r.Reason == lockout.ResetFailedNone }

// TickReport summarizes one scheduler tick.
type TickReport struct {
	Expired  int // locks removed by the sweep
	Reset    int // instances reset
	Deferred int // instances waiting for occupants to leave
	Healed   int // dangling locks deleted
	Pruned   int // retired ids and idle rate limiters forgotten
}

// ResetScheduler converges lock expiry with live-instance teardown.
// It is the only component that resets instances unprompted.
type ResetScheduler struct {
	locks    *lockout.Registry
	maps     *instance.Manager
	resolver *Resolver
	groups   GroupLookup
	perms    Permissions
	notifier lockout.Notifier

	mu      sync.Mutex
	pending map[model.InstanceRef]struct{}

	now func() time.Time
}

// NewResetScheduler creates a scheduler over the given registries.
func NewResetScheduler(locks *lockout.Registry, instances *instance.Manager, resolver *Resolver, groups GroupLookup, perms Permissions, notifier lockout.Notifier) *ResetScheduler {
	if groups == nil {
		groups = NoGroups
	}
	if perms == nil {
		perms = NoBypass
	}
	if notifier == nil {
		notifier = lockout.Discard
	}
	return &ResetScheduler{
		locks:    locks,
		maps:     instances,
		resolver: resolver,
		groups:   groups,
		perms:    perms,
		notifier: notifier,
		pending:  make(map[model.InstanceRef]struct{}),
		now:      time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (s *ResetScheduler) SetClock(now func() time.Time) { s.now = now }

// Pending returns instances whose expiry reset is deferred.
func (s *ResetScheduler) Pending() []model.InstanceRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := slices.Collect(maps.Keys(s.pending))
	slices.SortFunc(refs, compareRefs)
	return refs
}

// Tick sweeps expired locks, resets instances no lock references any more
// and deletes locks bound to instances that were already reset.
// Never fails: every problem is logged and retried on the next tick.
func (s *ResetScheduler) Tick(now time.Time) TickReport {
	var rep TickReport

	expired := s.locks.ExpireAndSweep(now)
	rep.Expired = len(expired)

	s.mu.Lock()
	for _, l := range expired {
		s.pending[l.Ref()] = struct{}{}
	}
	candidates := slices.Collect(maps.Keys(s.pending))
	s.mu.Unlock()
	slices.SortFunc(candidates, compareRefs)

	for _, ref := range candidates {
		switch s.resetExpired(ref) {
		case resetDone:
			rep.Reset++
			s.clearPending(ref)
		case resetDropped:
			s.clearPending(ref)
		case resetDeferred:
			rep.Deferred++
		}
	}

	rep.Healed = s.healDangling()
	rep.Pruned = s.prune(now)

	if rep != (TickReport{}) {
		slog.Info("reset scheduler tick",
			"expired", rep.Expired,
			"reset", rep.Reset,
			"deferred", rep.Deferred,
			"healed", rep.Healed,
			"pruned", rep.Pruned)
	}
	return rep
}

type expiryResult uint8

const (
	resetDone expiryResult = iota + 1
	resetDropped
	resetDeferred
)

func (s *ResetScheduler) resetExpired(ref model.InstanceRef) expiryResult {
	// Re-bound by a new lock since it expired.
	if s.locks.Referents(ref) > 0 {
		return resetDropped
	}

	outcome, err := s.maps.ResetInstanceIf(ref, instance.MethodOnExpiry, func() bool {
		return s.locks.Referents(ref) == 0
	})
	switch {
	case errors.Is(err, instance.ErrResetAborted):
		return resetDropped
	case err != nil:
		slog.Error("expiry reset", "mapID", ref.Map, "instanceID", ref.Instance, "error", err)
		return resetDeferred
	case outcome == instance.ResetSuccess:
		s.resolver.ForgetInstance(ref)
		return resetDone
	default:
		slog.Debug("expiry reset deferred",
			"mapID", ref.Map,
			"instanceID", ref.Instance,
			"outcome", outcome.String())
		return resetDeferred
	}
}

func (s *ResetScheduler) clearPending(ref model.InstanceRef) {
	s.mu.Lock()
	delete(s.pending, ref)
	s.mu.Unlock()
}

// healDangling deletes locks bound to instances that were reset.
func (s *ResetScheduler) healDangling() int {
	healed := 0
	for _, ref := range s.locks.Refs() {
		if !s.maps.IsRetired(ref) {
			continue
		}
		for _, key := range s.locks.BoundTo(ref) {
			if _, ok := s.locks.DeleteLockIfBound(key, ref); ok {
				healed++
				slog.Warn("dangling lock deleted",
					"key", key.String(),
					"mapID", ref.Map,
					"instanceID", ref.Instance)
			}
		}
	}
	return healed
}

// prune forgets retired ids nothing can reach any more. An id must outlive
// the recent-instance grace so a stale assignment still sees it retired.
func (s *ResetScheduler) prune(now time.Time) int {
	cutoff := now.Add(-s.resolver.recentGrace())
	n := s.maps.PruneRetired(cutoff, func(ref model.InstanceRef) bool {
		if s.locks.Referents(ref) > 0 {
			return true
		}
		s.mu.Lock()
		_, pending := s.pending[ref]
		s.mu.Unlock()
		return pending
	})
	return n + s.resolver.PruneLimiters(now)
}

// Run ticks every interval until ctx is cancelled.
func (s *ResetScheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultResetCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("reset scheduler started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("reset scheduler stopping")
			return nil
		case <-ticker.C:
			s.Tick(s.now())
		}
	}
}

// ForceReset resets the instance req.Owner is bound to for req.Key.
// Success deletes every lock bound to the instance, so the requester must be
// entitled over each of their owners, not only req.Owner. Entitlement is
// checked on request and again right before the instance is torn down; a
// requester that lost it in between gets NotEntitled and nothing changes.
func (s *ResetScheduler) ForceReset(req ResetRequest) ResetResult {
	lockKey := req.LockKey()
	now := s.now()

	if !s.entitled(req) {
		return s.fail(req, model.InstanceRef{}, 0, lockout.ResetFailedNotEntitled, now)
	}

	ref, ok := s.boundInstance(lockKey)
	if !ok {
		return s.fail(req, model.InstanceRef{}, 0, lockout.ResetFailedNoInstance, now)
	}

	// An unloaded instance never reaches the template check in the instance
	// itself.
	if tmpl, ok := s.maps.Template(req.Key); ok && !tmpl.AllowsReset(req.Method) {
		return s.fail(req, ref, instance.ResetCannotReset, lockout.ResetFailedInProgress, now)
	}

	if !s.coversBound(req, ref) {
		return s.fail(req, ref, 0, lockout.ResetFailedNotEntitled, now)
	}

	outcome, err := s.maps.ResetInstanceIf(ref, req.Method, func() bool {
		cur, ok := s.boundInstance(lockKey)
		return ok && cur == ref && s.entitled(req) && s.coversBound(req, ref)
	})
	switch {
	case errors.Is(err, instance.ErrResetAborted):
		return s.fail(req, ref, 0, lockout.ResetFailedNotEntitled, now)
	case err != nil:
		slog.Error("forced reset", "key", lockKey.String(), "error", err)
		return s.fail(req, ref, 0, lockout.ResetFailed, now)
	case outcome == instance.ResetNotEmpty:
		return s.fail(req, ref, outcome, lockout.ResetFailed, now)
	case outcome == instance.ResetCannotReset:
		return s.fail(req, ref, outcome, lockout.ResetFailedInProgress, now)
	}

	deleted := 0
	for _, key := range s.locks.BoundTo(ref) {
		if _, ok := s.locks.DeleteLockIfBound(key, ref); ok {
			deleted++
		}
	}
	s.resolver.ForgetInstance(ref)
	s.clearPending(ref)

	s.notifier.Notify(lockout.NewEvent(lockout.EventResetSucceeded, now, lockKey, ref.Instance))
	slog.Info("instance reset",
		"key", lockKey.String(),
		"instanceID", ref.Instance,
		"method", req.Method.String(),
		"requester", req.Requester,
		"locksDeleted", deleted)

	return ResetResult{Outcome: instance.ResetSuccess, Instance: ref, LocksDeleted: deleted}
}

func (s *ResetScheduler) fail(req ResetRequest, ref model.InstanceRef, outcome instance.ResetOutcome, reason lockout.ResetFailedReason, now time.Time) ResetResult {
	ev := lockout.NewEvent(lockout.EventResetFailed, now, req.LockKey(), ref.Instance)
	ev.Reason = reason
	s.notifier.Notify(ev)

	slog.Debug("reset refused",
		"key", req.LockKey().String(),
		"method", req.Method.String(),
		"requester", req.Requester,
		"reason", reason.String())

	if outcome == 0 {
		outcome = instance.ResetCannotReset
	}
	return ResetResult{Outcome: outcome, Reason: reason, Instance: ref}
}

// boundInstance returns the instance the owner is locked to, or the unsaved
// instance it has open.
func (s *ResetScheduler) boundInstance(key model.LockKey) (model.InstanceRef, bool) {
	if l, ok := s.locks.FindActiveLock(key); ok {
		return l.Ref(), true
	}
	return s.resolver.RecentInstance(key)
}

// entitled reports whether the requester may reset the owner's instance:
// the owner itself, the leader of the owning group, or a bypassing actor.
func (s *ResetScheduler) entitled(req ResetRequest) bool {
	if req.Requester == 0 || s.perms.CanBypassInstanceRestrictions(req.Requester) {
		return true
	}
	switch req.Owner.Kind {
	case model.OwnerPlayer:
		return req.Owner.Player() == req.Requester
	case model.OwnerGroup:
		g, ok := s.groups.Group(req.Owner.Group())
		return ok && g.IsLeader(req.Requester)
	}
	return false
}

// coversBound reports whether the requester is entitled over every other
// owner with an active lock on ref. A player lock is covered when the
// requester leads a group the player is in.
func (s *ResetScheduler) coversBound(req ResetRequest, ref model.InstanceRef) bool {
	if req.Requester == 0 || s.perms.CanBypassInstanceRestrictions(req.Requester) {
		return true
	}
	for _, key := range s.locks.BoundTo(ref) {
		if key.Owner == req.Owner {
			continue
		}
		if _, ok := s.locks.FindActiveLock(key); !ok {
			continue
		}
		switch key.Owner.Kind {
		case model.OwnerPlayer:
			if key.Owner.Player() == req.Requester {
				continue
			}
			g, ok := s.groups.GroupOf(req.Requester)
			if !ok || !g.IsLeader(req.Requester) || !g.HasMember(key.Owner.Player()) {
				return false
			}
		case model.OwnerGroup:
			g, ok := s.groups.Group(key.Owner.Group())
			if !ok || !g.IsLeader(req.Requester) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func compareRefs(a, b model.InstanceRef) int {
	if c := cmp.Compare(a.Map, b.Map); c != 0 {
		return c
	}
	return cmp.Compare(a.Instance, b.Instance)
}
