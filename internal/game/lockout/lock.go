// Package lockout tracks instance locks: which player or group is bound to
// which instantiation of a dungeon or raid, the encounters they have
// completed there, and when the binding expires.
//
// The Registry is the only writer of lock state. Callers receive Lock values,
// never pointers into the registry, and must look a lock up again instead of
// holding on to one across ticks: resets may replace it at any time.
package lockout

import (
	"time"

	"github.com/udisondev/lockout/internal/model"
)

// Lock is a snapshot of one owner's binding to an instance.
type Lock struct {
	Key        model.LockKey
	InstanceID model.InstanceID
	Completed  EncounterMask
	CreatedAt  time.Time
	ExpiresAt  time.Time

	// Extended is the owner's opt-in to survive the next reset once.
	Extended bool
	// Carried is set after a reset consumed the extension. A carried lock
	// may be replaced by a binding to a different instance.
	Carried bool
}

// Expired reports whether the lock's expiry is at or before now.
func (l Lock) Expired(now time.Time) bool { return !now.Before(l.ExpiresAt) }

// Active is the negation of Expired.
func (l Lock) Active(now time.Time) bool { return now.Before(l.ExpiresAt) }

// Ref returns the live instance this lock is bound to.
func (l Lock) Ref() model.InstanceRef {
	return model.InstanceRef{Map: l.Key.Map, Instance: l.InstanceID}
}

// TimeLeft returns the remaining lifetime, zero once expired.
func (l Lock) TimeLeft(now time.Time) time.Duration {
	if l.Expired(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}
