package binding

import (
	"fmt"

	"github.com/udisondev/lockout/internal/model"
)

// DenyReason explains a refused instance entry.
type DenyReason uint8

const (
	DenyNone DenyReason = iota
	// DenyGroupLockMismatch: the requester's personal lock is bound to a
	// different instance than the group's.
	DenyGroupLockMismatch
	// DenyGroupRequired: solo entry into group-only content.
	DenyGroupRequired
	// DenyTooManyInstances: the requester exhausted the fresh-instance budget.
	DenyTooManyInstances
	// DenyUnknownMap: no world data for the map at that difficulty.
	DenyUnknownMap
)

func (r DenyReason) String() string {
	switch r {
	case DenyNone:
		return "none"
	case DenyGroupLockMismatch:
		return "GroupLockMismatch"
	case DenyGroupRequired:
		return "GroupRequired"
	case DenyTooManyInstances:
		return "TooManyInstances"
	case DenyUnknownMap:
		return "UnknownMap"
	default:
		return "unknown"
	}
}

// Decision is the result of entry validation: Allow(instance) or Deny(reason).
type Decision struct {
	Allowed  bool
	Instance model.InstanceID
	// Fresh is set when Instance was newly allocated for this entry.
	Fresh  bool
	Reason DenyReason
}

// Allow returns an allowing decision for an existing instance.
func Allow(id model.InstanceID) Decision {
	return Decision{Allowed: true, Instance: id}
}

// AllowFresh returns an allowing decision for a newly allocated instance.
func AllowFresh(id model.InstanceID) Decision {
	return Decision{Allowed: true, Instance: id, Fresh: true}
}

// Deny returns a refusing decision.
func Deny(reason DenyReason) Decision {
	return Decision{Reason: reason}
}

func (d Decision) String() string {
	if !d.Allowed {
		return fmt.Sprintf("Deny(%s)", d.Reason)
	}
	return fmt.Sprintf("Allow(%d)", d.Instance)
}
