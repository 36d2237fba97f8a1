package lockout

import "errors"

// Sentinel errors for the lock registry.
var (
	ErrLockConflict     = errors.New("owner is locked to a different instance")
	ErrLockNotFound     = errors.New("instance lock not found")
	ErrInvalidEncounter = errors.New("invalid encounter index")
	ErrInvalidSchedule  = errors.New("invalid reset schedule")
	ErrInvalidKey       = errors.New("invalid lock key")
)
