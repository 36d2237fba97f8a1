package instance

import (
	"fmt"
	"strings"
)

// ResetMethod is how a reset was requested.
type ResetMethod uint8

const (
	// MethodManual is a player-requested reset; the instance must be empty.
	MethodManual ResetMethod = iota + 1
	// MethodOnChangeDifficulty resets when the group switches difficulty; the instance must be empty.
	MethodOnChangeDifficulty
	// MethodOnExpiry is the scheduler's reset after the last lock expired; the instance must be empty.
	MethodOnExpiry
	// MethodForce evicts occupants and resets even mid-encounter.
	MethodForce
)

func (m ResetMethod) String() string {
	switch m {
	case MethodManual:
		return "manual"
	case MethodOnChangeDifficulty:
		return "onchange"
	case MethodOnExpiry:
		return "expiry"
	case MethodForce:
		return "force"
	default:
		return "unknown"
	}
}

// ParseResetMethod parses a method name as used by admin commands.
func ParseResetMethod(s string) (ResetMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manual", "":
		return MethodManual, nil
	case "onchange", "on_change", "onchangedifficulty":
		return MethodOnChangeDifficulty, nil
	case "expiry", "onexpiry":
		return MethodOnExpiry, nil
	case "force":
		return MethodForce, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownResetMethod, s)
	}
}

// requiresEmpty reports whether occupants block the reset.
func (m ResetMethod) requiresEmpty() bool { return m != MethodForce }

// ResetOutcome is the result of a reset attempt. NotEmpty and CannotReset
// are expected outcomes, not failures.
type ResetOutcome uint8

const (
	ResetSuccess ResetOutcome = iota + 1
	// ResetNotEmpty means occupants remain and the method requires emptiness.
	ResetNotEmpty
	// ResetCannotReset means an encounter is in progress or the content is not resettable.
	ResetCannotReset
)

func (o ResetOutcome) String() string {
	switch o {
	case ResetSuccess:
		return "Success"
	case ResetNotEmpty:
		return "NotEmpty"
	case ResetCannotReset:
		return "CannotReset"
	default:
		return "Unknown"
	}
}

// DestroyReason is why a live instance was torn down.
type DestroyReason uint8

const (
	DestroyReset DestroyReason = iota + 1
	DestroyIdleTimeout
	DestroyAdminForce
)

func (r DestroyReason) String() string {
	switch r {
	case DestroyReset:
		return "reset"
	case DestroyIdleTimeout:
		return "idle-timeout"
	case DestroyAdminForce:
		return "admin-force"
	default:
		return "unknown"
	}
}

// retires reports whether the instance id may never be instantiated again.
func (r DestroyReason) retires() bool { return r != DestroyIdleTimeout }
