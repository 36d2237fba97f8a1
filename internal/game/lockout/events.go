package lockout

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/udisondev/lockout/internal/model"
)

// EventKind enumerates lock notifications emitted to the client-facing layer.
type EventKind uint8

const (
	EventLockCreated EventKind = iota + 1
	EventEncounterCompleted
	EventLockExtended
	EventLockExpired
	EventResetSucceeded
	EventResetFailed
)

func (k EventKind) String() string {
	switch k {
	case EventLockCreated:
		return "lock-created"
	case EventEncounterCompleted:
		return "encounter-completed"
	case EventLockExtended:
		return "lock-extended"
	case EventLockExpired:
		return "lock-expired"
	case EventResetSucceeded:
		return "reset-succeeded"
	case EventResetFailed:
		return "reset-failed"
	default:
		return "unknown"
	}
}

// ResetFailedReason explains a reset that did not happen.
type ResetFailedReason uint8

const (
	ResetFailedNone ResetFailedReason = iota
	// ResetFailed covers occupants still inside when the method requires emptiness.
	ResetFailed
	// ResetFailedInProgress means an encounter is running or the content is not resettable.
	ResetFailedInProgress
	// ResetFailedNotEntitled means the requester is neither owner nor group leader.
	ResetFailedNotEntitled
	// ResetFailedNoInstance means the owner has no lock or recent instance for the key.
	ResetFailedNoInstance
)

func (r ResetFailedReason) String() string {
	switch r {
	case ResetFailedNone:
		return "none"
	case ResetFailed:
		return "failed"
	case ResetFailedInProgress:
		return "in-progress"
	case ResetFailedNotEntitled:
		return "not-entitled"
	case ResetFailedNoInstance:
		return "no-instance"
	default:
		return "unknown"
	}
}

// Event is one notification. ID is unique per event so that a consumer
// receiving the same event twice can drop the duplicate.
type Event struct {
	ID        ulid.ULID
	Kind      EventKind
	At        time.Time
	Key       model.LockKey
	Instance  model.InstanceID
	Encounter uint8
	Completed EncounterMask
	ExpiresAt time.Time
	Reason    ResetFailedReason
}

// NewEvent stamps an event with a fresh ID.
func NewEvent(kind EventKind, at time.Time, key model.LockKey, instance model.InstanceID) Event {
	return Event{
		ID:       ulid.Make(),
		Kind:     kind,
		At:       at,
		Key:      key,
		Instance: instance,
	}
}

// Notifier receives lock notifications. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) { f(e) }

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(Event) {})
