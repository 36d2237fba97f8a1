package lockout

import (
	"fmt"
	"math/bits"
)

// MaxEncounters is the number of encounters a single map can track.
const MaxEncounters = 64

// EncounterMask is the completed-encounter bitmask of a lock.
// Bit i is set once encounter i has been defeated.
type EncounterMask uint64

// HasCompleted reports whether encounter i is marked completed.
func (m EncounterMask) HasCompleted(i uint8) bool {
	if i >= MaxEncounters {
		return false
	}
	return m&(1<<i) != 0
}

// MarkCompleted returns the mask with encounter i set.
func (m EncounterMask) MarkCompleted(i uint8) EncounterMask {
	if i >= MaxEncounters {
		return m
	}
	return m | 1<<i
}

// Count returns the number of completed encounters.
func (m EncounterMask) Count() int { return bits.OnesCount64(uint64(m)) }

// Covers reports whether every bit of other is also set in m.
func (m EncounterMask) Covers(other EncounterMask) bool { return m&other == other }

func (m EncounterMask) String() string { return fmt.Sprintf("%#b", uint64(m)) }

func validEncounter(i uint8) error {
	if i >= MaxEncounters {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidEncounter, i, MaxEncounters-1)
	}
	return nil
}
