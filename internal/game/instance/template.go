package instance

import (
	"fmt"

	"github.com/udisondev/lockout/internal/model"
)

// Kind is the content type of a map.
type Kind uint8

const (
	KindDungeon Kind = iota + 1
	KindRaid
)

func (k Kind) String() string {
	switch k {
	case KindDungeon:
		return "dungeon"
	case KindRaid:
		return "raid"
	default:
		return "unknown"
	}
}

// LockPolicy decides when an owner becomes bound to an instance.
type LockPolicy uint8

const (
	// LockPolicyDefault defers to the server-wide policy.
	LockPolicyDefault LockPolicy = iota
	// LockOnEnter binds on entry.
	LockOnEnter
	// LockOnFirstKill binds on the first encounter completion.
	LockOnFirstKill
)

func (p LockPolicy) String() string {
	switch p {
	case LockOnEnter:
		return "on_enter"
	case LockOnFirstKill:
		return "on_first_kill"
	default:
		return "default"
	}
}

// ParseLockPolicy parses "on_enter", "on_first_kill" or "" (default).
func ParseLockPolicy(s string) (LockPolicy, error) {
	switch s {
	case "":
		return LockPolicyDefault, nil
	case "on_enter":
		return LockOnEnter, nil
	case "on_first_kill":
		return LockOnFirstKill, nil
	default:
		return 0, fmt.Errorf("unknown lock policy %q", s)
	}
}

// Spawn is one entity seeded into every new instance of a template.
// Encounter is the encounter index the entity belongs to, or -1.
type Spawn struct {
	NpcID     int32
	Loc       model.Location
	Encounter int
}

// Template is the static world data of one map at one difficulty.
type Template struct {
	Map        model.MapID
	Difficulty model.Difficulty
	Name       string
	Kind       Kind
	MaxPlayers int32 // 0 = unlimited
	Encounters uint8 // number of tracked encounters

	// Resettable is false for content that players may not reset by hand.
	// Expiry and forced resets still apply.
	Resettable bool
	// GroupRequired denies solo entry unless the player may bypass restrictions.
	GroupRequired bool
	// SoloLockOverride lets a personal lock win over a mismatching group lock.
	SoloLockOverride bool
	LockPolicy       LockPolicy

	Entrance model.Location
	Exit     model.Location // where evicted players are sent
	Spawns   []Spawn
}

// Key returns the map/difficulty this template describes.
func (t *Template) Key() model.MapDifficulty {
	return model.MapDifficulty{Map: t.Map, Difficulty: t.Difficulty}
}

// AllowsReset reports whether method may reset instances of this template.
func (t *Template) AllowsReset(method ResetMethod) bool {
	return t.Resettable || method == MethodOnExpiry || method == MethodForce
}

// Validate checks that template fields are sensible.
func (t *Template) Validate() error {
	if t.Map == 0 {
		return ErrInvalidMapID
	}
	if t.Difficulty == 0 {
		return ErrInvalidDifficulty
	}
	if t.Name == "" {
		return ErrEmptyTemplateName
	}
	if t.MaxPlayers < 0 {
		return ErrInvalidMaxPlayers
	}
	if t.Encounters > 64 {
		return ErrInvalidEncounters
	}
	for _, s := range t.Spawns {
		if s.Encounter >= int(t.Encounters) || s.Encounter < -1 {
			return fmt.Errorf("%w: spawn %d references encounter %d", ErrInvalidEncounters, s.NpcID, s.Encounter)
		}
	}
	return nil
}
