package model

import (
	"fmt"
	"strconv"
	"strings"
)

// PlayerID is the persistent character identifier.
type PlayerID uint32

// GroupID identifies a party or raid group.
type GroupID uint32

// MapID identifies a dungeon/raid map from static world data.
type MapID uint32

// InstanceID identifies one instantiation of a map.
// Allocated from a single monotonic counter; never reused while the process lives.
type InstanceID uint32

// OwnerKind distinguishes player-owned from group-owned locks.
type OwnerKind uint8

const (
	OwnerPlayer OwnerKind = iota + 1
	OwnerGroup
)

// String returns the owner kind prefix used in text forms.
func (k OwnerKind) String() string {
	switch k {
	case OwnerPlayer:
		return "player"
	case OwnerGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Owner is the entity a lock belongs to: a player or a group.
type Owner struct {
	Kind OwnerKind
	ID   uint32
}

// PlayerOwner returns the owner value for a player.
func PlayerOwner(id PlayerID) Owner { return Owner{Kind: OwnerPlayer, ID: uint32(id)} }

// GroupOwner returns the owner value for a group.
func GroupOwner(id GroupID) Owner { return Owner{Kind: OwnerGroup, ID: uint32(id)} }

// IsZero reports whether the owner is unset.
func (o Owner) IsZero() bool { return o.Kind == 0 && o.ID == 0 }

// IsPlayer reports whether the owner is a player.
func (o Owner) IsPlayer() bool { return o.Kind == OwnerPlayer }

// Player returns the player id. Only meaningful when IsPlayer is true.
func (o Owner) Player() PlayerID { return PlayerID(o.ID) }

// Group returns the group id. Only meaningful for group owners.
func (o Owner) Group() GroupID { return GroupID(o.ID) }

func (o Owner) String() string {
	return o.Kind.String() + ":" + strconv.FormatUint(uint64(o.ID), 10)
}

// ParseOwner parses "42", "player:42", "p42", "group:7" or "g7".
// A bare number is a player.
func ParseOwner(s string) (Owner, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	kind := OwnerPlayer
	switch {
	case strings.HasPrefix(s, "player:"):
		s = strings.TrimPrefix(s, "player:")
	case strings.HasPrefix(s, "group:"):
		kind, s = OwnerGroup, strings.TrimPrefix(s, "group:")
	case strings.HasPrefix(s, "p"):
		s = s[1:]
	case strings.HasPrefix(s, "g"):
		kind, s = OwnerGroup, s[1:]
	}
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil || id == 0 {
		return Owner{}, fmt.Errorf("invalid owner %q", s)
	}
	return Owner{Kind: kind, ID: uint32(id)}, nil
}

// MapDifficulty is the (map, difficulty) axis a lock is tracked on.
type MapDifficulty struct {
	Map        MapID
	Difficulty Difficulty
}

func (k MapDifficulty) String() string {
	return fmt.Sprintf("%d/%s", k.Map, k.Difficulty)
}

// LockKey is the identity of an instance lock: exactly one lock per key.
type LockKey struct {
	Owner Owner
	MapDifficulty
}

func (k LockKey) String() string {
	return k.Owner.String() + "@" + k.MapDifficulty.String()
}

// InstanceRef addresses a live instance: (map id, instance id).
type InstanceRef struct {
	Map      MapID
	Instance InstanceID
}

func (r InstanceRef) String() string {
	return fmt.Sprintf("%d#%d", r.Map, r.Instance)
}

// Location is a world position used for entrance/exit points.
type Location struct {
	X int32 `yaml:"x"`
	Y int32 `yaml:"y"`
	Z int32 `yaml:"z"`
}
