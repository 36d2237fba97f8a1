// Package admin dispatches operator commands against the instance core.
// Commands arrive from the world server console, the instancectl tool or an
// in-game GM; each is checked against the caller's access level first.
package admin

import (
	"sync"

	"github.com/udisondev/lockout/internal/model"
)

// AccessLevel defines an operator access level with associated permissions.
// Level 0 = normal player, 1+ = GM, 100+ = full admin.
type AccessLevel struct {
	Level                      int
	Name                       string
	IsGM                       bool
	CanUseAdminCommands        bool
	BypassInstanceRestrictions bool
	CanForceReset              bool
}

// Well-known levels.
const (
	LevelUser          = 0
	LevelModerator     = 1
	LevelGameMaster    = 2
	LevelAdministrator = 100
)

var defaultAccessLevels = map[int]*AccessLevel{
	LevelUser: {
		Level: LevelUser,
		Name:  "User",
	},
	LevelModerator: {
		Level:               LevelModerator,
		Name:                "Moderator",
		IsGM:                true,
		CanUseAdminCommands: true,
	},
	LevelGameMaster: {
		Level:                      LevelGameMaster,
		Name:                       "Game Master",
		IsGM:                       true,
		CanUseAdminCommands:        true,
		BypassInstanceRestrictions: true,
	},
	LevelAdministrator: {
		Level:                      LevelAdministrator,
		Name:                       "Administrator",
		IsGM:                       true,
		CanUseAdminCommands:        true,
		BypassInstanceRestrictions: true,
		CanForceReset:              true,
	},
}

// GetAccessLevel returns AccessLevel for the given level value.
// Unknown levels inherit from the highest known level below them.
// Negative levels (banned) return nil.
func GetAccessLevel(level int) *AccessLevel {
	if level < 0 {
		return nil
	}
	if al, ok := defaultAccessLevels[level]; ok {
		return al
	}

	var best *AccessLevel
	for _, al := range defaultAccessLevels {
		if al.Level <= level && (best == nil || al.Level > best.Level) {
			best = al
		}
	}
	return best
}

// AccessList maps players to their access level. Players not listed are
// regular users. Thread-safe.
type AccessList struct {
	mu     sync.RWMutex
	levels map[model.PlayerID]int
}

// NewAccessList creates an access list from a player → level table.
func NewAccessList(levels map[model.PlayerID]int) *AccessList {
	a := &AccessList{levels: make(map[model.PlayerID]int, len(levels))}
	for id, lvl := range levels {
		a.levels[id] = lvl
	}
	return a
}

// Level returns the player's access level.
func (a *AccessList) Level(player model.PlayerID) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.levels[player]
}

// Set grants level to player. Level 0 removes the entry.
func (a *AccessList) Set(player model.PlayerID, level int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if level == LevelUser {
		delete(a.levels, player)
		return
	}
	a.levels[player] = level
}

// CanBypassInstanceRestrictions reports whether the player's level lifts
// group requirements and instance rate limits.
func (a *AccessList) CanBypassInstanceRestrictions(player model.PlayerID) bool {
	al := GetAccessLevel(a.Level(player))
	return al != nil && al.BypassInstanceRestrictions
}
