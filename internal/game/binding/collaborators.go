package binding

import "github.com/udisondev/lockout/internal/model"

// Permissions is the external entitlement check for administrative overrides.
type Permissions interface {
	CanBypassInstanceRestrictions(actor model.PlayerID) bool
}

// PermissionsFunc adapts a function to Permissions.
type PermissionsFunc func(actor model.PlayerID) bool

func (f PermissionsFunc) CanBypassInstanceRestrictions(actor model.PlayerID) bool { return f(actor) }

// NoBypass grants no overrides.
var NoBypass Permissions = PermissionsFunc(func(model.PlayerID) bool { return false })

// GroupLookup resolves the group a player currently belongs to.
type GroupLookup interface {
	GroupOf(player model.PlayerID) (model.Group, bool)
	Group(id model.GroupID) (model.Group, bool)
}

type noGroups struct{}

func (noGroups) GroupOf(model.PlayerID) (model.Group, bool) { return model.Group{}, false }
func (noGroups) Group(model.GroupID) (model.Group, bool)    { return model.Group{}, false }

// NoGroups is a GroupLookup where every player is solo.
var NoGroups GroupLookup = noGroups{}
