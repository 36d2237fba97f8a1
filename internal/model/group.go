package model

import "slices"

// Group is a point-in-time view of a party or raid.
// Members includes the leader.
type Group struct {
	ID      GroupID
	Leader  PlayerID
	Members []PlayerID
	Raid    bool
}

// Owner returns the lock owner value for this group.
func (g Group) Owner() Owner { return GroupOwner(g.ID) }

// HasMember reports whether the player belongs to the group.
func (g Group) HasMember(id PlayerID) bool {
	return slices.Contains(g.Members, id)
}

// IsLeader reports whether the player leads the group.
func (g Group) IsLeader(id PlayerID) bool { return g.Leader == id }
