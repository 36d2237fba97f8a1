// Package party tracks the parties and raid groups players form. Instance
// entry and reset entitlement read group membership from here.
package party

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/udisondev/lockout/internal/model"
)

const (
	// MaxPartySize is the member limit of a regular party.
	MaxPartySize = 5
	// MaxRaidSize is the member limit of a raid group.
	MaxRaidSize = 40
)

type party struct {
	id      model.GroupID
	leader  model.PlayerID
	members []model.PlayerID
	raid    bool
}

func (p *party) snapshot() model.Group {
	return model.Group{
		ID:      p.id,
		Leader:  p.leader,
		Members: slices.Clone(p.members),
		Raid:    p.raid,
	}
}

func (p *party) limit() int {
	if p.raid {
		return MaxRaidSize
	}
	return MaxPartySize
}

// Manager manages all active parties on the server.
// Thread-safe: uses RWMutex for party maps and atomic for ID generation.
type Manager struct {
	mu       sync.RWMutex
	parties  map[model.GroupID]*party
	byMember map[model.PlayerID]model.GroupID
	nextID   atomic.Uint32
}

// NewManager creates a new party manager.
func NewManager() *Manager {
	return &Manager{
		parties:  make(map[model.GroupID]*party),
		byMember: make(map[model.PlayerID]model.GroupID),
	}
}

// CreateParty creates a new party led by leader.
func (m *Manager) CreateParty(leader model.PlayerID) (model.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byMember[leader]; ok {
		return model.Group{}, ErrAlreadyInParty
	}

	id := model.GroupID(m.nextID.Add(1))
	p := &party{id: id, leader: leader, members: []model.PlayerID{leader}}
	m.parties[id] = p
	m.byMember[leader] = id
	return p.snapshot(), nil
}

// Join adds player to the party.
func (m *Manager) Join(id model.GroupID, player model.PlayerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.parties[id]
	if !ok {
		return ErrPartyNotFound
	}
	if _, ok := m.byMember[player]; ok {
		return ErrAlreadyInParty
	}
	if len(p.members) >= p.limit() {
		return ErrPartyFull
	}
	p.members = append(p.members, player)
	m.byMember[player] = id
	return nil
}

// Leave removes player from their party. Leadership passes to the next
// member; a party left with a single member is disbanded.
func (m *Manager) Leave(player model.PlayerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byMember[player]
	if !ok {
		return ErrNotInParty
	}
	p := m.parties[id]
	p.members = slices.DeleteFunc(p.members, func(x model.PlayerID) bool { return x == player })
	delete(m.byMember, player)

	if len(p.members) <= 1 {
		m.disbandLocked(id)
		return nil
	}
	if p.leader == player {
		p.leader = p.members[0]
	}
	return nil
}

// SetLeader passes leadership. Only the current leader may do so.
func (m *Manager) SetLeader(id model.GroupID, by, to model.PlayerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.parties[id]
	if !ok {
		return ErrPartyNotFound
	}
	if p.leader != by {
		return ErrNotLeader
	}
	if !slices.Contains(p.members, to) {
		return ErrNotInParty
	}
	p.leader = to
	return nil
}

// ConvertToRaid turns a party into a raid group, raising its member limit.
func (m *Manager) ConvertToRaid(id model.GroupID, by model.PlayerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.parties[id]
	if !ok {
		return ErrPartyNotFound
	}
	if p.leader != by {
		return ErrNotLeader
	}
	p.raid = true
	return nil
}

// DisbandParty removes a party by ID.
func (m *Manager) DisbandParty(id model.GroupID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disbandLocked(id)
}

func (m *Manager) disbandLocked(id model.GroupID) {
	p, ok := m.parties[id]
	if !ok {
		return
	}
	for _, member := range p.members {
		delete(m.byMember, member)
	}
	delete(m.parties, id)
}

// Group returns a snapshot of the party.
func (m *Manager) Group(id model.GroupID) (model.Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.parties[id]
	if !ok {
		return model.Group{}, false
	}
	return p.snapshot(), true
}

// GroupOf returns a snapshot of the party player belongs to.
func (m *Manager) GroupOf(player model.PlayerID) (model.Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byMember[player]
	if !ok {
		return model.Group{}, false
	}
	return m.parties[id].snapshot(), true
}

// PartyCount returns the number of active parties.
func (m *Manager) PartyCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.parties)
}
