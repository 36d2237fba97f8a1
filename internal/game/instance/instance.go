// Package instance owns live dungeon and raid instances: private,
// independently-ticking copies of a map identified by (map id, instance id).
//
// Occupancy and encounter state of an instance change only inside its Tick.
// Session goroutines submit intents (enter, leave, encounter updates) that
// are applied in order on the next tick; the returned channel reports the
// result.
package instance

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/udisondev/lockout/internal/model"
)

// State represents the lifecycle state of an instance.
type State int32

const (
	StateCreated   State = iota // Created, nobody entered yet
	StateActive                 // At least one occupant
	StateIdle                   // Empty, idle timer running
	StateDestroyed              // Torn down
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateActive:
		return "ACTIVE"
	case StateIdle:
		return "IDLE"
	case StateDestroyed:
		return "DESTROYED"
	default:
		return "UNKNOWN"
	}
}

// EncounterState is the runtime progress of one encounter.
// It is distinct from the persisted completion mask of a lock.
type EncounterState uint8

const (
	EncounterNotStarted EncounterState = iota
	EncounterInProgress
	EncounterDone
)

func (s EncounterState) String() string {
	switch s {
	case EncounterNotStarted:
		return "not-started"
	case EncounterInProgress:
		return "in-progress"
	case EncounterDone:
		return "done"
	default:
		return "unknown"
	}
}

// EncounterCompletion is reported when an encounter reaches EncounterDone.
// Players are the occupants at that moment.
type EncounterCompletion struct {
	Ref        model.InstanceRef
	Difficulty model.Difficulty
	Encounter  uint8
	Players    []model.PlayerID
	Group      model.GroupID
	Kind       Kind
}

type commandKind uint8

const (
	cmdEnter commandKind = iota + 1
	cmdLeave
	cmdEncounter
)

type command struct {
	kind      commandKind
	player    model.PlayerID
	encounter uint8
	state     EncounterState
	reply     chan error
}

// TickResult is what one tick produced for the owning manager.
type TickResult struct {
	Completions []EncounterCompletion
	// IdleExpired is set when the instance has been empty for the idle timeout.
	IdleExpired bool
}

// Instance is one live copy of a map.
// Thread-safe; see the package doc for the mutation model.
type Instance struct {
	mu sync.Mutex

	ref       model.InstanceRef
	tmpl      *Template
	createdAt time.Time
	state     atomic.Int32 // State
	group     atomic.Uint32

	players    map[model.PlayerID]struct{}
	npcs       map[uint32]Spawn // objectID → spawn
	encounters []EncounterState
	inbox      []command

	idleSince   time.Time
	idleTimeout time.Duration
}

// DefaultIdleTimeout is the default time before an empty instance is destroyed.
const DefaultIdleTimeout = 5 * time.Minute

func newInstance(ref model.InstanceRef, tmpl *Template, now time.Time, idleTimeout time.Duration) *Instance {
	inst := &Instance{
		ref:         ref,
		tmpl:        tmpl,
		createdAt:   now,
		players:     make(map[model.PlayerID]struct{}, max(int(tmpl.MaxPlayers), 5)),
		npcs:        make(map[uint32]Spawn, len(tmpl.Spawns)),
		encounters:  make([]EncounterState, tmpl.Encounters),
		idleSince:   now,
		idleTimeout: idleTimeout,
	}
	inst.state.Store(int32(StateCreated))
	return inst
}

// Ref returns the (map, instance) identity.
func (i *Instance) Ref() model.InstanceRef { return i.ref }

// ID returns the instance id.
func (i *Instance) ID() model.InstanceID { return i.ref.Instance }

// MapID returns the map this instance copies.
func (i *Instance) MapID() model.MapID { return i.ref.Map }

// Difficulty returns the difficulty the instance was created with.
func (i *Instance) Difficulty() model.Difficulty { return i.tmpl.Difficulty }

// Template returns the static data the instance was seeded from.
func (i *Instance) Template() *Template { return i.tmpl }

// CreatedAt returns when the instance was created.
func (i *Instance) CreatedAt() time.Time { return i.createdAt }

// State returns the current lifecycle state.
func (i *Instance) State() State { return State(i.state.Load()) }

// Group returns the group the instance was opened for, or 0.
func (i *Instance) Group() model.GroupID { return model.GroupID(i.group.Load()) }

// BindGroup records the group the instance was opened for. The first call wins.
func (i *Instance) BindGroup(id model.GroupID) {
	i.group.CompareAndSwap(0, uint32(id))
}

// Enter queues the player's entry.
func (i *Instance) Enter(player model.PlayerID) <-chan error {
	return i.submit(command{kind: cmdEnter, player: player})
}

// Leave queues the player's exit.
func (i *Instance) Leave(player model.PlayerID) <-chan error {
	return i.submit(command{kind: cmdLeave, player: player})
}

// SetEncounterState queues an encounter progress update from the encounter script.
func (i *Instance) SetEncounterState(encounter uint8, state EncounterState) <-chan error {
	return i.submit(command{kind: cmdEncounter, encounter: encounter, state: state})
}

func (i *Instance) submit(cmd command) <-chan error {
	cmd.reply = make(chan error, 1)

	i.mu.Lock()
	defer i.mu.Unlock()

	if i.State() == StateDestroyed {
		cmd.reply <- ErrInstanceDestroyed
		return cmd.reply
	}
	i.inbox = append(i.inbox, cmd)
	return cmd.reply
}

// PlayerCount returns the number of players inside.
func (i *Instance) PlayerCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.players)
}

// HasPlayer returns true if the player is inside.
func (i *Instance) HasPlayer(player model.PlayerID) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.players[player]
	return ok
}

// Players returns a sorted copy of the occupant set.
func (i *Instance) Players() []model.PlayerID {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.playersLocked()
}

func (i *Instance) playersLocked() []model.PlayerID {
	ids := make([]model.PlayerID, 0, len(i.players))
	for id := range i.players {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// NpcCount returns the number of seeded entities still alive.
func (i *Instance) NpcCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.npcs)
}

// EncounterState returns the runtime state of encounter e.
func (i *Instance) EncounterState(e uint8) EncounterState {
	i.mu.Lock()
	defer i.mu.Unlock()
	if int(e) >= len(i.encounters) {
		return EncounterNotStarted
	}
	return i.encounters[e]
}

// EncounterInProgress reports whether any encounter is running.
func (i *Instance) EncounterInProgress() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.inProgressLocked()
}

func (i *Instance) inProgressLocked() bool {
	return slices.Contains(i.encounters, EncounterInProgress)
}

// Tick applies queued intents in submission order and advances the idle timer.
func (i *Instance) Tick(now time.Time) TickResult {
	i.mu.Lock()
	defer i.mu.Unlock()

	var res TickResult
	if i.State() == StateDestroyed {
		return res
	}

	inbox := i.inbox
	i.inbox = nil
	for _, cmd := range inbox {
		err := i.applyLocked(cmd, now, &res)
		cmd.reply <- err
	}

	switch i.State() {
	case StateCreated, StateIdle:
		if i.idleTimeout > 0 && now.Sub(i.idleSince) >= i.idleTimeout {
			res.IdleExpired = true
		}
	}
	return res
}

func (i *Instance) applyLocked(cmd command, now time.Time, res *TickResult) error {
	switch cmd.kind {
	case cmdEnter:
		if _, ok := i.players[cmd.player]; ok {
			return ErrAlreadyInInstance
		}
		if i.tmpl.MaxPlayers > 0 && int32(len(i.players)) >= i.tmpl.MaxPlayers {
			return ErrInstanceFull
		}
		i.players[cmd.player] = struct{}{}
		i.state.Store(int32(StateActive))
		return nil

	case cmdLeave:
		if _, ok := i.players[cmd.player]; !ok {
			return ErrNotInInstance
		}
		delete(i.players, cmd.player)
		if len(i.players) == 0 {
			i.state.Store(int32(StateIdle))
			i.idleSince = now
		}
		return nil

	case cmdEncounter:
		if int(cmd.encounter) >= len(i.encounters) {
			return ErrInvalidEncounter
		}
		cur := i.encounters[cmd.encounter]
		if cur == EncounterDone {
			return ErrEncounterAlreadyDone
		}
		i.encounters[cmd.encounter] = cmd.state
		if cmd.state == EncounterDone {
			i.despawnEncounterLocked(int(cmd.encounter))
			res.Completions = append(res.Completions, EncounterCompletion{
				Ref:        i.ref,
				Difficulty: i.tmpl.Difficulty,
				Encounter:  cmd.encounter,
				Players:    i.playersLocked(),
				Group:      i.Group(),
				Kind:       i.tmpl.Kind,
			})
		}
		return nil
	}
	return nil
}

func (i *Instance) despawnEncounterLocked(encounter int) {
	for objID, s := range i.npcs {
		if s.Encounter == encounter {
			delete(i.npcs, objID)
		}
	}
}

// tryReset decides a reset under the instance lock. On success the instance
// is marked destroyed and its occupants are returned for eviction.
func (i *Instance) tryReset(method ResetMethod, guard func() bool) (ResetOutcome, []model.PlayerID, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.State() == StateDestroyed {
		return ResetSuccess, nil, nil
	}
	if method != MethodForce {
		if i.inProgressLocked() {
			return ResetCannotReset, nil, nil
		}
		if !i.tmpl.AllowsReset(method) {
			return ResetCannotReset, nil, nil
		}
	}
	if method.requiresEmpty() && (len(i.players) > 0 || i.pendingEntriesLocked() > 0) {
		return ResetNotEmpty, nil, nil
	}
	if guard != nil && !guard() {
		return 0, nil, ErrResetAborted
	}
	return ResetSuccess, i.destroyLocked(), nil
}

// markDestroyed tears the instance down regardless of occupancy.
func (i *Instance) markDestroyed() []model.PlayerID {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.State() == StateDestroyed {
		return nil
	}
	return i.destroyLocked()
}

// destroyIfIdle destroys only if still empty with nothing queued.
func (i *Instance) destroyIfIdle() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.State() == StateDestroyed || len(i.players) > 0 || len(i.inbox) > 0 {
		return false
	}
	i.destroyLocked()
	return true
}

func (i *Instance) destroyLocked() []model.PlayerID {
	evicted := i.playersLocked()
	clear(i.players)
	clear(i.npcs)
	for _, cmd := range i.inbox {
		cmd.reply <- ErrInstanceDestroyed
	}
	i.inbox = nil
	i.state.Store(int32(StateDestroyed))
	return evicted
}

func (i *Instance) pendingEntriesLocked() int {
	n := 0
	for _, cmd := range i.inbox {
		if cmd.kind == cmdEnter {
			n++
		}
	}
	return n
}

func (i *Instance) seed(npcIDs *atomic.Uint32) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, s := range i.tmpl.Spawns {
		i.npcs[npcIDs.Add(1)] = s
	}
}
