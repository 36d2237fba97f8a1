package config

import (
	"fmt"

	"github.com/udisondev/lockout/internal/game/instance"
	"github.com/udisondev/lockout/internal/game/lockout"
	"github.com/udisondev/lockout/internal/model"
)

// Template converts the map entry into instance static data.
func (m Map) Template() (*instance.Template, error) {
	kind, err := parseKind(m.Kind)
	if err != nil {
		return nil, err
	}
	policy, err := instance.ParseLockPolicy(m.LockPolicy)
	if err != nil {
		return nil, err
	}

	tmpl := &instance.Template{
		Map:              m.MapID,
		Difficulty:       m.Difficulty,
		Name:             m.Name,
		Kind:             kind,
		MaxPlayers:       m.MaxPlayers,
		Encounters:       m.Encounters,
		Resettable:       m.Resettable == nil || *m.Resettable,
		GroupRequired:    kind == instance.KindRaid,
		SoloLockOverride: m.SoloLockOverride,
		LockPolicy:       policy,
		Entrance:         m.Entrance,
		Exit:             m.Exit,
		Spawns:           make([]instance.Spawn, 0, len(m.Spawns)),
	}
	if m.GroupRequired != nil {
		tmpl.GroupRequired = *m.GroupRequired
	}
	for _, s := range m.Spawns {
		encounter := -1
		if s.Encounter != nil {
			encounter = *s.Encounter
		}
		tmpl.Spawns = append(tmpl.Spawns, instance.Spawn{
			NpcID:     s.NpcID,
			Loc:       model.Location{X: s.X, Y: s.Y, Z: s.Z},
			Encounter: encounter,
		})
	}

	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// Schedule returns the map's reset schedule, or false to use the default.
func (m Map) Schedule() (lockout.Schedule, bool, error) {
	if m.Reset.Kind == "" && m.Reset.Period == 0 {
		return lockout.Schedule{}, false, nil
	}
	kind, err := lockout.ParseResetKind(m.Reset.Kind)
	if err != nil {
		return lockout.Schedule{}, false, err
	}
	s := lockout.Schedule{Kind: kind, Period: m.Reset.Period}
	if err := s.Validate(); err != nil {
		return lockout.Schedule{}, false, err
	}
	return s, true, nil
}

// Templates converts every configured map.
func (c WorldServer) Templates() ([]*instance.Template, error) {
	seen := make(map[model.MapDifficulty]struct{}, len(c.Maps))
	out := make([]*instance.Template, 0, len(c.Maps))
	for i, m := range c.Maps {
		tmpl, err := m.Template()
		if err != nil {
			return nil, fmt.Errorf("maps[%d] (%d/%s): %w", i, m.MapID, m.Difficulty, err)
		}
		if _, dup := seen[tmpl.Key()]; dup {
			return nil, fmt.Errorf("maps[%d]: duplicate map %s", i, tmpl.Key())
		}
		seen[tmpl.Key()] = struct{}{}
		out = append(out, tmpl)
	}
	return out, nil
}

// Schedules builds the reset schedule table. Maps without a reset entry
// use the weekly schedule.
func (c WorldServer) Schedules() (*lockout.Schedules, error) {
	s := lockout.NewSchedules(c.Instances.ResetEpoch, lockout.WeeklySchedule)
	for i, m := range c.Maps {
		sched, ok, err := m.Schedule()
		if err != nil {
			return nil, fmt.Errorf("maps[%d] (%d/%s) reset: %w", i, m.MapID, m.Difficulty, err)
		}
		if !ok {
			continue
		}
		if err := s.Set(model.MapDifficulty{Map: m.MapID, Difficulty: m.Difficulty}, sched); err != nil {
			return nil, fmt.Errorf("maps[%d] reset: %w", i, err)
		}
	}
	return s, nil
}

// Policy returns the server-wide lock creation policy.
func (i Instances) Policy() (instance.LockPolicy, error) {
	return instance.ParseLockPolicy(i.LockPolicy)
}

func parseKind(s string) (instance.Kind, error) {
	switch s {
	case "", "dungeon":
		return instance.KindDungeon, nil
	case "raid":
		return instance.KindRaid, nil
	default:
		return 0, fmt.Errorf("unknown map kind %q", s)
	}
}
