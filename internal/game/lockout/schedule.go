package lockout

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/udisondev/lockout/internal/model"
)

// ResetKind selects how a lock's expiry is derived.
type ResetKind uint8

const (
	// ResetFixed expires every lock of a map/difficulty at the same epoch-aligned instant.
	ResetFixed ResetKind = iota + 1
	// ResetRelative expires each lock a fixed period after its creation.
	ResetRelative
)

func (k ResetKind) String() string {
	switch k {
	case ResetFixed:
		return "fixed"
	case ResetRelative:
		return "relative"
	default:
		return "unknown"
	}
}

// ParseResetKind parses "fixed" or "relative".
func ParseResetKind(s string) (ResetKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "":
		return ResetFixed, nil
	case "relative":
		return ResetRelative, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind %q", ErrInvalidSchedule, s)
	}
}

// Schedule is the reset policy of one map/difficulty.
type Schedule struct {
	Kind   ResetKind
	Period time.Duration
}

// DailySchedule and WeeklySchedule are the common fixed policies.
var (
	DailySchedule  = Schedule{Kind: ResetFixed, Period: 24 * time.Hour}
	WeeklySchedule = Schedule{Kind: ResetFixed, Period: 7 * 24 * time.Hour}
)

// Validate checks that the schedule is usable.
func (s Schedule) Validate() error {
	if s.Kind != ResetFixed && s.Kind != ResetRelative {
		return fmt.Errorf("%w: kind %d", ErrInvalidSchedule, s.Kind)
	}
	if s.Period <= 0 {
		return fmt.Errorf("%w: period %s", ErrInvalidSchedule, s.Period)
	}
	return nil
}

// Expiry returns when a lock created at created expires.
// Fixed schedules return the first epoch-aligned boundary strictly after created.
func (s Schedule) Expiry(created, epoch time.Time) time.Time {
	if s.Kind == ResetRelative {
		return created.Add(s.Period)
	}
	return nextBoundary(created, epoch, s.Period)
}

// Advance moves an expiry forward by exactly one period.
func (s Schedule) Advance(expiry time.Time) time.Time {
	return expiry.Add(s.Period)
}

func nextBoundary(t, epoch time.Time, period time.Duration) time.Time {
	elapsed := t.Sub(epoch)
	n := elapsed / period
	if elapsed < 0 && elapsed%period != 0 {
		n--
	}
	return epoch.Add((n + 1) * period)
}

// Schedules maps each map/difficulty to its reset policy.
// Keys without an explicit entry use the fallback.
type Schedules struct {
	mu       sync.RWMutex
	epoch    time.Time
	fallback Schedule
	byKey    map[model.MapDifficulty]Schedule
}

// NewSchedules creates a schedule table aligned to epoch.
func NewSchedules(epoch time.Time, fallback Schedule) *Schedules {
	return &Schedules{
		epoch:    epoch,
		fallback: fallback,
		byKey:    make(map[model.MapDifficulty]Schedule, 16),
	}
}

// Set registers the schedule for a map/difficulty.
func (s *Schedules) Set(key model.MapDifficulty, sched Schedule) error {
	if err := sched.Validate(); err != nil {
		return fmt.Errorf("schedule %s: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byKey[key] = sched
	return nil
}

// For returns the schedule governing key.
func (s *Schedules) For(key model.MapDifficulty) Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sched, ok := s.byKey[key]; ok {
		return sched
	}
	return s.fallback
}

// Epoch returns the global alignment epoch of fixed schedules.
func (s *Schedules) Epoch() time.Time { return s.epoch }

// Expiry returns the expiry of a lock on key created at created.
func (s *Schedules) Expiry(key model.MapDifficulty, created time.Time) time.Time {
	return s.For(key).Expiry(created, s.epoch)
}

// NextReset returns the next fixed reset instant after now.
// Relative schedules have no global reset; ok is false for them.
func (s *Schedules) NextReset(key model.MapDifficulty, now time.Time) (time.Time, bool) {
	sched := s.For(key)
	if sched.Kind != ResetFixed {
		return time.Time{}, false
	}
	return nextBoundary(now, s.epoch, sched.Period), true
}
