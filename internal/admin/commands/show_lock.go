package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/udisondev/lockout/internal/admin"
	"github.com/udisondev/lockout/internal/game/lockout"
	"github.com/udisondev/lockout/internal/model"
)

// ShowLock handles show-lock <owner> <map> <difficulty>.
type ShowLock struct {
	core Core
	now  func() time.Time
}

// NewShowLock creates the show-lock command handler.
func NewShowLock(core Core, now func() time.Time) *ShowLock {
	if now == nil {
		now = time.Now
	}
	return &ShowLock{core: core, now: now}
}

func (c *ShowLock) Names() []string          { return []string{"show-lock", "lock"} }
func (c *ShowLock) RequiredAccessLevel() int { return admin.LevelModerator }
func (c *ShowLock) Usage() string            { return "<owner> <map> <difficulty>" }

func (c *ShowLock) Handle(_ admin.Actor, args []string, out io.Writer) error {
	key, err := parseLockKey(c, args)
	if err != nil {
		return err
	}

	l, ok := c.core.ShowLock(key)
	if !ok {
		fmt.Fprintf(out, "%s: no lock\n", key)
		if next, ok := c.core.NextReset(key.MapDifficulty); ok {
			fmt.Fprintf(out, "next reset:  %s\n", next.UTC().Format(time.RFC3339))
		}
		return nil
	}
	writeLock(out, l, c.now())
	return nil
}

func writeLock(out io.Writer, l lockout.Lock, now time.Time) {
	fmt.Fprintf(out, "%s\n", l.Key)
	fmt.Fprintf(out, "  instance:  %d\n", l.InstanceID)
	fmt.Fprintf(out, "  completed: %s (%d)\n", l.Completed, l.Completed.Count())
	fmt.Fprintf(out, "  created:   %s\n", l.CreatedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "  expires:   %s (%s)\n", l.ExpiresAt.UTC().Format(time.RFC3339), lockState(l, now))
	fmt.Fprintf(out, "  extended:  %t\n", l.Extended)
	if l.Carried {
		fmt.Fprintln(out, "  carried:   true")
	}
}

func lockState(l lockout.Lock, now time.Time) string {
	if l.Expired(now) {
		return "expired"
	}
	return "in " + l.TimeLeft(now).Truncate(time.Second).String()
}

// ListLocks handles list-locks <owner>.
type ListLocks struct {
	core Core
	now  func() time.Time
}

// NewListLocks creates the list-locks command handler.
func NewListLocks(core Core, now func() time.Time) *ListLocks {
	if now == nil {
		now = time.Now
	}
	return &ListLocks{core: core, now: now}
}

func (c *ListLocks) Names() []string          { return []string{"list-locks", "locks"} }
func (c *ListLocks) RequiredAccessLevel() int { return admin.LevelModerator }
func (c *ListLocks) Usage() string            { return "<owner>" }

func (c *ListLocks) Handle(_ admin.Actor, args []string, out io.Writer) error {
	if len(args) < 2 {
		return admin.UsageError(c, "missing owner")
	}
	owner, err := model.ParseOwner(args[1])
	if err != nil {
		return admin.UsageError(c, "%v", err)
	}

	locks := c.core.ListLocks(owner)
	if len(locks) == 0 {
		fmt.Fprintf(out, "%s: no locks\n", owner)
		return nil
	}
	now := c.now()
	for _, l := range locks {
		fmt.Fprintf(out, "%-24s instance=%-6d completed=%-10s %s\n",
			l.Key.MapDifficulty.String(), l.InstanceID, l.Completed.String(), lockState(l, now))
	}
	return nil
}
