package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/udisondev/lockout/internal/admin"
	"github.com/udisondev/lockout/internal/game/lockout"
)

// ExtendLock handles extend-lock <owner> <map> <difficulty> [on|off].
// "off" cancels a pending extension.
type ExtendLock struct {
	core Core
}

// NewExtendLock creates the extend-lock command handler.
func NewExtendLock(core Core) *ExtendLock {
	return &ExtendLock{core: core}
}

func (c *ExtendLock) Names() []string          { return []string{"extend-lock", "extend"} }
func (c *ExtendLock) RequiredAccessLevel() int { return admin.LevelGameMaster }
func (c *ExtendLock) Usage() string            { return "<owner> <map> <difficulty> [on|off]" }

func (c *ExtendLock) Handle(_ admin.Actor, args []string, out io.Writer) error {
	key, err := parseLockKey(c, args)
	if err != nil {
		return err
	}

	extend := true
	if len(args) > 4 {
		switch args[4] {
		case "on":
		case "off":
			extend = false
		default:
			return admin.UsageError(c, "expected on or off, got %q", args[4])
		}
	}

	var l lockout.Lock
	if extend {
		l, err = c.core.ExtendLock(key)
	} else {
		l, err = c.core.CancelExtension(key)
	}
	if errors.Is(err, lockout.ErrLockNotFound) {
		return fmt.Errorf("%s: no active lock", key)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s extended=%t expires=%s\n", key, l.Extended, l.ExpiresAt.UTC().Format(time.RFC3339))
	return nil
}
