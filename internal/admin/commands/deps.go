package commands

import (
	"time"

	"github.com/udisondev/lockout/internal/game/binding"
	"github.com/udisondev/lockout/internal/game/instance"
	"github.com/udisondev/lockout/internal/game/lockout"
	"github.com/udisondev/lockout/internal/model"
)

// Core is the part of the instance core the commands drive.
// *binding.Manager implements it.
type Core interface {
	ForceReset(req binding.ResetRequest) binding.ResetResult
	ShowLock(key model.LockKey) (lockout.Lock, bool)
	ListLocks(owner model.Owner) []lockout.Lock
	ExtendLock(key model.LockKey) (lockout.Lock, error)
	CancelExtension(key model.LockKey) (lockout.Lock, error)
	NextReset(key model.MapDifficulty) (time.Time, bool)
	Instances() []*instance.Instance
}

var _ Core = (*binding.Manager)(nil)
