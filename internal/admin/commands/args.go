package commands

import (
	"strconv"

	"github.com/udisondev/lockout/internal/admin"
	"github.com/udisondev/lockout/internal/model"
)

// parseLockKey parses "<owner> <map> <difficulty>" from args[1:4].
func parseLockKey(cmd admin.Command, args []string) (model.LockKey, error) {
	if len(args) < 4 {
		return model.LockKey{}, admin.UsageError(cmd, "missing arguments")
	}
	owner, err := model.ParseOwner(args[1])
	if err != nil {
		return model.LockKey{}, admin.UsageError(cmd, "%v", err)
	}
	mapID, err := strconv.ParseUint(args[2], 10, 32)
	if err != nil || mapID == 0 {
		return model.LockKey{}, admin.UsageError(cmd, "invalid map id %q", args[2])
	}
	d, err := model.ParseDifficulty(args[3])
	if err != nil {
		return model.LockKey{}, admin.UsageError(cmd, "%v", err)
	}
	return model.LockKey{
		Owner:         owner,
		MapDifficulty: model.MapDifficulty{Map: model.MapID(mapID), Difficulty: d},
	}, nil
}
