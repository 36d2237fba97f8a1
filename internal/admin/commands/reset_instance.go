package commands

import (
	"fmt"
	"io"

	"github.com/udisondev/lockout/internal/admin"
	"github.com/udisondev/lockout/internal/game/binding"
	"github.com/udisondev/lockout/internal/game/instance"
)

// ResetInstance handles reset-instance <owner> <map> <difficulty> [manual|onchange|force].
// Prints the reset outcome. Refusals map to non-zero exit statuses.
type ResetInstance struct {
	core Core
}

// NewResetInstance creates the reset-instance command handler.
func NewResetInstance(core Core) *ResetInstance {
	return &ResetInstance{core: core}
}

func (c *ResetInstance) Names() []string          { return []string{"reset-instance", "reset"} }
func (c *ResetInstance) RequiredAccessLevel() int { return admin.LevelModerator }
func (c *ResetInstance) Usage() string {
	return "<owner> <map> <difficulty> [manual|onchange|force]"
}

func (c *ResetInstance) Handle(actor admin.Actor, args []string, out io.Writer) error {
	key, err := parseLockKey(c, args)
	if err != nil {
		return err
	}

	method := instance.MethodManual
	if len(args) > 4 {
		method, err = instance.ParseResetMethod(args[4])
		if err != nil || method == instance.MethodOnExpiry {
			return admin.UsageError(c, "unknown method %q", args[4])
		}
	}
	if method == instance.MethodForce {
		al := admin.GetAccessLevel(actor.Level)
		if al == nil || !al.CanForceReset {
			return fmt.Errorf("%w: force reset needs level %d", admin.ErrAccessDenied, admin.LevelAdministrator)
		}
	}

	res := c.core.ForceReset(binding.ResetRequest{
		Requester: actor.Player,
		Owner:     key.Owner,
		Key:       key.MapDifficulty,
		Method:    method,
	})

	fmt.Fprintln(out, res.Outcome.String())
	if res.OK() {
		fmt.Fprintf(out, "instance %s reset, %d lock(s) removed\n", res.Instance, res.LocksDeleted)
		return nil
	}
	return &admin.ResetError{Outcome: res.Outcome, Reason: res.Reason.String()}
}
