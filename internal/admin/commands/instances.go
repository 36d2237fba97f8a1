package commands

import (
	"fmt"
	"io"

	"github.com/udisondev/lockout/internal/admin"
)

// Instances handles instances and lists live instances.
type Instances struct {
	core Core
}

// NewInstances creates the instances command handler.
func NewInstances(core Core) *Instances {
	return &Instances{core: core}
}

func (c *Instances) Names() []string          { return []string{"instances"} }
func (c *Instances) RequiredAccessLevel() int { return admin.LevelModerator }
func (c *Instances) Usage() string            { return "" }

func (c *Instances) Handle(_ admin.Actor, _ []string, out io.Writer) error {
	list := c.core.Instances()
	for _, inst := range list {
		fmt.Fprintf(out, "%-10s %-8s %-10s players=%d npcs=%d group=%d\n",
			inst.Ref().String(),
			inst.Difficulty().String(),
			inst.State().String(),
			inst.PlayerCount(),
			inst.NpcCount(),
			inst.Group())
	}
	fmt.Fprintf(out, "%d live instance(s)\n", len(list))
	return nil
}
