package commands

import (
	"time"

	"github.com/udisondev/lockout/internal/admin"
)

// RegisterAll registers every instance command into the handler.
func RegisterAll(h *admin.Handler, core Core, now func() time.Time) {
	h.Register(NewResetInstance(core))
	h.Register(NewShowLock(core, now))
	h.Register(NewListLocks(core, now))
	h.Register(NewExtendLock(core))
	h.Register(NewInstances(core))
}
