package admin

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/udisondev/lockout/internal/game/instance"
	"github.com/udisondev/lockout/internal/model"
)

// Actor is whoever issues a command. Player 0 is the local console, which
// is trusted with the administrator level.
type Actor struct {
	Player model.PlayerID
	Level  int
}

// Console is the actor used by the server console and instancectl.
var Console = Actor{Level: LevelAdministrator}

// IsConsole reports whether the actor is the local operator.
func (a Actor) IsConsole() bool { return a.Player == 0 }

func (a Actor) String() string {
	if a.IsConsole() {
		return "console"
	}
	return fmt.Sprintf("player:%d", a.Player)
}

// Command is the interface for admin commands.
// Each command registers one or more names and a required access level.
type Command interface {
	// Handle executes the command. args includes command name at [0].
	Handle(actor Actor, args []string, out io.Writer) error
	// Names returns all registered command names.
	Names() []string
	// RequiredAccessLevel returns the minimum access level to use this command.
	RequiredAccessLevel() int
	// Usage returns the argument synopsis.
	Usage() string
}

// Status is the exit status of a command.
type Status int

const (
	StatusOK          Status = 0
	StatusError       Status = 1
	StatusUsage       Status = 2
	StatusNotEmpty    Status = 3
	StatusCannotReset Status = 4
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrAccessDenied   = errors.New("access denied")
	ErrUsage          = errors.New("usage")
)

// UsageError reports malformed arguments.
func UsageError(cmd Command, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%w: %s %s: %s", ErrUsage, cmd.Names()[0], cmd.Usage(), msg)
}

// ResetError carries a refused reset outcome.
type ResetError struct {
	Outcome instance.ResetOutcome
	Reason  string
}

func (e *ResetError) Error() string {
	return fmt.Sprintf("reset refused: %s (%s)", e.Outcome, e.Reason)
}

// StatusOf maps a command error to its exit status.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	if errors.Is(err, ErrUsage) || errors.Is(err, ErrUnknownCommand) {
		return StatusUsage
	}
	var re *ResetError
	if errors.As(err, &re) {
		switch re.Outcome {
		case instance.ResetNotEmpty:
			return StatusNotEmpty
		case instance.ResetCannotReset:
			return StatusCannotReset
		}
	}
	return StatusError
}

// Handler dispatches admin commands.
// Thread-safe: commands are registered once at startup, then read-only.
type Handler struct {
	mu   sync.RWMutex
	cmds map[string]Command // name → Command (lowercase)
}

// NewHandler creates a new command handler.
func NewHandler() *Handler {
	return &Handler{cmds: make(map[string]Command, 16)}
}

// Register registers a command under all its names.
// All command names are lowercased for case-insensitive lookup.
func (h *Handler) Register(cmd Command) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, name := range cmd.Names() {
		h.cmds[strings.ToLower(name)] = cmd
	}
}

// Execute parses line and runs the command it names, writing output to out.
func (h *Handler) Execute(actor Actor, line string, out io.Writer) error {
	return h.Run(actor, strings.Fields(line), out)
}

// Run executes an already split command line. args[0] is the command name.
func (h *Handler) Run(actor Actor, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: empty command", ErrUsage)
	}
	name := strings.ToLower(args[0])

	h.mu.RLock()
	cmd, ok := h.cmds[name]
	h.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	al := GetAccessLevel(actor.Level)
	if al == nil || !al.CanUseAdminCommands {
		slog.Warn("unauthorized admin command attempt",
			"actor", actor.String(),
			"command", name,
			"accessLevel", actor.Level)
		return fmt.Errorf("%w: %s", ErrAccessDenied, name)
	}
	if actor.Level < cmd.RequiredAccessLevel() {
		slog.Warn("admin command access denied",
			"actor", actor.String(),
			"command", name,
			"required", cmd.RequiredAccessLevel(),
			"actual", actor.Level)
		return fmt.Errorf("%w: %s needs level %d, have %d",
			ErrAccessDenied, name, cmd.RequiredAccessLevel(), actor.Level)
	}

	slog.Info("admin command",
		"actor", actor.String(),
		"command", strings.Join(args, " "))

	err := cmd.Handle(actor, args, out)
	if err != nil && StatusOf(err) == StatusError {
		slog.Error("admin command failed",
			"actor", actor.String(),
			"command", strings.Join(args, " "),
			"error", err)
	}
	return err
}

// Help writes one usage line per command.
func (h *Handler) Help(out io.Writer) {
	h.mu.RLock()
	seen := make(map[Command]struct{}, len(h.cmds))
	lines := make([]string, 0, len(h.cmds))
	for _, cmd := range h.cmds {
		if _, ok := seen[cmd]; ok {
			continue
		}
		seen[cmd] = struct{}{}
		lines = append(lines, cmd.Names()[0]+" "+cmd.Usage())
	}
	h.mu.RUnlock()

	slices.Sort(lines)
	for _, l := range lines {
		fmt.Fprintln(out, l)
	}
}

// CommandCount returns number of registered command names.
func (h *Handler) CommandCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.cmds)
}
