// Package worldserver assembles the instance core from configuration: lock
// registry with background persistence, map registry, party tracking,
// access levels and the admin command set.
package worldserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/lockout/internal/admin"
	"github.com/udisondev/lockout/internal/admin/commands"
	"github.com/udisondev/lockout/internal/config"
	"github.com/udisondev/lockout/internal/game/binding"
	"github.com/udisondev/lockout/internal/game/instance"
	"github.com/udisondev/lockout/internal/game/lockout"
	"github.com/udisondev/lockout/internal/game/party"
)

// Server owns every long-lived component of the world server.
type Server struct {
	store     lockout.Store
	persister *lockout.Persister
	mgr       *binding.Manager
	parties   *party.Manager
	access    *admin.AccessList
	handler   *admin.Handler
}

// Options carries the process-level collaborators. Nil fields fall back to
// no-op implementations.
type Options struct {
	Notifier lockout.Notifier
	Evictor  instance.Evictor
}

// NewServer builds the core from cfg over store. Nothing is loaded yet; call
// Load before serving.
func NewServer(cfg config.WorldServer, store lockout.Store, opts Options) (*Server, error) {
	schedules, err := cfg.Schedules()
	if err != nil {
		return nil, fmt.Errorf("reset schedules: %w", err)
	}
	templates, err := cfg.Templates()
	if err != nil {
		return nil, fmt.Errorf("map templates: %w", err)
	}
	policy, err := cfg.Instances.Policy()
	if err != nil {
		return nil, fmt.Errorf("lock policy: %w", err)
	}

	persister := lockout.NewPersister(store)
	persister.SetRetry(cfg.Instances.PersistRetryDelay, cfg.Instances.PersistMaxAttempts)

	locks := lockout.NewRegistry(schedules, persister, opts.Notifier)

	maps := instance.NewManager(instance.Config{
		MaxInstances: cfg.Instances.MaxInstances,
		IdleTimeout:  cfg.Instances.IdleTimeout,
		TickWorkers:  cfg.Instances.TickWorkers,
	})
	if opts.Evictor != nil {
		maps.SetEvictor(opts.Evictor)
	}
	for _, tmpl := range templates {
		if err := maps.RegisterTemplate(tmpl); err != nil {
			return nil, fmt.Errorf("register %s: %w", tmpl.Key(), err)
		}
	}

	parties := party.NewManager()
	access := admin.NewAccessList(cfg.AccessLevels)

	mgr := binding.NewManager(binding.Config{
		LockPolicy:       policy,
		InstancesPerHour: cfg.Instances.InstancesPerHour,
		TickInterval:     cfg.Instances.TickInterval,
		ResetInterval:    cfg.Instances.ResetCheckInterval,
	}, locks, maps, parties, access, opts.Notifier)

	handler := admin.NewHandler()
	commands.RegisterAll(handler, mgr, nil)

	slog.Info("instance core configured",
		"maps", maps.TemplateCount(),
		"lockPolicy", policy.String(),
		"resetEpoch", schedules.Epoch())

	return &Server{
		store:     store,
		persister: persister,
		mgr:       mgr,
		parties:   parties,
		access:    access,
		handler:   handler,
	}, nil
}

// Manager returns the instance/lock core.
func (s *Server) Manager() *binding.Manager { return s.mgr }

// Parties returns the party tracker.
func (s *Server) Parties() *party.Manager { return s.parties }

// Access returns the access level table.
func (s *Server) Access() *admin.AccessList { return s.access }

// Persister returns the background lock writer.
func (s *Server) Persister() *lockout.Persister { return s.persister }

// Load restores persisted locks. A failure must abort startup.
func (s *Server) Load(ctx context.Context) error {
	if err := s.mgr.Load(ctx, s.store); err != nil {
		return err
	}
	slog.Info("instance locks loaded", "locks", s.mgr.Locks().Len())
	return nil
}

// Exec runs one admin command line on behalf of actor.
func (s *Server) Exec(actor admin.Actor, line string, out io.Writer) error {
	return s.handler.Execute(actor, line, out)
}

// ExecArgs runs an already split admin command on behalf of actor.
func (s *Server) ExecArgs(actor admin.Actor, args []string, out io.Writer) error {
	return s.handler.Run(actor, args, out)
}

// Help lists the admin commands.
func (s *Server) Help(out io.Writer) { s.handler.Help(out) }

// Flush writes every queued lock mutation to the store.
func (s *Server) Flush(ctx context.Context) error {
	return s.persister.Flush(ctx)
}

// Run ticks instances, runs the reset scheduler and persists locks until ctx
// is cancelled. Queued writes are flushed before Run returns.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.mgr.Run(gctx)
	})
	g.Go(func() error {
		return s.persister.Run(gctx)
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("world server: %w", err)
	}
	return nil
}
