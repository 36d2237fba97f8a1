package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/udisondev/lockout/internal/config"
	"github.com/udisondev/lockout/internal/db"
	"github.com/udisondev/lockout/internal/worldserver"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load config FIRST to determine log level
	cfgPath := config.Path()
	cfg, err := config.LoadWorldServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("world server starting",
		"config", cfgPath,
		"log_level", cfg.LogLevel,
		"store", cfg.Store,
		"maps", len(cfg.Maps))

	store, err := db.OpenLockStore(ctx, cfg.Store, cfg.Database.DSN(), cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("opening lock store: %w", err)
	}
	defer store.Close()
	slog.Info("lock store ready", "backend", store.Backend)

	srv, err := worldserver.NewServer(cfg, store, worldserver.Options{
		Notifier: &eventLogger{},
		Evictor:  &evictionLogger{},
	})
	if err != nil {
		return fmt.Errorf("building instance core: %w", err)
	}

	// Running without the persisted locks would hand everyone fresh instances.
	if err := srv.Load(ctx); err != nil {
		return fmt.Errorf("loading instance locks: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting instance core")
		if err := srv.Run(gctx); err != nil {
			return fmt.Errorf("instance core: %w", err)
		}
		return nil
	})

	if isTerminal(os.Stdin) {
		// The console returns on EOF or quit without stopping the server.
		go func() {
			if err := srv.ServeConsole(gctx, os.Stdin, os.Stdout); err != nil {
				slog.Error("admin console", "error", err)
			}
		}()
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// parseLogLevel converts string log level to slog.Level.
// Defaults to Info if invalid or empty.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
