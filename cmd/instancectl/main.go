// Command instancectl runs one admin command against the persisted lock
// store and exits with the command's status. It sees no live instances, so
// it is meant for maintenance while the world server is stopped.
//
//	instancectl [-config path] [-store postgres|sqlite] [-sqlite path] <command> [args...]
//	instancectl reset-instance 42 509 heroic manual
//	instancectl show-lock group:7 631 25n
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/udisondev/lockout/internal/admin"
	"github.com/udisondev/lockout/internal/config"
	"github.com/udisondev/lockout/internal/db"
	"github.com/udisondev/lockout/internal/worldserver"
)

func main() {
	os.Exit(int(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr)))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) admin.Status {
	fs := flag.NewFlagSet("instancectl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", config.Path(), "world server config file")
	storeKind := fs.String("store", "", "override the configured store (postgres|sqlite)")
	sqlitePath := fs.String("sqlite", "", "override the configured sqlite path")
	verbose := fs.Bool("v", false, "log at debug level")
	if err := fs.Parse(args); err != nil {
		return admin.StatusUsage
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.LoadWorldServer(*cfgPath)
	if err != nil {
		fmt.Fprintln(stderr, "config:", err)
		return admin.StatusError
	}
	if *storeKind != "" {
		cfg.Store = *storeKind
	}
	if *sqlitePath != "" {
		cfg.SQLitePath = *sqlitePath
	}

	store, err := db.OpenLockStore(ctx, cfg.Store, cfg.Database.DSN(), cfg.SQLitePath)
	if err != nil {
		fmt.Fprintln(stderr, "store:", err)
		return admin.StatusError
	}
	defer store.Close()

	srv, err := worldserver.NewServer(cfg, store, worldserver.Options{})
	if err != nil {
		fmt.Fprintln(stderr, "setup:", err)
		return admin.StatusError
	}

	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: instancectl [flags] <command> [args...]")
		srv.Help(stderr)
		return admin.StatusUsage
	}

	if err := srv.Load(ctx); err != nil {
		fmt.Fprintln(stderr, "load:", err)
		return admin.StatusError
	}

	cmdErr := srv.ExecArgs(admin.Console, fs.Args(), stdout)
	if cmdErr != nil {
		fmt.Fprintln(stderr, "error:", cmdErr)
	}

	flushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Flush(flushCtx); err != nil {
		fmt.Fprintln(stderr, "flush:", err)
		return admin.StatusError
	}
	return admin.StatusOf(cmdErr)
}
