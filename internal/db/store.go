package db

import (
	"context"
	"fmt"

	"github.com/udisondev/lockout/internal/game/lockout"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// LockStore is an opened, migrated lock store and its closer.
type LockStore struct {
	lockout.Store
	Backend string
	close   func()
}

// Close releases the underlying connections.
func (s *LockStore) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenLockStore opens the configured backend and applies migrations.
// dsn is used by postgres, path by sqlite.
func OpenLockStore(ctx context.Context, backend, dsn, path string) (*LockStore, error) {
	switch backend {
	case BackendPostgres, "":
		database, err := New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		if err := RunMigrations(ctx, dsn); err != nil {
			database.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		return &LockStore{Store: database.Locks(), Backend: BackendPostgres, close: database.Close}, nil

	case BackendSQLite:
		repo, err := OpenSQLite(ctx, path)
		if err != nil {
			return nil, err
		}
		return &LockStore{Store: repo, Backend: BackendSQLite, close: func() { _ = repo.Close() }}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
