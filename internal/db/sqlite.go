package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/udisondev/lockout/internal/game/lockout"
	"github.com/udisondev/lockout/internal/model"
)

// SQLiteLockRepository persists instance locks in a local SQLite file.
// Used for single-node deployments and offline tooling.
// Implements lockout.Store.
type SQLiteLockRepository struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLiteLockRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("empty sqlite path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating sqlite dir: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := initPragmas(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := migrate(ctx, sqlDB, "sqlite3"); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &SQLiteLockRepository{db: sqlDB}, nil
}

func initPragmas(ctx context.Context, sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := sqlDB.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlite %s: %w", p, err)
		}
	}
	return nil
}

// Close closes the database.
func (r *SQLiteLockRepository) Close() error {
	return r.db.Close()
}

// LoadAllLocks loads every lock row.
func (r *SQLiteLockRepository) LoadAllLocks(ctx context.Context) ([]LockRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT owner_kind, owner_id, map_id, difficulty, instance_id,
		        completed_mask, created_at, expires_at, extended, carried
		 FROM instance_locks`)
	if err != nil {
		return nil, fmt.Errorf("query instance_locks: %w", err)
	}
	defer rows.Close()

	var result []LockRow
	for rows.Next() {
		var row LockRow
		if err := rows.Scan(&row.OwnerKind, &row.OwnerID, &row.MapID, &row.Difficulty, &row.InstanceID,
			&row.CompletedMask, &row.CreatedAt, &row.ExpiresAt, &row.Extended, &row.Carried); err != nil {
			return nil, fmt.Errorf("scan instance_locks: %w", err)
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// SaveLock inserts or replaces a lock row.
func (r *SQLiteLockRepository) SaveLock(ctx context.Context, row LockRow) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO instance_locks (owner_kind, owner_id, map_id, difficulty, instance_id,
		                                        completed_mask, created_at, expires_at, extended, carried)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.args()...)
	if err != nil {
		return fmt.Errorf("upsert instance_locks %d:%d map %d: %w", row.OwnerKind, row.OwnerID, row.MapID, err)
	}
	return nil
}

// LoadLocks implements lockout.Store.
func (r *SQLiteLockRepository) LoadLocks(ctx context.Context) ([]lockout.Lock, error) {
	rows, err := r.LoadAllLocks(ctx)
	if err != nil {
		return nil, err
	}
	locks := make([]lockout.Lock, len(rows))
	for i, row := range rows {
		locks[i] = row.lock()
	}
	return locks, nil
}

// UpsertLock implements lockout.Store.
func (r *SQLiteLockRepository) UpsertLock(ctx context.Context, l lockout.Lock) error {
	return r.SaveLock(ctx, rowFromLock(l))
}

// DeleteLock implements lockout.Store.
func (r *SQLiteLockRepository) DeleteLock(ctx context.Context, key model.LockKey) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM instance_locks
		 WHERE owner_kind = ? AND owner_id = ? AND map_id = ? AND difficulty = ?`,
		keyArgs(key)...)
	if err != nil {
		return fmt.Errorf("delete instance_locks %s: %w", key, err)
	}
	return nil
}
