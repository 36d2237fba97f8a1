package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/udisondev/lockout/internal/game/lockout"
	"github.com/udisondev/lockout/internal/model"
)

// LockRepository persists instance locks in PostgreSQL.
// Implements lockout.Store.
type LockRepository struct {
	pool *pgxpool.Pool
}

// NewLockRepository creates a new LockRepository.
func NewLockRepository(pool *pgxpool.Pool) *LockRepository {
	return &LockRepository{pool: pool}
}

// LoadAllLocks loads every lock row.
func (r *LockRepository) LoadAllLocks(ctx context.Context) ([]LockRow, error) {
	rows, err := r.pool.Query(ctx,
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

// SaveLock inserts or updates a lock row.
func (r *LockRepository) SaveLock(ctx context.Context, row LockRow) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO instance_locks (owner_kind, owner_id, map_id, difficulty, instance_id,
		                             completed_mask, created_at, expires_at, extended, carried)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (owner_kind, owner_id, map_id, difficulty) DO UPDATE SET
		   instance_id    = EXCLUDED.instance_id,
		   completed_mask = EXCLUDED.completed_mask,
		   created_at     = EXCLUDED.created_at,
		   expires_at     = EXCLUDED.expires_at,
		   extended       = EXCLUDED.extended,
		   carried        = EXCLUDED.carried`,
		row.args()...)
	if err != nil {
		return fmt.Errorf("upsert instance_locks %d:%d map %d: %w", row.OwnerKind, row.OwnerID, row.MapID, err)
	}
	return nil
}

// LoadLocks implements lockout.Store.
func (r *LockRepository) LoadLocks(ctx context.Context) ([]lockout.Lock, error) {
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
func (r *LockRepository) UpsertLock(ctx context.Context, l lockout.Lock) error {
	return r.SaveLock(ctx, rowFromLock(l))
}

// DeleteLock implements lockout.Store.
func (r *LockRepository) DeleteLock(ctx context.Context, key model.LockKey) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM instance_locks
		 WHERE owner_kind = $1 AND owner_id = $2 AND map_id = $3 AND difficulty = $4`,
		keyArgs(key)...)
	if err != nil {
		return fmt.Errorf("delete instance_locks %s: %w", key, err)
	}
	return nil
}
