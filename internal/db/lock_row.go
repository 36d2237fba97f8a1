package db

import (
	"time"

	"github.com/udisondev/lockout/internal/game/lockout"
	"github.com/udisondev/lockout/internal/model"
)

// LockRow represents a row from instance_locks.
// Times are Unix nanoseconds; the mask is the encounter bitmask bit-cast to int64.
type LockRow struct {
	OwnerKind     int16
	OwnerID       int64
	MapID         int64
	Difficulty    int16
	InstanceID    int64
	CompletedMask int64
	CreatedAt     int64
	ExpiresAt     int64
	Extended      bool
	Carried       bool
}

func rowFromLock(l lockout.Lock) LockRow {
	return LockRow{
		OwnerKind:     int16(l.Key.Owner.Kind),
		OwnerID:       int64(l.Key.Owner.ID),
		MapID:         int64(l.Key.Map),
		Difficulty:    int16(l.Key.Difficulty),
		InstanceID:    int64(l.InstanceID),
		CompletedMask: int64(l.Completed),
		CreatedAt:     l.CreatedAt.UnixNano(),
		ExpiresAt:     l.ExpiresAt.UnixNano(),
		Extended:      l.Extended,
		Carried:       l.Carried,
	}
}

func (r LockRow) lock() lockout.Lock {
	return lockout.Lock{
		Key:        r.key(),
		InstanceID: model.InstanceID(r.InstanceID),
		Completed:  lockout.EncounterMask(uint64(r.CompletedMask)),
		CreatedAt:  time.Unix(0, r.CreatedAt).UTC(),
		ExpiresAt:  time.Unix(0, r.ExpiresAt).UTC(),
		Extended:   r.Extended,
		Carried:    r.Carried,
	}
}

func (r LockRow) key() model.LockKey {
	return model.LockKey{
		Owner: model.Owner{Kind: model.OwnerKind(r.OwnerKind), ID: uint32(r.OwnerID)},
		MapDifficulty: model.MapDifficulty{
			Map:        model.MapID(r.MapID),
			Difficulty: model.Difficulty(r.Difficulty),
		},
	}
}

func keyArgs(key model.LockKey) []any {
	return []any{int16(key.Owner.Kind), int64(key.Owner.ID), int64(key.Map), int16(key.Difficulty)}
}

func (r LockRow) args() []any {
	return []any{
		r.OwnerKind, r.OwnerID, r.MapID, r.Difficulty,
		r.InstanceID, r.CompletedMask, r.CreatedAt, r.ExpiresAt, r.Extended, r.Carried,
	}
}
