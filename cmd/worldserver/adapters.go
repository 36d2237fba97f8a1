package main

import (
	"log/slog"

	"github.com/udisondev/lockout/internal/game/lockout"
	"github.com/udisondev/lockout/internal/model"
)

// eventLogger adapts slog to lockout.Notifier. Player-facing delivery
// belongs to the session layer; the world server only records events.
type eventLogger struct{}

func (l *eventLogger) Notify(e lockout.Event) {
	attrs := []any{
		"id", e.ID.String(),
		"kind", e.Kind.String(),
		"key", e.Key.String(),
		"instanceID", e.Instance,
	}
	if e.Kind == lockout.EventResetFailed {
		attrs = append(attrs, "reason", e.Reason.String())
	}
	slog.Info("instance event", attrs...)
}

// evictionLogger adapts slog to instance.Evictor for deployments without a
// session layer to teleport players.
type evictionLogger struct{}

func (l *evictionLogger) Evict(player model.PlayerID, from model.InstanceRef, to model.Location) {
	slog.Info("player evicted",
		"player", player,
		"mapID", from.Map,
		"instanceID", from.Instance,
		"x", to.X,
		"y", to.Y,
		"z", to.Z)
}
