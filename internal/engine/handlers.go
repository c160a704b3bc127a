// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package engine

import (
	"context"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/playfieldguard/internal/access"
	"github.com/holomush/playfieldguard/internal/core"
	"github.com/holomush/playfieldguard/pkg/errutil"
)

// Rollback sources, used as the metric label and in logs.
const (
	rollbackHistory  = "history"
	rollbackFallback = "fallback"
)

// HandleConnected starts tracking a player at their current playfield.
func (e *Engine) HandleConnected(ctx context.Context, id core.EntityID) error {
	if e.stopped.Load() {
		return nil
	}
	ctx, span := e.startSpan(ctx, "engine.player_connected", id)
	defer span.End()

	snap, err := e.fetch(ctx, id)
	if err != nil {
		return e.fail(span, err)
	}
	e.track(snap, "")

	e.logger.DebugContext(ctx, "player connected",
		"player", snap.Name,
		"account_id", snap.AccountID,
		"entity_id", id,
		"playfield", snap.Playfield)
	return nil
}

// HandleDisconnected forgets everything cached for a player.
func (e *Engine) HandleDisconnected(ctx context.Context, id core.EntityID) error {
	if e.stopped.Load() {
		return nil
	}
	if e.roster.Remove(id) {
		e.logger.DebugContext(ctx, "player disconnected", "entity_id", id)
	} else {
		e.logger.DebugContext(ctx, "player disconnected: not found in cache", "entity_id", id)
	}
	return nil
}

// HandlePlayfieldChanged records a move and, if the player is not allowed in
// the destination, warns them and teleports them back to the most recent
// other playfield in their history, or to the fallback playfield.
//
// The warning is best effort. A failed teleport is returned; the player's
// next move gets another chance.
func (e *Engine) HandlePlayfieldChanged(ctx context.Context, id core.EntityID, playfield string) error {
	if e.stopped.Load() {
		return nil
	}
	ctx, span := e.startSpan(ctx, "engine.player_changed_playfield", id)
	defer span.End()
	span.SetAttributes(attribute.String("playfield", playfield))

	// The host answers after the move, so the snapshot is post-move state.
	snap, err := e.fetch(ctx, id)
	if err != nil {
		return e.fail(span, err)
	}
	e.track(snap, playfield)

	decision := e.settings.Policy.Evaluate(access.Request{
		Destination:   playfield,
		PlayerFaction: snap.FactionID,
		Permission:    e.perms.Lookup(snap.AccountID),
	})
	e.metrics.recordDecision(decision)
	span.SetAttributes(
		attribute.String("decision.effect", decision.Effect.String()),
		attribute.String("decision.reason", string(decision.Reason)),
	)

	if decision.Allowed() {
		if decision.Reason == access.ReasonPrivileged {
			e.logger.InfoContext(ctx, "privileged player allowed into restricted playfield",
				"player", snap.Name,
				"account_id", snap.AccountID,
				"playfield", playfield,
				"owner_faction", decision.OwnerFaction)
		}
		return nil
	}

	target, source := e.rollbackTarget(id, playfield)
	e.logger.InfoContext(ctx, "moving player out of restricted playfield",
		"player", snap.Name,
		"account_id", snap.AccountID,
		"faction", snap.FactionID,
		"playfield", playfield,
		"owner_faction", decision.OwnerFaction,
		"target", target)

	warnCtx, cancelWarn := e.warnContext(ctx)
	err = e.warn(warnCtx, id)
	cancelWarn()
	if err != nil {
		errutil.LogWarnContext(ctx, e.logger, "failed to warn player", err, "entity_id", id)
	}

	if source == rollbackFallback {
		e.logger.WarnContext(ctx, "no usable location history for player, using fallback playfield",
			"entity_id", id,
			"fallback_playfield", target)
	}
	if err := e.teleport(ctx, id, target); err != nil {
		return e.fail(span, err)
	}
	e.metrics.recordRollback(source)
	return nil
}

// RollbackTarget returns where a player denied entry to restricted would be
// sent right now.
func (e *Engine) RollbackTarget(id core.EntityID, restricted string) string {
	target, _ := e.rollbackTarget(id, restricted)
	return target
}

func (e *Engine) rollbackTarget(id core.EntityID, restricted string) (string, string) {
	if h, ok := e.roster.LookupHistory(id); ok {
		if playfield, ok := h.FirstNot(restricted); ok {
			return playfield, rollbackHistory
		}
	}
	return e.settings.FallbackPlayfield, rollbackFallback
}

// track caches the snapshot and records the player's current playfield.
// reported is the playfield named by the event, used when the snapshot has
// none.
func (e *Engine) track(snap core.Snapshot, reported string) {
	e.roster.UpsertSnapshot(snap)
	playfield := snap.Playfield
	if playfield == "" {
		playfield = reported
	}
	if playfield == "" {
		return
	}
	e.roster.History(snap.EntityID).Push(playfield)
}

func (e *Engine) fetch(ctx context.Context, id core.EntityID) (core.Snapshot, error) {
	snap, err := e.host.PlayerInfo(ctx, id)
	if err != nil {
		e.metrics.recordExternalFailure("player_info")
		return core.Snapshot{}, oops.In("engine").
			Code(CodePlayerInfoFailed).
			With("entity_id", int(id)).
			Wrap(err)
	}
	snap.EntityID = id
	return snap, nil
}

// warnContext bounds the warning to half of the time left for the event, so
// the teleport always keeps the other half.
func (e *Engine) warnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	budget := e.settings.EventTimeout / 2
	if deadline, ok := ctx.Deadline(); ok {
		budget = time.Until(deadline) / 2
	}
	return context.WithTimeout(ctx, budget)
}

func (e *Engine) warn(ctx context.Context, id core.EntityID) error {
	err := e.host.SendMessage(ctx, core.Message{
		EntityID: id,
		Text:     e.settings.BootMessage,
		Priority: e.settings.MessagePriority,
		Duration: e.settings.MessageDuration,
	})
	if err != nil {
		e.metrics.recordExternalFailure("player_message")
		return oops.In("engine").Code(CodeMessageFailed).With("entity_id", int(id)).Wrap(err)
	}
	return nil
}

func (e *Engine) teleport(ctx context.Context, id core.EntityID, playfield string) error {
	d := e.settings.TeleportOffset
	err := e.host.Teleport(ctx, core.Teleport{
		EntityID:  id,
		Playfield: playfield,
		Position:  core.Vector3{X: d, Y: d, Z: d},
	})
	if err != nil {
		e.metrics.recordExternalFailure("player_teleport")
		return oops.In("engine").
			Code(CodeTeleportFailed).
			With("entity_id", int(id)).
			With("playfield", playfield).
			Wrap(err)
	}
	return nil
}

func (e *Engine) startSpan(ctx context.Context, name string, id core.EntityID) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attribute.Int("entity_id", int(id))))
}

func (e *Engine) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
