// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package engine reconciles player playfield changes against faction home
// world restrictions and moves trespassers back out.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/playfieldguard/internal/access"
	"github.com/holomush/playfieldguard/internal/core"
	"github.com/holomush/playfieldguard/pkg/errutil"
)

// Error codes returned by the engine.
const (
	CodeInvalidSettings  = "CONFIG_INVALID"
	CodeAlreadyStarted   = "ENGINE_ALREADY_STARTED"
	CodeStopped          = "ENGINE_STOPPED"
	CodePlayerInfoFailed = "PLAYER_INFO_FAILED"
	CodeMessageFailed    = "MESSAGE_FAILED"
	CodeTeleportFailed   = "TELEPORT_FAILED"
)

const tracerName = "github.com/holomush/playfieldguard/internal/engine"

// Host is the request API of the game host.
type Host interface {
	// PlayerInfo fetches the current state of a player.
	PlayerInfo(ctx context.Context, id core.EntityID) (core.Snapshot, error)
	// SendMessage shows a message to a single player.
	SendMessage(ctx context.Context, msg core.Message) error
	// Teleport moves a player to another playfield.
	Teleport(ctx context.Context, req core.Teleport) error
}

// PermissionLookup resolves admin permission levels.
type PermissionLookup interface {
	Lookup(accountID string) access.Permission
}

// EventSource delivers host events.
type EventSource interface {
	Subscribe(types ...core.EventType) chan core.Event
	Unsubscribe(ch chan core.Event)
}

// Settings are the engine's static configuration.
type Settings struct {
	Policy            *access.Policy
	FallbackPlayfield string
	BootMessage       string
	MessagePriority   int
	MessageDuration   time.Duration
	TeleportOffset    float32
	HistoryCapacity   int
	EventTimeout      time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics enables metric recording.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracerProvider sets the tracer provider. Defaults to the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp.Tracer(tracerName) }
}

// Engine tracks connected players and enforces home world restrictions.
//
// Events for different players are handled concurrently. Events for the same
// player are not serialized; the roster is last-writer-wins.
type Engine struct {
	host     Host
	perms    PermissionLookup
	settings Settings
	roster   *core.Roster
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer

	started atomic.Bool
	stopped atomic.Bool

	mu     sync.Mutex // guards events and sub
	events EventSource
	sub    chan core.Event
	wg     sync.WaitGroup
}

// New creates an engine. Returns an error if settings are unusable.
func New(host Host, perms PermissionLookup, settings Settings, opts ...Option) (*Engine, error) {
	invalid := oops.In("engine").Code(CodeInvalidSettings)
	if host == nil {
		return nil, invalid.Errorf("host is required")
	}
	if perms == nil {
		return nil, invalid.Errorf("permission lookup is required")
	}
	if settings.Policy == nil {
		return nil, invalid.Errorf("policy is required")
	}
	if settings.FallbackPlayfield == "" {
		return nil, invalid.With("field", "fallback_playfield").Errorf("fallback playfield must be set")
	}
	if settings.EventTimeout <= 0 {
		settings.EventTimeout = 5 * time.Second
	}

	e := &Engine{
		host:     host,
		perms:    perms,
		settings: settings,
		roster:   core.NewRoster(settings.HistoryCapacity),
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

var handledEvents = []core.EventType{
	core.EventPlayerConnected,
	core.EventPlayerDisconnected,
	core.EventPlayerChangedPlayfield,
}

// Subscribe takes a subscription to the events an engine handles. Events
// published before StartSubscribed are queued on it.
func Subscribe(events EventSource) chan core.Event {
	return events.Subscribe(handledEvents...)
}

// Start subscribes to host events and handles each in its own goroutine.
// An engine can be started once.
func (e *Engine) Start(ctx context.Context, events EventSource) error {
	return e.start(ctx, events, nil)
}

// StartSubscribed is Start with a subscription taken earlier by Subscribe.
// Stop unsubscribes it.
func (e *Engine) StartSubscribed(ctx context.Context, events EventSource, sub chan core.Event) error {
	return e.start(ctx, events, sub)
}

func (e *Engine) start(ctx context.Context, events EventSource, sub chan core.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped.Load() {
		return oops.In("engine").Code(CodeStopped).Errorf("engine already stopped")
	}
	if !e.started.CompareAndSwap(false, true) {
		return oops.In("engine").Code(CodeAlreadyStarted).Errorf("engine already started")
	}

	if sub == nil {
		sub = Subscribe(events)
	}
	e.events, e.sub = events, sub

	e.wg.Add(1)
	go e.run(ctx, e.sub)

	e.logger.Info("engine started",
		"fallback_playfield", e.settings.FallbackPlayfield,
		"history_capacity", e.settings.HistoryCapacity)
	return nil
}

// Stop unsubscribes from host events and waits for in-flight handlers.
// Handlers invoked after Stop return immediately. Stop is idempotent.
func (e *Engine) Stop() {
	if !e.stopped.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	events, sub := e.events, e.sub
	e.events, e.sub = nil, nil
	e.mu.Unlock()

	if events != nil {
		events.Unsubscribe(sub)
	}
	e.wg.Wait()
	e.logger.Info("engine stopped")
}

// Running reports whether the engine is started and not stopped.
func (e *Engine) Running() bool {
	return e.started.Load() && !e.stopped.Load()
}

// Tracked returns the number of players with cached state.
func (e *Engine) Tracked() int {
	return e.roster.Len()
}

// Roster exposes the per-player cache.
func (e *Engine) Roster() *core.Roster {
	return e.roster
}

func (e *Engine) run(ctx context.Context, events <-chan core.Event) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			e.deliverAsync(ctx, event)
		}
	}
}

func (e *Engine) deliverAsync(ctx context.Context, event core.Event) {
	ctx, cancel := context.WithTimeout(ctx, e.settings.EventTimeout)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		err := e.Handle(ctx, event)
		if err == nil {
			return
		}
		attrs := []any{
			"event_id", event.ID.String(),
			"event_type", string(event.Type),
			"entity_id", event.EntityID,
		}
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			e.logger.WarnContext(ctx, "event handling timed out",
				append(attrs, "timeout", e.settings.EventTimeout.String())...)
		case errors.Is(err, context.Canceled):
			e.logger.DebugContext(ctx, "event handling canceled", attrs...)
		default:
			errutil.LogErrorContext(ctx, e.logger, "event handling failed", err, attrs...)
		}
	}()
}

// Handle routes a host event to its handler.
func (e *Engine) Handle(ctx context.Context, event core.Event) error {
	start := time.Now()
	defer func() { e.metrics.observeEvent(event.Type, time.Since(start)) }()

	switch event.Type {
	case core.EventPlayerConnected:
		return e.HandleConnected(ctx, event.EntityID)
	case core.EventPlayerDisconnected:
		return e.HandleDisconnected(ctx, event.EntityID)
	case core.EventPlayerChangedPlayfield:
		return e.HandlePlayfieldChanged(ctx, event.EntityID, event.Playfield)
	default:
		e.logger.WarnContext(ctx, "ignoring unknown event type", "event_type", string(event.Type))
		return nil
	}
}
