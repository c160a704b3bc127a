// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package enginetest provides an in-memory game host for engine tests.
package enginetest

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/playfieldguard/internal/core"
)

// Host is a fake game host. Teleports update the player's playfield the way
// the real host does.
type Host struct {
	mu        sync.Mutex
	players   map[core.EntityID]core.Snapshot
	gates     map[core.EntityID]chan struct{}
	fetched   []core.EntityID
	messages  []core.Message
	teleports []core.Teleport

	stallMessages bool
	teleportErrs  []error

	infoErr     error
	messageErr  error
	teleportErr error
}

// NewHost creates an empty fake host.
func NewHost() *Host {
	return &Host{
		players: make(map[core.EntityID]core.Snapshot),
		gates:   make(map[core.EntityID]chan struct{}),
	}
}

// SetPlayer adds or replaces a player.
func (h *Host) SetPlayer(snap core.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.players[snap.EntityID] = snap
}

// Move changes a player's current playfield.
func (h *Host) Move(id core.EntityID, playfield string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	snap := h.players[id]
	snap.EntityID = id
	snap.Playfield = playfield
	h.players[id] = snap
}

// Block makes PlayerInfo for id wait until the returned release is called.
func (h *Host) Block(id core.EntityID) (release func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	gate := make(chan struct{})
	h.gates[id] = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.gates, id)
			h.mu.Unlock()
			close(gate)
		})
	}
}

// FailPlayerInfo makes PlayerInfo return err. nil restores normal behavior.
func (h *Host) FailPlayerInfo(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.infoErr = err
}

// FailMessages makes SendMessage return err.
func (h *Host) FailMessages(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messageErr = err
}

// FailTeleports makes Teleport return err.
func (h *Host) FailTeleports(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teleportErr = err
}

// StallMessages makes SendMessage wait until its context is done, like a host
// that never acknowledges the message.
func (h *Host) StallMessages() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stallMessages = true
}

// PlayerInfo implements engine.Host.
func (h *Host) PlayerInfo(ctx context.Context, id core.EntityID) (core.Snapshot, error) {
	h.mu.Lock()
	gate := h.gates[id]
	h.fetched = append(h.fetched, id)
	h.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return core.Snapshot{}, ctx.Err()
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.infoErr != nil {
		return core.Snapshot{}, h.infoErr
	}
	snap, ok := h.players[id]
	if !ok {
		return core.Snapshot{}, oops.Code("NOT_FOUND").With("entity_id", int(id)).Errorf("player not found")
	}
	return snap, nil
}

// SendMessage implements engine.Host.
func (h *Host) SendMessage(ctx context.Context, msg core.Message) error {
	h.mu.Lock()
	stall := h.stallMessages
	h.mu.Unlock()
	if stall {
		<-ctx.Done()
		return ctx.Err()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.messageErr != nil {
		return h.messageErr
	}
	h.messages = append(h.messages, msg)
	return nil
}

// Teleport implements engine.Host.
func (h *Host) Teleport(ctx context.Context, req core.Teleport) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.teleportErrs = append(h.teleportErrs, ctx.Err())
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.teleportErr != nil {
		return h.teleportErr
	}
	h.teleports = append(h.teleports, req)
	if snap, ok := h.players[req.EntityID]; ok {
		snap.Playfield = req.Playfield
		snap.Position = req.Position
		snap.Rotation = req.Rotation
		h.players[req.EntityID] = snap
	}
	return nil
}

// Messages returns the messages sent so far.
func (h *Host) Messages() []core.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.Message(nil), h.messages...)
}

// Teleports returns the teleports issued so far.
func (h *Host) Teleports() []core.Teleport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.Teleport(nil), h.teleports...)
}

// TeleportsFor returns the teleports issued for one player.
func (h *Host) TeleportsFor(id core.EntityID) []core.Teleport {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []core.Teleport
	for _, t := range h.teleports {
		if t.EntityID == id {
			out = append(out, t)
		}
	}
	return out
}

// TeleportContextErrs returns ctx.Err() as seen by each Teleport call.
func (h *Host) TeleportContextErrs() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.teleportErrs...)
}

// Fetched returns the ids passed to PlayerInfo, in call order.
func (h *Host) Fetched() []core.EntityID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.EntityID(nil), h.fetched...)
}
