// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package core contains the player-tracking types shared by the engine and
// the host bridge.
package core

import (
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

// EntityID identifies a player entity for the lifetime of a session.
type EntityID int32

func (id EntityID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// EventType identifies the kind of host event.
type EventType string

// Host events the engine reacts to.
const (
	EventPlayerConnected        EventType = "player_connected"
	EventPlayerDisconnected     EventType = "player_disconnected"
	EventPlayerChangedPlayfield EventType = "player_changed_playfield"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventPlayerConnected, EventPlayerDisconnected, EventPlayerChangedPlayfield:
		return true
	default:
		return false
	}
}

// Event is a notification delivered by the host.
type Event struct {
	ID        ulid.ULID
	Type      EventType
	EntityID  EntityID
	Playfield string // set for EventPlayerChangedPlayfield
	Timestamp time.Time
}

// Vector3 is a position or rotation in playfield space.
type Vector3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// Snapshot is the host's view of a player at the time it was fetched.
// Snapshots are replaced, never modified.
type Snapshot struct {
	EntityID  EntityID
	AccountID string // steam id; used for permission lookups
	Name      string
	Playfield string
	FactionID int
	Position  Vector3
	Rotation  Vector3
}

// Message is an in-game message to a single player.
type Message struct {
	EntityID EntityID
	Text     string
	Priority int
	Duration time.Duration
}

// Teleport moves a player to a playfield.
type Teleport struct {
	EntityID  EntityID
	Playfield string
	Position  Vector3
	Rotation  Vector3
}
