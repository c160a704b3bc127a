// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package bridge

import (
	"encoding/json"
	"time"

	"github.com/holomush/playfieldguard/internal/core"
)

// Frame types.
const (
	FrameHello    = "hello"
	FrameEvent    = "event"
	FrameRequest  = "request"
	FrameResponse = "response"
)

// Request names.
const (
	RequestPlayerInfo     = "player_info"
	RequestPlayerMessage  = "player_message"
	RequestPlayerTeleport = "player_teleport"
)

// Frame is a single JSON text message on the bridge connection.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Version string          `json:"version,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// EventPayload is the payload of an event frame.
type EventPayload struct {
	EntityID  int32  `json:"entity_id"`
	Playfield string `json:"playfield,omitempty"`
}

// EntityRequest is the payload of a player_info request.
type EntityRequest struct {
	EntityID int32 `json:"entity_id"`
}

// PlayerInfo is the payload of a player_info response.
type PlayerInfo struct {
	EntityID  int32        `json:"entity_id"`
	AccountID string       `json:"steam_id"`
	Name      string       `json:"name"`
	Playfield string       `json:"playfield"`
	FactionID int          `json:"faction_id"`
	Position  core.Vector3 `json:"pos"`
	Rotation  core.Vector3 `json:"rot"`
}

// Snapshot converts the payload to the engine's player state.
func (p PlayerInfo) Snapshot() core.Snapshot {
	return core.Snapshot{
		EntityID:  core.EntityID(p.EntityID),
		AccountID: p.AccountID,
		Name:      p.Name,
		Playfield: p.Playfield,
		FactionID: p.FactionID,
		Position:  p.Position,
		Rotation:  p.Rotation,
	}
}

// MessageRequest is the payload of a player_message request.
type MessageRequest struct {
	EntityID int32   `json:"entity_id"`
	Text     string  `json:"msg"`
	Priority int     `json:"prio"`
	Duration float64 `json:"time"`
}

func newMessageRequest(m core.Message) MessageRequest {
	return MessageRequest{
		EntityID: int32(m.EntityID),
		Text:     m.Text,
		Priority: m.Priority,
		Duration: m.Duration.Round(time.Millisecond).Seconds(),
	}
}

// TeleportRequest is the payload of a player_teleport request.
type TeleportRequest struct {
	EntityID  int32        `json:"entity_id"`
	Playfield string       `json:"playfield"`
	Position  core.Vector3 `json:"pos"`
	Rotation  core.Vector3 `json:"rot"`
}

func newTeleportRequest(t core.Teleport) TeleportRequest {
	return TeleportRequest{
		EntityID:  int32(t.EntityID),
		Playfield: t.Playfield,
		Position:  t.Position,
		Rotation:  t.Rotation,
	}
}
