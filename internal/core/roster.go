// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package core

import (
	"sync"
	"sync/atomic"

	"github.com/holomush/playfieldguard/internal/history"
)

// playerState is everything tracked for one connected player.
type playerState struct {
	history  *history.Stack[string]
	snapshot atomic.Pointer[Snapshot]
}

// Roster tracks connected players: their last snapshot and their recent
// playfields.
//
// Thread-safety: the map tolerates concurrent access for any players without
// a global lock. For a single player, the first writer installs the state;
// snapshot updates are last-writer-wins. Remove racing with an in-flight
// update for the same player can leave a fresh entry behind for a player
// that has already disconnected; the next disconnect clears it.
type Roster struct {
	players  sync.Map // EntityID -> *playerState
	capacity int
}

// NewRoster creates a roster whose histories hold capacity playfields.
// A capacity < 1 uses history.DefaultCapacity.
func NewRoster(capacity int) *Roster {
	if capacity < 1 {
		capacity = history.DefaultCapacity
	}
	return &Roster{capacity: capacity}
}

func (r *Roster) state(id EntityID) *playerState {
	if v, ok := r.players.Load(id); ok {
		return v.(*playerState)
	}
	v, _ := r.players.LoadOrStore(id, &playerState{history: history.New[string](r.capacity)})
	return v.(*playerState)
}

// History returns the player's playfield history, creating it if absent.
func (r *Roster) History(id EntityID) *history.Stack[string] {
	return r.state(id).history
}

// LookupHistory returns the player's history without creating one.
func (r *Roster) LookupHistory(id EntityID) (*history.Stack[string], bool) {
	v, ok := r.players.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*playerState).history, true
}

// UpsertSnapshot replaces the cached snapshot for a player.
func (r *Roster) UpsertSnapshot(snap Snapshot) {
	r.state(snap.EntityID).snapshot.Store(&snap)
}

// Snapshot returns the cached snapshot for a player.
// Returns false if the player is unknown or no snapshot was recorded.
func (r *Roster) Snapshot(id EntityID) (Snapshot, bool) {
	v, ok := r.players.Load(id)
	if !ok {
		return Snapshot{}, false
	}
	snap := v.(*playerState).snapshot.Load()
	if snap == nil {
		return Snapshot{}, false
	}
	return *snap, true
}

// Remove forgets everything about a player.
// Returns false if the player was not tracked.
func (r *Roster) Remove(id EntityID) bool {
	_, loaded := r.players.LoadAndDelete(id)
	return loaded
}

// Len returns the number of tracked players.
func (r *Roster) Len() int {
	n := 0
	r.players.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
