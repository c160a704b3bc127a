// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package access decides whether a player may stay in a faction's home
// playfield.
package access

import (
	"fmt"
	"maps"
)

// Effect is the outcome of a policy evaluation.
type Effect int

// Effect constants.
const (
	EffectAllow Effect = iota // allow
	EffectDeny                // deny
)

var effectStrings = [...]string{
	"allow",
	"deny",
}

func (e Effect) String() string {
	if e >= 0 && int(e) < len(effectStrings) {
		return effectStrings[e]
	}
	return fmt.Sprintf("unknown(%d)", int(e))
}

// Reason explains which rule produced a decision.
type Reason string

// Reasons, in evaluation order.
const (
	ReasonUntracked  Reason = "untracked_playfield"
	ReasonPrivileged Reason = "privileged"
	ReasonOwner      Reason = "owning_faction"
	ReasonForeign    Reason = "foreign_faction"
)

// Permission is a player's admin permission level as known to the host.
// Known is false when the account could not be found or parsed.
type Permission struct {
	Level int
	Known bool
}

// Request is the input to Evaluate.
type Request struct {
	Destination   string
	PlayerFaction int
	Permission    Permission
}

// Decision is the result of Evaluate. OwnerFaction is only meaningful when
// the destination is tracked.
type Decision struct {
	Effect       Effect
	Reason       Reason
	Destination  string
	OwnerFaction int
}

// Allowed reports whether the player may stay.
func (d Decision) Allowed() bool {
	return d.Effect == EffectAllow
}

// Policy restricts faction home worlds to their owners.
// A Policy is immutable after construction and safe for concurrent use.
type Policy struct {
	homeWorlds        map[string]int // playfield -> owning faction id
	immunityThreshold int
}

// NewPolicy creates a policy. The home world map is copied.
func NewPolicy(homeWorlds map[string]int, immunityThreshold int) *Policy {
	return &Policy{
		homeWorlds:        maps.Clone(homeWorlds),
		immunityThreshold: immunityThreshold,
	}
}

// Owner returns the faction owning a playfield.
func (p *Policy) Owner(playfield string) (int, bool) {
	owner, ok := p.homeWorlds[playfield]
	return owner, ok
}

// Evaluate decides whether a player may be in req.Destination.
func (p *Policy) Evaluate(req Request) Decision {
	owner, tracked := p.Owner(req.Destination)
	return Evaluate(req, owner, tracked, p.immunityThreshold)
}

// Evaluate applies the rules in order: untracked playfields are open,
// privileged players are immune, owners may enter, everyone else is denied.
// An unknown permission never grants immunity.
func Evaluate(req Request, owner int, tracked bool, immunityThreshold int) Decision {
	d := Decision{Destination: req.Destination, OwnerFaction: owner}

	switch {
	case !tracked:
		d.Effect, d.Reason = EffectAllow, ReasonUntracked
	case req.Permission.Known && req.Permission.Level >= immunityThreshold:
		d.Effect, d.Reason = EffectAllow, ReasonPrivileged
	case req.PlayerFaction == owner:
		d.Effect, d.Reason = EffectAllow, ReasonOwner
	default:
		d.Effect, d.Reason = EffectDeny, ReasonForeign
	}
	return d
}
