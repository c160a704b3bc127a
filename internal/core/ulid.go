// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package core

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewULID generates a new monotonic ULID.
func NewULID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}

// NewEvent stamps a host event with an ID and the current time.
func NewEvent(t EventType, id EntityID, playfield string) Event {
	return Event{
		ID:        NewULID(),
		Type:      t,
		EntityID:  id,
		Playfield: playfield,
		Timestamp: time.Now(),
	}
}
