// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package history provides a fixed-capacity drop-out stack for recently
// visited locations.
package history

import (
	"iter"
	"sync"

	"github.com/samber/oops"
)

// CodeIndexOutOfRange is returned by Stack.Get for an index at or beyond Len.
const CodeIndexOutOfRange = "HISTORY_INDEX_OUT_OF_RANGE"

// DefaultCapacity is the number of entries kept per player when no capacity
// is configured.
const DefaultCapacity = 10

// Stack is a fixed-capacity LIFO of values. Pushing onto a full stack
// silently discards the oldest value.
//
// Thread-safety: every method holds mu for its whole duration, so single
// operations are atomic. Sequences such as Peek followed by Push are not;
// callers that need that must coordinate themselves.
type Stack[T comparable] struct {
	mu    sync.Mutex
	slots []T
	head  int // slot the next Push writes to
	count int
}

// New creates a stack holding at most capacity values.
// Panics if capacity < 1.
func New[T comparable](capacity int) *Stack[T] {
	if capacity < 1 {
		panic("history: capacity must be at least 1")
	}
	return &Stack[T]{slots: make([]T, capacity)}
}

// Push records v as the most recent value.
func (s *Stack[T]) Push(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.slots[s.head] = v
	s.head = (s.head + 1) % len(s.slots)
	if s.count < len(s.slots) {
		s.count++
	}
}

// Pop removes and returns the most recent value.
// Returns false when the stack is empty.
func (s *Stack[T]) Pop() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		var zero T
		return zero, false
	}
	s.head = s.slot(0)
	s.count--
	return s.slots[s.head], true
}

// Peek returns the most recent value without removing it.
// Returns false when the stack is empty.
func (s *Stack[T]) Peek() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		var zero T
		return zero, false
	}
	return s.slots[s.slot(0)], true
}

// Get returns the value at index, where 0 is the most recent.
func (s *Stack[T]) Get(index int) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if index < 0 || index >= s.count {
		var zero T
		return zero, oops.In("history").
			Code(CodeIndexOutOfRange).
			With("index", index).
			With("count", s.count).
			Errorf("index %d out of range [0,%d)", index, s.count)
	}
	return s.slots[s.slot(index)], nil
}

// Len returns the number of live values.
func (s *Stack[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Cap returns the fixed capacity.
func (s *Stack[T]) Cap() int {
	return len(s.slots)
}

// Clear forgets every value. Slots are overwritten by later pushes.
func (s *Stack[T]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count = 0
}

// All yields values from most recent to oldest.
// Each call iterates a copy taken under the lock, so the consumer never runs
// while the lock is held and a fresh call observes the current state.
func (s *Stack[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range s.snapshot() {
			if !yield(v) {
				return
			}
		}
	}
}

// FirstNot returns the most recent value that is not equal to v.
func (s *Stack[T]) FirstNot(v T) (T, bool) {
	for candidate := range s.All() {
		if candidate != v {
			return candidate, true
		}
	}
	var zero T
	return zero, false
}

func (s *Stack[T]) snapshot() []T {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]T, s.count)
	for i := range out {
		out[i] = s.slots[s.slot(i)]
	}
	return out
}

// slot maps a logical index (0 = most recent) to a physical slot.
// Caller must hold mu.
func (s *Stack[T]) slot(index int) int {
	n := len(s.slots)
	return (s.head - 1 - index + 2*n) % n
}
