// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package core

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestBroadcaster_Subscribe(t *testing.T) {
	bc := NewBroadcaster(0)

	ch := bc.Subscribe()
	if ch == nil {
		t.Fatal("Expected channel")
	}

	event := NewEvent(EventPlayerConnected, 7, "")
	bc.Publish(event)

	select {
	case received := <-ch:
		if received.ID != event.ID {
			t.Errorf("Event ID mismatch")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Timeout waiting for event")
	}
}

func TestBroadcaster_FilterByType(t *testing.T) {
	bc := NewBroadcaster(4)

	ch := bc.Subscribe(EventPlayerChangedPlayfield)
	bc.Publish(NewEvent(EventPlayerConnected, 1, ""))
	moved := NewEvent(EventPlayerChangedPlayfield, 1, "Akua")
	bc.Publish(moved)

	select {
	case received := <-ch:
		if received.ID != moved.ID {
			t.Errorf("expected only the playfield change, got %s", received.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Timeout waiting for event")
	}

	select {
	case extra := <-ch:
		t.Errorf("unexpected event %s", extra.Type)
	default:
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	bc := NewBroadcaster(0)

	ch := bc.Subscribe()
	bc.Unsubscribe(ch)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("Channel should be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Channel should be closed immediately")
	}

	// Second unsubscribe must not panic on a closed channel
	bc.Unsubscribe(ch)

	if n := bc.Subscribers(); n != 0 {
		t.Errorf("Subscribers() = %d, want 0", n)
	}
}

func TestBroadcaster_MultipleSubscribers(t *testing.T) {
	bc := NewBroadcaster(0)

	ch1 := bc.Subscribe()
	ch2 := bc.Subscribe(EventPlayerDisconnected)

	event := NewEvent(EventPlayerDisconnected, 3, "")
	bc.Publish(event)

	for i, ch := range []chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.ID != event.ID {
				t.Errorf("subscriber %d: event ID mismatch", i)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("subscriber %d: timeout waiting for event", i)
		}
	}
}

func TestBroadcaster_DropsWhenFull(t *testing.T) {
	bc := NewBroadcaster(1)
	ch := bc.Subscribe()

	bc.Publish(NewEvent(EventPlayerConnected, 1, ""))
	done := make(chan struct{})
	go func() {
		bc.Publish(NewEvent(EventPlayerConnected, 2, ""))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if got := (<-ch).EntityID; got != 1 {
		t.Errorf("EntityID = %d, want 1", got)
	}
}

func TestBroadcaster_LogsEventsWithoutSubscribers(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	bc := NewBroadcaster(4)
	ch := bc.Subscribe(EventPlayerChangedPlayfield)

	bc.Publish(NewEvent(EventPlayerChangedPlayfield, 1, "Akua"))
	if strings.Contains(logs.String(), "no subscribers") {
		t.Errorf("unexpected drop log for a delivered event: %s", logs.String())
	}

	bc.Publish(NewEvent(EventPlayerConnected, 2, ""))
	if !strings.Contains(logs.String(), "event dropped: no subscribers") {
		t.Errorf("expected drop log, got %q", logs.String())
	}
	if !strings.Contains(logs.String(), "entity_id=2") {
		t.Errorf("expected entity_id in drop log, got %q", logs.String())
	}
	<-ch
}
