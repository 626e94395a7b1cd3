// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package presence

import (
	"io"
	"log/slog"
	"sync"
)

// fakeConn records every event sent to it.
type fakeConn struct {
	mu      sync.Mutex
	events  []Event
	closed  bool
	sendErr error
}

func (f *fakeConn) Send(ev Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStaleHandle
	}
	if f.sendErr != nil {
		return f.sendErr
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) Events() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

// LastOnline returns the online set from the most recent presence event.
func (f *fakeConn) LastOnline() ([]UserID, bool) {
	events := f.Events()
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == EventPresence {
			return events[i].Online, true
		}
	}
	return nil, false
}

func (f *fakeConn) Count(kind EventType) int {
	n := 0
	for _, ev := range f.Events() {
		if ev.Type == kind {
			n++
		}
	}
	return n
}

// recordingObserver counts observer callbacks.
type recordingObserver struct {
	mu         sync.Mutex
	opened     int
	closed     int
	published  int
	failures   map[EventType]int
	deliveries map[Outcome]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		failures:   make(map[EventType]int),
		deliveries: make(map[Outcome]int),
	}
}

func (o *recordingObserver) SessionOpened(bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opened++
}

func (o *recordingObserver) SessionClosed(bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed++
}

func (o *recordingObserver) PresencePublished(int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.published++
}

func (o *recordingObserver) PushFailed(kind EventType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures[kind]++
}

func (o *recordingObserver) LiveDelivery(outcome Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deliveries[outcome]++
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
