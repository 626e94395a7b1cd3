// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

// Package presence tracks which users hold live transport sessions, publishes
// the online set to every connected client and routes chat events to the
// recipient's live sessions.
package presence

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event pushed to a client.
type EventType string

const (
	// EventPresence carries the full online set.
	EventPresence EventType = "presence"
	// EventMessage carries a live-delivered chat message.
	EventMessage EventType = "message"
	// EventAck confirms a send to the sending session only.
	EventAck EventType = "ack"
	// EventError reports a rejected client frame to the sending session only.
	EventError EventType = "error"
)

// Event is the unit pushed to a single session handle.
type Event struct {
	Type    EventType       `json:"type"`
	At      time.Time       `json:"at"`
	Online  []UserID        `json:"online,omitempty"`
	From    UserID          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewPresenceEvent builds a presence event for the given online set.
// An empty set is encoded as an empty list so clients can replace their view.
func NewPresenceEvent(online []UserID) Event {
	if online == nil {
		online = []UserID{}
	}
	return Event{Type: EventPresence, At: time.Now().UTC(), Online: online}
}

// MarshalJSON keeps the online list present on presence events even when empty.
func (e Event) MarshalJSON() ([]byte, error) {
	type wire Event
	if e.Type != EventPresence {
		return json.Marshal(wire(e))
	}
	online := e.Online
	if online == nil {
		online = []UserID{}
	}
	return json.Marshal(struct {
		Type   EventType `json:"type"`
		At     time.Time `json:"at"`
		Online []UserID  `json:"online"`
	}{e.Type, e.At, online})
}
