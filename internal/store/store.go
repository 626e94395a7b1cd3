// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

// Package store persists direct messages.
//
// Every message is persisted before any live delivery is attempted, so the
// store is the source of truth for recipients that were offline at send time.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/connectly/connectly/internal/presence"
)

// ErrMessageExists is returned when a message id is already stored.
var ErrMessageExists = errors.New("message already exists")

// Message is a persisted direct message.
type Message struct {
	ID         ulid.ULID       `json:"id"`
	SenderID   presence.UserID `json:"senderId"`
	ReceiverID presence.UserID `json:"receiverId"`
	Text       string          `json:"text,omitempty"`
	Image      string          `json:"image,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// MessageStore persists and pages direct messages.
type MessageStore interface {
	// Append stores msg. A duplicate id fails with code MESSAGE_EXISTS.
	Append(ctx context.Context, msg Message) error

	// Conversation returns up to limit of the most recent messages exchanged
	// between a and b whose id is below before, in ascending id order. A zero
	// before means no upper bound.
	Conversation(ctx context.Context, a, b presence.UserID, before ulid.ULID, limit int) ([]Message, error)

	// Close releases the store's resources.
	Close() error
}

// ConversationKey returns the key shared by both directions of a
// conversation. Both identities are length-prefixed, so no key is equal to
// or a byte prefix of another pair's key followed by a separator.
func ConversationKey(a, b presence.UserID) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%s/%d:%s", len(a), a, len(b), b)
}

func isZero(id ulid.ULID) bool {
	return id.Compare(ulid.ULID{}) == 0
}
