// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package store

import (
	"context"
	"slices"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"github.com/samber/oops"

	"github.com/connectly/connectly/internal/presence"
)

// MemoryMessageStore keeps messages in process memory. Messages are lost on
// restart.
type MemoryMessageStore struct {
	mu            sync.RWMutex
	conversations map[string][]Message
	ids           map[ulid.ULID]struct{}
}

// NewMemoryMessageStore creates an empty in-memory store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		conversations: make(map[string][]Message),
		ids:           make(map[ulid.ULID]struct{}),
	}
}

// Append implements MessageStore.
func (s *MemoryMessageStore) Append(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return oops.With("operation", "append message").Wrap(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.ids[msg.ID]; dup {
		return oops.Code("MESSAGE_EXISTS").With("message_id", msg.ID.String()).Wrap(ErrMessageExists)
	}

	key := ConversationKey(msg.SenderID, msg.ReceiverID)
	conv := s.conversations[key]
	i, _ := slices.BinarySearchFunc(conv, msg.ID, func(m Message, id ulid.ULID) int {
		return m.ID.Compare(id)
	})
	s.conversations[key] = slices.Insert(conv, i, msg)
	s.ids[msg.ID] = struct{}{}
	return nil
}

// Conversation implements MessageStore.
func (s *MemoryMessageStore) Conversation(ctx context.Context, a, b presence.UserID, before ulid.ULID, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.With("operation", "read conversation").Wrap(err)
	}
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	page := lo.Filter(s.conversations[ConversationKey(a, b)], func(m Message, _ int) bool {
		return isZero(before) || m.ID.Compare(before) < 0
	})
	if len(page) > limit {
		page = page[len(page)-limit:]
	}
	return page, nil
}

// Len returns the number of stored messages.
func (s *MemoryMessageStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Close implements MessageStore.
func (s *MemoryMessageStore) Close() error {
	return nil
}
