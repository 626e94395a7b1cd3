// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/connectly/connectly/internal/presence"
)

// BadgerMessageStore implements MessageStore on an embedded Badger database.
//
// Keys are "msg/{conversation}/" followed by the 16 raw ULID bytes, so a
// prefix scan walks one conversation in id order.
type BadgerMessageStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a Badger database at path. An empty path
// opens an in-memory database.
func OpenBadger(path string, logger *slog.Logger) (*BadgerMessageStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(badgerLogger{logger: logger})
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("path", path).Wrap(err)
	}
	return &BadgerMessageStore{db: db}, nil
}

func conversationPrefix(a, b presence.UserID) []byte {
	return []byte("msg/" + ConversationKey(a, b) + "/")
}

func messageKey(prefix []byte, id ulid.ULID) []byte {
	key := make([]byte, 0, len(prefix)+len(id))
	key = append(key, prefix...)
	return append(key, id[:]...)
}

// Append implements MessageStore.
func (s *BadgerMessageStore) Append(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return oops.With("operation", "append message").Wrap(err)
	}

	value, err := json.Marshal(msg)
	if err != nil {
		return oops.Code("MESSAGE_APPEND_FAILED").With("message_id", msg.ID.String()).Wrap(err)
	}
	key := messageKey(conversationPrefix(msg.SenderID, msg.ReceiverID), msg.ID)

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return ErrMessageExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, value)
	})
	if errors.Is(err, ErrMessageExists) {
		return oops.Code("MESSAGE_EXISTS").With("message_id", msg.ID.String()).Wrap(err)
	}
	if err != nil {
		return oops.Code("MESSAGE_APPEND_FAILED").With("message_id", msg.ID.String()).Wrap(err)
	}
	return nil
}

// Conversation implements MessageStore.
func (s *BadgerMessageStore) Conversation(ctx context.Context, a, b presence.UserID, before ulid.ULID, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.With("operation", "read conversation").Wrap(err)
	}
	if limit <= 0 {
		return nil, nil
	}

	prefix := conversationPrefix(a, b)
	var msgs []Message
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the largest key <= seek.
		seek := messageKey(prefix, before)
		if isZero(before) {
			seek = append(slices.Clone(prefix), bytes.Repeat([]byte{0xFF}, len(before)+1)...)
		}
		it.Seek(seek)
		if !isZero(before) && it.ValidForPrefix(prefix) && bytes.Equal(it.Item().Key(), seek) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix) && len(msgs) < limit; it.Next() {
			var m Message
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				return oops.Code("MESSAGE_CORRUPT").With("key", fmt.Sprintf("%x", it.Item().Key())).Wrap(err)
			}
			msgs = append(msgs, m)
		}
		return nil
	})
	if err != nil {
		return nil, oops.Code("MESSAGE_QUERY_FAILED").With("conversation", ConversationKey(a, b)).Wrap(err)
	}

	slices.Reverse(msgs)
	return msgs, nil
}

// Close implements MessageStore.
func (s *BadgerMessageStore) Close() error {
	if err := s.db.Close(); err != nil {
		return oops.Code("STORE_CLOSE_FAILED").Wrap(err)
	}
	return nil
}

// badgerLogger routes Badger's printf-style logging into slog. Info and
// debug output are demoted to debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) log() *slog.Logger {
	if l.logger == nil {
		return slog.Default()
	}
	return l.logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log().Error("badger: "+fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log().Warn("badger: "+fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log().Debug("badger: "+fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log().Debug("badger: "+fmt.Sprintf(format, args...), "component", "badger")
}
