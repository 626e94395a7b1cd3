// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package store

import (
	"context"
	"errors"
	"slices"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/connectly/connectly/internal/presence"
)

// poolIface is the subset of *pgxpool.Pool the Postgres store uses. It is
// satisfied by pgxmock pools in tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresMessageStore implements MessageStore using PostgreSQL.
type PostgresMessageStore struct {
	pool poolIface
}

// NewPostgresMessageStore creates a store over an existing pool.
func NewPostgresMessageStore(pool poolIface) *PostgresMessageStore {
	return &PostgresMessageStore{pool: pool}
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresMessageStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return NewPostgresMessageStore(pool), nil
}

// Append implements MessageStore.
func (s *PostgresMessageStore) Append(ctx context.Context, msg Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation, sender_id, receiver_id, text, image, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID.String(),
		ConversationKey(msg.SenderID, msg.ReceiverID),
		string(msg.SenderID),
		string(msg.ReceiverID),
		msg.Text,
		msg.Image,
		msg.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return oops.Code("MESSAGE_EXISTS").With("message_id", msg.ID.String()).Wrap(ErrMessageExists)
		}
		return oops.Code("MESSAGE_APPEND_FAILED").With("message_id", msg.ID.String()).Wrap(err)
	}
	return nil
}

// Conversation implements MessageStore.
func (s *PostgresMessageStore) Conversation(ctx context.Context, a, b presence.UserID, before ulid.ULID, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	conv := ConversationKey(a, b)
	var rows pgx.Rows
	var err error
	if isZero(before) {
		rows, err = s.pool.Query(ctx,
			`SELECT id, sender_id, receiver_id, text, image, created_at
			 FROM messages WHERE conversation = $1 ORDER BY id DESC LIMIT $2`,
			conv, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT id, sender_id, receiver_id, text, image, created_at
			 FROM messages WHERE conversation = $1 AND id < $2 ORDER BY id DESC LIMIT $3`,
			conv, before.String(), limit)
	}
	if err != nil {
		return nil, oops.Code("MESSAGE_QUERY_FAILED").With("conversation", conv).Wrap(err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var idStr, sender, receiver string
		if err := rows.Scan(&idStr, &sender, &receiver, &m.Text, &m.Image, &m.CreatedAt); err != nil {
			return nil, oops.Code("MESSAGE_QUERY_FAILED").With("operation", "scan message row").Wrap(err)
		}
		m.ID, err = ulid.Parse(idStr)
		if err != nil {
			return nil, oops.Code("MESSAGE_CORRUPT").With("conversation", conv).With("message_id", idStr).Wrap(err)
		}
		m.SenderID = presence.UserID(sender)
		m.ReceiverID = presence.UserID(receiver)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("MESSAGE_QUERY_FAILED").With("operation", "iterate messages").Wrap(err)
	}

	slices.Reverse(msgs)
	return msgs, nil
}

// Ping checks database connectivity.
func (s *PostgresMessageStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return oops.Code("STORE_UNAVAILABLE").Wrap(err)
	}
	return nil
}

// Close implements MessageStore.
func (s *PostgresMessageStore) Close() error {
	s.pool.Close()
	return nil
}
