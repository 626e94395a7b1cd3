// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package store

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connectly/connectly/pkg/errutil"
)

var messageColumns = []string{"id", "sender_id", "receiver_id", "text", "image", "created_at"}

func TestPostgresMessageStore_Append(t *testing.T) {
	msg := msgAt(1, "bob", "alice", "hello")

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantCode  string
		wantIs    error
	}{
		{
			name: "inserts with conversation key",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO messages`).
					WithArgs(msg.ID.String(), ConversationKey("alice", "bob"), "bob", "alice", "hello", "", msg.CreatedAt).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
			},
		},
		{
			name: "unique violation maps to MESSAGE_EXISTS",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO messages`).
					WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
			},
			wantCode: "MESSAGE_EXISTS",
			wantIs:   ErrMessageExists,
		},
		{
			name: "other errors map to MESSAGE_APPEND_FAILED",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectExec(`INSERT INTO messages`).
					WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
						pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
					WillReturnError(errors.New("connection refused"))
			},
			wantCode: "MESSAGE_APPEND_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()
			tt.setupMock(mock)

			err = NewPostgresMessageStore(mock).Append(context.Background(), msg)

			if tt.wantCode == "" {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
				if tt.wantIs != nil {
					assert.ErrorIs(t, err, tt.wantIs)
				}
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresMessageStore_Conversation(t *testing.T) {
	m1 := msgAt(1, "alice", "bob", "one")
	m2 := msgAt(2, "bob", "alice", "two")
	conv := ConversationKey("alice", "bob")

	t.Run("latest page is reversed into ascending order", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows(messageColumns).
			AddRow(m2.ID.String(), "bob", "alice", "two", "", m2.CreatedAt).
			AddRow(m1.ID.String(), "alice", "bob", "one", "", m1.CreatedAt)
		mock.ExpectQuery(`SELECT id, sender_id, receiver_id, text, image, created_at\s+FROM messages WHERE conversation = \$1 ORDER BY id DESC LIMIT \$2`).
			WithArgs(conv, 10).
			WillReturnRows(rows)

		got, err := NewPostgresMessageStore(mock).Conversation(context.Background(), "bob", "alice", ulid.ULID{}, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"one", "two"}, texts(got))
		assert.Equal(t, m1.ID, got[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("before bound", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows(messageColumns).
			AddRow(m1.ID.String(), "alice", "bob", "one", "", m1.CreatedAt)
		mock.ExpectQuery(`AND id < \$2 ORDER BY id DESC LIMIT \$3`).
			WithArgs(conv, m2.ID.String(), 5).
			WillReturnRows(rows)

		got, err := NewPostgresMessageStore(mock).Conversation(context.Background(), "alice", "bob", m2.ID, 5)
		require.NoError(t, err)
		assert.Equal(t, []string{"one"}, texts(got))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("corrupt id", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows(messageColumns).
			AddRow("not-a-ulid", "alice", "bob", "one", "", m1.CreatedAt)
		mock.ExpectQuery(`FROM messages`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnRows(rows)

		_, err = NewPostgresMessageStore(mock).Conversation(context.Background(), "alice", "bob", ulid.ULID{}, 5)
		errutil.AssertErrorCode(t, err, "MESSAGE_CORRUPT")
	})

	t.Run("query error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM messages`).
			WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnError(errors.New("connection reset"))

		_, err = NewPostgresMessageStore(mock).Conversation(context.Background(), "alice", "bob", ulid.ULID{}, 5)
		errutil.AssertErrorCode(t, err, "MESSAGE_QUERY_FAILED")
		assert.Contains(t, err.Error(), "connection reset")
	})

	t.Run("zero limit does not query", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		got, err := NewPostgresMessageStore(mock).Conversation(context.Background(), "alice", "bob", ulid.ULID{}, 0)
		require.NoError(t, err)
		assert.Empty(t, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresMessageStore_Ping(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(errors.New("down"))

	s := NewPostgresMessageStore(mock)
	assert.NoError(t, s.Ping(context.Background()))
	errutil.AssertErrorCode(t, s.Ping(context.Background()), "STORE_UNAVAILABLE")
	assert.NoError(t, mock.ExpectationsWereMet())
}
