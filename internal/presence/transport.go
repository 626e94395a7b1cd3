// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package presence

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Conn is the push side of one transport connection.
type Conn interface {
	// Send enqueues ev without blocking. It returns ErrSlowConsumer when the
	// send queue is full and ErrStaleHandle once the connection is closed.
	Send(ev Event) error
	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Transport is the per-session push primitive used by the Broadcaster and
// the Router.
type Transport interface {
	// Push delivers ev to a single session handle.
	Push(ctx context.Context, handle HandleID, ev Event) error
	// Handles lists every live handle, identified or anonymous.
	Handles() []HandleID
}

// ConnTable holds the live connection for every open session handle and
// implements Transport on top of it.
type ConnTable struct {
	mu     sync.RWMutex
	conns  map[HandleID]Conn
	logger *slog.Logger
}

// NewConnTable creates an empty connection table.
func NewConnTable(logger *slog.Logger) *ConnTable {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnTable{
		conns:  make(map[HandleID]Conn),
		logger: logger,
	}
}

// Add stores conn under handle.
func (t *ConnTable) Add(handle HandleID, conn Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[handle] = conn
}

// Remove drops handle and returns its connection, or nil if it was not present.
func (t *ConnTable) Remove(handle HandleID) Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	conn, ok := t.conns[handle]
	if !ok {
		return nil
	}
	delete(t.conns, handle)
	return conn
}

// Len returns the number of live connections.
func (t *ConnTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}

// Handles returns every live handle in ULID order.
func (t *ConnTable) Handles() []HandleID {
	t.mu.RLock()
	handles := lo.Keys(t.conns)
	t.mu.RUnlock()
	slices.SortFunc(handles, func(a, b HandleID) int { return a.Compare(b) })
	return handles
}

// Push enqueues ev on handle's connection. A connection whose queue is full
// is closed so that its transport teardown deregisters it.
func (t *ConnTable) Push(ctx context.Context, handle HandleID, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.RLock()
	conn, ok := t.conns[handle]
	t.mu.RUnlock()
	if !ok {
		return ErrStaleHandle
	}

	err := conn.Send(ev)
	if errors.Is(err, ErrSlowConsumer) {
		t.logger.Warn("session too slow, disconnecting",
			"handle", handle.String(),
			"event_type", string(ev.Type),
		)
		if closeErr := conn.Close(); closeErr != nil {
			t.logger.Debug("error closing slow session", "handle", handle.String(), "error", closeErr)
		}
	}
	return err
}
