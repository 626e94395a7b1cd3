// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ConnState is the lifecycle state of one transport connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the context record carried by one transport connection for its
// whole lifetime. The (User, Handle) pair captured at Open is the pair
// deregistered at Close.
type Session struct {
	Handle   HandleID
	User     UserID
	OpenedAt time.Time

	mu    sync.Mutex
	state ConnState
}

// Anonymous reports whether the session was opened without a user identity.
// Anonymous sessions receive presence updates but never appear in them.
func (s *Session) Anonymous() bool {
	return s.User == ""
}

// State returns the current lifecycle state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Controller is the single entry point for transport connect and disconnect
// events. It is the only component that mutates the Registry.
type Controller struct {
	registry    *Registry
	table       *ConnTable
	broadcaster *Broadcaster
	observer    Observer
	logger      *slog.Logger
}

// NewController wires a lifecycle controller.
func NewController(registry *Registry, table *ConnTable, broadcaster *Broadcaster, observer Observer, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		registry:    registry,
		table:       table,
		broadcaster: broadcaster,
		observer:    observerOrNop(observer),
		logger:      logger,
	}
}

// Open registers a newly connected transport. An empty user opens an
// anonymous session. When the online set changed every live session is told;
// otherwise only the new session receives the current set.
func (c *Controller) Open(ctx context.Context, conn Conn, user UserID) (*Session, error) {
	s := &Session{
		Handle: NewULID(),
		User:   user,
		state:  StateConnecting,
	}

	c.table.Add(s.Handle, conn)

	changed := false
	if !s.Anonymous() {
		var err error
		changed, err = c.registry.Register(user, s.Handle)
		if err != nil {
			c.table.Remove(s.Handle)
			s.mu.Lock()
			s.state = StateClosed
			s.mu.Unlock()
			return nil, err
		}
	}

	s.mu.Lock()
	s.state = StateOpen
	s.OpenedAt = time.Now()
	s.mu.Unlock()

	c.observer.SessionOpened(s.Anonymous())
	c.logger.InfoContext(ctx, "session opened",
		"handle", s.Handle.String(),
		"user_id", string(s.User),
		"anonymous", s.Anonymous(),
	)

	if changed {
		c.broadcaster.PublishPresence(ctx)
	} else {
		//nolint:errcheck // failure is logged by the broadcaster; the read loop will see the close
		c.broadcaster.SendSnapshot(ctx, s.Handle)
	}
	return s, nil
}

// Close handles a transport disconnect. It is idempotent; a late or duplicate
// close is a no-op.
func (c *Controller) Close(ctx context.Context, s *Session) {
	s.mu.Lock()
	prev := s.state
	s.state = StateClosed
	s.mu.Unlock()
	if prev == StateClosed {
		return
	}

	c.table.Remove(s.Handle)
	if prev != StateOpen {
		return
	}

	changed := false
	if !s.Anonymous() {
		changed = c.registry.Deregister(s.User, s.Handle)
	}

	c.observer.SessionClosed(s.Anonymous())
	c.logger.InfoContext(ctx, "session closed",
		"handle", s.Handle.String(),
		"user_id", string(s.User),
		"duration", time.Since(s.OpenedAt).Round(time.Millisecond).String(),
	)

	if changed {
		c.broadcaster.PublishPresence(ctx)
	}
}

// Reply pushes ev to a single session, used for acks and errors.
func (c *Controller) Reply(ctx context.Context, s *Session, ev Event) error {
	return c.table.Push(ctx, s.Handle, ev)
}

// Online returns the current online set.
func (c *Controller) Online() []UserID {
	return c.registry.OnlineIdentities()
}

// Disconnect closes every live transport connection. Each transport's own
// teardown then calls Close.
func (c *Controller) Disconnect() {
	for _, handle := range c.table.Handles() {
		conn := c.table.Remove(handle)
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil {
			c.logger.Debug("error closing session during shutdown", "handle", handle.String(), "error", err)
		}
	}
}
