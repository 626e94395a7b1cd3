// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Broadcaster publishes the full online set to every live session.
type Broadcaster struct {
	// mu orders publications: the snapshot and the enqueue to every session
	// happen under it, so the last event each session receives reflects the
	// latest registry state.
	mu        sync.Mutex
	registry  *Registry
	transport Transport
	observer  Observer
	logger    *slog.Logger
}

// NewBroadcaster creates a broadcaster over registry and transport.
func NewBroadcaster(registry *Registry, transport Transport, observer Observer, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		registry:  registry,
		transport: transport,
		observer:  observerOrNop(observer),
		logger:    logger,
	}
}

// PublishPresence pushes the current online set, as one event, to every live
// session. A failed push to one session never stops delivery to the others.
// It returns the number of sessions the event reached.
func (b *Broadcaster) PublishPresence(ctx context.Context) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	online := b.registry.OnlineIdentities()
	ev := NewPresenceEvent(online)
	audience := b.transport.Handles()

	reached := 0
	for _, handle := range audience {
		if err := b.transport.Push(ctx, handle, ev); err != nil {
			b.pushFailed(ctx, handle, ev.Type, err)
			continue
		}
		reached++
	}

	b.observer.PresencePublished(len(online), len(audience))
	b.logger.DebugContext(ctx, "presence published",
		"online", len(online),
		"audience", len(audience),
		"reached", reached,
	)
	return reached
}

// SendSnapshot pushes the current online set to a single session.
func (b *Broadcaster) SendSnapshot(ctx context.Context, handle HandleID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	ev := NewPresenceEvent(b.registry.OnlineIdentities())
	if err := b.transport.Push(ctx, handle, ev); err != nil {
		b.pushFailed(ctx, handle, ev.Type, err)
		return err
	}
	return nil
}

func (b *Broadcaster) pushFailed(ctx context.Context, handle HandleID, kind EventType, err error) {
	if errors.Is(err, ErrStaleHandle) {
		b.logger.DebugContext(ctx, "skipping stale session", "handle", handle.String())
		return
	}
	b.observer.PushFailed(kind)
	b.logger.WarnContext(ctx, "presence push failed",
		"handle", handle.String(),
		"error", err,
	)
}
