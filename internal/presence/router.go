// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package presence

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Outcome is the result of a live delivery attempt.
type Outcome string

const (
	// Delivered means the recipient had at least one live session.
	Delivered Outcome = "delivered"
	// RecipientOffline means nothing was pushed; the recipient will read the
	// message from the message store.
	RecipientOffline Outcome = "offline"
)

// Delivery reports what DeliverLive did.
type Delivery struct {
	Outcome Outcome `json:"outcome"`
	Pushed  int     `json:"pushed"`
	Failed  int     `json:"failed"`
}

// Router pushes chat events to a recipient's live sessions. It never retries
// and never queues: durability belongs to the message store.
type Router struct {
	registry  *Registry
	transport Transport
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time
}

// NewRouter creates a router over registry and transport.
func NewRouter(registry *Registry, transport Transport, observer Observer, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry:  registry,
		transport: transport,
		observer:  observerOrNop(observer),
		logger:    logger,
		now:       time.Now,
	}
}

// DeliverLive pushes payload, tagged with sender and arrival time, to every
// live session of recipient. The caller must have persisted the message
// before calling.
func (r *Router) DeliverLive(ctx context.Context, sender, recipient UserID, payload json.RawMessage) Delivery {
	ctx, span := otel.Tracer("github.com/connectly/connectly/internal/presence").Start(ctx, "presence.DeliverLive")
	defer span.End()

	handles := r.registry.SessionsFor(recipient)
	if len(handles) == 0 {
		span.SetAttributes(attribute.String("outcome", string(RecipientOffline)))
		r.observer.LiveDelivery(RecipientOffline)
		return Delivery{Outcome: RecipientOffline}
	}

	ev := Event{
		Type:    EventMessage,
		At:      r.now().UTC(),
		From:    sender,
		Payload: payload,
	}

	result := Delivery{Outcome: Delivered}
	for _, handle := range handles {
		if err := r.transport.Push(ctx, handle, ev); err != nil {
			result.Failed++
			if errors.Is(err, ErrStaleHandle) {
				r.logger.DebugContext(ctx, "skipping stale session", "handle", handle.String())
				continue
			}
			r.observer.PushFailed(EventMessage)
			r.logger.WarnContext(ctx, "message push failed",
				"recipient", string(recipient),
				"handle", handle.String(),
				"error", err,
			)
			continue
		}
		result.Pushed++
	}

	span.SetAttributes(
		attribute.String("outcome", string(result.Outcome)),
		attribute.Int("pushed", result.Pushed),
		attribute.Int("failed", result.Failed),
	)
	r.observer.LiveDelivery(result.Outcome)
	return result
}
