// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

// Package chat sends direct messages: persist first, then push live.
package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/connectly/connectly/internal/presence"
	"github.com/connectly/connectly/internal/store"
)

// Message limits.
const (
	MaxTextRunes    = 4000
	MaxImageBytes   = 2048
	MaxHistoryLimit = 500
)

// Deliverer pushes a persisted message to the recipient's live sessions.
type Deliverer interface {
	DeliverLive(ctx context.Context, sender, recipient presence.UserID, payload json.RawMessage) presence.Delivery
}

// SendResult is what a successful Send reports back to the sender.
type SendResult struct {
	Message  store.Message     `json:"message"`
	Delivery presence.Delivery `json:"delivery"`
}

// Service coordinates the message store and live delivery.
type Service struct {
	messages     store.MessageStore
	router       Deliverer
	logger       *slog.Logger
	historyLimit int
	now          func() time.Time
}

// NewService creates a chat service. historyLimit is the page size used when
// a history request does not name one.
func NewService(messages store.MessageStore, router Deliverer, historyLimit int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if historyLimit <= 0 || historyLimit > MaxHistoryLimit {
		historyLimit = 50
	}
	return &Service{
		messages:     messages,
		router:       router,
		logger:       logger,
		historyLimit: historyLimit,
		now:          time.Now,
	}
}

// Send validates and persists a message from one user to another, then
// pushes it to the recipient's live sessions. If persisting fails nothing is
// pushed.
func (s *Service) Send(ctx context.Context, from, to presence.UserID, text, image string) (SendResult, error) {
	ctx, span := otel.Tracer("github.com/connectly/connectly/internal/chat").Start(ctx, "chat.Send")
	defer span.End()

	msg, err := s.newMessage(from, to, text, image)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return SendResult{}, err
	}
	span.SetAttributes(
		attribute.String("message_id", msg.ID.String()),
		attribute.String("sender", string(from)),
		attribute.String("recipient", string(to)),
	)

	if err := s.messages.Append(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return SendResult{}, oops.Code("MESSAGE_PERSIST_FAILED").
			With("message_id", msg.ID.String()).
			With("sender", string(from)).
			Wrap(err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		// Already persisted; the recipient will still see it in history.
		return SendResult{Message: msg, Delivery: presence.Delivery{Outcome: presence.RecipientOffline}},
			oops.Code("MESSAGE_ENCODE_FAILED").With("message_id", msg.ID.String()).Wrap(err)
	}

	delivery := s.router.DeliverLive(ctx, from, to, payload)
	s.logger.DebugContext(ctx, "message sent",
		"message_id", msg.ID.String(),
		"sender", string(from),
		"recipient", string(to),
		"outcome", string(delivery.Outcome),
		"pushed", delivery.Pushed,
		"failed", delivery.Failed,
	)
	return SendResult{Message: msg, Delivery: delivery}, nil
}

func (s *Service) newMessage(from, to presence.UserID, text, image string) (store.Message, error) {
	if from == "" {
		return store.Message{}, oops.Code("INVALID_IDENTITY").Errorf("anonymous sessions cannot send messages")
	}
	if to == "" {
		return store.Message{}, oops.Code("INVALID_RECIPIENT").Errorf("recipient is required")
	}
	text = strings.TrimSpace(text)
	image = strings.TrimSpace(image)
	if text == "" && image == "" {
		return store.Message{}, oops.Code("MESSAGE_EMPTY").Errorf("message needs text or an image")
	}
	if n := utf8.RuneCountInString(text); n > MaxTextRunes {
		return store.Message{}, oops.Code("MESSAGE_TOO_LONG").With("runes", n).With("max", MaxTextRunes).
			Errorf("message text exceeds %d characters", MaxTextRunes)
	}
	if len(image) > MaxImageBytes {
		return store.Message{}, oops.Code("MESSAGE_TOO_LONG").With("image_bytes", len(image)).
			Errorf("image reference exceeds %d bytes", MaxImageBytes)
	}
	return store.Message{
		ID:         presence.NewULID(),
		SenderID:   from,
		ReceiverID: to,
		Text:       text,
		Image:      image,
		CreatedAt:  s.now().UTC(),
	}, nil
}

// History returns a page of the conversation between user and peer, oldest
// first. A zero before starts from the newest message; limit 0 uses the
// default page size.
func (s *Service) History(ctx context.Context, user, peer presence.UserID, before ulid.ULID, limit int) ([]store.Message, error) {
	if user == "" {
		return nil, oops.Code("INVALID_IDENTITY").Errorf("history requires an identity")
	}
	if peer == "" {
		return nil, oops.Code("INVALID_RECIPIENT").Errorf("peer is required")
	}
	switch {
	case limit < 0:
		return nil, oops.Code("INVALID_LIMIT").With("limit", limit).Errorf("limit must not be negative")
	case limit == 0:
		limit = s.historyLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}

	msgs, err := s.messages.Conversation(ctx, user, peer, before, limit)
	if err != nil {
		return nil, oops.With("user", string(user)).With("peer", string(peer)).Wrap(err)
	}
	return msgs, nil
}
