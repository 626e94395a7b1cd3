// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/connectly/connectly/internal/chat"
	"github.com/connectly/connectly/internal/presence"
	"github.com/connectly/connectly/internal/store"
	"github.com/connectly/connectly/pkg/errutil"
)

// AckPayload is the payload of an ack event.
type AckPayload struct {
	Ref       string           `json:"ref,omitempty"`
	MessageID string           `json:"messageId,omitempty"`
	Outcome   presence.Outcome `json:"outcome,omitempty"`
	Pushed    int              `json:"pushed,omitempty"`
	Failed    int              `json:"failed,omitempty"`
}

// ErrorPayload is the payload of an error event.
type ErrorPayload struct {
	Ref  string `json:"ref,omitempty"`
	Code string `json:"code,omitempty"`
}

// OnlineResponse is the body of GET /api/online.
type OnlineResponse struct {
	Online []presence.UserID `json:"online"`
}

// HistoryResponse is the body of GET /api/messages/{peer}.
type HistoryResponse struct {
	Messages []store.Message `json:"messages"`
}

// ErrorResponse is the body of a failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ackEvent(ref string, res *chat.SendResult) presence.Event {
	p := AckPayload{Ref: ref}
	if res != nil {
		p.MessageID = res.Message.ID.String()
		p.Outcome = res.Delivery.Outcome
		p.Pushed = res.Delivery.Pushed
		p.Failed = res.Delivery.Failed
	}
	//nolint:errchkjson // plain struct
	payload, _ := json.Marshal(p)
	return presence.Event{Type: presence.EventAck, At: time.Now().UTC(), Payload: payload}
}

func errorEvent(ref string, err error) presence.Event {
	//nolint:errchkjson // plain struct
	payload, _ := json.Marshal(ErrorPayload{Ref: ref, Code: errutil.Code(err)})
	return presence.Event{
		Type:    presence.EventError,
		At:      time.Now().UTC(),
		Error:   publicMessage(err),
		Payload: payload,
	}
}

// publicMessage is the client-facing text of err; internal failures are not
// described.
func publicMessage(err error) string {
	if statusFor(err) >= http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

func statusFor(err error) int {
	code := errutil.Code(err)
	switch {
	case code == "FRAME_INVALID",
		code == "MESSAGE_EMPTY",
		code == "MESSAGE_TOO_LONG",
		strings.HasPrefix(code, "INVALID_"):
		return http.StatusBadRequest
	case code == "MESSAGE_EXISTS":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r, s.cfg.AllowAnonymous); !ok {
		return
	}
	writeJSON(w, http.StatusOK, OnlineResponse{Online: s.sessions.Online()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r, false)
	if !ok {
		return
	}

	peer := presence.UserID(r.PathValue("peer"))
	q := r.URL.Query()

	var before ulid.ULID
	if raw := q.Get("before"); raw != "" {
		id, err := presence.ParseULID(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		before = id
	}

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, oops.Code("INVALID_LIMIT").With("limit", raw).Errorf("limit must be an integer"))
			return
		}
		limit = n
	}

	msgs, err := s.chat.History(r.Context(), user, peer, before, limit)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.ErrorContext(r.Context(), "history query failed", "user_id", string(user), "peer", string(peer), "error", err)
		}
		writeError(w, status, err)
		return
	}
	if msgs == nil {
		msgs = []store.Message{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Messages: msgs})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson // client may have gone away
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Code: errutil.Code(err)})
}
