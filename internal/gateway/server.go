// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

// Package gateway exposes the presence core to browsers over WebSocket and a
// small JSON HTTP API.
package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/gobwas/glob"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/connectly/connectly/internal/auth"
	"github.com/connectly/connectly/internal/chat"
	"github.com/connectly/connectly/internal/presence"
	"github.com/connectly/connectly/internal/store"
)

// Connection rejection reasons reported to the RejectionCounter.
const (
	RejectUnauthorized = "unauthorized"
	RejectLockedOut    = "locked_out"
	RejectOrigin       = "origin"
	RejectProtocol     = "protocol"
	RejectUpgrade      = "upgrade"
	RejectOpen         = "open"
)

// SessionController is the lifecycle surface of the presence core.
type SessionController interface {
	Open(ctx context.Context, conn presence.Conn, user presence.UserID) (*presence.Session, error)
	Close(ctx context.Context, s *presence.Session)
	Reply(ctx context.Context, s *presence.Session, ev presence.Event) error
	Online() []presence.UserID
}

// ChatService sends and pages direct messages.
type ChatService interface {
	Send(ctx context.Context, from, to presence.UserID, text, image string) (chat.SendResult, error)
	History(ctx context.Context, user, peer presence.UserID, before ulid.ULID, limit int) ([]store.Message, error)
}

// RejectionCounter counts refused WebSocket connections by reason.
type RejectionCounter interface {
	RejectConnection(reason string)
}

type nopRejections struct{}

func (nopRejections) RejectConnection(string) {}

// Config holds the gateway settings.
type Config struct {
	// AllowedOrigins are glob patterns for the Origin header. Empty allows
	// same-host and loopback origins.
	AllowedOrigins []string
	// Protocol is a semver constraint checked against ?protocol=. Empty
	// accepts any client.
	Protocol       string
	AllowAnonymous bool
	SendQueue      int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxFrameBytes  int64
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithRejectionCounter reports refused connections to rc.
func WithRejectionCounter(rc RejectionCounter) Option {
	return func(s *Server) { s.rejections = rc }
}

// WithFailureTracker throttles clients that repeatedly fail authentication.
func WithFailureTracker(ft *auth.FailureTracker) Option {
	return func(s *Server) { s.failures = ft }
}

// Server serves /ws and the JSON API.
type Server struct {
	cfg        Config
	sessions   SessionController
	chat       ChatService
	verifier   auth.Verifier
	failures   *auth.FailureTracker
	rejections RejectionCounter
	logger     *slog.Logger
	origins    []glob.Glob
	protocol   *semver.Constraints
	upgrader   websocket.Upgrader
	wg         sync.WaitGroup
}

// NewServer creates a gateway. Invalid origin patterns or protocol
// constraints fail with CONFIG_INVALID.
func NewServer(cfg Config, sessions SessionController, chatSvc ChatService, verifier auth.Verifier, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		sessions:   sessions,
		chat:       chatSvc,
		verifier:   verifier,
		rejections: nopRejections{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, pattern := range cfg.AllowedOrigins {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("origin_pattern", pattern).Wrap(err)
		}
		s.origins = append(s.origins, g)
	}
	if cfg.Protocol != "" {
		c, err := semver.NewConstraint(cfg.Protocol)
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("protocol", cfg.Protocol).Wrap(err)
		}
		s.protocol = c
	}

	// Origin is checked before the upgrade so rejections can be counted.
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return s, nil
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/online", s.handleOnline)
	mux.HandleFunc("GET /api/messages/{peer}", s.handleHistory)
	return mux
}

// Wait blocks until every WebSocket handler has returned or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return oops.Code("SHUTDOWN_TIMEOUT").Wrap(ctx.Err())
	}
}

func (s *Server) reject(w http.ResponseWriter, reason string, status int, msg string) {
	s.rejections.RejectConnection(reason)
	http.Error(w, msg, status)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authenticate(w, r, s.cfg.AllowAnonymous)
	if !ok {
		return
	}
	if !s.checkOrigin(r) {
		s.logger.Warn("websocket origin rejected", "origin", r.Header.Get("Origin"), "remote_addr", r.RemoteAddr)
		s.reject(w, RejectOrigin, http.StatusForbidden, "origin not allowed")
		return
	}
	if status, msg := s.checkProtocol(r); status != 0 {
		s.reject(w, RejectProtocol, status, msg)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.rejections.RejectConnection(RejectUpgrade)
		s.logger.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	// Session bookkeeping must finish even after the request context ends.
	ctx := context.WithoutCancel(r.Context())
	conn := newWSConn(ws, s.cfg.SendQueue, s.cfg.WriteTimeout, s.cfg.PingInterval, s.logger)
	go conn.writePump()

	sess, err := s.sessions.Open(ctx, conn, user)
	if err != nil {
		s.rejections.RejectConnection(RejectOpen)
		s.logger.Warn("session open failed", "user_id", string(user), "error", err)
		//nolint:errcheck // teardown
		conn.Close()
		conn.wait()
		return
	}
	defer func() {
		s.sessions.Close(ctx, sess)
		//nolint:errcheck // teardown
		conn.Close()
		conn.wait()
	}()

	s.readLoop(ctx, ws, sess)
}

func (s *Server) readLoop(ctx context.Context, ws *websocket.Conn, sess *presence.Session) {
	ws.SetReadLimit(s.cfg.MaxFrameBytes)
	extend := func() error { return ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout)) }
	//nolint:errcheck // a failed deadline surfaces as a read error
	extend()
	ws.SetPongHandler(func(string) error { return extend() })

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Debug("websocket read ended", "handle", sess.Handle.String(), "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces as a read error
		extend()

		if kind != websocket.TextMessage {
			s.reply(ctx, sess, errorEvent("", oops.Code("FRAME_INVALID").Errorf("binary frames are not supported")))
			continue
		}
		s.handleFrame(ctx, sess, data)
	}
}

func (s *Server) handleFrame(ctx context.Context, sess *presence.Session, data []byte) {
	frame, err := ParseFrame(data)
	if err != nil {
		s.reply(ctx, sess, errorEvent("", err))
		return
	}

	switch frame.Type {
	case FramePing:
		s.reply(ctx, sess, ackEvent(frame.Ref, nil))
	case FrameSend:
		res, err := s.chat.Send(ctx, sess.User, presence.UserID(frame.To), frame.Text, frame.Image)
		if err != nil {
			s.logger.DebugContext(ctx, "send rejected", "handle", sess.Handle.String(), "error", err)
			s.reply(ctx, sess, errorEvent(frame.Ref, err))
			return
		}
		s.reply(ctx, sess, ackEvent(frame.Ref, &res))
	}
}

func (s *Server) reply(ctx context.Context, sess *presence.Session, ev presence.Event) {
	if err := s.sessions.Reply(ctx, sess, ev); err != nil {
		s.logger.DebugContext(ctx, "reply dropped", "handle", sess.Handle.String(), "event", string(ev.Type), "error", err)
	}
}

// authenticate resolves the caller's identity. An empty identity with ok set
// means an anonymous caller. On failure the response has been written.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request, allowAnonymous bool) (presence.UserID, bool) {
	key := clientKey(r)
	if s.failures != nil {
		if locked, remaining := s.failures.LockedOut(key); locked {
			w.Header().Set("Retry-After", strconv.Itoa(int(remaining.Round(time.Second).Seconds())))
			s.reject(w, RejectLockedOut, http.StatusTooManyRequests, "too many failed attempts")
			return "", false
		}
	}

	token := bearerToken(r)
	if token == "" {
		if allowAnonymous {
			return "", true
		}
		s.reject(w, RejectUnauthorized, http.StatusUnauthorized, "unauthorized")
		return "", false
	}

	user, err := s.verifier.Verify(r.Context(), token)
	if err != nil {
		if s.failures != nil && s.failures.Fail(key) {
			s.logger.Warn("client locked out after repeated token failures", "client", key)
		}
		s.logger.Debug("token rejected", "client", key, "error", err)
		s.reject(w, RejectUnauthorized, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	if s.failures != nil {
		s.failures.Succeed(key)
	}
	return user, true
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// checkOrigin accepts requests without an Origin header (non-browser
// clients), origins matching a configured pattern, or, with no patterns,
// same-host and loopback origins.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(s.origins) > 0 {
		for _, g := range s.origins {
			if g.Match(origin) {
				return true
			}
		}
		return false
	}

	_, host, ok := strings.Cut(origin, "://")
	if !ok || host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	hostname = strings.Trim(hostname, "[]")
	return hostname == "localhost" || net.ParseIP(hostname).IsLoopback()
}

// checkProtocol returns a non-zero status when the client's declared
// protocol version is unusable.
func (s *Server) checkProtocol(r *http.Request) (int, string) {
	raw := r.URL.Query().Get("protocol")
	if raw == "" || s.protocol == nil {
		return 0, ""
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return http.StatusBadRequest, "invalid protocol version"
	}
	if !s.protocol.Check(v) {
		return http.StatusUpgradeRequired, "unsupported protocol version; server requires " + s.protocol.String()
	}
	return 0, ""
}
