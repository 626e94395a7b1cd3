// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/connectly/connectly/internal/auth"
	"github.com/connectly/connectly/internal/chat"
	"github.com/connectly/connectly/internal/gateway"
	"github.com/connectly/connectly/internal/presence"
	"github.com/connectly/connectly/internal/store"
)

var secret = []byte("e2e-secret-0123456789")

// testEnv is a gateway over a strict presence core and a memory store.
type testEnv struct {
	core     *presence.Core
	messages *store.MemoryMessageStore
	gw       *gateway.Server
	srv      *httptest.Server
	issuer   *auth.Issuer
}

func newTestEnv() *testEnv {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	core := presence.NewCore(nil, logger, presence.WithStrictInvariants(true))
	messages := store.NewMemoryMessageStore()
	chatSvc := chat.NewService(messages, core.Router, 50, logger)

	gw, err := gateway.NewServer(gateway.Config{
		AllowAnonymous: true,
		SendQueue:      32,
		WriteTimeout:   time.Second,
		PingInterval:   time.Second,
		PongTimeout:    5 * time.Second,
		MaxFrameBytes:  16 << 10,
	}, core.Controller, chatSvc, auth.NewJWTVerifier(secret, "connectly"), gateway.WithLogger(logger))
	Expect(err).NotTo(HaveOccurred())

	return &testEnv{
		core:     core,
		messages: messages,
		gw:       gw,
		srv:      httptest.NewServer(gw.Handler()),
		issuer:   auth.NewIssuer(secret, "connectly"),
	}
}

func (e *testEnv) Close() {
	e.core.Controller.Disconnect()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	Expect(e.gw.Wait(ctx)).To(Succeed())
	e.srv.Close()
}

func (e *testEnv) token(user presence.UserID) string {
	token, err := e.issuer.Issue(user, time.Hour)
	Expect(err).NotTo(HaveOccurred())
	return token
}

// client is one WebSocket session with a background reader.
type client struct {
	ws     *websocket.Conn
	events chan presence.Event
	done   chan struct{}
}

func (e *testEnv) connect(user presence.UserID) *client {
	header := http.Header{}
	if user != "" {
		header.Set("Authorization", "Bearer "+e.token(user))
	}
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	Expect(err).NotTo(HaveOccurred())

	c := &client{ws: ws, events: make(chan presence.Event, 64), done: make(chan struct{})}
	go func() {
		defer close(c.done)
		defer close(c.events)
		for {
			var ev presence.Event
			if err := ws.ReadJSON(&ev); err != nil {
				return
			}
			c.events <- ev
		}
	}()
	return c
}

func (c *client) close() {
	_ = c.ws.Close()
	Eventually(c.done).Should(BeClosed())
}

// nextOfType returns the next event of type t, skipping others.
func (c *client) nextOfType(t presence.EventType) presence.Event {
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-c.events:
			Expect(ok).To(BeTrue(), "connection closed while waiting for %s", t)
			if ev.Type == t {
				return ev
			}
		case <-deadline:
			Fail("timed out waiting for a " + string(t) + " event")
		}
	}
}

// awaitOnline consumes presence events until one carries exactly want.
func (c *client) awaitOnline(want ...presence.UserID) {
	if want == nil {
		want = []presence.UserID{}
	}
	for {
		ev := c.nextOfType(presence.EventPresence)
		if slices.Equal(ev.Online, want) {
			return
		}
	}
}

// expectNoEvent asserts nothing of type t arrives within d.
func (c *client) expectNoEvent(t presence.EventType, d time.Duration) {
	deadline := time.After(d)
	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			Expect(ev.Type).NotTo(Equal(t))
		case <-deadline:
			return
		}
	}
}

func (c *client) send(frame gateway.ClientFrame) {
	Expect(c.ws.WriteJSON(frame)).To(Succeed())
}

func decodeAck(ev presence.Event) gateway.AckPayload {
	var ack gateway.AckPayload
	Expect(json.Unmarshal(ev.Payload, &ack)).To(Succeed())
	return ack
}
