// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"

	"github.com/connectly/connectly/internal/presence"
)

// closeGrace bounds the write of the close frame on teardown.
const closeGrace = time.Second

// wsConn is the push side of one WebSocket. Events are encoded on the
// caller's goroutine, queued without blocking and written by a single write
// pump, which is the only writer and owns the socket's teardown.
type wsConn struct {
	ws           *websocket.Conn
	send         chan []byte
	done         chan struct{}
	stopped      chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *slog.Logger
}

func newWSConn(ws *websocket.Conn, queue int, writeTimeout, pingInterval time.Duration, logger *slog.Logger) *wsConn {
	return &wsConn{
		ws:           ws,
		send:         make(chan []byte, queue),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger,
	}
}

// Send implements presence.Conn.
func (c *wsConn) Send(ev presence.Event) error {
	select {
	case <-c.done:
		return presence.ErrStaleHandle
	default:
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return oops.Code("EVENT_ENCODE_FAILED").With("event", string(ev.Type)).Wrap(err)
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return presence.ErrStaleHandle
	default:
		return presence.ErrSlowConsumer
	}
}

// Close implements presence.Conn. It never blocks: it signals the write pump
// and aborts any write in flight. The pump then sends the close frame and
// closes the socket, which ends the read loop.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			//nolint:errcheck // the pump re-arms its own deadline for the close frame
			c.ws.NetConn().SetWriteDeadline(time.Now())
		}
	})
	return nil
}

// wait blocks until the write pump has closed the socket.
func (c *wsConn) wait() {
	<-c.stopped
}

// writePump drains the send queue and keeps the connection alive with pings.
// Any write failure tears the connection down.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.pingInterval)
	defer func() {
		ticker.Stop()
		//nolint:errcheck // teardown
		c.Close()
		//nolint:errcheck // best effort; the peer may already be gone
		c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(closeGrace))
		//nolint:errcheck // teardown
		c.ws.Close()
		close(c.stopped)
	}()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			select {
			case <-c.done:
				return
			default:
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.logger.Debug("websocket ping failed", "error", err)
				return
			}
		}
	}
}
