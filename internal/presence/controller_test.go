// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func requireOnline(t *testing.T, conn *fakeConn, want ...UserID) {
	t.Helper()
	online, ok := conn.LastOnline()
	require.True(t, ok, "no presence event received")
	if len(want) == 0 {
		assert.Empty(t, online)
		return
	}
	assert.Equal(t, want, online)
}

func TestController_EndToEndScenario(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	connA := &fakeConn{}
	sessA, err := c.Controller.Open(ctx, connA, "A")
	require.NoError(t, err)
	requireOnline(t, connA, "A")

	connB := &fakeConn{}
	_, err = c.Controller.Open(ctx, connB, "B")
	require.NoError(t, err)
	requireOnline(t, connA, "A", "B")
	requireOnline(t, connB, "A", "B")

	got := c.Router.DeliverLive(ctx, "A", "B", json.RawMessage(`{"text":"hello"}`))
	assert.Equal(t, Delivered, got.Outcome)
	assert.Equal(t, 1, connB.Count(EventMessage))
	assert.Zero(t, connA.Count(EventMessage))

	c.Controller.Close(ctx, sessA)
	requireOnline(t, connB, "B")
	assert.Equal(t, StateClosed, sessA.State())
}

func TestController_SecondTabKeepsUserOnline(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	watcher := &fakeConn{}
	_, err := c.Controller.Open(ctx, watcher, "")
	require.NoError(t, err)

	tab1, tab2 := &fakeConn{}, &fakeConn{}
	s1, err := c.Controller.Open(ctx, tab1, "alice")
	require.NoError(t, err)
	s2, err := c.Controller.Open(ctx, tab2, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, s1.Handle, s2.Handle)

	// The second tab did not change the set: the watcher saw one update,
	// the new tab got its own snapshot.
	assert.Equal(t, 2, watcher.Count(EventPresence))
	requireOnline(t, tab2, "alice")

	c.Controller.Close(ctx, s1)
	requireOnline(t, watcher, "alice")
	assert.Equal(t, 2, watcher.Count(EventPresence))

	c.Controller.Close(ctx, s2)
	requireOnline(t, watcher)
}

func TestController_CloseIsIdempotent(t *testing.T) {
	c, obs := newTestCore(t)
	ctx := context.Background()

	watcher := &fakeConn{}
	_, _ = c.Controller.Open(ctx, watcher, "")
	s1, _ := c.Controller.Open(ctx, &fakeConn{}, "alice")
	_, _ = c.Controller.Open(ctx, &fakeConn{}, "alice")

	c.Controller.Close(ctx, s1)
	c.Controller.Close(ctx, s1)

	assert.Equal(t, []UserID{"alice"}, c.Controller.Online())
	assert.Equal(t, 1, obs.closed)
}

func TestController_AnonymousSessionIsNeverListed(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	anon := &fakeConn{}
	s, err := c.Controller.Open(ctx, anon, "")
	require.NoError(t, err)
	assert.True(t, s.Anonymous())
	requireOnline(t, anon)

	_, err = c.Controller.Open(ctx, &fakeConn{}, "bob")
	require.NoError(t, err)
	requireOnline(t, anon, "bob")

	c.Controller.Close(ctx, s)
	assert.Equal(t, []UserID{"bob"}, c.Controller.Online())
	assert.Equal(t, 1, c.Table.Len())
}

func TestController_ReplyReachesOnlyOneSession(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	mine, other := &fakeConn{}, &fakeConn{}
	s, _ := c.Controller.Open(ctx, mine, "alice")
	_, _ = c.Controller.Open(ctx, other, "alice")

	require.NoError(t, c.Controller.Reply(ctx, s, Event{Type: EventAck}))
	assert.Equal(t, 1, mine.Count(EventAck))
	assert.Zero(t, other.Count(EventAck))

	c.Controller.Close(ctx, s)
	assert.ErrorIs(t, c.Controller.Reply(ctx, s, Event{Type: EventAck}), ErrStaleHandle)
}

func TestController_DisconnectClosesEveryConn(t *testing.T) {
	c, _ := newTestCore(t)
	ctx := context.Background()

	conns := []*fakeConn{{}, {}, {}}
	sessions := make([]*Session, 0, len(conns))
	for i, conn := range conns {
		s, err := c.Controller.Open(ctx, conn, UserID([]string{"a", "b", ""}[i]))
		require.NoError(t, err)
		sessions = append(sessions, s)
	}

	c.Controller.Disconnect()
	for _, conn := range conns {
		assert.True(t, conn.closed)
	}
	for _, s := range sessions {
		c.Controller.Close(ctx, s)
	}
	assert.Empty(t, c.Controller.Online())
	assert.Zero(t, c.Table.Len())
}

func TestController_ConcurrentConnectDisconnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	c, _ := newTestCore(t)
	ctx := context.Background()
	watcher := &fakeConn{}
	_, _ = c.Controller.Open(ctx, watcher, "")

	users := []UserID{"alice", "bob", "carol", "dave"}
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := c.Controller.Open(ctx, &fakeConn{}, users[i%len(users)])
			if !assert.NoError(t, err) {
				return
			}
			c.Controller.Close(ctx, s)
		}(i)
	}
	wg.Wait()

	assert.Empty(t, c.Controller.Online())
	requireOnline(t, watcher)
}
