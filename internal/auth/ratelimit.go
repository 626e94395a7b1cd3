// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package auth

import (
	"sync"
	"time"
)

// Failure throttling configuration.
const (
	// LockoutDuration is how long a client is refused after too many failures.
	LockoutDuration = 5 * time.Minute

	// LockoutThreshold is the number of consecutive failures that triggers a lockout.
	LockoutThreshold = 7

	// failureWindow is how long a failure streak is remembered without a new failure.
	failureWindow = 15 * time.Minute
)

type failureState struct {
	failures    int
	lastFailure time.Time
	lockedUntil time.Time
}

// FailureTracker counts consecutive authentication failures per client key
// (normally the remote address) and locks the key out once the threshold is
// reached. It is safe for concurrent use.
type FailureTracker struct {
	mu      sync.Mutex
	clients map[string]*failureState
	now     func() time.Time
}

// NewFailureTracker creates an empty tracker.
func NewFailureTracker() *FailureTracker {
	return &FailureTracker{
		clients: make(map[string]*failureState),
		now:     time.Now,
	}
}

// LockedOut reports whether key is currently refused, and for how long.
func (t *FailureTracker) LockedOut(key string) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.clients[key]
	if !ok {
		return false, 0
	}
	now := t.now()
	if st.lockedUntil.After(now) {
		return true, st.lockedUntil.Sub(now)
	}
	return false, 0
}

// Fail records a failed attempt and reports whether key is now locked out.
func (t *FailureTracker) Fail(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	st, ok := t.clients[key]
	if !ok || now.Sub(st.lastFailure) > failureWindow {
		st = &failureState{}
		t.clients[key] = st
	}
	st.failures++
	st.lastFailure = now
	if st.failures >= LockoutThreshold {
		st.lockedUntil = now.Add(LockoutDuration)
		st.failures = 0
		return true
	}
	return false
}

// Succeed clears the failure streak for key.
func (t *FailureTracker) Succeed(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, key)
}

// Sweep drops entries that are neither locked nor inside the failure window.
// It returns the number of entries removed.
func (t *FailureTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for key, st := range t.clients {
		if st.lockedUntil.After(now) || now.Sub(st.lastFailure) <= failureWindow {
			continue
		}
		delete(t.clients, key)
		removed++
	}
	return removed
}
