// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package presence

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"
	"github.com/samber/oops"
)

// Registry maps each online user to the set of session handles currently
// open for that user. A user is a key iff it has at least one handle.
type Registry struct {
	mu       sync.RWMutex
	sessions map[UserID]map[HandleID]struct{}
	owners   map[HandleID]UserID
	strict   bool
	logger   *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStrictInvariants makes the registry panic on an internal invariant
// violation instead of pruning the broken entry. Meant for tests and development.
func WithStrictInvariants(strict bool) RegistryOption {
	return func(r *Registry) { r.strict = strict }
}

// WithRegistryLogger sets the logger used for invariant repairs.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[UserID]map[HandleID]struct{}),
		owners:   make(map[HandleID]UserID),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds handle to user's session set, creating the entry if absent.
// Registering the same pair twice is a no-op. changed reports whether the
// user went from offline to online.
//
// A handle already bound to a different user is rejected with
// HANDLE_ALREADY_BOUND; the caller must close the session first.
func (r *Registry) Register(user UserID, handle HandleID) (changed bool, err error) {
	if user == "" {
		return false, oops.Code("INVALID_IDENTITY").
			With("handle", handle.String()).
			Errorf("cannot register a session without a user identity")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, bound := r.owners[handle]; bound {
		if owner == user {
			return false, nil
		}
		return false, oops.Code("HANDLE_ALREADY_BOUND").
			With("handle", handle.String()).
			With("bound_to", string(owner)).
			With("requested", string(user)).
			Errorf("session handle is already registered to another user")
	}

	set, exists := r.sessions[user]
	if !exists {
		set = make(map[HandleID]struct{}, 1)
		r.sessions[user] = set
	}
	set[handle] = struct{}{}
	r.owners[handle] = user

	return !exists, nil
}

// Deregister removes handle from user's session set and drops the entry when
// the set becomes empty. Unknown pairs are ignored. changed reports whether
// the user went offline.
func (r *Registry) Deregister(user UserID, handle HandleID) (changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, bound := r.owners[handle]; !bound || owner != user {
		return false
	}
	delete(r.owners, handle)

	set, exists := r.sessions[user]
	if !exists {
		r.violation("owner index referenced a missing entry", user)
		return false
	}
	delete(set, handle)
	if len(set) == 0 {
		delete(r.sessions, user)
		return true
	}
	return false
}

// SessionsFor returns the live handles for user, or nil when offline.
// The returned slice is a copy.
func (r *Registry) SessionsFor(user UserID) []HandleID {
	r.mu.RLock()
	set, exists := r.sessions[user]
	if exists && len(set) > 0 {
		handles := lo.Keys(set)
		r.mu.RUnlock()
		slices.SortFunc(handles, func(a, b HandleID) int { return a.Compare(b) })
		return handles
	}
	r.mu.RUnlock()

	if exists {
		r.pruneEmpty(user)
	}
	return nil
}

// IsOnline reports whether user has at least one live handle.
func (r *Registry) IsOnline(user UserID) bool {
	return len(r.SessionsFor(user)) > 0
}

// OnlineIdentities returns every user with at least one live handle, sorted.
func (r *Registry) OnlineIdentities() []UserID {
	r.mu.RLock()
	users := make([]UserID, 0, len(r.sessions))
	var empty []UserID
	for user, set := range r.sessions {
		if len(set) == 0 {
			empty = append(empty, user)
			continue
		}
		users = append(users, user)
	}
	r.mu.RUnlock()

	for _, user := range empty {
		r.pruneEmpty(user)
	}
	slices.Sort(users)
	return users
}

// Stats returns the number of online users and registered handles.
func (r *Registry) Stats() (users, handles int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.owners)
}

// pruneEmpty removes user's entry if it is still present with no handles.
func (r *Registry) pruneEmpty(user UserID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, exists := r.sessions[user]; exists && len(set) == 0 {
		delete(r.sessions, user)
		r.violation("pruned empty session set", user)
	}
}

// violation must be called with r.mu held.
func (r *Registry) violation(msg string, user UserID) {
	if r.strict {
		panic("presence registry corruption: " + msg + ": " + string(user))
	}
	r.logger.Error("presence registry corruption repaired",
		"reason", msg,
		"user_id", string(user),
	)
}
