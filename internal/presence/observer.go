// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package presence

// Observer receives notifications about presence activity. It is how the
// metrics layer sees the core without the core importing it.
type Observer interface {
	SessionOpened(anonymous bool)
	SessionClosed(anonymous bool)
	PresencePublished(online, audience int)
	PushFailed(kind EventType)
	LiveDelivery(outcome Outcome)
}

type nopObserver struct{}

func (nopObserver) SessionOpened(bool) {}
func (nopObserver) SessionClosed(bool) {}
func (nopObserver) PresencePublished(int, int) {}
func (nopObserver) PushFailed(EventType) {}
func (nopObserver) LiveDelivery(Outcome) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
