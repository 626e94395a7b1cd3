// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package presence

import "errors"

// Push-path errors. Both are expected during transport close races and are
// never surfaced to the sender of a message.
var (
	// ErrStaleHandle is returned when pushing to a handle that is no longer open.
	ErrStaleHandle = errors.New("stale session handle")
	// ErrSlowConsumer is returned when a session's send queue is full.
	ErrSlowConsumer = errors.New("session send queue full")
)
