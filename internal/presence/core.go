// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package presence

import "log/slog"

// Core bundles the presence components wired over one registry and one
// connection table.
type Core struct {
	Registry    *Registry
	Table       *ConnTable
	Broadcaster *Broadcaster
	Router      *Router
	Controller  *Controller
}

// NewCore wires a registry, connection table, broadcaster, router and
// lifecycle controller. observer may be nil.
func NewCore(observer Observer, logger *slog.Logger, opts ...RegistryOption) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append([]RegistryOption{WithRegistryLogger(logger)}, opts...)

	registry := NewRegistry(opts...)
	table := NewConnTable(logger)
	broadcaster := NewBroadcaster(registry, table, observer, logger)
	return &Core{
		Registry:    registry,
		Table:       table,
		Broadcaster: broadcaster,
		Router:      NewRouter(registry, table, observer, logger),
		Controller:  NewController(registry, table, broadcaster, observer, logger),
	}
}
