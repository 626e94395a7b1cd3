// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/connectly/connectly/internal/auth"
	"github.com/connectly/connectly/internal/chat"
	"github.com/connectly/connectly/internal/config"
	"github.com/connectly/connectly/internal/gateway"
	"github.com/connectly/connectly/internal/logging"
	"github.com/connectly/connectly/internal/observability"
	"github.com/connectly/connectly/internal/presence"
	"github.com/connectly/connectly/internal/store"
	"github.com/connectly/connectly/internal/xdg"
	"github.com/connectly/connectly/pkg/errutil"
)

// sweepInterval is how often expired authentication lockouts are dropped.
const sweepInterval = time.Minute

// serveDeps holds injectable dependencies for the serve command.
type serveDeps struct {
	// Listen opens the gateway listener. Defaults to net.Listen.
	Listen func(network, addr string) (net.Listener, error)
	// Ready is called with the bound gateway and observability addresses once
	// the server accepts connections. metricsAddr is empty when disabled.
	Ready func(gatewayAddr, metricsAddr string)
}

// pinger is implemented by stores that can report backend health.
type pinger interface {
	Ping(ctx context.Context) error
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the presence server",
		Long: `Start the WebSocket gateway, the presence core and the message store.
The observability server (metrics, health probes, status) listens on
metrics.addr unless it is empty.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cmd, cfg, autoMigrate, nil)
		},
	}

	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "apply pending migrations before serving (postgres driver)")
	return cmd
}

// runServe runs the server until ctx is cancelled or a signal arrives.
// If deps is nil, default implementations are used.
func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config, autoMigrate bool, deps *serveDeps) error {
	if deps == nil {
		deps = &serveDeps{}
	}
	if deps.Listen == nil {
		deps.Listen = net.Listen
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.SetDefault(logging.Options{
		Service: "connectly",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	if err != nil {
		return oops.With("operation", "set up logging").Wrap(err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	messages, err := openStore(ctx, cfg.Store, autoMigrate, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := messages.Close(); closeErr != nil {
			errutil.LogError(logger, "error closing message store", closeErr)
		}
	}()
	logger.Info("message store ready", "driver", cfg.Store.Driver)

	var ready atomic.Bool
	started := time.Now()

	var obsServer *observability.Server
	var observer presence.Observer
	if cfg.Metrics.Addr != "" {
		obsServer = observability.NewServer(cfg.Metrics.Addr, func() bool {
			if !ready.Load() {
				return false
			}
			p, ok := messages.(pinger)
			if !ok {
				return true
			}
			pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return p.Ping(pingCtx) == nil
		})
		observer = obsServer.Metrics()
	}

	core := presence.NewCore(observer, logger, presence.WithStrictInvariants(cfg.Presence.StrictInvariants))
	chatSvc := chat.NewService(messages, core.Router, cfg.Store.HistoryLimit, logger)
	failures := auth.NewFailureTracker()

	gwOpts := []gateway.Option{gateway.WithLogger(logger), gateway.WithFailureTracker(failures)}
	if obsServer != nil {
		gwOpts = append(gwOpts, gateway.WithRejectionCounter(obsServer.Metrics()))
	}
	gw, err := gateway.NewServer(gateway.Config{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Protocol:       cfg.Server.Protocol,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		SendQueue:      cfg.Presence.SendQueue,
		WriteTimeout:   cfg.Presence.WriteTimeout,
		PingInterval:   cfg.Presence.PingInterval,
		PongTimeout:    cfg.Presence.PongTimeout,
		MaxFrameBytes:  cfg.Presence.MaxFrameBytes,
	}, core.Controller, chatSvc, auth.NewJWTVerifier([]byte(cfg.Auth.Secret), cfg.Auth.Issuer), gwOpts...)
	if err != nil {
		return err
	}

	if obsServer != nil {
		obsServer.SetStatusProvider(func() observability.Status {
			users, _ := core.Registry.Stats()
			return observability.Status{
				Version:       version,
				OnlineUsers:   users,
				LiveSessions:  core.Table.Len(),
				UptimeSeconds: int64(time.Since(started).Seconds()),
			}
		})
		obsErr, startErr := obsServer.Start()
		if startErr != nil {
			return oops.With("operation", "start observability server").Wrap(startErr)
		}
		go monitorServerErrors(ctx, stop, obsErr, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	listener, err := deps.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.Code("LISTEN_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
	}

	httpServer := &http.Server{
		Handler:           gw.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	go sweepFailures(ctx, failures)

	ready.Store(true)
	logger.Info("connectly ready", "addr", listener.Addr().String())
	cmd.Println("Connectly listening on " + listener.Addr().String())
	if deps.Ready != nil {
		metricsAddr := ""
		if obsServer != nil {
			metricsAddr = obsServer.Addr()
		}
		deps.Ready(listener.Addr().String(), metricsAddr)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err, ok := <-serveErr:
		if ok && err != nil {
			runErr = oops.Code("SERVE_FAILED").Wrap(err)
		}
	}

	ready.Store(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown; close
	// them through the controller and wait for their sessions to end.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error shutting down http server", "error", err)
	}
	core.Controller.Disconnect()
	if err := gw.Wait(shutdownCtx); err != nil {
		errutil.LogError(logger, "sessions still open at shutdown", err)
	}
	stopObservability(obsServer, logger)

	logger.Info("shutdown complete")
	return runErr
}

// openStore opens the message store selected by cfg.Driver.
func openStore(ctx context.Context, cfg config.StoreConfig, autoMigrate bool, logger *slog.Logger) (store.MessageStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemoryMessageStore(), nil
	case config.DriverPostgres:
		if autoMigrate {
			if err := migrateUp(cfg.DSN, logger); err != nil {
				return nil, err
			}
		}
		return store.OpenPostgres(ctx, cfg.DSN)
	case config.DriverBadger:
		if err := xdg.EnsureDir(cfg.Path); err != nil {
			return nil, err
		}
		return store.OpenBadger(cfg.Path, logger)
	default:
		return nil, oops.Code("CONFIG_INVALID").
			With("key", "store.driver").
			With("value", cfg.Driver).
			Errorf("unknown store driver %q", cfg.Driver)
	}
}

func migrateUp(dsn string, logger *slog.Logger) error {
	migrator, err := store.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Debug("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return err
	}
	v, dirty, err := migrator.Version()
	if err != nil {
		return err
	}
	logger.Info("migrations applied", "version", v, "dirty", dirty)
	return nil
}

// sweepFailures periodically drops expired lockout records.
func sweepFailures(ctx context.Context, failures *auth.FailureTracker) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := failures.Sweep(); n > 0 {
				slog.Debug("swept authentication failure records", "count", n)
			}
		}
	}
}

func stopObservability(obsServer *observability.Server, logger *slog.Logger) {
	if obsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := obsServer.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels the serve context when a background server
// reports an error. It exits when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
