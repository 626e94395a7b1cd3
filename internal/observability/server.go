// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"

	"github.com/connectly/connectly/internal/presence"
)

// ReadinessChecker returns whether the service is ready to accept connections.
type ReadinessChecker func() bool

// Metrics contains the Prometheus metrics for the presence service. It
// implements presence.Observer.
type Metrics struct {
	SessionsTotal       *prometheus.CounterVec
	LiveSessions        *prometheus.GaugeVec
	OnlineUsers         prometheus.Gauge
	PresenceBroadcasts  prometheus.Counter
	PushFailures        *prometheus.CounterVec
	LiveDeliveries      *prometheus.CounterVec
	ConnectionsRejected *prometheus.CounterVec
}

var _ presence.Observer = (*Metrics)(nil)

// NewMetrics creates and registers the presence metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connectly_sessions_total",
				Help: "Total number of opened sessions by kind",
			},
			[]string{"kind"},
		),
		LiveSessions: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "connectly_live_sessions",
				Help: "Number of currently open sessions by kind",
			},
			[]string{"kind"},
		),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "connectly_online_users",
			Help: "Size of the last published online set",
		}),
		PresenceBroadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "connectly_presence_broadcasts_total",
			Help: "Total number of presence broadcasts",
		}),
		PushFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connectly_push_failures_total",
				Help: "Total number of failed pushes to a session by event type",
			},
			[]string{"event"},
		),
		LiveDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connectly_live_deliveries_total",
				Help: "Total number of live delivery attempts by outcome",
			},
			[]string{"outcome"},
		),
		ConnectionsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connectly_connections_rejected_total",
				Help: "Total number of rejected transport connections by reason",
			},
			[]string{"reason"},
		),
	}

	reg.MustRegister(
		m.SessionsTotal,
		m.LiveSessions,
		m.OnlineUsers,
		m.PresenceBroadcasts,
		m.PushFailures,
		m.LiveDeliveries,
		m.ConnectionsRejected,
	)
	return m
}

func sessionKind(anonymous bool) string {
	if anonymous {
		return "anonymous"
	}
	return "identified"
}

// SessionOpened records a newly opened session.
func (m *Metrics) SessionOpened(anonymous bool) {
	kind := sessionKind(anonymous)
	m.SessionsTotal.WithLabelValues(kind).Inc()
	m.LiveSessions.WithLabelValues(kind).Inc()
}

// SessionClosed records a closed session.
func (m *Metrics) SessionClosed(anonymous bool) {
	m.LiveSessions.WithLabelValues(sessionKind(anonymous)).Dec()
}

// PresencePublished records a presence broadcast.
func (m *Metrics) PresencePublished(online, _ int) {
	m.PresenceBroadcasts.Inc()
	m.OnlineUsers.Set(float64(online))
}

// PushFailed records a failed push.
func (m *Metrics) PushFailed(kind presence.EventType) {
	m.PushFailures.WithLabelValues(string(kind)).Inc()
}

// LiveDelivery records a live delivery attempt.
func (m *Metrics) LiveDelivery(outcome presence.Outcome) {
	m.LiveDeliveries.WithLabelValues(string(outcome)).Inc()
}

// RejectConnection records a transport connection refused before upgrade.
func (m *Metrics) RejectConnection(reason string) {
	m.ConnectionsRejected.WithLabelValues(reason).Inc()
}

// StatusProvider reports a point-in-time view of the presence service.
type StatusProvider func() Status

// Status is served as JSON on /status and read by `connectly status`.
type Status struct {
	Version       string `json:"version"`
	OnlineUsers   int    `json:"online_users"`
	LiveSessions  int    `json:"live_sessions"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Server provides HTTP endpoints for observability (metrics, health probes
// and a status document).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	status     StatusProvider
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100", ":9100" for all interfaces).
func NewServer(addr string, readinessChecker ReadinessChecker) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		isReady:  readinessChecker,
	}
}

// SetStatusProvider configures the /status document. Must be called before Start.
func (s *Server) SetStatusProvider(fn StatusProvider) {
	s.status = fn
}

// Metrics returns the presence metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving observability endpoints.
// It returns an error channel that will receive any errors from the HTTP server
// after it starts. The channel is closed when the server stops gracefully.
// Callers should monitor this channel to detect server failures.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	// Kubernetes-style health probes
	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)
	mux.HandleFunc("/status", s.handleStatus)

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	// Create buffered error channel so the goroutine doesn't block
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		// Use local httpSrv to avoid race with subsequent Start() calls
		if serveErr := httpSrv.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	// Use CompareAndSwap to atomically transition from running to stopped.
	// This prevents a race where a concurrent Start() could succeed between
	// checking the running state and setting it to false.
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Restore running state on failure so the server can be stopped again
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// handleLiveness returns 200 if the process is running.
// This is a simple check that the process is alive.
func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 200 if the service is ready to accept connections,
// or 503 if not ready.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}

// handleStatus serves the status document, or 404 when no provider is set.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		slog.Debug("failed to write status document", "error", err)
	}
}
