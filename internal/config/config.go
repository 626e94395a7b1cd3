// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

// Package config loads the server configuration from defaults, an optional
// YAML file and command-line flags, in that order of precedence.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/connectly/connectly/internal/xdg"
)

// Environment fallbacks for secrets that should not live in a config file.
const (
	EnvJWTSecret   = "CONNECTLY_JWT_SECRET"
	EnvDatabaseURL = "DATABASE_URL"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// minSecretLen is the shortest accepted HMAC secret.
const minSecretLen = 16

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server" yaml:"server"`
	Auth     AuthConfig     `koanf:"auth" yaml:"auth"`
	Presence PresenceConfig `koanf:"presence" yaml:"presence"`
	Store    StoreConfig    `koanf:"store" yaml:"store"`
	Metrics  MetricsConfig  `koanf:"metrics" yaml:"metrics"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
}

// ServerConfig configures the client-facing HTTP and WebSocket listener.
type ServerConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
	// AllowedOrigins are glob patterns matched against the Origin header.
	// Empty means same-host and loopback origins only.
	AllowedOrigins []string `koanf:"allowed_origins" yaml:"allowed_origins"`
	// Protocol is a semver constraint clients must satisfy when they send a
	// protocol version. Empty disables the check.
	Protocol        string        `koanf:"protocol" yaml:"protocol"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Secret         string        `koanf:"secret" yaml:"secret"`
	Issuer         string        `koanf:"issuer" yaml:"issuer"`
	AllowAnonymous bool          `koanf:"allow_anonymous" yaml:"allow_anonymous"`
	TokenTTL       time.Duration `koanf:"token_ttl" yaml:"token_ttl"`
}

// PresenceConfig configures per-session push behaviour.
type PresenceConfig struct {
	SendQueue        int           `koanf:"send_queue" yaml:"send_queue"`
	WriteTimeout     time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
	PingInterval     time.Duration `koanf:"ping_interval" yaml:"ping_interval"`
	PongTimeout      time.Duration `koanf:"pong_timeout" yaml:"pong_timeout"`
	MaxFrameBytes    int64         `koanf:"max_frame_bytes" yaml:"max_frame_bytes"`
	StrictInvariants bool          `koanf:"strict_invariants" yaml:"strict_invariants"`
}

// StoreConfig selects the message store.
type StoreConfig struct {
	Driver       string `koanf:"driver" yaml:"driver"`
	DSN          string `koanf:"dsn" yaml:"dsn"`
	Path         string `koanf:"path" yaml:"path"`
	HistoryLimit int    `koanf:"history_limit" yaml:"history_limit"`
}

// MetricsConfig configures the observability listener.
type MetricsConfig struct {
	// Addr is the metrics/health listen address; empty disables it.
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":5001",
			AllowedOrigins:  []string{"http://localhost:5173"},
			Protocol:        ">= 1.0.0, < 2.0.0",
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Issuer:         "connectly",
			AllowAnonymous: true,
			TokenTTL:       24 * time.Hour,
		},
		Presence: PresenceConfig{
			SendQueue:     64,
			WriteTimeout:  5 * time.Second,
			PingInterval:  30 * time.Second,
			PongTimeout:   60 * time.Second,
			MaxFrameBytes: 64 << 10,
		},
		Store: StoreConfig{
			Driver:       DriverMemory,
			Path:         filepath.Join(xdg.DataDir(), "messages"),
			HistoryLimit: 50,
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json", Level: "info"},
	}
}

// RegisterFlags adds a flag for every setting except secrets, which come
// from the file or the environment. Flag names are the dotted koanf keys,
// e.g. --server.addr.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("server.addr", d.Server.Addr, "client HTTP/WebSocket listen address")
	fs.StringSlice("server.allowed_origins", d.Server.AllowedOrigins, "allowed Origin glob patterns")
	fs.String("server.protocol", d.Server.Protocol, "semver constraint for client protocol versions (empty = any)")
	fs.Duration("server.shutdown_timeout", d.Server.ShutdownTimeout, "graceful shutdown timeout")
	fs.String("auth.issuer", d.Auth.Issuer, "expected token issuer")
	fs.Bool("auth.allow_anonymous", d.Auth.AllowAnonymous, "accept connections without a token as read-only presence watchers")
	fs.Duration("auth.token_ttl", d.Auth.TokenTTL, "lifetime of tokens issued by the token command")
	fs.Int("presence.send_queue", d.Presence.SendQueue, "per-session send queue length")
	fs.Duration("presence.write_timeout", d.Presence.WriteTimeout, "per-frame write timeout")
	fs.Duration("presence.ping_interval", d.Presence.PingInterval, "keepalive ping interval")
	fs.Duration("presence.pong_timeout", d.Presence.PongTimeout, "close a session after this long without a pong")
	fs.Int64("presence.max_frame_bytes", d.Presence.MaxFrameBytes, "largest accepted client frame")
	fs.Bool("presence.strict_invariants", d.Presence.StrictInvariants, "panic on registry invariant violations")
	fs.String("store.driver", d.Store.Driver, "message store driver (memory, postgres or badger)")
	fs.String("store.path", d.Store.Path, "badger data directory")
	fs.Int("store.history_limit", d.Store.HistoryLimit, "default history page size")
	fs.String("metrics.addr", d.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("log.format", d.Log.Format, "log format (json or text)")
	fs.String("log.level", d.Log.Level, "log level (debug, info, warn, error)")
}

// Load builds the configuration from defaults, the YAML file at path (if not
// empty) and the flags in fs (if not nil). Flags only override the file when
// set explicitly. Load does not validate; commands call Validate when they
// need the full configuration.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
	}
	if fs != nil {
		if err := k.Load(posflag.Provider(fs, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("operation", "load flags").Wrap(err)
		}
	}

	cfg := Default()
	if k.Exists("server.allowed_origins") {
		// Slices decode element-wise into the existing value; start empty.
		cfg.Server.AllowedOrigins = nil
	}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "decode").Wrap(err)
	}

	if cfg.Auth.Secret == "" {
		cfg.Auth.Secret = os.Getenv(EnvJWTSecret)
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = os.Getenv(EnvDatabaseURL)
	}

	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	invalid := func(key string, value any, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).With("value", value).Errorf(format, args...)
	}

	if c.Server.Addr == "" {
		return invalid("server.addr", c.Server.Addr, "server.addr is required")
	}
	if c.Server.Protocol != "" {
		if _, err := semver.NewConstraint(c.Server.Protocol); err != nil {
			return invalid("server.protocol", c.Server.Protocol, "server.protocol is not a semver constraint: %v", err)
		}
	}
	if len(c.Auth.Secret) < minSecretLen {
		return invalid("auth.secret", "<redacted>", "auth.secret must be at least %d bytes (set %s)", minSecretLen, EnvJWTSecret)
	}
	if c.Auth.TokenTTL <= 0 {
		return invalid("auth.token_ttl", c.Auth.TokenTTL, "auth.token_ttl must be positive")
	}
	if c.Presence.SendQueue <= 0 {
		return invalid("presence.send_queue", c.Presence.SendQueue, "presence.send_queue must be positive")
	}
	if c.Presence.WriteTimeout <= 0 {
		return invalid("presence.write_timeout", c.Presence.WriteTimeout, "presence.write_timeout must be positive")
	}
	if c.Presence.PingInterval <= 0 || c.Presence.PongTimeout <= c.Presence.PingInterval {
		return invalid("presence.pong_timeout", c.Presence.PongTimeout, "presence.pong_timeout must exceed a positive presence.ping_interval")
	}
	if c.Presence.MaxFrameBytes <= 0 {
		return invalid("presence.max_frame_bytes", c.Presence.MaxFrameBytes, "presence.max_frame_bytes must be positive")
	}
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Store.DSN == "" {
			return invalid("store.dsn", "", "store.dsn is required for the postgres driver (or set %s)", EnvDatabaseURL)
		}
	case DriverBadger:
		if c.Store.Path == "" {
			return invalid("store.path", "", "store.path is required for the badger driver")
		}
	default:
		return invalid("store.driver", c.Store.Driver, "store.driver must be memory, postgres or badger, got %q", c.Store.Driver)
	}
	if c.Store.HistoryLimit <= 0 || c.Store.HistoryLimit > 500 {
		return invalid("store.history_limit", c.Store.HistoryLimit, "store.history_limit must be between 1 and 500")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", c.Log.Format, "log.format must be 'json' or 'text', got %q", c.Log.Format)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Auth.Secret != "" {
		c.Auth.Secret = "<redacted>"
	}
	if c.Store.DSN != "" {
		c.Store.DSN = "<redacted>"
	}
	return c
}

// YAML renders the redacted configuration.
func (c Config) YAML() ([]byte, error) {
	out, err := yamlv3.Marshal(c.Redacted())
	if err != nil {
		return nil, oops.With("operation", "marshal config").Wrap(err)
	}
	return out, nil
}
