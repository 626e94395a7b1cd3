// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"

	"github.com/connectly/connectly/internal/presence"
	"github.com/connectly/connectly/internal/store"
)

// watchConfig holds configuration for the watch command.
type watchConfig struct {
	url        string
	token      string
	maxRetries uint64
	backoff    time.Duration
	maxBackoff time.Duration
}

// NewWatchCmd creates the watch subcommand.
func NewWatchCmd() *cobra.Command {
	cfg := &watchConfig{}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow presence and messages from a running server",
		Long: `Connect to a Connectly gateway and print every presence snapshot and
live message the session receives. Without --token the session is anonymous
and only sees presence. Reconnects with exponential backoff.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runWatch(ctx, cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&cfg.url, "url", "ws://localhost:5001/ws", "gateway WebSocket URL")
	cmd.Flags().StringVar(&cfg.token, "token", "", "bearer token (empty = anonymous)")
	cmd.Flags().Uint64Var(&cfg.maxRetries, "max-retries", 10, "reconnect attempts before giving up")
	cmd.Flags().DurationVar(&cfg.backoff, "backoff", 500*time.Millisecond, "initial reconnect delay")
	cmd.Flags().DurationVar(&cfg.maxBackoff, "max-backoff", 30*time.Second, "maximum reconnect delay")

	return cmd
}

// runWatch follows the gateway until ctx ends or reconnects are exhausted.
func runWatch(ctx context.Context, cfg *watchConfig, out io.Writer) error {
	backoff := retry.NewExponential(cfg.backoff)
	backoff = retry.WithCappedDuration(cfg.maxBackoff, backoff)
	backoff = retry.WithMaxRetries(cfg.maxRetries, backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := watchOnce(ctx, cfg, out)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		_, _ = fmt.Fprintf(out, "disconnected: %v\n", err)
		return retry.RetryableError(err)
	})
	if err != nil && ctx.Err() == nil {
		return oops.Code("WATCH_FAILED").With("url", cfg.url).Wrap(err)
	}
	return nil
}

// watchOnce runs one connection and returns when it drops.
func watchOnce(ctx context.Context, cfg *watchConfig, out io.Writer) error {
	header := http.Header{}
	if cfg.token != "" {
		header.Set("Authorization", "Bearer "+cfg.token)
	}

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, cfg.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return oops.With("status", resp.StatusCode).Wrap(err)
		}
		return err
	}
	defer func() { _ = ws.Close() }()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = ws.Close()
		case <-done:
		}
	}()

	_, _ = fmt.Fprintf(out, "connected to %s\n", cfg.url)
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		var ev presence.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			_, _ = fmt.Fprintf(out, "unreadable event: %v\n", err)
			continue
		}
		_, _ = fmt.Fprintln(out, formatEvent(ev))
	}
}

// formatEvent renders one server event as a single line.
func formatEvent(ev presence.Event) string {
	at := ev.At.Local().Format(time.TimeOnly)
	switch ev.Type {
	case presence.EventPresence:
		names := make([]string, len(ev.Online))
		for i, u := range ev.Online {
			names[i] = string(u)
		}
		if len(names) == 0 {
			return fmt.Sprintf("%s online: (nobody)", at)
		}
		return fmt.Sprintf("%s online: %s", at, strings.Join(names, ", "))
	case presence.EventMessage:
		var msg store.Message
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			return fmt.Sprintf("%s message from %s: %s", at, ev.From, string(ev.Payload))
		}
		text := msg.Text
		if msg.Image != "" {
			text = strings.TrimSpace(text + " [image]")
		}
		return fmt.Sprintf("%s %s: %s", at, ev.From, text)
	case presence.EventError:
		return fmt.Sprintf("%s error: %s", at, ev.Error)
	default:
		return fmt.Sprintf("%s %s %s", at, ev.Type, string(ev.Payload))
	}
}
