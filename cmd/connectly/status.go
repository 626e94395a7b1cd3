// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Connectly Contributors

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/connectly/connectly/internal/observability"
)

// ServerStatus holds what `connectly status` learned about a running server.
type ServerStatus struct {
	Addr          string `json:"addr"`
	Running       bool   `json:"running"`
	Ready         bool   `json:"ready"`
	Version       string `json:"version,omitempty"`
	OnlineUsers   int    `json:"online_users"`
	LiveSessions  int    `json:"live_sessions"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	Error         string `json:"error,omitempty"`
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running Connectly server",
		Long: `Query the observability server at metrics.addr for readiness, the
number of online users and live sessions, and uptime.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Metrics.Addr == "" {
				return oops.Code("CONFIG_INVALID").
					With("key", "metrics.addr").
					Errorf("metrics.addr is empty; the observability server is disabled")
			}

			client := &http.Client{Timeout: 2 * time.Second}
			status := queryStatus(client, cfg.Metrics.Addr)

			if jsonOutput {
				out, err := formatStatusJSON(status)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), formatStatusTable(status))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output status as JSON")
	return cmd
}

// queryStatus reads the readiness probe and status document from addr.
// Failures are reported in the returned status rather than as errors.
func queryStatus(client *http.Client, addr string) ServerStatus {
	status := ServerStatus{Addr: addr}
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	readyResp, err := client.Get(base + "/healthz/readiness")
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	_ = readyResp.Body.Close()
	status.Running = true
	status.Ready = readyResp.StatusCode == http.StatusOK

	statusResp, err := client.Get(base + "/status")
	if err != nil {
		status.Error = fmt.Sprintf("failed to read status: %v", err)
		return status
	}
	defer func() { _ = statusResp.Body.Close() }()
	if statusResp.StatusCode != http.StatusOK {
		status.Error = fmt.Sprintf("status endpoint returned %d", statusResp.StatusCode)
		return status
	}

	var doc observability.Status
	if err := json.NewDecoder(statusResp.Body).Decode(&doc); err != nil {
		status.Error = fmt.Sprintf("failed to decode status: %v", err)
		return status
	}
	status.Version = doc.Version
	status.OnlineUsers = doc.OnlineUsers
	status.LiveSessions = doc.LiveSessions
	status.UptimeSeconds = doc.UptimeSeconds
	return status
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status ServerStatus) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "ADDR\tSTATUS\tREADY\tONLINE\tSESSIONS\tUPTIME")
	_, _ = fmt.Fprintln(w, "----\t------\t-----\t------\t--------\t------")

	if status.Running {
		ready := "no"
		if status.Ready {
			ready = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\trunning\t%s\t%d\t%d\t%s\n",
			status.Addr, ready, status.OnlineUsers, status.LiveSessions, formatUptime(status.UptimeSeconds))
	} else {
		reason := "not running"
		if status.Error != "" {
			reason = status.Error
		}
		_, _ = fmt.Fprintf(w, "%s\tstopped\t-\t-\t-\t%s\n", status.Addr, reason)
	}

	_ = w.Flush()
	return string(buf)
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(status ServerStatus) (string, error) {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return "", oops.With("operation", "marshal status").Wrap(err)
	}
	return string(data), nil
}

// formatUptime formats seconds into a human-readable duration.
func formatUptime(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	if seconds < 3600 {
		return fmt.Sprintf("%dm %ds", seconds/60, seconds%60)
	}
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	return fmt.Sprintf("%dh %dm", hours, minutes)
}

// byteWriter is a simple writer that appends to a byte slice.
type byteWriter []byte

func (w *byteWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
