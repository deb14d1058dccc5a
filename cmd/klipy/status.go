package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Bigwills27/Klipy/pkg/api"
)

var (
	statusJSON bool

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show agent status",
		Long: `Display the current status of the klipy agent.

Shows information about:
- Connection state and reconnection attempts
- Whether sync is active on this device
- Clipboard monitor mode and counters
- History, device and approval queue sizes

Examples:
  # Show status in human-readable format
  klipy status

  # Show status as JSON
  klipy status --json`,
		RunE: runStatus,
		Args: cobra.NoArgs,
	}
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output status as JSON")
}

func runStatus(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	status, err := c.Status()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		return writeJSON(out, status)
	}
	printHumanStatus(out, status, time.Now())
	return nil
}

func writeJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

// printHumanStatus prints status in a human-readable format.
func printHumanStatus(out io.Writer, status *api.StatusResponse, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	conn := status.Connection
	_, _ = fmt.Fprintf(w, "Device ID:\t%s\n", conn.DeviceID)
	if conn.Identity.UserID != "" {
		_, _ = fmt.Fprintf(w, "Account:\t%s\n", accountLabel(conn.Identity.Email, conn.Identity.UserID))
	}
	_, _ = fmt.Fprintf(w, "Version:\t%s\n", status.Version)
	_, _ = fmt.Fprintf(w, "Started:\t%s\n", humanize.RelTime(status.Uptime, now, "ago", "from now"))

	_, _ = fmt.Fprintf(w, "\nConnection:\n")
	_, _ = fmt.Fprintf(w, "  State:\t%s\n", conn.State)
	if !conn.ConnectedAt.IsZero() {
		_, _ = fmt.Fprintf(w, "  Connected:\t%s\n", humanize.RelTime(conn.ConnectedAt, now, "ago", "from now"))
	}
	if conn.Attempt > 0 {
		_, _ = fmt.Fprintf(w, "  Attempt:\t%d of %d\n", conn.Attempt, conn.MaxAttempts)
	}
	if !conn.NextAttempt.IsZero() {
		_, _ = fmt.Fprintf(w, "  Next Attempt:\t%s\n", humanize.RelTime(conn.NextAttempt, now, "ago", "from now"))
	}
	if conn.LastError != "" {
		_, _ = fmt.Fprintf(w, "  Last Error:\t%s\n", conn.LastError)
	}
	_, _ = fmt.Fprintf(w, "  Sync:\t%s\n", onOff(conn.Active))
	_, _ = fmt.Fprintf(w, "  Background:\t%t\n", conn.Background)

	m := status.Monitor
	_, _ = fmt.Fprintf(w, "\nClipboard:\n")
	_, _ = fmt.Fprintf(w, "  Mode:\t%s\n", m.Mode)
	_, _ = fmt.Fprintf(w, "  State:\t%s\n", m.State)
	_, _ = fmt.Fprintf(w, "  Read/Write:\t%t/%t\n", m.Capabilities.Read, m.Capabilities.Write)
	_, _ = fmt.Fprintf(w, "  Reads:\t%s\n", humanize.Comma(int64(m.Stats.Reads)))
	_, _ = fmt.Fprintf(w, "  Detections:\t%s\n", humanize.Comma(int64(m.Stats.Detections)))
	_, _ = fmt.Fprintf(w, "  Writes:\t%s\n", humanize.Comma(int64(m.Stats.Writes)))
	_, _ = fmt.Fprintf(w, "  Refusals:\t%s\n", humanize.Comma(int64(m.Stats.Refusals)))

	_, _ = fmt.Fprintf(w, "\nHistory:\n")
	_, _ = fmt.Fprintf(w, "  Clips:\t%d\n", status.Clips)
	_, _ = fmt.Fprintf(w, "  Devices:\t%d\n", status.Devices)
	_, _ = fmt.Fprintf(w, "  Pending:\t%d\n", status.Pending)
	_, _ = fmt.Fprintf(w, "  Published:\t%d\n", status.Agent.Published)
	_, _ = fmt.Fprintf(w, "  Received:\t%d\n", status.Agent.Received)
}

func accountLabel(email, userID string) string {
	if email == "" {
		return userID
	}
	return fmt.Sprintf("%s (%s)", email, userID)
}

func onOff(b bool) string {
	if b {
		return "active"
	}
	return "inactive"
}
