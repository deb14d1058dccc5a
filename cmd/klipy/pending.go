package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Bigwills27/Klipy/pkg/agent"
	"github.com/Bigwills27/Klipy/pkg/api"
)

var (
	pendingJSON bool

	pendingCmd = &cobra.Command{
		Use:   "pending",
		Short: "List clips waiting for approval",
		Long: `List clips from other devices that were not written to this device's
clipboard, with the reason they are waiting.

Approve one with "klipy approve <id>", write it regardless of focus with
"klipy force <id>", or drop it with "klipy dismiss <id>".`,
		RunE: runPending,
		Args: cobra.NoArgs,
	}

	approveCmd = &cobra.Command{
		Use:   "approve <clip-id>",
		Short: "Write a pending clip to the clipboard",
		RunE:  runApprove,
		Args:  cobra.ExactArgs(1),
	}

	forceCmd = &cobra.Command{
		Use:   "force <clip-id>",
		Short: "Write a pending clip even without focus",
		RunE:  runForce,
		Args:  cobra.ExactArgs(1),
	}

	dismissCmd = &cobra.Command{
		Use:   "dismiss <clip-id>",
		Short: "Drop a pending clip",
		RunE:  runDismiss,
		Args:  cobra.ExactArgs(1),
	}
)

func init() {
	pendingCmd.Flags().BoolVar(&pendingJSON, "json", false, "Output as JSON")
}

func runPending(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	pending, err := c.Pending()
	if err != nil {
		return err
	}
	if pendingJSON {
		return writeJSON(cmd.OutOrStdout(), pending)
	}
	printPending(cmd.OutOrStdout(), pending, time.Now())
	return nil
}

func printPending(out io.Writer, pending []agent.PendingClip, now time.Time) {
	if len(pending) == 0 {
		_, _ = fmt.Fprintln(out, "Nothing pending.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tFROM\tQUEUED\tREASON\tTEXT")
	for _, p := range pending {
		reason := p.Reason
		if p.Refusal != "" {
			reason += " (" + p.Refusal + ")"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.Clip.ID,
			p.Clip.OriginDeviceID,
			humanize.RelTime(p.At, now, "ago", "from now"),
			reason,
			preview(p.Clip.Text, previewWidth),
		)
	}
}

func runApprove(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	resp, err := c.Approve(args[0])
	if err != nil {
		return err
	}
	return reportWrite(cmd.OutOrStdout(), resp)
}

func runForce(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	resp, err := c.Force(args[0])
	if err != nil {
		return err
	}
	return reportWrite(cmd.OutOrStdout(), resp)
}

func runDismiss(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	return c.Dismiss(args[0])
}

// reportWrite turns a refused or failed write into an error. The clip stays
// pending in both cases.
func reportWrite(out io.Writer, resp *api.WriteResponse) error {
	switch {
	case resp.Written:
		_, _ = fmt.Fprintln(out, "Written to clipboard.")
		return nil
	case resp.Error != "":
		return fmt.Errorf("clipboard write failed: %s", resp.Error)
	case resp.Refusal != "":
		return fmt.Errorf("write refused (%s); clip is still pending", resp.Refusal)
	default:
		return fmt.Errorf("clip was not written")
	}
}
