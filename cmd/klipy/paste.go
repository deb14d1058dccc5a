package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Bigwills27/Klipy/pkg/api"
)

var pasteCmd = &cobra.Command{
	Use:   "paste [clip-id]",
	Short: "Print the newest shared clip, or copy one from history",
	Long: `Without an argument, output the newest clip in the shared history.

With a clip id, write that clip from the history to the local clipboard.
If the agent cannot write it, the clip is printed instead.

This command requires the klipy agent to be running.

Examples:
  # Paste to stdout
  klipy paste

  # Paste to file
  klipy paste > output.txt

  # Put an older clip back on the clipboard
  klipy paste 0190a1b2-7c3d-7e4f-8a9b-0c1d2e3f4a5b`,
	RunE: runPaste,
	Args: cobra.MaximumNArgs(1),
}

func runPaste(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		resp, err := c.CopyClip(args[0])
		if err != nil {
			return err
		}
		return reportCopyClip(cmd.OutOrStdout(), cmd.ErrOrStderr(), resp)
	}

	content, err := c.Paste()
	if err != nil {
		return err
	}

	// No newline added; the clip is printed exactly.
	if _, err := fmt.Fprint(cmd.OutOrStdout(), content); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// reportCopyClip confirms a written clip, or prints its text when the write
// did not happen.
func reportCopyClip(out, errOut io.Writer, resp *api.CopyClipResponse) error {
	if resp.Written {
		_, _ = fmt.Fprintln(errOut, "Written to clipboard.")
		return nil
	}
	switch {
	case resp.Error != "":
		_, _ = fmt.Fprintf(errOut, "clipboard write failed: %s\n", resp.Error)
	case resp.Refusal != "":
		_, _ = fmt.Fprintf(errOut, "write refused (%s)\n", resp.Refusal)
	}
	if _, err := fmt.Fprint(out, resp.Text); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
