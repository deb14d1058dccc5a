package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Read the system clipboard now",
	Long: `Ask the agent to read the clipboard directly, for platforms where it can
only be read right after a user gesture.

If the read fails or returns nothing, the text is taken from stdin instead
and submitted as a copy. On a terminal you are prompted for it.

Examples:
  # Bound to a hotkey
  klipy capture`,
	RunE: runCapture,
	Args: cobra.NoArgs,
}

func runCapture(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	res, err := c.Capture()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !res.NeedsManualEntry {
		switch res.Outcome {
		case "captured":
			_, _ = fmt.Fprintf(out, "Captured %d bytes.\n", res.Length)
		default:
			_, _ = fmt.Fprintln(out, "Clipboard unchanged.")
		}
		return nil
	}

	if res.Error != "" && verbose {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "direct read failed: %s\n", res.Error)
	}

	content, err := promptManualEntry(cmd.InOrStdin(), cmd.ErrOrStderr(), isTerminal(os.Stdin))
	if err != nil {
		return err
	}
	if content == "" {
		return fmt.Errorf("no content to copy")
	}
	if _, err := c.Copy(content); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "Captured %d bytes.\n", len(content))
	return nil
}

// promptManualEntry reads the text the user pastes. A trailing newline from
// the terminal is dropped.
func promptManualEntry(in io.Reader, prompt io.Writer, interactive bool) (string, error) {
	if interactive {
		_, _ = fmt.Fprintln(prompt, "Clipboard could not be read. Paste the text, then press Ctrl-D:")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read from stdin: %w", err)
	}
	content := string(data)
	if interactive {
		content = strings.TrimSuffix(content, "\n")
	}
	return content, nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
