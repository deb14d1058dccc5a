package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var (
	copyPasted bool

	copyCmd = &cobra.Command{
		Use:   "copy [text]",
		Short: "Add text to the shared clipboard",
		Long: `Submit text to the local agent as if it had been copied on this device.

If text is provided as an argument, it is submitted directly.
If no argument is provided, text is read from stdin.

The clip reaches the other devices only while sync is active. Text equal
to the last submission is ignored.

Examples:
  # Copy text directly
  klipy copy "Hello, World!"

  # Copy command output
  ls -la | klipy copy

  # Report text pasted into klipy rather than copied
  klipy copy --pasted "Hello"`,
		RunE: runCopy,
		Args: cobra.MaximumNArgs(1),
	}
)

func init() {
	copyCmd.Flags().BoolVar(&copyPasted, "pasted", false, "Report the text as pasted input")
}

func runCopy(cmd *cobra.Command, args []string) error {
	content, err := readContent(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}

	var added bool
	if copyPasted {
		added, err = c.Pasted(content)
	} else {
		added, err = c.Copy(content)
	}
	if err != nil {
		return err
	}
	if !added && verbose {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "unchanged or sync inactive; nothing published")
	}
	return nil
}

// readContent returns the single argument, or all of r when there is none.
func readContent(r io.Reader, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read from stdin: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("no content to copy")
	}
	return string(data), nil
}
