//go:build linux
// +build linux

package clipboard

import (
	"fmt"
	"os"
	"os/exec"
)

// LinuxClipboard implements clipboard access on Linux using various tools
type LinuxClipboard struct {
	read      clipboardTool
	write     clipboardTool
	cmdConfig *CommandConfig
	// wayland is set when the tools talk to a Wayland compositor. Some
	// compositors only serve clipboard reads to the focused client, so
	// background reads are not reliable there.
	wayland bool
}

type clipboardTool struct {
	name      string
	readArgs  []string
	writeArgs []string
}

// Supported clipboard tools in order of preference
var clipboardTools = []clipboardTool{
	{
		name:      "wl-paste",
		readArgs:  []string{"--no-newline"},
		writeArgs: nil,
	},
	{
		name:      "xsel",
		readArgs:  []string{"--output", "--clipboard"},
		writeArgs: []string{"--input", "--clipboard"},
	},
	{
		name:      "xclip",
		readArgs:  []string{"-out", "-selection", "clipboard"},
		writeArgs: []string{"-in", "-selection", "clipboard"},
	},
}

// newPlatformClipboard returns a Linux clipboard implementation
func newPlatformClipboard() (Clipboard, error) {
	c := &LinuxClipboard{cmdConfig: DefaultCommandConfig()}

	for _, tool := range clipboardTools {
		if _, err := exec.LookPath(tool.name); err != nil {
			continue
		}
		if tool.name == "wl-paste" {
			// wl-paste reads; writing goes through its sibling wl-copy.
			if _, err := exec.LookPath("wl-copy"); err != nil {
				continue
			}
			c.read = tool
			c.write = clipboardTool{name: "wl-copy"}
			c.wayland = true
			break
		}
		c.read = tool
		c.write = tool
		break
	}

	if c.read.name == "" {
		return nil, fmt.Errorf("no clipboard tool found (install xsel, xclip, or wl-clipboard): %w", ErrNotSupported)
	}

	return c, nil
}

// Read returns the current clipboard contents
func (c *LinuxClipboard) Read() (string, error) {
	output, err := RunCommand(c.read.name, c.read.readArgs, c.cmdConfig)
	if err != nil {
		return "", fmt.Errorf("failed to read clipboard with %s: %w", c.read.name, err)
	}
	if err := ValidateContent(output); err != nil {
		return "", err
	}
	return string(output), nil
}

// Write sets the clipboard contents
func (c *LinuxClipboard) Write(content string) error {
	contentBytes := []byte(content)
	if err := ValidateContent(contentBytes); err != nil {
		return err
	}
	if err := RunCommandWithInput(c.write.name, c.write.writeArgs, contentBytes, c.cmdConfig); err != nil {
		return fmt.Errorf("failed to write clipboard with %s: %w", c.write.name, err)
	}
	return nil
}

// Capabilities reports read and write support. Reads are unreliable on
// Wayland sessions unless the compositor exposes the data-control protocol,
// which KLIPY_WAYLAND_DATA_CONTROL=1 asserts.
func (c *LinuxClipboard) Capabilities() Capabilities {
	reliable := !c.wayland || os.Getenv("KLIPY_WAYLAND_DATA_CONTROL") == "1"
	return Capabilities{Read: true, Write: true, ReliableRead: reliable}
}
