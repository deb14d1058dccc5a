//go:build darwin
// +build darwin

// This file implements clipboard access for macOS using the pbcopy and pbpaste commands.
//
// pbpaste and pbcopy talk to NSPasteboard, which is readable from a
// background process without a user gesture, so reads are reliable and the
// monitor can poll.

package clipboard

import (
	"fmt"
)

// DarwinClipboard implements clipboard access on macOS using pbcopy/pbpaste.
type DarwinClipboard struct {
	cmdConfig *CommandConfig
}

// newPlatformClipboard returns a macOS clipboard implementation.
// On macOS, clipboard access is always available through pbcopy/pbpaste,
// so this function never returns an error.
func newPlatformClipboard() (Clipboard, error) {
	return &DarwinClipboard{
		cmdConfig: DefaultCommandConfig(),
	}, nil
}

// Read returns the current clipboard contents using the pbpaste command.
func (c *DarwinClipboard) Read() (string, error) {
	output, err := RunCommand("pbpaste", nil, c.cmdConfig)
	if err != nil {
		return "", fmt.Errorf("clipboard read failed: %w", err)
	}

	if err := ValidateContent(output); err != nil {
		return "", err
	}

	return string(output), nil
}

// Write sets the clipboard contents using the pbcopy command.
func (c *DarwinClipboard) Write(content string) error {
	contentBytes := []byte(content)
	if err := ValidateContent(contentBytes); err != nil {
		return err
	}

	if err := RunCommandWithInput("pbcopy", nil, contentBytes, c.cmdConfig); err != nil {
		return fmt.Errorf("clipboard write failed: %w", err)
	}
	return nil
}

// Capabilities reports full read and write support.
func (c *DarwinClipboard) Capabilities() Capabilities {
	return Capabilities{Read: true, Write: true, ReliableRead: true}
}
