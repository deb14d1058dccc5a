//go:build !darwin && !linux
// +build !darwin,!linux

// This file provides the clipboard for every platform without a dedicated
// command-line backend, Windows included, through github.com/atotto/clipboard.
// When that library cannot reach a clipboard either, the backend still
// constructs but reports no capabilities, and the monitor runs in fallback
// mode.

package clipboard

import (
	"fmt"

	atotto "github.com/atotto/clipboard"
)

// PortableClipboard wraps github.com/atotto/clipboard.
type PortableClipboard struct{}

func newPlatformClipboard() (Clipboard, error) {
	return &PortableClipboard{}, nil
}

// Read returns the clipboard text.
func (c *PortableClipboard) Read() (string, error) {
	if atotto.Unsupported {
		return "", ErrNotSupported
	}
	text, err := atotto.ReadAll()
	if err != nil {
		return "", fmt.Errorf("clipboard read failed: %w", err)
	}
	if err := ValidateContent([]byte(text)); err != nil {
		return "", err
	}
	return text, nil
}

// Write replaces the clipboard text.
func (c *PortableClipboard) Write(content string) error {
	if atotto.Unsupported {
		return ErrNotSupported
	}
	if err := ValidateContent([]byte(content)); err != nil {
		return err
	}
	if err := atotto.WriteAll(content); err != nil {
		return fmt.Errorf("clipboard write failed: %w", err)
	}
	return nil
}

// Capabilities reports what the library found at init.
func (c *PortableClipboard) Capabilities() Capabilities {
	ok := !atotto.Unsupported
	return Capabilities{Read: ok, Write: ok, ReliableRead: ok}
}
