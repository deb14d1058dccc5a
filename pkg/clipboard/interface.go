// Package clipboard provides access to the local system clipboard and the
// monitor that turns clipboard changes into local clip detections.
package clipboard

import (
	"errors"
)

var (
	// ErrNotSupported indicates the platform offers no usable clipboard API.
	ErrNotSupported = errors.New("clipboard: platform not supported")

	// ErrCapabilityUnavailable is returned when an operation needs a
	// capability the backend lacks. It is permanent and never retried.
	ErrCapabilityUnavailable = ErrNotSupported

	// ErrPermissionDenied indicates the OS refused clipboard access in the
	// current context. It is transient and expected.
	ErrPermissionDenied = errors.New("clipboard: permission denied")

	// ErrContentTooLarge indicates content above MaxClipboardSize.
	ErrContentTooLarge = errors.New("clipboard: content too large")
)

// Capabilities describes what a backend can do.
type Capabilities struct {
	Read  bool
	Write bool
	// ReliableRead is false when reads only work right after a user gesture,
	// in which case polling is pointless and the monitor uses the paste
	// fallback instead.
	ReliableRead bool
}

// CanPoll reports whether background polling is worthwhile.
func (c Capabilities) CanPoll() bool {
	return c.Read && c.ReliableRead
}

// Reader reads the clipboard.
type Reader interface {
	Read() (string, error)
}

// Writer writes the clipboard.
type Writer interface {
	Write(content string) error
}

// Clipboard is a platform clipboard backend.
type Clipboard interface {
	Reader
	Writer
	Capabilities() Capabilities
}

// NewPlatformClipboard returns a clipboard implementation for the current platform
func NewPlatformClipboard() (Clipboard, error) {
	return newPlatformClipboard()
}
