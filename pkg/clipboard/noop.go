package clipboard

import (
	"sync"
)

// NoopClipboard is a clipboard implementation that doesn't interact with
// any actual clipboard. It's useful for headless hosts where clips arrive
// only through the local API.
//
// Reads return whatever was last written. It does not claim reliable reads,
// so the monitor runs it in fallback mode rather than polling memory.
type NoopClipboard struct {
	mu      sync.RWMutex
	content string
}

// NewNoopClipboard creates a new no-op clipboard implementation.
func NewNoopClipboard() *NoopClipboard {
	return &NoopClipboard{}
}

// Read returns the current clipboard content.
func (c *NoopClipboard) Read() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.content, nil
}

// Write sets the clipboard content.
func (c *NoopClipboard) Write(content string) error {
	if err := ValidateContent([]byte(content)); err != nil {
		return err
	}
	c.mu.Lock()
	c.content = content
	c.mu.Unlock()
	return nil
}

// Capabilities reports in-memory read and write.
func (c *NoopClipboard) Capabilities() Capabilities {
	return Capabilities{Read: true, Write: true}
}
