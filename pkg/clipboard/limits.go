package clipboard

import (
	"fmt"
	"unicode/utf8"
)

const (
	// MaxClipboardSize is the largest clip accepted from or written to the
	// system clipboard (10MB).
	MaxClipboardSize = 10 * 1024 * 1024

	// MaxReasonableSize for normal text content (1MB).
	MaxReasonableSize = 1024 * 1024
)

// ValidateContent checks if clipboard content is within acceptable limits.
func ValidateContent(content []byte) error {
	if len(content) > MaxClipboardSize {
		return fmt.Errorf("%w: %d bytes (max: %d)",
			ErrContentTooLarge, len(content), MaxClipboardSize)
	}

	// Clips are text; binary clipboard data is not replicated.
	if !utf8.Valid(content) {
		return fmt.Errorf("clipboard content contains invalid UTF-8")
	}

	return nil
}
