// Package model holds the replicated state shared by all of a user's devices:
// the bounded clip history and the device registry. Every mutation enters
// through Model.Apply, which the session hub calls from a single goroutine per
// room, so handlers never run concurrently for the same state.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Clip is one immutable clipboard entry with provenance.
type Clip struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
	OriginUserID   string    `json:"origin_user_id"`
	OriginDeviceID string    `json:"origin_device_id"`
}

// NewClipID returns a time-ordered unique identifier. UUIDv7 embeds a
// millisecond timestamp ahead of its random bits, so ids sort roughly in
// creation order.
func NewClipID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NormalizeText trims surrounding whitespace from clip text.
func NormalizeText(text string) string {
	return strings.TrimSpace(text)
}

// Fingerprint returns a short content hash suitable for logs.
func Fingerprint(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])[:8]
}
