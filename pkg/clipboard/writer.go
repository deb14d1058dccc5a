package clipboard

import (
	"strings"

	"github.com/Bigwills27/Klipy/pkg/model"
)

// Refusal is the reason a clipboard write was declined.
type Refusal int

const (
	RefusalNone Refusal = iota
	RefusalWriteUnsupported
	RefusalAutoWriteDisabled
	RefusalNotFocused
	RefusalNoRecentInteraction
	RefusalApprovalRequired
	RefusalWriteFailed
)

func (r Refusal) String() string {
	switch r {
	case RefusalNone:
		return "none"
	case RefusalWriteUnsupported:
		return "write_unsupported"
	case RefusalAutoWriteDisabled:
		return "auto_write_disabled"
	case RefusalNotFocused:
		return "not_focused"
	case RefusalNoRecentInteraction:
		return "no_recent_interaction"
	case RefusalApprovalRequired:
		return "approval_required"
	case RefusalWriteFailed:
		return "write_failed"
	default:
		return "unknown"
	}
}

// WriteOptions controls the write gates.
type WriteOptions struct {
	RequireApproval bool
	Approved        bool
	// Force skips the auto-write, focus and interaction gates.
	Force bool
}

// WriteResult reports the outcome of WriteToClipboard.
type WriteResult struct {
	Written bool
	Refusal Refusal
	Err     error
}

// SetAutoWrite toggles unforced writes.
func (m *Monitor) SetAutoWrite(enabled bool) {
	m.mu.Lock()
	m.autoWrite = enabled
	m.mu.Unlock()
}

// WriteToClipboard places text on the system clipboard unless a gate refuses
// it. Remote content never silently replaces the clipboard of a user who is
// working elsewhere: an unforced write needs auto-write enabled, focus, and
// an interaction within the interaction window. The written text becomes the
// last seen value so the monitor does not report it back.
func (m *Monitor) WriteToClipboard(text string, opts WriteOptions) WriteResult {
	if refusal := m.gate(opts); refusal != RefusalNone {
		m.stats.refusals.Add(1)
		m.logger.Debug("clipboard write refused", "reason", refusal.String(), "fingerprint", model.Fingerprint(text))
		return WriteResult{Refusal: refusal}
	}

	m.readMu.Lock()
	err := m.cb.Write(text)
	m.readMu.Unlock()

	if err != nil {
		m.stats.refusals.Add(1)
		m.logger.Warn("clipboard write failed", "error", err)
		return WriteResult{Refusal: RefusalWriteFailed, Err: err}
	}

	m.mu.Lock()
	m.lastSeen = strings.TrimSpace(text)
	m.mu.Unlock()

	m.stats.writes.Add(1)
	m.logger.Debug("clipboard written", "fingerprint", model.Fingerprint(text), "len", len(text))
	return WriteResult{Written: true}
}

func (m *Monitor) gate(opts WriteOptions) Refusal {
	if !m.cb.Capabilities().Write {
		return RefusalWriteUnsupported
	}

	m.mu.Lock()
	autoWrite, focused, last := m.autoWrite, m.focused, m.lastInteraction
	m.mu.Unlock()

	if !opts.Force {
		if !autoWrite {
			return RefusalAutoWriteDisabled
		}
		if !focused {
			return RefusalNotFocused
		}
		if last.IsZero() || m.clock.Now().Sub(last) > m.cfg.InteractionWindow {
			return RefusalNoRecentInteraction
		}
	}
	if opts.RequireApproval && !opts.Approved {
		return RefusalApprovalRequired
	}
	return RefusalNone
}
