package clipboard

import (
	"strings"

	"github.com/Bigwills27/Klipy/pkg/model"
)

// CaptureOutcome is the result of a manual capture attempt.
type CaptureOutcome int

const (
	// CaptureCaptured means the direct read produced new text.
	CaptureCaptured CaptureOutcome = iota
	// CaptureUnchanged means the clipboard held the last seen text.
	CaptureUnchanged
	// CaptureNeedsManualEntry means the read failed or was empty and the
	// user should type or paste the text instead.
	CaptureNeedsManualEntry
)

func (o CaptureOutcome) String() string {
	switch o {
	case CaptureCaptured:
		return "captured"
	case CaptureUnchanged:
		return "unchanged"
	case CaptureNeedsManualEntry:
		return "needs_manual_entry"
	default:
		return "unknown"
	}
}

// CaptureResult is returned by Capture.
type CaptureResult struct {
	Outcome   CaptureOutcome
	Detection Detection
	Err       error
}

// HandlePaste accepts text from a paste event. It reports false when the
// text is empty or was already seen.
func (m *Monitor) HandlePaste(text string) (Detection, bool) {
	return m.submit(text, SourcePaste)
}

// SubmitManual accepts text the user entered by hand.
func (m *Monitor) SubmitManual(text string) (Detection, bool) {
	return m.submit(text, SourceManual)
}

// Capture performs a user-initiated direct read. Reads that fail or return
// nothing ask for manual entry rather than erroring.
func (m *Monitor) Capture() CaptureResult {
	if !m.cb.Capabilities().Read {
		return CaptureResult{Outcome: CaptureNeedsManualEntry, Err: ErrCapabilityUnavailable}
	}

	m.readMu.Lock()
	text, err := m.cb.Read()
	m.readMu.Unlock()
	m.stats.reads.Add(1)

	if err != nil {
		m.logger.Debug("manual capture read failed", "error", err)
		return CaptureResult{Outcome: CaptureNeedsManualEntry, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return CaptureResult{Outcome: CaptureNeedsManualEntry}
	}
	det, ok := m.submit(text, SourceCapture)
	if !ok {
		return CaptureResult{Outcome: CaptureUnchanged}
	}
	return CaptureResult{Outcome: CaptureCaptured, Detection: det}
}

// ReadCurrent reads the clipboard and records the content as seen, without
// comparing it to the last seen value. Callers that catch up after a
// reconnect compare it with the shared history instead.
func (m *Monitor) ReadCurrent() (string, error) {
	if !m.cb.Capabilities().Read {
		return "", ErrCapabilityUnavailable
	}

	m.readMu.Lock()
	text, err := m.cb.Read()
	m.readMu.Unlock()
	m.stats.reads.Add(1)
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text != "" {
		m.mu.Lock()
		m.lastSeen = text
		m.mu.Unlock()
	}
	return text, nil
}

func (m *Monitor) submit(text string, src Source) (Detection, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Detection{}, false
	}

	m.mu.Lock()
	if text == m.lastSeen {
		m.mu.Unlock()
		return Detection{}, false
	}
	m.lastSeen = text
	m.mu.Unlock()

	m.stats.detections.Add(1)
	m.logger.Debug("local clip submitted", "source", src.String(), "fingerprint", model.Fingerprint(text), "len", len(text))
	return Detection{Text: text, Source: src, At: m.clock.Now()}, true
}
