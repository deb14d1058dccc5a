package clipboard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFallbackPaths(t *testing.T) {
	t.Run("HandlePasteDedupes", func(t *testing.T) {
		m, _, _ := newTestMonitor(t)
		m.EnterFallback()
		assert.Equal(t, ModeFallback, m.Mode())

		det, ok := m.HandlePaste("  pasted  ")
		require.True(t, ok)
		assert.Equal(t, "pasted", det.Text)
		assert.Equal(t, SourcePaste, det.Source)

		_, ok = m.HandlePaste("pasted")
		assert.False(t, ok)
	})

	t.Run("SubmitManualRejectsEmpty", func(t *testing.T) {
		m, _, _ := newTestMonitor(t)
		_, ok := m.SubmitManual(" \n ")
		assert.False(t, ok)

		det, ok := m.SubmitManual("typed")
		require.True(t, ok)
		assert.Equal(t, SourceManual, det.Source)
	})

	t.Run("CaptureSucceeds", func(t *testing.T) {
		m, cb, _ := newTestMonitor(t)
		cb.EmitChange("on the clipboard")

		res := m.Capture()
		assert.Equal(t, CaptureCaptured, res.Outcome)
		assert.Equal(t, "on the clipboard", res.Detection.Text)
		assert.Equal(t, SourceCapture, res.Detection.Source)

		assert.Equal(t, CaptureUnchanged, m.Capture().Outcome)
	})

	t.Run("CaptureNeedsManualEntry", func(t *testing.T) {
		m, cb, _ := newTestMonitor(t)

		assert.Equal(t, CaptureNeedsManualEntry, m.Capture().Outcome, "empty clipboard")

		denied := errors.New("denied")
		cb.FailReads(denied)
		res := m.Capture()
		assert.Equal(t, CaptureNeedsManualEntry, res.Outcome)
		assert.True(t, errors.Is(res.Err, denied))

		cb.SetCapabilities(Capabilities{})
		res = m.Capture()
		assert.Equal(t, CaptureNeedsManualEntry, res.Outcome)
		assert.True(t, errors.Is(res.Err, ErrCapabilityUnavailable))
	})

	t.Run("SharesLastSeenWithPolling", func(t *testing.T) {
		m, cb, _ := newTestMonitor(t)
		_, ok := m.HandlePaste("shared")
		require.True(t, ok)

		cb.EmitChange("shared")
		assert.Equal(t, CheckUnchanged, m.CheckOnce().Outcome)
	})
}

func TestParseInteraction(t *testing.T) {
	for in, want := range map[string]Interaction{
		"interact": InteractionGeneric,
		"copy":     InteractionCopyShortcut,
		"cut":      InteractionCopyShortcut,
		"select":   InteractionSelection,
	} {
		got, ok := ParseInteraction(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseInteraction("focus")
	assert.False(t, ok)
}
