package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bigwills27/Klipy/pkg/agent"
	"github.com/Bigwills27/Klipy/pkg/api"
	"github.com/Bigwills27/Klipy/pkg/model"
	"github.com/Bigwills27/Klipy/pkg/session"
	"github.com/Bigwills27/Klipy/pkg/supervisor"
)

func TestReadContent(t *testing.T) {
	got, err := readContent(strings.NewReader("ignored"), []string{"from arg"})
	require.NoError(t, err)
	assert.Equal(t, "from arg", got)

	got, err = readContent(strings.NewReader("line one\nline two\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two\n", got)

	_, err = readContent(strings.NewReader(""), nil)
	assert.EqualError(t, err, "no content to copy")
}

func TestPreview(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		width int
		want  string
	}{
		{name: "short", text: "hello", width: 10, want: "hello"},
		{name: "flattens whitespace", text: "a\n\tb  c", width: 10, want: "a b c"},
		{name: "truncates", text: "abcdefghij", width: 5, want: "abcd…"},
		{name: "counts runes", text: "héllo wörld", width: 5, want: "héll…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, preview(tt.text, tt.width))
		})
	}
}

func TestPrintClips(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	printClips(&buf, nil, now)
	assert.Equal(t, "No clips.\n", buf.String())

	buf.Reset()
	printClips(&buf, []model.Clip{
		{ID: "c2", Text: "second\nclip", CreatedAt: now.Add(-time.Minute), OriginDeviceID: "d_laptop"},
		{ID: "c1", Text: "first", CreatedAt: now.Add(-time.Hour), OriginDeviceID: "d_phone"},
	}, now)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "c2")
	assert.Contains(t, lines[1], "second clip")
	assert.Contains(t, lines[1], "1 minute ago")
	assert.Contains(t, lines[2], "d_phone")
	assert.Contains(t, lines[2], "1 hour ago")
}

func TestFilterClips(t *testing.T) {
	clips := []model.Clip{
		{ID: "c3", Text: "export API_KEY=abc"},
		{ID: "c2", Text: "grocery list"},
		{ID: "c1", Text: "the api docs"},
	}

	assert.Len(t, filterClips(clips, ""), 3)

	got := filterClips(clips, "api")
	require.Len(t, got, 2)
	assert.Equal(t, "c3", got[0].ID, "order is kept")
	assert.Equal(t, "c1", got[1].ID)

	assert.Empty(t, filterClips(clips, "nothing like this"))
}

func TestReportCopyClip(t *testing.T) {
	var out, errOut bytes.Buffer
	require.NoError(t, reportCopyClip(&out, &errOut, &api.CopyClipResponse{WriteResponse: api.WriteResponse{Written: true}}))
	assert.Empty(t, out.String())
	assert.Equal(t, "Written to clipboard.\n", errOut.String())

	out.Reset()
	errOut.Reset()
	require.NoError(t, reportCopyClip(&out, &errOut, &api.CopyClipResponse{
		WriteResponse: api.WriteResponse{Error: "xclip exited"},
		Text:          "older clip",
	}))
	assert.Equal(t, "older clip", out.String(), "falls back to printing")
	assert.Contains(t, errOut.String(), "xclip exited")

	out.Reset()
	errOut.Reset()
	require.NoError(t, reportCopyClip(&out, &errOut, &api.CopyClipResponse{
		WriteResponse: api.WriteResponse{Refusal: "not_focused"},
		Text:          "older clip",
	}))
	assert.Equal(t, "older clip", out.String())
	assert.Contains(t, errOut.String(), "not_focused")
}

func TestPrintDevices(t *testing.T) {
	now := time.Now()
	var buf bytes.Buffer
	printDevices(&buf, []model.Device{
		{DeviceID: "d1", DeviceName: "laptop", IsActive: true, LastActivity: now},
		{DeviceID: "d2", DeviceName: "phone", LastActivity: now},
	}, now)

	out := buf.String()
	assert.Contains(t, out, "laptop")
	assert.Contains(t, out, "active")
	assert.Contains(t, out, "inactive")
}

func TestPrintPending(t *testing.T) {
	now := time.Now()
	var buf bytes.Buffer
	printPending(&buf, []agent.PendingClip{{
		Clip:    model.Clip{ID: "c9", Text: "queued text", OriginDeviceID: "d2"},
		Reason:  "refused",
		Refusal: "not_focused",
		At:      now,
	}}, now)

	out := buf.String()
	assert.Contains(t, out, "c9")
	assert.Contains(t, out, "refused (not_focused)")
	assert.Contains(t, out, "queued text")

	buf.Reset()
	printPending(&buf, nil, now)
	assert.Equal(t, "Nothing pending.\n", buf.String())
}

func TestPrintHumanStatus(t *testing.T) {
	now := time.Now()
	status := &api.StatusResponse{
		Version: "1.2.3",
		Uptime:  now.Add(-2 * time.Hour),
		Connection: supervisor.Status{
			State:       supervisor.StateConnected,
			DeviceID:    "d_laptop",
			Identity:    session.Identity{UserID: "u_ada", Email: "ada@example.com"},
			Active:      true,
			ConnectedAt: now.Add(-time.Minute),
		},
		Monitor: api.MonitorStatus{Mode: "polling", State: "polling_focused"},
		Clips:   4,
		Pending: 1,
	}

	var buf bytes.Buffer
	printHumanStatus(&buf, status, now)
	out := buf.String()

	assert.Contains(t, out, "d_laptop")
	assert.Contains(t, out, "ada@example.com (u_ada)")
	assert.Contains(t, out, "connected")
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "polling_focused")
	assert.NotContains(t, out, "Last Error")
	assert.NotContains(t, out, "Attempt:")
}

func TestReportWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, reportWrite(&buf, &api.WriteResponse{Written: true}))
	assert.Equal(t, "Written to clipboard.\n", buf.String())

	err := reportWrite(&buf, &api.WriteResponse{Refusal: "not_focused"})
	assert.EqualError(t, err, "write refused (not_focused); clip is still pending")

	err = reportWrite(&buf, &api.WriteResponse{Error: "xclip exited"})
	assert.EqualError(t, err, "clipboard write failed: xclip exited")
}

func TestPromptManualEntry(t *testing.T) {
	var prompt bytes.Buffer
	got, err := promptManualEntry(strings.NewReader("typed\n"), &prompt, true)
	require.NoError(t, err)
	assert.Equal(t, "typed", got)
	assert.Contains(t, prompt.String(), "Ctrl-D")

	prompt.Reset()
	got, err = promptManualEntry(strings.NewReader("piped\n"), &prompt, false)
	require.NoError(t, err)
	assert.Equal(t, "piped\n", got)
	assert.Empty(t, prompt.String())
}
