package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestModel() (*Model, *clockwork.FakeClock) {
	c := clockwork.NewFakeClockAt(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC))
	return New(Config{Clock: c}), c
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func register(t *testing.T, m *Model, deviceID, handle string) {
	t.Helper()
	out, _, err := m.Apply(Request{Kind: RequestRegisterDevice, DeviceID: deviceID, UserID: "u1", DeviceName: deviceID}, handle)
	require.NoError(t, err)
	require.True(t, out.Applied)
}

func TestModelAddClip(t *testing.T) {
	t.Run("EmitsAddedThenUpdated", func(t *testing.T) {
		m, c := newTestModel()
		register(t, m, "d1", "h1")
		c.Advance(time.Second)

		out, events, err := m.Apply(Request{Kind: RequestAddClip, Text: " hello ", UserID: "u1"}, "h1")
		require.NoError(t, err)
		assert.True(t, out.Applied)
		assert.NotEmpty(t, out.ClipID)
		assert.Equal(t, []EventKind{EventClipAdded, EventStoreUpdated}, kinds(events))

		clip := events[0].Clip
		require.NotNil(t, clip)
		assert.Equal(t, "hello", clip.Text)
		assert.Equal(t, "d1", clip.OriginDeviceID, "origin resolved from session handle")
		assert.Equal(t, c.Now(), clip.CreatedAt)
		assert.Equal(t, 1, events[1].Count)

		d, ok := m.Device("d1")
		require.True(t, ok)
		assert.Equal(t, c.Now(), d.LastActivity)
	})

	t.Run("DuplicateOfLatest", func(t *testing.T) {
		m, _ := newTestModel()
		_, _, err := m.Apply(Request{Kind: RequestAddClip, Text: "hello"}, "h1")
		require.NoError(t, err)

		out, events, err := m.Apply(Request{Kind: RequestAddClip, Text: "hello"}, "h1")
		require.NoError(t, err)
		assert.False(t, out.Applied)
		assert.Equal(t, ReasonDuplicate, out.Reason)
		assert.Empty(t, events)

		clips := m.Clips()
		require.Len(t, clips, 1)
		assert.Equal(t, "hello", clips[0].Text)
	})

	t.Run("Empty", func(t *testing.T) {
		m, _ := newTestModel()
		out, events, err := m.Apply(Request{Kind: RequestAddClip, Text: "  "}, "")
		require.NoError(t, err)
		assert.Equal(t, ReasonEmpty, out.Reason)
		assert.Empty(t, events)
		assert.Equal(t, uint64(0), m.Version())
	})
}

func TestModelRemoveAndClear(t *testing.T) {
	m, _ := newTestModel()
	out, _, _ := m.Apply(Request{Kind: RequestAddClip, Text: "one"}, "")
	m.Apply(Request{Kind: RequestAddClip, Text: "two"}, "")

	removed, events, err := m.Apply(Request{Kind: RequestRemoveClip, ClipID: out.ClipID}, "")
	require.NoError(t, err)
	assert.True(t, removed.Applied)
	assert.Equal(t, []EventKind{EventClipRemoved, EventStoreUpdated}, kinds(events))
	assert.Equal(t, out.ClipID, events[0].ClipID)

	missing, events, err := m.Apply(Request{Kind: RequestRemoveClip, ClipID: out.ClipID}, "")
	require.NoError(t, err)
	assert.Equal(t, ReasonNotFound, missing.Reason)
	assert.Empty(t, events)

	cleared, events, err := m.Apply(Request{Kind: RequestClearClips}, "")
	require.NoError(t, err)
	assert.Equal(t, 1, cleared.Count)
	assert.Equal(t, []EventKind{EventClipsCleared, EventStoreUpdated}, kinds(events))
	assert.Empty(t, m.Clips())
}

func TestModelActivationRoundTrip(t *testing.T) {
	m, _ := newTestModel()
	register(t, m, "d1", "h1")
	before, _ := m.Device("d1")

	_, events, err := m.Apply(Request{Kind: RequestActivateDevice, DeviceID: "d1"}, "h1")
	require.NoError(t, err)
	assert.Equal(t, []EventKind{EventDevicesUpdated, EventDeviceActivated}, kinds(events))
	assert.Equal(t, "d1", events[1].DeviceID)

	_, events, err = m.Apply(Request{Kind: RequestDeactivateDevice, DeviceID: "d1"}, "h1")
	require.NoError(t, err)
	assert.Equal(t, []EventKind{EventDevicesUpdated, EventDeviceDeactivated}, kinds(events))

	after, _ := m.Device("d1")
	assert.False(t, after.IsActive)
	before.LastActivity = after.LastActivity
	assert.Equal(t, before, after)

	out, _, err := m.Apply(Request{Kind: RequestActivateDevice, DeviceID: "ghost"}, "")
	require.NoError(t, err)
	assert.Equal(t, ReasonUnknownDevice, out.Reason)
}

func TestModelSessionLeaveDropsDevice(t *testing.T) {
	m, _ := newTestModel()
	register(t, m, "d1", "h1")
	register(t, m, "d2", "h2")
	_, _, err := m.Apply(Request{Kind: RequestActivateDevice, DeviceID: "d1"}, "h1")
	require.NoError(t, err)

	events := m.SessionLeft("h1")
	require.Equal(t, []EventKind{EventDeviceRemoved, EventDevicesUpdated}, kinds(events))
	assert.Equal(t, "d1", events[0].DeviceID)
	for _, d := range events[1].Devices {
		assert.NotEqual(t, "d1", d.DeviceID)
	}

	_, ok := m.Device("d1")
	assert.False(t, ok)
	assert.Len(t, m.Devices(), 1)

	assert.Empty(t, m.SessionLeft("h1"), "second leave is a no-op")
}

func TestModelUpdateAndUnregister(t *testing.T) {
	m, _ := newTestModel()
	register(t, m, "d1", "h1")

	out, events, err := m.Apply(Request{Kind: RequestUpdateDevice, DeviceID: "d1", UserID: "u2", DeviceName: "desk"}, "h1")
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, []EventKind{EventDevicesUpdated}, kinds(events))
	d, _ := m.Device("d1")
	assert.Equal(t, "u2", d.UserID)
	assert.Equal(t, "desk", d.DeviceName)

	out, events, err = m.Apply(Request{Kind: RequestUnregisterDevice, DeviceID: "d1"}, "h1")
	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, []EventKind{EventDeviceRemoved, EventDevicesUpdated}, kinds(events))
	assert.Empty(t, m.Devices())
}

func TestModelDispatchIsExhaustive(t *testing.T) {
	m, _ := newTestModel()
	for _, kind := range RequestKinds {
		_, _, err := m.Apply(Request{Kind: kind, DeviceID: "d1"}, "h1")
		assert.NoError(t, err, "kind %s", kind)
	}

	_, _, err := m.Apply(Request{Kind: RequestKind(99)}, "")
	assert.True(t, errors.Is(err, ErrUnknownRequest))
}

func TestRequestKindText(t *testing.T) {
	for _, kind := range RequestKinds {
		data, err := json.Marshal(Request{Kind: kind})
		require.NoError(t, err)

		var decoded Request
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, kind, decoded.Kind)
	}

	var k RequestKind
	assert.Error(t, k.UnmarshalText([]byte("bogus")))
}
