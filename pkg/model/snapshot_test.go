package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRestore(t *testing.T) {
	src, _ := newTestModel()
	register(t, src, "d1", "h1")
	_, _, err := src.Apply(Request{Kind: RequestActivateDevice, DeviceID: "d1"}, "h1")
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		_, _, err := src.Apply(Request{Kind: RequestAddClip, Text: fmt.Sprintf("clip %d", i)}, "h1")
		require.NoError(t, err)
	}

	snap := src.Snapshot()
	assert.Equal(t, SchemaVersion, snap.SchemaVersion)
	require.Len(t, snap.Clips, SnapshotClips)
	assert.Equal(t, "clip 29", snap.Clips[0].Text)
	assert.Equal(t, src.LastActivity(), snap.LastActivity)

	dst, _ := newTestModel()
	require.NoError(t, dst.Restore(snap))

	assert.Equal(t, snap.Clips, dst.Clips())
	d, ok := dst.Device("d1")
	require.True(t, ok)
	assert.True(t, d.IsActive)
	assert.Empty(t, d.SessionHandle, "restored devices have no live session")

	replay := dst.ReplayEvent()
	assert.Equal(t, EventStoreUpdated, replay.Kind)
	assert.True(t, replay.Resync)
	assert.Len(t, replay.Clips, SnapshotClips)
}

func TestRestoreRejectsSchemaVersion(t *testing.T) {
	m, _ := newTestModel()
	err := m.Restore(&Snapshot{SchemaVersion: SchemaVersion + 1})
	assert.True(t, errors.Is(err, ErrSchemaVersion))
	assert.NoError(t, m.Restore(nil))
}
