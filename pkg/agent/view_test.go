package agent

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bigwills27/Klipy/pkg/model"
)

func clip(id, text string) model.Clip {
	return model.Clip{ID: id, Text: text, OriginDeviceID: "device_a"}
}

func TestViewApply(t *testing.T) {
	v := NewView(3)
	v.Reset([]model.Clip{clip("c1", "one")}, []model.Device{{DeviceID: "device_a"}, {DeviceID: "device_b"}})

	c2 := clip("c2", "two")
	v.Apply(model.Event{Kind: model.EventClipAdded, Clip: &c2})
	v.Apply(model.Event{Kind: model.EventClipAdded, Clip: &c2})
	require.Len(t, v.Clips(), 2, "redelivered clip is not added twice")

	latest, ok := v.Latest()
	require.True(t, ok)
	assert.Equal(t, "c2", latest.ID)

	for i := 3; i <= 5; i++ {
		c := clip(fmt.Sprintf("c%d", i), fmt.Sprintf("clip %d", i))
		v.Apply(model.Event{Kind: model.EventClipAdded, Clip: &c})
	}
	clips := v.Clips()
	require.Len(t, clips, 3)
	assert.Equal(t, "c5", clips[0].ID)

	v.Apply(model.Event{Kind: model.EventClipRemoved, ClipID: "c4"})
	assert.Len(t, v.Clips(), 2)

	v.Apply(model.Event{Kind: model.EventDeviceActivated, DeviceID: "device_b"})
	assert.True(t, v.IsActive("device_b"))
	assert.False(t, v.IsActive("device_a"))
	v.Apply(model.Event{Kind: model.EventDeviceDeactivated, DeviceID: "device_b"})
	assert.False(t, v.IsActive("device_b"))

	v.Apply(model.Event{Kind: model.EventDeviceRemoved, DeviceID: "device_a"})
	_, ok = v.Device("device_a")
	assert.False(t, ok)

	v.Apply(model.Event{Kind: model.EventClipsCleared, Count: 2})
	assert.Empty(t, v.Clips())
	_, ok = v.Latest()
	assert.False(t, ok)
}

func TestViewResync(t *testing.T) {
	v := NewView(0)
	v.Reset([]model.Clip{clip("stale", "stale")}, nil)

	// A plain store update only carries a count.
	v.Apply(model.Event{Kind: model.EventStoreUpdated, Count: 1})
	assert.Len(t, v.Clips(), 1)

	v.Apply(model.Event{
		Kind:   model.EventStoreUpdated,
		Resync: true,
		Clips:  []model.Clip{clip("r1", "restored one"), clip("r2", "restored two")},
	})
	clips := v.Clips()
	require.Len(t, clips, 2)
	assert.Equal(t, "r1", clips[0].ID)

	v.Apply(model.Event{Kind: model.EventDevicesUpdated, Devices: []model.Device{{DeviceID: "device_c", IsActive: true}}})
	assert.True(t, v.IsActive("device_c"))
}

func TestViewRecentContains(t *testing.T) {
	v := NewView(0)
	var clips []model.Clip
	for i := 0; i < 8; i++ {
		clips = append(clips, clip(fmt.Sprintf("c%d", i), fmt.Sprintf("text %d", i)))
	}
	v.Reset(clips, nil)

	assert.True(t, v.RecentContains("text 0", model.DedupWindow))
	assert.True(t, v.RecentContains("  text 4\n", model.DedupWindow))
	assert.False(t, v.RecentContains("text 5", model.DedupWindow))
	assert.False(t, v.RecentContains("missing", model.DedupWindow))
}

func TestViewPending(t *testing.T) {
	v := NewView(0)
	for i := 0; i < DefaultMaxPending+5; i++ {
		v.AddPending(PendingClip{Clip: clip(fmt.Sprintf("c%d", i), "x"), Reason: ReasonCopyManually})
	}
	pending := v.PendingClips()
	require.Len(t, pending, DefaultMaxPending)
	assert.Equal(t, fmt.Sprintf("c%d", DefaultMaxPending+4), pending[0].Clip.ID)

	latest := pending[0].Clip.ID
	v.AddPending(PendingClip{Clip: pending[0].Clip, Reason: ReasonAwaitingApproval})
	assert.Len(t, v.PendingClips(), DefaultMaxPending, "same clip replaces its entry")
	p, ok := v.Pending(latest)
	require.True(t, ok)
	assert.Equal(t, ReasonAwaitingApproval, p.Reason)

	v.Apply(model.Event{Kind: model.EventClipRemoved, ClipID: latest})
	_, ok = v.Pending(latest)
	assert.False(t, ok, "removing a clip drops its pending entry")

	assert.False(t, v.RemovePending("nope"))
	v.Apply(model.Event{Kind: model.EventClipsCleared})
	assert.Empty(t, v.PendingClips())
}

func TestViewCache(t *testing.T) {
	v := NewView(0)
	v.Reset([]model.Clip{clip("c1", "one")}, []model.Device{{DeviceID: "device_a", IsActive: true}})

	cache := v.Cache()
	require.Len(t, cache.Clips, 1)

	restored := NewView(0)
	restored.LoadCache(cache)
	assert.Equal(t, v.Clips(), restored.Clips())
	assert.True(t, restored.IsActive("device_a"))
	assert.WithinDuration(t, time.Now(), restored.UpdatedAt(), time.Minute)
}

type memIdentity struct {
	id      string
	saves   int
	loadErr error
}

func (m *memIdentity) DeviceID() (string, error) { return m.id, m.loadErr }

func (m *memIdentity) SetDeviceID(id string) error {
	m.id = id
	m.saves++
	return nil
}

func TestLoadDeviceID(t *testing.T) {
	store := &memIdentity{}

	id, err := LoadDeviceID(store)
	require.NoError(t, err)
	assert.Regexp(t, `^device_[0-9a-f-]{36}$`, id)

	again, err := LoadDeviceID(store)
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, store.saves)

	_, err = LoadDeviceID(&memIdentity{loadErr: errors.New("disk gone")})
	assert.Error(t, err)
}

func TestDefaultDeviceName(t *testing.T) {
	assert.Regexp(t, `^.+ \(\w+/\w+\)$`, DefaultDeviceName())
}
