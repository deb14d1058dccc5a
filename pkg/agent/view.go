package agent

import (
	"sync"
	"time"

	"github.com/Bigwills27/Klipy/pkg/model"
	"github.com/Bigwills27/Klipy/pkg/storage"
)

// Pending clip reasons shown to the user.
const (
	ReasonAwaitingApproval = "awaiting approval"
	ReasonCopyManually     = "copy manually"
)

// DefaultMaxPending bounds the pending list.
const DefaultMaxPending = 20

// PendingClip is a remote clip that could not be written to the local
// clipboard automatically.
type PendingClip struct {
	Clip    model.Clip `json:"clip"`
	Reason  string     `json:"reason"`
	Refusal string     `json:"refusal"`
	At      time.Time  `json:"at"`
}

// View is a device's local replica of its account room. It is rebuilt from
// the welcome on every join and kept current by applying room events in
// order. The supervisor keeps one View across reconnects so history stays
// visible while the device is offline.
type View struct {
	mu         sync.RWMutex
	maxClips   int
	maxPending int
	clips      []model.Clip
	devices    []model.Device
	pending    []PendingClip
	updatedAt  time.Time
}

// NewView creates an empty view holding at most maxClips clips.
func NewView(maxClips int) *View {
	if maxClips <= 0 {
		maxClips = model.DefaultMaxClips
	}
	return &View{maxClips: maxClips, maxPending: DefaultMaxPending}
}

// Reset replaces the clips and devices, as on join.
func (v *View) Reset(clips []model.Clip, devices []model.Device) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clips = v.bounded(clips)
	v.devices = append([]model.Device(nil), devices...)
	v.updatedAt = time.Now()
}

// Apply folds one room event into the view.
func (v *View) Apply(ev model.Event) {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch ev.Kind {
	case model.EventClipAdded:
		if ev.Clip == nil || v.hasClip(ev.Clip.ID) {
			return
		}
		v.clips = v.bounded(append([]model.Clip{*ev.Clip}, v.clips...))

	case model.EventClipRemoved:
		v.clips = removeClip(v.clips, ev.ClipID)
		v.pending = removePending(v.pending, ev.ClipID)

	case model.EventClipsCleared:
		v.clips = nil
		v.pending = nil

	case model.EventStoreUpdated:
		if ev.Resync {
			v.clips = v.bounded(ev.Clips)
		}

	case model.EventDevicesUpdated:
		v.devices = append([]model.Device(nil), ev.Devices...)

	case model.EventDeviceActivated, model.EventDeviceDeactivated:
		for i := range v.devices {
			if v.devices[i].DeviceID == ev.DeviceID {
				v.devices[i].IsActive = ev.Kind == model.EventDeviceActivated
			}
		}

	case model.EventDeviceRemoved:
		out := v.devices[:0]
		for _, d := range v.devices {
			if d.DeviceID != ev.DeviceID {
				out = append(out, d)
			}
		}
		v.devices = out
	}
	v.updatedAt = time.Now()
}

func (v *View) bounded(clips []model.Clip) []model.Clip {
	if len(clips) > v.maxClips {
		clips = clips[:v.maxClips]
	}
	return append([]model.Clip(nil), clips...)
}

func (v *View) hasClip(id string) bool {
	for _, c := range v.clips {
		if c.ID == id {
			return true
		}
	}
	return false
}

func removeClip(clips []model.Clip, id string) []model.Clip {
	out := clips[:0]
	for _, c := range clips {
		if c.ID != id {
			out = append(out, c)
		}
	}
	return out
}

func removePending(pending []PendingClip, id string) []PendingClip {
	out := pending[:0]
	for _, p := range pending {
		if p.Clip.ID != id {
			out = append(out, p)
		}
	}
	return out
}

// Clips returns the history, newest first.
func (v *View) Clips() []model.Clip {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]model.Clip(nil), v.clips...)
}

// Clip returns the history entry with the given id.
func (v *View) Clip(id string) (model.Clip, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, c := range v.clips {
		if c.ID == id {
			return c, true
		}
	}
	return model.Clip{}, false
}

// Latest returns the newest clip.
func (v *View) Latest() (model.Clip, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.clips) == 0 {
		return model.Clip{}, false
	}
	return v.clips[0], true
}

// RecentContains reports whether text matches one of the n newest clips.
func (v *View) RecentContains(text string, n int) bool {
	text = model.NormalizeText(text)
	v.mu.RLock()
	defer v.mu.RUnlock()
	for i := 0; i < n && i < len(v.clips); i++ {
		if v.clips[i].Text == text {
			return true
		}
	}
	return false
}

// Devices returns the known devices.
func (v *View) Devices() []model.Device {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]model.Device(nil), v.devices...)
}

// Device returns one device.
func (v *View) Device(deviceID string) (model.Device, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, d := range v.devices {
		if d.DeviceID == deviceID {
			return d, true
		}
	}
	return model.Device{}, false
}

// IsActive reports whether the device has opted into sync.
func (v *View) IsActive(deviceID string) bool {
	d, ok := v.Device(deviceID)
	return ok && d.IsActive
}

// AddPending records p, replacing an entry for the same clip.
func (v *View) AddPending(p PendingClip) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending = removePending(v.pending, p.Clip.ID)
	v.pending = append([]PendingClip{p}, v.pending...)
	if len(v.pending) > v.maxPending {
		v.pending = v.pending[:v.maxPending]
	}
}

// Pending returns the pending entry for a clip.
func (v *View) Pending(clipID string) (PendingClip, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, p := range v.pending {
		if p.Clip.ID == clipID {
			return p, true
		}
	}
	return PendingClip{}, false
}

// RemovePending drops the entry for a clip.
func (v *View) RemovePending(clipID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := len(v.pending)
	v.pending = removePending(v.pending, clipID)
	return len(v.pending) != n
}

// PendingClips returns the pending list, newest first.
func (v *View) PendingClips() []PendingClip {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return append([]PendingClip(nil), v.pending...)
}

// Cache returns the persisted form of the view.
func (v *View) Cache() storage.ViewCache {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return storage.ViewCache{
		Clips:   append([]model.Clip(nil), v.clips...),
		Devices: append([]model.Device(nil), v.devices...),
		SavedAt: v.updatedAt,
	}
}

// LoadCache seeds the view from a cache written by an earlier run.
func (v *View) LoadCache(c storage.ViewCache) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clips = v.bounded(c.Clips)
	v.devices = append([]model.Device(nil), c.Devices...)
	v.updatedAt = c.SavedAt
}

// UpdatedAt returns when the view last changed.
func (v *View) UpdatedAt() time.Time {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.updatedAt
}
