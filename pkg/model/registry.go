package model

import (
	"sort"
	"time"
)

// Device is a known installation of klipy for a user.
type Device struct {
	DeviceID      string    `json:"device_id"`
	UserID        string    `json:"user_id"`
	DeviceName    string    `json:"device_name"`
	SessionHandle string    `json:"session_handle,omitempty"`
	IsActive      bool      `json:"is_active"`
	JoinedAt      time.Time `json:"joined_at"`
	LastActivity  time.Time `json:"last_activity"`
}

// Registry tracks devices by their stable id, with a secondary index from
// transport session handle to device id.
//
// The index is kept a bijection: a handle maps to exactly one device, and a
// device owns at most one handle. Every index entry refers to an existing
// device.
type Registry struct {
	devices  map[string]*Device
	sessions map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:  make(map[string]*Device),
		sessions: make(map[string]string),
	}
}

// Register upserts a device. A second registration of the same id refreshes
// its name, user, activity time and handle instead of creating a new entry.
func (r *Registry) Register(deviceID, userID, deviceName, handle string, now time.Time) Device {
	d, ok := r.devices[deviceID]
	if !ok {
		d = &Device{
			DeviceID: deviceID,
			JoinedAt: now,
		}
		r.devices[deviceID] = d
	}
	if userID != "" {
		d.UserID = userID
	}
	if deviceName != "" {
		d.DeviceName = deviceName
	}
	d.LastActivity = now
	r.bind(d, handle)
	return *d
}

// bind attaches handle to d, releasing any previous owner of the handle and
// any previous handle of d.
func (r *Registry) bind(d *Device, handle string) {
	if d.SessionHandle != "" && d.SessionHandle != handle {
		delete(r.sessions, d.SessionHandle)
		d.SessionHandle = ""
	}
	if handle == "" {
		return
	}
	if owner, ok := r.sessions[handle]; ok && owner != d.DeviceID {
		if prev, exists := r.devices[owner]; exists {
			prev.SessionHandle = ""
		}
	}
	r.sessions[handle] = d.DeviceID
	d.SessionHandle = handle
}

// Update refreshes the user and name of an existing device.
func (r *Registry) Update(deviceID, userID, deviceName string, now time.Time) (Device, bool) {
	d, ok := r.devices[deviceID]
	if !ok {
		return Device{}, false
	}
	if userID != "" {
		d.UserID = userID
	}
	if deviceName != "" {
		d.DeviceName = deviceName
	}
	d.LastActivity = now
	return *d, true
}

// SetActive flips the activation flag. It reports false when the device is
// unknown.
func (r *Registry) SetActive(deviceID string, active bool, now time.Time) (Device, bool) {
	d, ok := r.devices[deviceID]
	if !ok {
		return Device{}, false
	}
	d.IsActive = active
	d.LastActivity = now
	return *d, true
}

// Touch records activity for a device if it is known.
func (r *Registry) Touch(deviceID string, now time.Time) {
	if d, ok := r.devices[deviceID]; ok {
		d.LastActivity = now
	}
}

// Unregister removes a device by id.
func (r *Registry) Unregister(deviceID string) (Device, bool) {
	d, ok := r.devices[deviceID]
	if !ok {
		return Device{}, false
	}
	if d.SessionHandle != "" {
		delete(r.sessions, d.SessionHandle)
	}
	delete(r.devices, deviceID)
	return *d, true
}

// RemoveSession removes the device bound to a session handle.
func (r *Registry) RemoveSession(handle string) (Device, bool) {
	deviceID, ok := r.sessions[handle]
	if !ok {
		return Device{}, false
	}
	return r.Unregister(deviceID)
}

// Get returns a device by id.
func (r *Registry) Get(deviceID string) (Device, bool) {
	d, ok := r.devices[deviceID]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// DeviceForSession resolves a session handle.
func (r *Registry) DeviceForSession(handle string) (string, bool) {
	id, ok := r.sessions[handle]
	return id, ok
}

// IsActive reports whether a known device is opted into sync.
func (r *Registry) IsActive(deviceID string) bool {
	d, ok := r.devices[deviceID]
	return ok && d.IsActive
}

// Len returns the number of devices.
func (r *Registry) Len() int { return len(r.devices) }

// List returns copies of all devices ordered by join time, then id.
func (r *Registry) List() []Device {
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].DeviceID < out[j].DeviceID
	})
	return out
}

// replace loads restored devices. Session handles from a previous transport
// lifetime are meaningless, so they are dropped.
func (r *Registry) replace(devices []Device) {
	r.devices = make(map[string]*Device, len(devices))
	r.sessions = make(map[string]string)
	for _, d := range devices {
		d := d
		d.SessionHandle = ""
		r.devices[d.DeviceID] = &d
	}
}
