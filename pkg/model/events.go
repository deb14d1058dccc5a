package model

import (
	"fmt"
	"time"
)

// RequestKind identifies a mutation published by a device.
type RequestKind int

const (
	// RequestAddClip appends a clip.
	RequestAddClip RequestKind = iota + 1
	// RequestRemoveClip removes a single clip by id.
	RequestRemoveClip
	// RequestClearClips empties the history.
	RequestClearClips
	// RequestRegisterDevice upserts the publishing device.
	RequestRegisterDevice
	// RequestUpdateDevice refreshes user and name after user info arrives.
	RequestUpdateDevice
	// RequestUnregisterDevice removes a device by id.
	RequestUnregisterDevice
	// RequestActivateDevice opts a device into sync.
	RequestActivateDevice
	// RequestDeactivateDevice opts a device out of sync.
	RequestDeactivateDevice
)

// RequestKinds lists every request kind.
var RequestKinds = []RequestKind{
	RequestAddClip,
	RequestRemoveClip,
	RequestClearClips,
	RequestRegisterDevice,
	RequestUpdateDevice,
	RequestUnregisterDevice,
	RequestActivateDevice,
	RequestDeactivateDevice,
}

var requestNames = map[RequestKind]string{
	RequestAddClip:          "add_clip",
	RequestRemoveClip:       "remove_clip",
	RequestClearClips:       "clear_clips",
	RequestRegisterDevice:   "register_device",
	RequestUpdateDevice:     "update_device",
	RequestUnregisterDevice: "unregister_device",
	RequestActivateDevice:   "activate_device",
	RequestDeactivateDevice: "deactivate_device",
}

// String returns the wire name of the kind.
func (k RequestKind) String() string {
	if name, ok := requestNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the kind by name.
func (k RequestKind) MarshalText() ([]byte, error) {
	name, ok := requestNames[k]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRequest, int(k))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a kind from its name.
func (k *RequestKind) UnmarshalText(text []byte) error {
	for kind, name := range requestNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownRequest, text)
}

// Request is a mutation published by a device. ID makes redelivery
// idempotent.
type Request struct {
	ID         string      `json:"id"`
	Kind       RequestKind `json:"kind"`
	Text       string      `json:"text,omitempty"`
	ClipID     string      `json:"clip_id,omitempty"`
	DeviceID   string      `json:"device_id,omitempty"`
	UserID     string      `json:"user_id,omitempty"`
	DeviceName string      `json:"device_name,omitempty"`
}

// EventKind identifies a notification broadcast by the model.
type EventKind int

const (
	// EventClipAdded carries the new clip.
	EventClipAdded EventKind = iota + 1
	// EventClipRemoved carries the removed clip id.
	EventClipRemoved
	// EventClipsCleared carries the number of removed clips.
	EventClipsCleared
	// EventStoreUpdated follows every history change. It carries the full
	// history only when replayed after a restore.
	EventStoreUpdated
	// EventDevicesUpdated carries the full device list.
	EventDevicesUpdated
	// EventDeviceActivated names the device that opted in.
	EventDeviceActivated
	// EventDeviceDeactivated names the device that opted out.
	EventDeviceDeactivated
	// EventDeviceRemoved names a device that left or was unregistered.
	EventDeviceRemoved
)

var eventNames = map[EventKind]string{
	EventClipAdded:         "clip_added",
	EventClipRemoved:       "clip_removed",
	EventClipsCleared:      "clips_cleared",
	EventStoreUpdated:      "store_updated",
	EventDevicesUpdated:    "devices_updated",
	EventDeviceActivated:   "device_activated",
	EventDeviceDeactivated: "device_deactivated",
	EventDeviceRemoved:     "device_removed",
}

// String returns the wire name of the kind.
func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the kind by name.
func (k EventKind) MarshalText() ([]byte, error) {
	name, ok := eventNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown event kind: %d", int(k))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a kind from its name.
func (k *EventKind) UnmarshalText(text []byte) error {
	for kind, name := range eventNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind: %q", text)
}

// Event is a notification delivered to every member of a room, in the order
// the model produced it.
type Event struct {
	Kind     EventKind `json:"kind"`
	Clip     *Clip     `json:"clip,omitempty"`
	ClipID   string    `json:"clip_id,omitempty"`
	Count    int       `json:"count,omitempty"`
	Clips    []Clip    `json:"clips,omitempty"`
	Devices  []Device  `json:"devices,omitempty"`
	DeviceID string    `json:"device_id,omitempty"`
	Resync   bool      `json:"resync,omitempty"` // Clips replace the receiver's history
	At       time.Time `json:"at"`
}

// Outcome summarizes how the model handled a request. It is returned to the
// publisher only; other devices learn of the change through events.
type Outcome struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason,omitempty"`
	ClipID  string `json:"clip_id,omitempty"`
	Count   int    `json:"count,omitempty"`
}
