package model

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrUnknownRequest indicates a request kind the model does not handle.
	ErrUnknownRequest = errors.New("unknown request kind")

	// ErrSchemaVersion indicates a snapshot written by an incompatible
	// version.
	ErrSchemaVersion = errors.New("unsupported snapshot schema version")
)

// Outcome reasons reported back to publishers.
const (
	ReasonEmpty         = "empty"
	ReasonDuplicate     = "duplicate_suppressed"
	ReasonNotFound      = "not_found"
	ReasonUnknownDevice = "unknown_device"
)

// Config holds model configuration.
type Config struct {
	Clock       clockwork.Clock
	MaxClips    int
	DedupWindow int
}

// Model composes the clip store and device registry. It is the only writer of
// either; callers funnel every mutation through Apply or SessionLeft.
type Model struct {
	mu           sync.Mutex
	clock        clockwork.Clock
	store        *Store
	registry     *Registry
	lastActivity time.Time
	version      uint64
}

// New creates an empty model.
func New(cfg Config) *Model {
	c := cfg.Clock
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &Model{
		clock:    c,
		store:    NewStore(cfg.MaxClips, cfg.DedupWindow),
		registry: NewRegistry(),
	}
}

// Apply executes a request published through the session identified by
// handle and returns the publisher's outcome plus the events to broadcast.
func (m *Model) Apply(req Request, handle string) (Outcome, []Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	var (
		out    Outcome
		events []Event
	)
	switch req.Kind {
	case RequestAddClip:
		out, events = m.addClip(req, handle, now)
	case RequestRemoveClip:
		out, events = m.removeClip(req.ClipID, now)
	case RequestClearClips:
		out, events = m.clearAll(now)
	case RequestRegisterDevice:
		out, events = m.registerDevice(req, handle, now)
	case RequestUpdateDevice:
		out, events = m.updateDevice(req, now)
	case RequestUnregisterDevice:
		out, events = m.unregisterDevice(req.DeviceID, now)
	case RequestActivateDevice:
		out, events = m.setActive(req.DeviceID, true, now)
	case RequestDeactivateDevice:
		out, events = m.setActive(req.DeviceID, false, now)
	default:
		return Outcome{}, nil, fmt.Errorf("%w: %d", ErrUnknownRequest, int(req.Kind))
	}

	if out.Applied {
		m.version++
		m.lastActivity = now
	}
	return out, events, nil
}

// SessionLeft handles a transport leave notification by removing the device
// bound to the session handle.
func (m *Model) SessionLeft(handle string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	d, ok := m.registry.RemoveSession(handle)
	if !ok {
		return nil
	}
	m.version++
	m.lastActivity = now
	return []Event{
		{Kind: EventDeviceRemoved, DeviceID: d.DeviceID, At: now},
		m.devicesUpdated(now),
	}
}

func (m *Model) addClip(req Request, handle string, now time.Time) (Outcome, []Event) {
	deviceID := req.DeviceID
	if bound, ok := m.registry.DeviceForSession(handle); ok {
		deviceID = bound
	}

	res := m.store.Add(Clip{
		ID:             NewClipID(),
		Text:           req.Text,
		CreatedAt:      now,
		OriginUserID:   req.UserID,
		OriginDeviceID: deviceID,
	})
	switch res.Outcome {
	case OutcomeEmpty:
		return Outcome{Reason: ReasonEmpty}, nil
	case OutcomeDuplicateSuppressed:
		return Outcome{Reason: ReasonDuplicate}, nil
	}

	m.registry.Touch(deviceID, now)
	clip := res.Clip
	return Outcome{Applied: true, ClipID: clip.ID}, []Event{
		{Kind: EventClipAdded, Clip: &clip, At: now},
		{Kind: EventStoreUpdated, Count: m.store.Len(), At: now},
	}
}

func (m *Model) removeClip(clipID string, now time.Time) (Outcome, []Event) {
	if _, ok := m.store.Remove(clipID); !ok {
		return Outcome{Reason: ReasonNotFound}, nil
	}
	return Outcome{Applied: true, ClipID: clipID}, []Event{
		{Kind: EventClipRemoved, ClipID: clipID, At: now},
		{Kind: EventStoreUpdated, Count: m.store.Len(), At: now},
	}
}

func (m *Model) clearAll(now time.Time) (Outcome, []Event) {
	n := m.store.Clear()
	return Outcome{Applied: true, Count: n}, []Event{
		{Kind: EventClipsCleared, Count: n, At: now},
		{Kind: EventStoreUpdated, Count: 0, At: now},
	}
}

func (m *Model) registerDevice(req Request, handle string, now time.Time) (Outcome, []Event) {
	d := m.registry.Register(req.DeviceID, req.UserID, req.DeviceName, handle, now)
	return Outcome{Applied: true}, []Event{m.devicesUpdatedWith(d.DeviceID, now)}
}

func (m *Model) updateDevice(req Request, now time.Time) (Outcome, []Event) {
	if _, ok := m.registry.Update(req.DeviceID, req.UserID, req.DeviceName, now); !ok {
		return Outcome{Reason: ReasonUnknownDevice}, nil
	}
	return Outcome{Applied: true}, []Event{m.devicesUpdated(now)}
}

func (m *Model) unregisterDevice(deviceID string, now time.Time) (Outcome, []Event) {
	if _, ok := m.registry.Unregister(deviceID); !ok {
		return Outcome{Reason: ReasonUnknownDevice}, nil
	}
	return Outcome{Applied: true}, []Event{
		{Kind: EventDeviceRemoved, DeviceID: deviceID, At: now},
		m.devicesUpdated(now),
	}
}

func (m *Model) setActive(deviceID string, active bool, now time.Time) (Outcome, []Event) {
	if _, ok := m.registry.SetActive(deviceID, active, now); !ok {
		return Outcome{Reason: ReasonUnknownDevice}, nil
	}
	kind := EventDeviceDeactivated
	if active {
		kind = EventDeviceActivated
	}
	return Outcome{Applied: true}, []Event{
		m.devicesUpdated(now),
		{Kind: kind, DeviceID: deviceID, At: now},
	}
}

func (m *Model) devicesUpdated(now time.Time) Event {
	return Event{Kind: EventDevicesUpdated, Devices: m.registry.List(), At: now}
}

func (m *Model) devicesUpdatedWith(deviceID string, now time.Time) Event {
	ev := m.devicesUpdated(now)
	ev.DeviceID = deviceID
	return ev
}

// Clips returns the history, newest first.
func (m *Model) Clips() []Clip {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.List()
}

// Devices returns the registry contents.
func (m *Model) Devices() []Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.List()
}

// Device returns a single device.
func (m *Model) Device(deviceID string) (Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Get(deviceID)
}

// MaxClips returns the configured history bound.
func (m *Model) MaxClips() int {
	return m.store.MaxClips()
}

// Version increments on every applied mutation. Rooms use it to decide
// whether a snapshot is due.
func (m *Model) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version
}

// LastActivity returns the time of the most recent applied mutation.
func (m *Model) LastActivity() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActivity
}
