package model

import (
	"context"
	"fmt"
	"time"
)

const (
	// SchemaVersion is the snapshot format written by this build.
	SchemaVersion = 1

	// SnapshotClips is how many of the newest clips a snapshot keeps.
	SnapshotClips = 20
)

// Snapshot is the persisted form of a model.
type Snapshot struct {
	SchemaVersion int       `json:"schema_version"`
	Clips         []Clip    `json:"clips"`
	Devices       []Device  `json:"devices"`
	LastActivity  time.Time `json:"last_activity"`
}

// SnapshotStore persists snapshots keyed by room name. Load returns nil and no
// error when nothing has been saved yet.
type SnapshotStore interface {
	Load(ctx context.Context, room string) (*Snapshot, error)
	Save(ctx context.Context, room string, snap *Snapshot) error
}

// Snapshot captures the newest clips and every device.
func (m *Model) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	return &Snapshot{
		SchemaVersion: SchemaVersion,
		Clips:         m.store.Recent(SnapshotClips),
		Devices:       m.registry.List(),
		LastActivity:  m.lastActivity,
	}
}

// Restore replaces the model state with a snapshot.
func (m *Model) Restore(snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	if snap.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: %d", ErrSchemaVersion, snap.SchemaVersion)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.store.replace(snap.Clips)
	m.registry.replace(snap.Devices)
	m.lastActivity = snap.LastActivity
	return nil
}

// ReplayEvent returns the store-updated notification sent after a restore. It
// carries the full history so that views built before the restore converge.
func (m *Model) ReplayEvent() Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	clips := m.store.List()
	return Event{
		Kind:   EventStoreUpdated,
		Count:  len(clips),
		Clips:  clips,
		Resync: true,
		At:     m.clock.Now(),
	}
}
