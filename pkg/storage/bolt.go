// Package storage persists klipy state: room snapshots for the hub, and the
// small per-installation state file each device keeps.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Bigwills27/Klipy/pkg/model"
)

var (
	bucketSnapshots = []byte("snapshots")
	bucketState     = []byte("state")

	keyDeviceID    = []byte("device_id")
	keyCredentials = []byte("credentials")
	keyView        = []byte("view")
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("storage: closed")

// Credentials are the cached login of a device.
type Credentials struct {
	APIKey string `json:"api_key"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// ViewCache is the last known shared state, kept so a device that cannot
// reach the hub still shows its history.
type ViewCache struct {
	Clips   []model.Clip   `json:"clips"`
	Devices []model.Device `json:"devices"`
	SavedAt time.Time      `json:"saved_at"`
}

// Bolt is a bbolt-backed store. A hub uses it as its snapshot store; a
// device uses it as its local state file.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSnapshots, bucketState} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize buckets: %w", err)
	}
	return &Bolt{db: db}, nil
}

// Close releases the database file lock.
func (b *Bolt) Close() error {
	return b.db.Close()
}

// Path returns the database file.
func (b *Bolt) Path() string {
	return b.db.Path()
}

// Load returns the snapshot of a room, or nil when none was saved.
func (b *Bolt) Load(ctx context.Context, room string) (*model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var snap *model.Snapshot
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSnapshots).Get([]byte(room))
		if data == nil {
			return nil
		}
		snap = &model.Snapshot{}
		return json.Unmarshal(data, snap)
	})
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", room, err)
	}
	return snap, nil
}

// Save writes the snapshot of a room.
func (b *Bolt) Save(ctx context.Context, room string, snap *model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return b.put(bucketSnapshots, []byte(room), data)
}

// DeviceID returns the stored device id, or "" when none exists.
func (b *Bolt) DeviceID() (string, error) {
	data, err := b.get(bucketState, keyDeviceID)
	return string(data), err
}

// SetDeviceID stores the device id.
func (b *Bolt) SetDeviceID(id string) error {
	return b.put(bucketState, keyDeviceID, []byte(id))
}

// ClearDeviceID forgets the device id. The next start generates a new one.
func (b *Bolt) ClearDeviceID() error {
	return b.delete(bucketState, keyDeviceID)
}

// Credentials returns the cached login, or nil.
func (b *Bolt) Credentials() (*Credentials, error) {
	var c *Credentials
	if err := b.getJSON(keyCredentials, &c); err != nil {
		return nil, err
	}
	return c, nil
}

// SaveCredentials caches a login.
func (b *Bolt) SaveCredentials(c Credentials) error {
	return b.putJSON(keyCredentials, c)
}

// ClearCredentials forgets the cached login.
func (b *Bolt) ClearCredentials() error {
	return b.delete(bucketState, keyCredentials)
}

// View returns the cached view, or nil.
func (b *Bolt) View() (*ViewCache, error) {
	var v *ViewCache
	if err := b.getJSON(keyView, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// SaveView caches the shared state last seen by this device.
func (b *Bolt) SaveView(v ViewCache) error {
	return b.putJSON(keyView, v)
}

func (b *Bolt) get(bucket, key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucket).Get(key); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return out, nil
}

func (b *Bolt) put(bucket, key, value []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (b *Bolt) delete(bucket, key []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete(key)
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// getJSON decodes a state value into *out, leaving it nil when absent.
func (b *Bolt) getJSON(key []byte, out any) error {
	data, err := b.get(bucketState, key)
	if err != nil || data == nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (b *Bolt) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.put(bucketState, key, data)
}
