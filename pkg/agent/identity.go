package agent

import (
	"fmt"
	"os"
	"runtime"

	"github.com/google/uuid"
)

// IdentityStore persists the device id. *storage.Bolt implements it.
type IdentityStore interface {
	DeviceID() (string, error)
	SetDeviceID(id string) error
}

// NewDeviceID returns a fresh device id.
func NewDeviceID() string {
	return "device_" + uuid.NewString()
}

// LoadDeviceID returns the stored device id, generating and storing one on
// first use. The id is stable until the store is cleared.
func LoadDeviceID(store IdentityStore) (string, error) {
	id, err := store.DeviceID()
	if err != nil {
		return "", fmt.Errorf("load device id: %w", err)
	}
	if id != "" {
		return id, nil
	}
	id = NewDeviceID()
	if err := store.SetDeviceID(id); err != nil {
		return "", fmt.Errorf("save device id: %w", err)
	}
	return id, nil
}

// DefaultDeviceName describes this machine, e.g. "studio (darwin/arm64)".
func DefaultDeviceName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s (%s/%s)", host, runtime.GOOS, runtime.GOARCH)
}
