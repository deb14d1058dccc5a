// Package testutil provides common test helpers.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// SocketPath returns a short unique Unix socket path. macOS limits socket
// paths to 104 bytes, so the path lives directly in /tmp rather than under
// t.TempDir.
func SocketPath(t *testing.T) string {
	t.Helper()

	name := fmt.Sprintf("kl-%d-%d.sock", os.Getpid(), time.Now().UnixNano()%1000000)
	path := filepath.Join("/tmp", name)

	t.Cleanup(func() {
		_ = os.Remove(path)
	})

	return path
}
