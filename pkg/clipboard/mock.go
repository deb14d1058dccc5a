package clipboard

import (
	"sync"
)

// MockClipboard implements a mock clipboard for testing. Errors can be queued
// for upcoming reads, and every call is counted.
type MockClipboard struct {
	mu       sync.Mutex
	content  string
	caps     Capabilities
	readErrs []error
	writeErr error
	reads    int
	writes   []string
}

// NewMockClipboard creates a new mock clipboard with full capabilities.
func NewMockClipboard() *MockClipboard {
	return &MockClipboard{
		caps: Capabilities{Read: true, Write: true, ReliableRead: true},
	}
}

// Read returns the current mock clipboard contents, or the next queued error.
func (m *MockClipboard) Read() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if len(m.readErrs) > 0 {
		err := m.readErrs[0]
		m.readErrs = m.readErrs[1:]
		return "", err
	}
	return m.content, nil
}

// Write sets the mock clipboard contents
func (m *MockClipboard) Write(content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.content = content
	m.writes = append(m.writes, content)
	return nil
}

// Capabilities returns the configured capabilities.
func (m *MockClipboard) Capabilities() Capabilities {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.caps
}

// SetCapabilities overrides the reported capabilities.
func (m *MockClipboard) SetCapabilities(c Capabilities) {
	m.mu.Lock()
	m.caps = c
	m.mu.Unlock()
}

// EmitChange simulates the user copying content in another application.
func (m *MockClipboard) EmitChange(content string) {
	m.mu.Lock()
	m.content = content
	m.mu.Unlock()
}

// FailReads queues errors returned by the next reads, in order.
func (m *MockClipboard) FailReads(errs ...error) {
	m.mu.Lock()
	m.readErrs = append(m.readErrs, errs...)
	m.mu.Unlock()
}

// FailWrites makes every write return err until cleared with nil.
func (m *MockClipboard) FailWrites(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

// ReadCount returns the number of Read calls (for testing)
func (m *MockClipboard) ReadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Writes returns every successfully written value (for testing)
func (m *MockClipboard) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.writes))
	copy(out, m.writes)
	return out
}
