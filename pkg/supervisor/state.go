package supervisor

import (
	"fmt"
	"sync"
	"time"
)

// State is the connection state of this device. It is local and never
// persisted.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StatePermanentlyDisconnected is entered once every attempt failed.
	// Only Retry leaves it.
	StatePermanentlyDisconnected
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StatePermanentlyDisconnected:
		return "permanently_disconnected"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateDisconnected; st <= StatePermanentlyDisconnected; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown connection state %q", b)
}

// Transition records one state change.
type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

// transitionLog keeps the most recent transitions in a ring buffer.
type transitionLog struct {
	mu      sync.Mutex
	entries []Transition
	head    int
	size    int
}

func newTransitionLog(capacity int) *transitionLog {
	if capacity <= 0 {
		capacity = 32
	}
	return &transitionLog{entries: make([]Transition, capacity)}
}

// Push adds a transition, dropping the oldest when full.
func (l *transitionLog) Push(t Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tail := (l.head + l.size) % len(l.entries)
	l.entries[tail] = t
	if l.size < len(l.entries) {
		l.size++
	} else {
		l.head = (l.head + 1) % len(l.entries)
	}
}

// List returns the transitions, oldest first.
func (l *transitionLog) List() []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Transition, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.entries[(l.head+i)%len(l.entries)]
	}
	return out
}
