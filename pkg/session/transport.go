// Package session is the replication transport between devices and the hub.
//
// The hub keeps one room per account. A room owns the account's replication
// model and is the only goroutine that mutates it: joins, publishes, leaves
// and heartbeats are queued to the room and handled one at a time in arrival
// order. Every event the model produces is fanned out to all members of the
// room, the publisher included, so devices converge by applying the same
// event stream.
//
// Delivery is at least once. Each request carries an id and the room keeps a
// bounded record of ids it has applied; a redelivered request gets the
// original acknowledgement back instead of being applied twice.
//
// Two transports reach the hub: LocalTransport for an in-process hub and
// WSTransport for a hub served over WebSocket by Server.
package session

import (
	"context"
	"errors"

	"github.com/Bigwills27/Klipy/pkg/model"
)

var (
	// ErrTransport wraps every join, publish and heartbeat failure.
	ErrTransport = errors.New("transport error")

	// ErrSessionClosed indicates the session was left or dropped by the hub.
	ErrSessionClosed = errors.New("session closed")

	// ErrUnauthorized indicates the API key was rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrSlowConsumer indicates a member was dropped because it did not
	// drain its events in time.
	ErrSlowConsumer = errors.New("event buffer overflow")

	// ErrRateLimited indicates a member published faster than allowed.
	ErrRateLimited = errors.New("publish rate exceeded")

	// ErrHubClosed indicates the hub is shutting down.
	ErrHubClosed = errors.New("hub closed")

	// ErrRoomFull indicates the account already has the maximum number of
	// devices connected.
	ErrRoomFull = errors.New("room full")
)

// Identity is the authenticated account behind a session.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Authenticator resolves an API key to an account. Implementations return an
// error wrapping ErrUnauthorized for unknown keys.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (Identity, error)
}

// AuthFunc adapts a function to the Authenticator interface.
type AuthFunc func(ctx context.Context, apiKey string) (Identity, error)

// Authenticate calls f.
func (f AuthFunc) Authenticate(ctx context.Context, apiKey string) (Identity, error) {
	return f(ctx, apiKey)
}

// StaticAuth accepts a fixed set of keys. It is meant for tests and
// single-user setups.
type StaticAuth map[string]Identity

// Authenticate looks the key up in the map.
func (s StaticAuth) Authenticate(_ context.Context, apiKey string) (Identity, error) {
	id, ok := s[apiKey]
	if !ok {
		return Identity{}, ErrUnauthorized
	}
	return id, nil
}

// JoinParams identifies the joining device.
type JoinParams struct {
	DeviceID   string
	DeviceName string
	APIKey     string
}

// Welcome is sent once on join. It carries the room state at the moment the
// member was admitted; every later change arrives as an event.
type Welcome struct {
	Handle   string         `json:"handle"`
	Identity Identity       `json:"identity"`
	Clips    []model.Clip   `json:"clips"`
	Devices  []model.Device `json:"devices"`
}

// Ack answers a publish.
type Ack struct {
	RequestID string        `json:"request_id"`
	Outcome   model.Outcome `json:"outcome"`
	// Duplicate is set when the request id had already been applied.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Transport opens sessions with a hub.
type Transport interface {
	Join(ctx context.Context, p JoinParams) (Session, error)
}

// Session is one device's membership in its account room.
type Session interface {
	// Handle is the opaque id the hub assigned to this membership.
	Handle() string
	Welcome() Welcome
	// Publish sends a request and waits for its acknowledgement. An empty
	// request id is filled in.
	Publish(ctx context.Context, req model.Request) (Ack, error)
	// Events delivers room events in order. It is closed when the session
	// ends.
	Events() <-chan model.Event
	// Heartbeat checks the session is still alive end to end.
	Heartbeat(ctx context.Context) error
	// Done is closed when the session ends for any reason.
	Done() <-chan struct{}
	// Err reports why the session ended, or nil while it is open.
	Err() error
	// Leave ends the session. It is idempotent.
	Leave() error
}

// Logger interface for session logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
