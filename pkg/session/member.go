package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Bigwills27/Klipy/pkg/model"
)

// member is an in-process session. The room goroutine is the only sender on
// events and the only caller of close.
type member struct {
	handle     string
	identity   Identity
	deviceID   string
	deviceName string
	welcome    Welcome
	room       *room
	limiter    *RateLimiter

	events chan model.Event
	done   chan struct{}

	mu  sync.Mutex
	err error
}

var _ Session = (*member)(nil)

func (m *member) Handle() string             { return m.handle }
func (m *member) Welcome() Welcome           { return m.welcome }
func (m *member) Events() <-chan model.Event { return m.events }
func (m *member) Done() <-chan struct{}      { return m.done }

func (m *member) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *member) Publish(ctx context.Context, req model.Request) (Ack, error) {
	if err := m.closedErr(); err != nil {
		return Ack{}, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if !m.limiter.Allow() {
		return Ack{}, fmt.Errorf("publish %s: %w", req.Kind, ErrRateLimited)
	}
	res, err := m.room.call(ctx, op{kind: opPublish, member: m, req: req})
	if err != nil {
		return Ack{}, err
	}
	return res.ack, nil
}

func (m *member) Heartbeat(ctx context.Context) error {
	if err := m.closedErr(); err != nil {
		return err
	}
	_, err := m.room.call(ctx, op{kind: opHeartbeat, member: m})
	return err
}

func (m *member) Leave() error {
	select {
	case <-m.done:
		return nil
	default:
	}
	_, err := m.room.call(context.Background(), op{kind: opLeave, member: m})
	if err != nil {
		select {
		case <-m.done:
			// The hub shut down first and already closed the member.
			return nil
		default:
		}
	}
	return err
}

func (m *member) closedErr() error {
	select {
	case <-m.done:
		return fmt.Errorf("%w: %w", ErrTransport, m.Err())
	default:
		return nil
	}
}

// deliver queues events without blocking. It reports false when the buffer
// is full.
func (m *member) deliver(events []model.Event) bool {
	for _, ev := range events {
		select {
		case m.events <- ev:
		default:
			return false
		}
	}
	return true
}

func (m *member) close(cause error) {
	m.mu.Lock()
	m.err = cause
	m.mu.Unlock()
	close(m.events)
	close(m.done)
}
