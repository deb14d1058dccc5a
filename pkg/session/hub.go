package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Bigwills27/Klipy/pkg/model"
)

// Hub defaults.
const (
	DefaultPersistInterval = 5 * time.Second
	DefaultReplayDelay     = 100 * time.Millisecond
	DefaultEventBuffer     = 256
	DefaultSaveTimeout     = 5 * time.Second
)

// HubConfig holds hub configuration.
type HubConfig struct {
	Auth Authenticator
	// Store persists room snapshots. Nil keeps rooms in memory only.
	Store  model.SnapshotStore
	Clock  clockwork.Clock
	Logger Logger

	MaxClips    int
	DedupWindow int
	// MaxMembers caps how many devices one account may connect at once.
	// Zero means no limit.
	MaxMembers int

	// PersistInterval is how often a room checks whether its model changed
	// since the last save.
	PersistInterval time.Duration
	// ReplayDelay is the grace period between restoring a snapshot and
	// replaying the history to members.
	ReplayDelay time.Duration
	// EventBuffer sizes each member's event queue. A member whose queue
	// overflows is dropped and resynchronizes on rejoin.
	EventBuffer  int
	SeenRequests int

	PublishBurst  int
	PublishPeriod time.Duration
}

// Validate checks the config and applies defaults.
func (c *HubConfig) Validate() error {
	if c.Auth == nil {
		return errors.New("authenticator is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	if c.PersistInterval <= 0 {
		c.PersistInterval = DefaultPersistInterval
	}
	if c.ReplayDelay <= 0 {
		c.ReplayDelay = DefaultReplayDelay
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.SeenRequests <= 0 {
		c.SeenRequests = DefaultSeenRequests
	}
	if c.PublishBurst <= 0 {
		c.PublishBurst = DefaultPublishBurst
	}
	if c.PublishPeriod <= 0 {
		c.PublishPeriod = DefaultPublishPeriod
	}
	return nil
}

// Hub routes devices to their account rooms.
type Hub struct {
	cfg    HubConfig
	logger Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
}

// NewHub creates a hub. Rooms are created on first join and restored from
// the snapshot store when one is configured.
func NewHub(cfg HubConfig) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid hub config: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:    cfg,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
		rooms:  make(map[string]*room),
	}, nil
}

// Join authenticates the device and admits it to its account room.
func (h *Hub) Join(ctx context.Context, p JoinParams) (Session, error) {
	if p.DeviceID == "" {
		return nil, fmt.Errorf("%w: device id is required", ErrTransport)
	}

	id, err := h.cfg.Auth.Authenticate(ctx, p.APIKey)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %w", ErrTransport, ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: authenticate: %w", ErrTransport, err)
	}

	r, err := h.room(id.UserID)
	if err != nil {
		return nil, err
	}

	m := &member{
		handle:     uuid.NewString(),
		identity:   id,
		deviceID:   p.DeviceID,
		deviceName: p.DeviceName,
		room:       r,
		events:     make(chan model.Event, h.cfg.EventBuffer),
		done:       make(chan struct{}),
		limiter:    NewRateLimiter(h.cfg.PublishBurst, h.cfg.PublishPeriod, h.cfg.Clock),
	}

	res, err := r.call(ctx, op{kind: opJoin, member: m})
	if err != nil {
		return nil, err
	}
	m.welcome = res.welcome

	h.logger.Info("device joined",
		"room", r.name,
		"device_id", p.DeviceID,
		"handle", m.handle)
	return m, nil
}

func (h *Hub) room(name string) (*room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, fmt.Errorf("%w: %w", ErrTransport, ErrHubClosed)
	}
	if r, ok := h.rooms[name]; ok {
		return r, nil
	}

	r := newRoom(name, h.cfg)
	h.rooms[name] = r
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		r.run(h.ctx)
	}()
	return r, nil
}

// Rooms returns the number of live rooms.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Close drops every member, saves dirty rooms and waits for the room
// goroutines to exit.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	h.wg.Wait()
	h.logger.Info("hub closed")
	return nil
}

// LocalTransport joins an in-process hub.
type LocalTransport struct {
	hub *Hub
}

// NewLocalTransport wraps a hub.
func NewLocalTransport(h *Hub) *LocalTransport {
	return &LocalTransport{hub: h}
}

// Join implements Transport.
func (t *LocalTransport) Join(ctx context.Context, p JoinParams) (Session, error) {
	return t.hub.Join(ctx, p)
}
