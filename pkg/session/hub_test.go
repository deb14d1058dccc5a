package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bigwills27/Klipy/pkg/model"
)

const (
	testKey   = "klipy_test"
	otherKey  = "klipy_other"
	eventWait = 2 * time.Second
)

var testAuth = StaticAuth{
	testKey:  {UserID: "u_ada", Email: "ada@example.com", Name: "Ada"},
	otherKey: {UserID: "u_bob", Email: "bob@example.com", Name: "Bob"},
}

// memStore is an in-memory snapshot store.
type memStore struct {
	mu    sync.Mutex
	snaps map[string]*model.Snapshot
	saves int
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]*model.Snapshot)}
}

func (s *memStore) Load(_ context.Context, room string) (*model.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snaps[room], nil
}

func (s *memStore) Save(_ context.Context, room string, snap *model.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[room] = snap
	s.saves++
	return nil
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// blockingStore holds every Save until release is closed.
type blockingStore struct {
	*memStore
	started chan struct{}
	release chan struct{}
}

func (s *blockingStore) Save(ctx context.Context, room string, snap *model.Snapshot) error {
	s.started <- struct{}{}
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.memStore.Save(ctx, room, snap)
}

// waitTimers blocks until the fake clock has exactly n armed timers.
func waitTimers(t *testing.T, fc *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventWait)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, n), "expected %d armed timers", n)
}

func newTestHub(t *testing.T, mutate ...func(*HubConfig)) *Hub {
	t.Helper()
	cfg := HubConfig{Auth: testAuth}
	for _, m := range mutate {
		m(&cfg)
	}
	h, err := NewHub(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func join(t *testing.T, tr Transport, deviceID string) Session {
	t.Helper()
	s, err := tr.Join(context.Background(), JoinParams{DeviceID: deviceID, DeviceName: deviceID + "-name", APIKey: testKey})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Leave() })
	return s
}

func publish(t *testing.T, s Session, req model.Request) Ack {
	t.Helper()
	ack, err := s.Publish(context.Background(), req)
	require.NoError(t, err)
	return ack
}

// nextEvent reads events until one of the wanted kind arrives.
func nextEvent(t *testing.T, s Session, kind model.EventKind) model.Event {
	t.Helper()
	timeout := time.After(eventWait)
	for {
		select {
		case ev, ok := <-s.Events():
			require.True(t, ok, "events closed while waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestHubRejectsUnknownKey(t *testing.T) {
	h := newTestHub(t)
	_, err := h.Join(context.Background(), JoinParams{DeviceID: "d1", APIKey: "klipy_nope"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(err, ErrUnauthorized))

	_, err = h.Join(context.Background(), JoinParams{APIKey: testKey})
	assert.True(t, errors.Is(err, ErrTransport), "device id is required")
}

func TestHubFanOutIncludesSender(t *testing.T) {
	h := newTestHub(t)
	tr := NewLocalTransport(h)

	a := join(t, tr, "device_a")
	b := join(t, tr, "device_b")
	assert.NotEqual(t, a.Handle(), b.Handle())
	assert.Equal(t, "u_ada", a.Welcome().Identity.UserID)

	publish(t, a, model.Request{Kind: model.RequestRegisterDevice})
	ack := publish(t, a, model.Request{Kind: model.RequestAddClip, Text: "hello", UserID: "u_spoofed"})
	assert.True(t, ack.Outcome.Applied)
	assert.NotEmpty(t, ack.RequestID)

	for _, s := range []Session{a, b} {
		ev := nextEvent(t, s, model.EventClipAdded)
		require.NotNil(t, ev.Clip)
		assert.Equal(t, "hello", ev.Clip.Text)
		assert.Equal(t, "u_ada", ev.Clip.OriginUserID, "user id comes from the session")
		assert.Equal(t, "device_a", ev.Clip.OriginDeviceID)
	}

	late := join(t, tr, "device_c")
	require.Len(t, late.Welcome().Clips, 1)
	assert.Equal(t, "hello", late.Welcome().Clips[0].Text)
	require.Len(t, late.Welcome().Devices, 1)
	assert.Equal(t, "device_a-name", late.Welcome().Devices[0].DeviceName)
}

func TestHubRoomsArePerAccount(t *testing.T) {
	h := newTestHub(t)
	a := join(t, NewLocalTransport(h), "device_a")
	bob, err := h.Join(context.Background(), JoinParams{DeviceID: "device_bob", APIKey: otherKey})
	require.NoError(t, err)
	defer bob.Leave()

	publish(t, a, model.Request{Kind: model.RequestAddClip, Text: "private"})
	nextEvent(t, a, model.EventClipAdded)

	assert.Equal(t, 2, h.Rooms())
	select {
	case ev := <-bob.Events():
		t.Fatalf("other account received %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubDropsRedeliveredRequest(t *testing.T) {
	h := newTestHub(t)
	a := join(t, NewLocalTransport(h), "device_a")

	req := model.Request{ID: "req-1", Kind: model.RequestAddClip, Text: "once"}
	first := publish(t, a, req)
	second := publish(t, a, req)

	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Outcome, second.Outcome)

	late := join(t, NewLocalTransport(h), "device_b")
	assert.Len(t, late.Welcome().Clips, 1)
}

func TestHubReportsOutcome(t *testing.T) {
	h := newTestHub(t)
	a := join(t, NewLocalTransport(h), "device_a")

	publish(t, a, model.Request{Kind: model.RequestAddClip, Text: "same"})
	ack := publish(t, a, model.Request{Kind: model.RequestAddClip, Text: "same"})
	assert.False(t, ack.Outcome.Applied)
	assert.Equal(t, model.ReasonDuplicate, ack.Outcome.Reason)

	_, err := a.Publish(context.Background(), model.Request{Kind: model.RequestKind(99)})
	assert.True(t, errors.Is(err, model.ErrUnknownRequest))
}

func TestHubLeaveRemovesDevice(t *testing.T) {
	h := newTestHub(t)
	tr := NewLocalTransport(h)
	a := join(t, tr, "device_a")
	b := join(t, tr, "device_b")

	publish(t, b, model.Request{Kind: model.RequestRegisterDevice})
	nextEvent(t, a, model.EventDevicesUpdated)

	require.NoError(t, b.Leave())
	require.NoError(t, b.Leave(), "leave is idempotent")

	ev := nextEvent(t, a, model.EventDeviceRemoved)
	assert.Equal(t, "device_b", ev.DeviceID)

	select {
	case <-b.Done():
	default:
		t.Fatal("done not closed after leave")
	}
	_, err := b.Publish(context.Background(), model.Request{Kind: model.RequestAddClip, Text: "x"})
	assert.True(t, errors.Is(err, ErrTransport))
	assert.True(t, errors.Is(b.Heartbeat(context.Background()), ErrTransport))
	assert.NoError(t, a.Heartbeat(context.Background()))
}

func TestHubDropsSlowMember(t *testing.T) {
	h := newTestHub(t, func(c *HubConfig) { c.EventBuffer = 4 })
	tr := NewLocalTransport(h)
	fast := join(t, tr, "device_fast")
	slow := join(t, tr, "device_slow")
	publish(t, slow, model.Request{Kind: model.RequestRegisterDevice})
	nextEvent(t, fast, model.EventDevicesUpdated)

	// fast drains after every publish; slow never reads.
	for i := 0; i < 4; i++ {
		publish(t, fast, model.Request{Kind: model.RequestAddClip, Text: string(rune('a' + i))})
		nextEvent(t, fast, model.EventStoreUpdated)
	}

	select {
	case <-slow.Done():
	case <-time.After(eventWait):
		t.Fatal("slow member was not dropped")
	}
	assert.True(t, errors.Is(slow.Err(), ErrSlowConsumer))

	// Rejoining resynchronizes from the welcome.
	again := join(t, tr, "device_slow")
	assert.Len(t, again.Welcome().Clips, 4)
}

func TestHubRateLimitsPublishers(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	h := newTestHub(t, func(c *HubConfig) {
		c.Clock = fc
		c.PublishBurst = 2
		c.PublishPeriod = time.Second
	})
	a := join(t, NewLocalTransport(h), "device_a")

	publish(t, a, model.Request{Kind: model.RequestAddClip, Text: "1"})
	publish(t, a, model.Request{Kind: model.RequestAddClip, Text: "2"})
	_, err := a.Publish(context.Background(), model.Request{Kind: model.RequestAddClip, Text: "3"})
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.False(t, errors.Is(err, ErrTransport), "rate limiting does not end the session")

	fc.Advance(time.Second)
	publish(t, a, model.Request{Kind: model.RequestAddClip, Text: "3"})
}

func TestHubPersistsOnlyWhenDirty(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fc := clockwork.NewFakeClockAt(start)
	store := newMemStore()
	h := newTestHub(t, func(c *HubConfig) {
		c.Clock = fc
		c.Store = store
	})
	a := join(t, NewLocalTransport(h), "device_a")
	publish(t, a, model.Request{Kind: model.RequestAddClip, Text: "persist me"})

	waitTimers(t, fc, 1)
	fc.Advance(DefaultPersistInterval)
	assert.Eventually(t, func() bool { return store.saveCount() == 1 }, eventWait, 5*time.Millisecond)

	waitTimers(t, fc, 1)
	fc.Advance(DefaultPersistInterval)
	waitTimers(t, fc, 1)
	assert.Equal(t, start.Add(2*DefaultPersistInterval), fc.Now())
	assert.Equal(t, 1, store.saveCount(), "unchanged model is not saved again")

	snap, _ := store.Load(context.Background(), "u_ada")
	require.NotNil(t, snap)
	assert.Equal(t, model.SchemaVersion, snap.SchemaVersion)
	require.Len(t, snap.Clips, 1)
}

func TestHubSavesWithoutBlockingRoom(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := &blockingStore{
		memStore: newMemStore(),
		started:  make(chan struct{}, 4),
		release:  make(chan struct{}),
	}
	h := newTestHub(t, func(c *HubConfig) {
		c.Clock = fc
		c.Store = store
	})
	a := join(t, NewLocalTransport(h), "device_a")
	publish(t, a, model.Request{Kind: model.RequestAddClip, Text: "first"})

	waitTimers(t, fc, 1)
	fc.Advance(DefaultPersistInterval)
	select {
	case <-store.started:
	case <-time.After(eventWait):
		t.Fatal("save never started")
	}

	// The room keeps serving while the store is stuck.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := a.Publish(ctx, model.Request{Kind: model.RequestAddClip, Text: "second"})
	require.NoError(t, err)

	// A tick during the save does not start another one.
	waitTimers(t, fc, 1)
	fc.Advance(DefaultPersistInterval)
	waitTimers(t, fc, 1)
	assert.Len(t, store.started, 0)

	close(store.release)
	require.Eventually(t, func() bool { return store.saveCount() == 1 }, eventWait, 5*time.Millisecond)

	// The clip added during the save makes the room dirty again. Ticks keep
	// coming until the room has seen the first save finish.
	require.Eventually(t, func() bool {
		fc.Advance(DefaultPersistInterval)
		return store.saveCount() == 2
	}, eventWait, 5*time.Millisecond)
	snap, _ := store.Load(context.Background(), "u_ada")
	require.NotNil(t, snap)
	assert.Len(t, snap.Clips, 2)
}

func TestHubLimitsMembersPerAccount(t *testing.T) {
	h := newTestHub(t, func(c *HubConfig) { c.MaxMembers = 2 })
	tr := NewLocalTransport(h)
	join(t, tr, "device_a")
	b := join(t, tr, "device_b")

	_, err := tr.Join(context.Background(), JoinParams{DeviceID: "device_c", APIKey: testKey})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRoomFull))
	assert.True(t, errors.Is(err, ErrTransport))

	// A device may replace its own session.
	b2 := join(t, tr, "device_b")

	// Other accounts have their own room.
	other, err := tr.Join(context.Background(), JoinParams{DeviceID: "device_c", APIKey: otherKey})
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Leave() })

	require.NoError(t, b.Leave())
	require.NoError(t, b2.Leave())
	join(t, tr, "device_c")
}

func TestHubRestoresAndReplays(t *testing.T) {
	store := newMemStore()

	h1, err := NewHub(HubConfig{Auth: testAuth, Store: store})
	require.NoError(t, err)
	a, err := h1.Join(context.Background(), JoinParams{DeviceID: "device_a", APIKey: testKey})
	require.NoError(t, err)
	publish(t, a, model.Request{Kind: model.RequestRegisterDevice})
	publish(t, a, model.Request{Kind: model.RequestActivateDevice})
	publish(t, a, model.Request{Kind: model.RequestAddClip, Text: "survives restart"})
	require.NoError(t, h1.Close(), "close saves dirty rooms")

	select {
	case <-a.Done():
	default:
		t.Fatal("hub close did not end the session")
	}
	assert.True(t, errors.Is(a.Err(), ErrHubClosed))

	h2 := newTestHub(t, func(c *HubConfig) {
		c.Store = store
		c.ReplayDelay = 50 * time.Millisecond
	})
	b := join(t, NewLocalTransport(h2), "device_b")

	welcome := b.Welcome()
	require.Len(t, welcome.Clips, 1)
	assert.Equal(t, "survives restart", welcome.Clips[0].Text)
	require.Len(t, welcome.Devices, 1)
	assert.True(t, welcome.Devices[0].IsActive)
	assert.Empty(t, welcome.Devices[0].SessionHandle, "restored devices have no session")

	ev := nextEvent(t, b, model.EventStoreUpdated)
	assert.True(t, ev.Resync)
	require.Len(t, ev.Clips, 1)
	assert.Equal(t, "survives restart", ev.Clips[0].Text)
}

func TestHubIgnoresIncompatibleSnapshot(t *testing.T) {
	store := newMemStore()
	store.snaps["u_ada"] = &model.Snapshot{
		SchemaVersion: model.SchemaVersion + 1,
		Clips:         []model.Clip{{ID: "c1", Text: "future"}},
	}
	h := newTestHub(t, func(c *HubConfig) { c.Store = store })
	a := join(t, NewLocalTransport(h), "device_a")
	assert.Empty(t, a.Welcome().Clips)
}

func TestHubCloseRejectsJoins(t *testing.T) {
	h := newTestHub(t)
	require.NoError(t, h.Close())
	_, err := h.Join(context.Background(), JoinParams{DeviceID: "d", APIKey: testKey})
	assert.True(t, errors.Is(err, ErrHubClosed))
}

func TestSeenRequestsEvicts(t *testing.T) {
	c := newSeenRequests(2)
	c.Add("a", Ack{RequestID: "a"})
	c.Add("b", Ack{RequestID: "b"})
	_, ok := c.Get("a") // a becomes most recent
	require.True(t, ok)
	c.Add("c", Ack{RequestID: "c"})

	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used id is evicted")
	ack, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "a", ack.RequestID)
}

func TestRateLimiterRefills(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Unix(0, 0))
	rl := NewRateLimiter(2, time.Second, fc)

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow())

	fc.Advance(500 * time.Millisecond)
	assert.InDelta(t, 1.0, rl.TokensAvailable(), 0.001)
	assert.True(t, rl.Allow())

	fc.Advance(time.Hour)
	assert.InDelta(t, 2.0, rl.TokensAvailable(), 0.001, "capped at burst")
	assert.False(t, rl.AllowN(3))
}
