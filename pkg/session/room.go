package session

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/Bigwills27/Klipy/pkg/model"
)

type opKind int

const (
	opJoin opKind = iota
	opPublish
	opHeartbeat
	opLeave
)

type op struct {
	kind   opKind
	member *member
	req    model.Request
	reply  chan opResult
}

type opResult struct {
	welcome Welcome
	ack     Ack
	err     error
}

type saveResult struct {
	version  uint64
	clips    int
	attempts int
	err      error
}

// room serializes every mutation of one account's model through run.
type room struct {
	name   string
	cfg    HubConfig
	logger Logger
	model  *model.Model

	// Owned by the run goroutine.
	members      map[string]*member
	seen         *seenRequests
	savedVersion uint64
	saving       bool

	ops   chan op
	saved chan saveResult
	done  chan struct{}
}

func newRoom(name string, cfg HubConfig) *room {
	return &room{
		name:   name,
		cfg:    cfg,
		logger: cfg.Logger,
		model: model.New(model.Config{
			Clock:       cfg.Clock,
			MaxClips:    cfg.MaxClips,
			DedupWindow: cfg.DedupWindow,
		}),
		members: make(map[string]*member),
		seen:    newSeenRequests(cfg.SeenRequests),
		ops:     make(chan op),
		saved:   make(chan saveResult, 1),
		done:    make(chan struct{}),
	}
}

// call queues an op and waits for the room to answer it.
func (r *room) call(ctx context.Context, o op) (opResult, error) {
	o.reply = make(chan opResult, 1)
	select {
	case r.ops <- o:
	case <-ctx.Done():
		return opResult{}, fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
	case <-r.done:
		return opResult{}, fmt.Errorf("%w: %w", ErrTransport, ErrHubClosed)
	}

	select {
	case res := <-o.reply:
		return res, res.err
	case <-ctx.Done():
		return opResult{}, fmt.Errorf("%w: %w", ErrTransport, ctx.Err())
	case <-r.done:
		return opResult{}, fmt.Errorf("%w: %w", ErrTransport, ErrHubClosed)
	}
}

func (r *room) run(ctx context.Context) {
	defer close(r.done)

	var replay <-chan time.Time
	if r.restore(ctx) {
		replay = r.cfg.Clock.NewTimer(r.cfg.ReplayDelay).Chan()
	}
	persist := r.cfg.Clock.NewTimer(r.cfg.PersistInterval)

	for {
		select {
		case <-ctx.Done():
			persist.Stop()
			r.shutdown()
			return

		case o := <-r.ops:
			o.reply <- r.handle(o)

		case <-replay:
			replay = nil
			ev := r.model.ReplayEvent()
			r.logger.Debug("replaying restored history", "room", r.name, "clips", ev.Count)
			r.broadcast([]model.Event{ev})

		case <-persist.Chan():
			r.persistAsync(ctx)
			persist = r.cfg.Clock.NewTimer(r.cfg.PersistInterval)

		case res := <-r.saved:
			r.saving = false
			r.recordSave(res)
		}
	}
}

func (r *room) handle(o op) opResult {
	m := o.member
	switch o.kind {
	case opJoin:
		if err := r.admit(m); err != nil {
			return opResult{err: err}
		}
		r.members[m.handle] = m
		r.logger.Debug("member admitted", "room", r.name, "handle", m.handle, "members", len(r.members))
		return opResult{welcome: Welcome{
			Handle:   m.handle,
			Identity: m.identity,
			Clips:    r.model.Clips(),
			Devices:  r.model.Devices(),
		}}

	case opPublish:
		return r.publish(m, o.req)

	case opHeartbeat:
		if _, ok := r.members[m.handle]; !ok {
			return opResult{err: fmt.Errorf("%w: %w", ErrTransport, ErrSessionClosed)}
		}
		return opResult{}

	case opLeave:
		r.drop(m, ErrSessionClosed)
		return opResult{}

	default:
		return opResult{err: fmt.Errorf("unknown room op %d", o.kind)}
	}
}

// admit enforces the member cap. Sessions of the joining device do not count
// against it, so a device that reconnects before its old session is dropped
// still gets in.
func (r *room) admit(m *member) error {
	if r.cfg.MaxMembers <= 0 {
		return nil
	}
	n := 0
	for _, other := range r.members {
		if other.deviceID != m.deviceID {
			n++
		}
	}
	if n >= r.cfg.MaxMembers {
		r.logger.Warn("room full, rejecting device", "room", r.name, "device_id", m.deviceID, "members", n)
		return fmt.Errorf("%w: %w: %d devices connected", ErrTransport, ErrRoomFull, n)
	}
	return nil
}

func (r *room) publish(m *member, req model.Request) opResult {
	if _, ok := r.members[m.handle]; !ok {
		return opResult{err: fmt.Errorf("%w: %w", ErrTransport, ErrSessionClosed)}
	}

	if ack, ok := r.seen.Get(req.ID); ok {
		ack.Duplicate = true
		r.logger.Debug("dropping redelivered request", "room", r.name, "request_id", req.ID)
		return opResult{ack: ack}
	}

	stamp(m, &req)
	out, events, err := r.model.Apply(req, m.handle)
	if err != nil {
		return opResult{err: fmt.Errorf("apply %s: %w", req.Kind, err)}
	}

	ack := Ack{RequestID: req.ID, Outcome: out}
	r.seen.Add(req.ID, ack)
	r.broadcast(events)
	return opResult{ack: ack}
}

// stamp fills in the publisher's identity. The user id always comes from the
// authenticated session, never from the request.
func stamp(m *member, req *model.Request) {
	switch req.Kind {
	case model.RequestRemoveClip, model.RequestClearClips:
		return
	}
	req.UserID = m.identity.UserID
	if req.DeviceID == "" {
		req.DeviceID = m.deviceID
	}
	if req.Kind == model.RequestRegisterDevice && req.DeviceName == "" {
		req.DeviceName = m.deviceName
	}
}

// broadcast delivers events to every member in order. Members that cannot
// keep up are dropped; they resynchronize from the welcome on rejoin.
func (r *room) broadcast(events []model.Event) {
	if len(events) == 0 {
		return
	}
	var slow []*member
	for _, m := range r.members {
		if !m.deliver(events) {
			slow = append(slow, m)
		}
	}
	for _, m := range slow {
		r.logger.Warn("dropping slow member", "room", r.name, "handle", m.handle, "device_id", m.deviceID)
		r.drop(m, ErrSlowConsumer)
	}
}

func (r *room) drop(m *member, cause error) {
	if _, ok := r.members[m.handle]; !ok {
		return
	}
	delete(r.members, m.handle)
	m.close(cause)
	r.logger.Info("device left", "room", r.name, "device_id", m.deviceID, "handle", m.handle)
	r.broadcast(r.model.SessionLeft(m.handle))
}

func (r *room) restore(ctx context.Context) bool {
	if r.cfg.Store == nil {
		return false
	}
	lctx, cancel := context.WithTimeout(ctx, DefaultSaveTimeout)
	defer cancel()

	snap, err := r.cfg.Store.Load(lctx, r.name)
	if err != nil {
		r.logger.Warn("failed to load snapshot", "room", r.name, "error", err)
		return false
	}
	if snap == nil {
		return false
	}
	if err := r.model.Restore(snap); err != nil {
		r.logger.Warn("ignoring snapshot", "room", r.name, "error", err)
		return false
	}
	r.savedVersion = r.model.Version()
	r.logger.Info("room restored",
		"room", r.name,
		"clips", len(snap.Clips),
		"devices", len(snap.Devices))
	return true
}

// dirty returns a snapshot of the model when it changed since the last
// save and no save is running.
func (r *room) dirty() (*model.Snapshot, uint64, bool) {
	if r.cfg.Store == nil || r.saving {
		return nil, 0, false
	}
	version := r.model.Version()
	if version == r.savedVersion {
		return nil, 0, false
	}
	return r.model.Snapshot(), version, true
}

// persistAsync saves a dirty model off the room goroutine. The result comes
// back on r.saved; until then later ticks skip saving.
func (r *room) persistAsync(ctx context.Context) {
	snap, version, ok := r.dirty()
	if !ok {
		return
	}
	r.saving = true
	go func() {
		r.saved <- r.save(ctx, snap, version)
	}()
}

// save writes snap, retrying transient store failures.
func (r *room) save(ctx context.Context, snap *model.Snapshot, version uint64) saveResult {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 2 * time.Second

	res := saveResult{version: version, clips: len(snap.Clips)}
	res.err = backoff.Retry(func() error {
		res.attempts++
		sctx, cancel := context.WithTimeout(ctx, DefaultSaveTimeout)
		defer cancel()
		return r.cfg.Store.Save(sctx, r.name, snap)
	}, backoff.WithContext(policy, ctx))
	return res
}

func (r *room) recordSave(res saveResult) {
	if res.err != nil {
		r.logger.Warn("failed to save snapshot", "room", r.name, "attempts", res.attempts, "error", res.err)
		return
	}
	if res.version > r.savedVersion {
		r.savedVersion = res.version
	}
	r.logger.Debug("snapshot saved", "room", r.name, "version", res.version, "clips", res.clips)
}

func (r *room) shutdown() {
	for _, m := range r.members {
		m.close(fmt.Errorf("%w: %w", ErrSessionClosed, ErrHubClosed))
	}
	r.members = make(map[string]*member)

	if r.saving {
		r.recordSave(<-r.saved)
		r.saving = false
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultSaveTimeout)
	defer cancel()
	if snap, version, ok := r.dirty(); ok {
		r.recordSave(r.save(ctx, snap, version))
	}
}
