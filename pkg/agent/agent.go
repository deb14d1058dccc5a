// Package agent runs one device's side of a session: it publishes local
// clipboard detections to the account room, folds room events into the
// device's view, and writes remote clips to the clipboard when the write
// gates allow it.
//
// An Agent lives for exactly one session. The supervisor builds a new one
// after every reconnect and keeps the View across them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/Bigwills27/Klipy/pkg/clipboard"
	"github.com/Bigwills27/Klipy/pkg/model"
	"github.com/Bigwills27/Klipy/pkg/session"
)

var (
	// ErrNotAuthenticated is returned when the session has no account.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrNotActive is returned when a local clip is submitted while sync is
	// off for this device.
	ErrNotActive = errors.New("sync is not active on this device")

	// ErrNoSuchPending is returned for an unknown pending clip id.
	ErrNoSuchPending = errors.New("no such pending clip")

	// ErrClipNotFound is returned when removing a clip the room does not hold.
	ErrClipNotFound = errors.New("clip not found")

	// ErrStopped is returned by commands once Run has returned.
	ErrStopped = errors.New("agent stopped")
)

// Logger interface for agent logging.
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

// Config holds agent configuration.
type Config struct {
	Session    session.Session
	Monitor    *clipboard.Monitor
	View       *View
	DeviceID   string
	DeviceName string
	// AlwaysOn activates sync for this device as soon as it joins.
	AlwaysOn bool
	// AutoApprove lets remote clips through without an explicit approval.
	AutoApprove bool
	Clock       clockwork.Clock
	Logger      Logger
}

// Validate checks the config and applies defaults.
func (c *Config) Validate() error {
	if c.Session == nil {
		return errors.New("session is required")
	}
	if c.Monitor == nil {
		return errors.New("monitor is required")
	}
	if c.DeviceID == "" {
		return errors.New("device id is required")
	}
	if c.View == nil {
		c.View = NewView(model.DefaultMaxClips)
	}
	if c.DeviceName == "" {
		c.DeviceName = DefaultDeviceName()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	return nil
}

// Stats counts agent activity.
type Stats struct {
	Published uint64 `json:"published"`
	Received  uint64 `json:"received"`
	Written   uint64 `json:"written"`
	Queued    uint64 `json:"queued"`
}

type command struct {
	fn    func(ctx context.Context) error
	reply chan error
}

// Agent bridges a clipboard monitor and a session.
type Agent struct {
	cfg      Config
	sess     session.Session
	monitor  *clipboard.Monitor
	view     *View
	logger   Logger
	identity session.Identity

	commands chan command
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	// active follows acks of our own activation requests as well as room
	// events, so a command right after Activate sees it.
	active atomic.Bool

	published atomic.Uint64
	received  atomic.Uint64
	written   atomic.Uint64
	queued    atomic.Uint64
}

// New creates an agent for an open session.
func New(cfg Config) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}
	return &Agent{
		cfg:      cfg,
		sess:     cfg.Session,
		monitor:  cfg.Monitor,
		view:     cfg.View,
		logger:   cfg.Logger,
		identity: cfg.Session.Welcome().Identity,
		commands: make(chan command),
		done:     make(chan struct{}),
	}, nil
}

// View returns the agent's view.
func (a *Agent) View() *View { return a.view }

// Active reports whether sync is on for this device.
func (a *Agent) Active() bool { return a.active.Load() }

// Identity returns the account behind the session.
func (a *Agent) Identity() session.Identity { return a.identity }

// Done is closed when Run returns.
func (a *Agent) Done() <-chan struct{} { return a.done }

// Stats returns activity counters.
func (a *Agent) Stats() Stats {
	return Stats{
		Published: a.published.Load(),
		Received:  a.received.Load(),
		Written:   a.written.Load(),
		Queued:    a.queued.Load(),
	}
}

// Run registers the device and processes detections, events and commands
// until the session ends or ctx is cancelled. It returns ctx.Err() on
// cancellation and an error wrapping session.ErrTransport or
// session.ErrSessionClosed when the session is lost.
func (a *Agent) Run(ctx context.Context) error {
	if !a.started.CompareAndSwap(false, true) {
		return errors.New("agent already running")
	}
	defer a.stopOnce.Do(func() { close(a.done) })

	w := a.sess.Welcome()
	a.view.Reset(w.Clips, w.Devices)
	a.active.Store(a.view.IsActive(a.cfg.DeviceID))

	if err := a.register(ctx); err != nil {
		return err
	}

	detections := a.monitor.Detections()
	events := a.sess.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return a.sessionErr()
			}
			a.handleEvent(ev)

		case det := <-detections:
			if err := a.handleDetection(ctx, det); fatal(err) {
				return err
			}

		case c := <-a.commands:
			err := c.fn(ctx)
			c.reply <- err
			if fatal(err) {
				return err
			}
		}
	}
}

func (a *Agent) register(ctx context.Context) error {
	_, err := a.publish(ctx, model.Request{
		Kind:       model.RequestRegisterDevice,
		DeviceID:   a.cfg.DeviceID,
		DeviceName: a.cfg.DeviceName,
	})
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}

	if a.identity.UserID != "" {
		_, err = a.publish(ctx, model.Request{
			Kind:       model.RequestUpdateDevice,
			DeviceID:   a.cfg.DeviceID,
			UserID:     a.identity.UserID,
			DeviceName: a.cfg.DeviceName,
		})
		if fatal(err) {
			return fmt.Errorf("update device: %w", err)
		}
	}

	if a.cfg.AlwaysOn && !a.active.Load() {
		if _, err := a.setActive(ctx, true); fatal(err) {
			return fmt.Errorf("activate device: %w", err)
		}
	}

	a.logger.Info("device registered", "device", a.cfg.DeviceID, "user", a.identity.UserID)
	return nil
}

func (a *Agent) sessionErr() error {
	err := a.sess.Err()
	if err == nil {
		return session.ErrSessionClosed
	}
	if errors.Is(err, session.ErrSessionClosed) || errors.Is(err, session.ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %w", session.ErrSessionClosed, err)
}

// fatal reports whether err means the session is gone.
func fatal(err error) bool {
	return err != nil && (errors.Is(err, session.ErrTransport) || errors.Is(err, session.ErrSessionClosed))
}

func (a *Agent) publish(ctx context.Context, req model.Request) (session.Ack, error) {
	ack, err := a.sess.Publish(ctx, req)
	if err != nil {
		if !fatal(err) {
			a.logger.Warn("publish rejected", "kind", req.Kind.String(), "error", err)
		}
		return ack, err
	}
	a.published.Add(1)
	return ack, nil
}

func (a *Agent) handleEvent(ev model.Event) {
	a.view.Apply(ev)

	switch ev.Kind {
	case model.EventClipAdded:
		if ev.Clip == nil || ev.Clip.OriginDeviceID == a.cfg.DeviceID {
			return
		}
		if !a.active.Load() {
			return
		}
		a.received.Add(1)
		a.deliver(*ev.Clip)

	case model.EventDeviceActivated, model.EventDeviceDeactivated:
		if ev.DeviceID != a.cfg.DeviceID {
			return
		}
		a.syncActive(ev.Kind == model.EventDeviceActivated)

	case model.EventDeviceRemoved:
		if ev.DeviceID == a.cfg.DeviceID {
			a.active.Store(false)
		}

	case model.EventDevicesUpdated:
		// The registry is authoritative. A device missing from it is still
		// registering and keeps its current state.
		for _, d := range ev.Devices {
			if d.DeviceID == a.cfg.DeviceID {
				a.syncActive(d.IsActive)
				break
			}
		}

	case model.EventStoreUpdated:
		if ev.Resync {
			a.logger.Debug("history resynced", "clips", len(ev.Clips))
		}
	}
}

func (a *Agent) syncActive(on bool) {
	if a.active.Swap(on) != on {
		a.logger.Info("sync state changed", "active", on)
	}
}

// deliver writes a remote clip or queues it as pending.
func (a *Agent) deliver(clip model.Clip) {
	res := a.monitor.WriteToClipboard(clip.Text, clipboard.WriteOptions{RequireApproval: !a.cfg.AutoApprove})
	if res.Written {
		a.written.Add(1)
		a.logger.Info("remote clip written", "clip", clip.ID, "origin", clip.OriginDeviceID, "fingerprint", model.Fingerprint(clip.Text))
		return
	}
	a.queue(clip, res.Refusal)
}

func (a *Agent) queue(clip model.Clip, refusal clipboard.Refusal) {
	reason := ReasonCopyManually
	if refusal == clipboard.RefusalApprovalRequired {
		reason = ReasonAwaitingApproval
	}
	a.view.AddPending(PendingClip{
		Clip:    clip,
		Reason:  reason,
		Refusal: refusal.String(),
		At:      a.cfg.Clock.Now(),
	})
	a.queued.Add(1)
	a.logger.Info("remote clip pending", "clip", clip.ID, "reason", reason, "refusal", refusal.String())
}

// gate checks a local clip may be published.
func (a *Agent) gate() error {
	if a.identity.UserID == "" {
		return ErrNotAuthenticated
	}
	if !a.active.Load() {
		return ErrNotActive
	}
	return nil
}

func (a *Agent) handleDetection(ctx context.Context, det clipboard.Detection) error {
	if err := a.gate(); err != nil {
		a.logger.Debug("detection not published", "reason", err, "source", det.Source.String())
		return nil
	}
	_, err := a.addClip(ctx, det.Text)
	return err
}

func (a *Agent) addClip(ctx context.Context, text string) (model.Outcome, error) {
	ack, err := a.publish(ctx, model.Request{
		Kind:     model.RequestAddClip,
		Text:     text,
		DeviceID: a.cfg.DeviceID,
	})
	if err != nil {
		return model.Outcome{}, err
	}
	if !ack.Outcome.Applied {
		a.logger.Debug("clip not added", "reason", ack.Outcome.Reason, "fingerprint", model.Fingerprint(text))
	}
	return ack.Outcome, nil
}

func (a *Agent) setActive(ctx context.Context, active bool) (model.Outcome, error) {
	kind := model.RequestDeactivateDevice
	if active {
		kind = model.RequestActivateDevice
	}
	ack, err := a.publish(ctx, model.Request{Kind: kind, DeviceID: a.cfg.DeviceID})
	if err != nil {
		return model.Outcome{}, err
	}
	if !ack.Outcome.Applied {
		return ack.Outcome, fmt.Errorf("%s: %s", kind, ack.Outcome.Reason)
	}
	if a.active.Swap(active) != active {
		a.logger.Info("sync state changed", "active", active)
	}
	return ack.Outcome, nil
}

// do runs fn on the agent loop and waits for its result.
func (a *Agent) do(ctx context.Context, fn func(ctx context.Context) error) error {
	c := command{fn: fn, reply: make(chan error, 1)}
	select {
	case a.commands <- c:
	case <-a.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Activate opts this device into sync.
func (a *Agent) Activate(ctx context.Context) error {
	return a.do(ctx, func(ctx context.Context) error {
		_, err := a.setActive(ctx, true)
		return err
	})
}

// Deactivate opts this device out of sync.
func (a *Agent) Deactivate(ctx context.Context) error {
	return a.do(ctx, func(ctx context.Context) error {
		_, err := a.setActive(ctx, false)
		return err
	})
}

// RemoveClip deletes a clip from the shared history.
func (a *Agent) RemoveClip(ctx context.Context, clipID string) error {
	return a.do(ctx, func(ctx context.Context) error {
		ack, err := a.publish(ctx, model.Request{Kind: model.RequestRemoveClip, ClipID: clipID})
		if err != nil {
			return err
		}
		if !ack.Outcome.Applied {
			return fmt.Errorf("%w: %s", ErrClipNotFound, clipID)
		}
		return nil
	})
}

// ClearClips empties the shared history and returns how many clips went.
func (a *Agent) ClearClips(ctx context.Context) (int, error) {
	var n int
	err := a.do(ctx, func(ctx context.Context) error {
		ack, err := a.publish(ctx, model.Request{Kind: model.RequestClearClips})
		if err != nil {
			return err
		}
		n = ack.Outcome.Count
		return nil
	})
	return n, err
}

// Copy submits text the user entered by hand. It reports whether a new clip
// was added to the history.
func (a *Agent) Copy(ctx context.Context, text string) (bool, error) {
	return a.submit(ctx, func() (clipboard.Detection, bool) { return a.monitor.SubmitManual(text) })
}

// Pasted submits text from a paste event.
func (a *Agent) Pasted(ctx context.Context, text string) (bool, error) {
	return a.submit(ctx, func() (clipboard.Detection, bool) { return a.monitor.HandlePaste(text) })
}

func (a *Agent) submit(ctx context.Context, take func() (clipboard.Detection, bool)) (bool, error) {
	var added bool
	err := a.do(ctx, func(ctx context.Context) error {
		if err := a.gate(); err != nil {
			return err
		}
		det, ok := take()
		if !ok {
			return nil
		}
		out, err := a.addClip(ctx, det.Text)
		added = out.Applied
		return err
	})
	return added, err
}

// Capture reads the clipboard on request and publishes what it finds.
func (a *Agent) Capture(ctx context.Context) (clipboard.CaptureResult, error) {
	var res clipboard.CaptureResult
	err := a.do(ctx, func(ctx context.Context) error {
		if err := a.gate(); err != nil {
			return err
		}
		res = a.monitor.Capture()
		if res.Outcome != clipboard.CaptureCaptured {
			return nil
		}
		_, err := a.addClip(ctx, res.Detection.Text)
		return err
	})
	return res, err
}

// Approve writes a pending clip now that the user accepted it. The approval
// counts as an interaction.
func (a *Agent) Approve(ctx context.Context, clipID string) (clipboard.WriteResult, error) {
	return a.resolve(ctx, clipID, func(text string) clipboard.WriteResult {
		a.monitor.NotifyInteraction(clipboard.InteractionGeneric)
		return a.monitor.WriteToClipboard(text, clipboard.WriteOptions{RequireApproval: true, Approved: true})
	})
}

// ForcePaste writes a pending clip regardless of focus and interaction.
func (a *Agent) ForcePaste(ctx context.Context, clipID string) (clipboard.WriteResult, error) {
	return a.resolve(ctx, clipID, func(text string) clipboard.WriteResult {
		return a.monitor.WriteToClipboard(text, clipboard.WriteOptions{Force: true, Approved: true})
	})
}

func (a *Agent) resolve(ctx context.Context, clipID string, write func(string) clipboard.WriteResult) (clipboard.WriteResult, error) {
	var res clipboard.WriteResult
	err := a.do(ctx, func(context.Context) error {
		p, ok := a.view.Pending(clipID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNoSuchPending, clipID)
		}
		res = write(p.Clip.Text)
		if res.Written {
			a.view.RemovePending(clipID)
			a.written.Add(1)
			return nil
		}
		a.view.AddPending(PendingClip{
			Clip:    p.Clip,
			Reason:  ReasonCopyManually,
			Refusal: res.Refusal.String(),
			At:      p.At,
		})
		return nil
	})
	return res, err
}

// CopyClip writes any clip from the history to the local clipboard. It is an
// explicit user request, so focus and interaction are not required. A pending
// entry for the same clip is resolved by the write.
func (a *Agent) CopyClip(ctx context.Context, clipID string) (clipboard.WriteResult, error) {
	var res clipboard.WriteResult
	err := a.do(ctx, func(context.Context) error {
		clip, ok := a.view.Clip(clipID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrClipNotFound, clipID)
		}
		res = a.monitor.WriteToClipboard(clip.Text, clipboard.WriteOptions{Force: true, Approved: true})
		if res.Written {
			a.view.RemovePending(clipID)
			a.written.Add(1)
			a.logger.Info("clip copied from history", "clip", clipID, "fingerprint", model.Fingerprint(clip.Text))
		}
		return nil
	})
	return res, err
}

// Dismiss drops a pending clip without writing it.
func (a *Agent) Dismiss(clipID string) error {
	if !a.view.RemovePending(clipID) {
		return fmt.Errorf("%w: %s", ErrNoSuchPending, clipID)
	}
	return nil
}

// CatchUp publishes whatever is on the clipboard now if the shared history
// does not already have it. It is called after a reconnect so a copy made
// while offline is not lost. It reports whether a clip was added.
func (a *Agent) CatchUp(ctx context.Context) (bool, error) {
	var added bool
	err := a.do(ctx, func(ctx context.Context) error {
		if a.gate() != nil {
			return nil
		}
		text, err := a.monitor.ReadCurrent()
		if err != nil {
			a.logger.Debug("catch-up read failed", "error", err)
			return nil
		}
		if text == "" || a.view.RecentContains(text, model.DedupWindow) {
			return nil
		}
		out, err := a.addClip(ctx, text)
		added = out.Applied
		return err
	})
	return added, err
}

// Heartbeat checks the session end to end.
func (a *Agent) Heartbeat(ctx context.Context) error {
	return a.sess.Heartbeat(ctx)
}
