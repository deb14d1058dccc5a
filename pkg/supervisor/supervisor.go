// Package supervisor owns a device's connection to its hub. It joins the
// session, builds an agent for it, sends heartbeats, and rebuilds everything
// after a failure with throttled, bounded backoff.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Bigwills27/Klipy/pkg/agent"
	"github.com/Bigwills27/Klipy/pkg/clipboard"
	"github.com/Bigwills27/Klipy/pkg/session"
	"github.com/Bigwills27/Klipy/pkg/storage"
)

const (
	DefaultHeartbeatInterval           = 5 * time.Minute
	DefaultBackgroundHeartbeatInterval = 15 * time.Minute
	DefaultJoinTimeout                 = 10 * time.Second
	DefaultHeartbeatTimeout            = 10 * time.Second
)

var (
	// ErrNotConnected is returned when no session is open.
	ErrNotConnected = errors.New("not connected")

	// ErrNoCredentials is returned when no API key is configured or cached.
	ErrNoCredentials = errors.New("no api key configured")

	// ErrStopped is returned once Run has returned.
	ErrStopped = errors.New("supervisor stopped")
)

// Logger interface for supervisor logging.
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

// CredentialStore caches the API key and account between runs.
// *storage.Bolt implements it.
type CredentialStore interface {
	Credentials() (*storage.Credentials, error)
	SaveCredentials(c storage.Credentials) error
}

// ViewStore caches the last known view between runs. *storage.Bolt
// implements it.
type ViewStore interface {
	View() (*storage.ViewCache, error)
	SaveView(v storage.ViewCache) error
}

// Config holds supervisor configuration.
type Config struct {
	Transport   session.Transport
	Monitor     *clipboard.Monitor
	View        *agent.View
	Credentials CredentialStore
	ViewStore   ViewStore

	DeviceID    string
	DeviceName  string
	APIKey      string
	AlwaysOn    bool
	AutoApprove bool

	HeartbeatInterval           time.Duration
	BackgroundHeartbeatInterval time.Duration
	JoinTimeout                 time.Duration
	Backoff                     Backoff
	MaxAttempts                 int
	ThrottleWindow              time.Duration

	Clock  clockwork.Clock
	Logger Logger
	// AgentLogger is handed to every agent the supervisor builds.
	AgentLogger agent.Logger
}

// Validate checks the config and applies defaults.
func (c *Config) Validate() error {
	if c.Transport == nil {
		return errors.New("transport is required")
	}
	if c.Monitor == nil {
		return errors.New("monitor is required")
	}
	if c.DeviceID == "" {
		return errors.New("device id is required")
	}
	if c.View == nil {
		c.View = agent.NewView(0)
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.BackgroundHeartbeatInterval <= 0 {
		c.BackgroundHeartbeatInterval = DefaultBackgroundHeartbeatInterval
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	c.Backoff = c.Backoff.withDefaults()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.ThrottleWindow <= 0 {
		c.ThrottleWindow = DefaultThrottleWindow
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	return nil
}

// Status is a point-in-time report for the status command.
type Status struct {
	State         State            `json:"state"`
	Attempt       int              `json:"attempt"`
	MaxAttempts   int              `json:"max_attempts"`
	NextAttempt   time.Time        `json:"next_attempt,omitempty"`
	NextHeartbeat time.Time        `json:"next_heartbeat,omitempty"`
	LastError     string           `json:"last_error,omitempty"`
	Background    bool             `json:"background"`
	DeviceID      string           `json:"device_id"`
	Identity      session.Identity `json:"identity"`
	Active        bool             `json:"active"`
	ConnectedAt   time.Time        `json:"connected_at,omitempty"`
	Transitions   []Transition     `json:"transitions,omitempty"`
}

type agentExit struct {
	agent *agent.Agent
	err   error
}

// Supervisor runs the connection state machine for one device. All state
// changes happen on the Run goroutine; other methods hand work to it.
type Supervisor struct {
	cfg    Config
	clock  clockwork.Clock
	logger Logger
	rc     *Reconnector
	log    *transitionLog

	signals chan error
	ctrl    chan func(ctx context.Context)
	exits   chan agentExit
	stopped chan struct{}

	// Owned by the Run goroutine.
	sess        session.Session
	agentCancel context.CancelFunc
	apiKey      string
	nextBeat    time.Time
	wasActive   bool
	// lost holds a failure that arrived inside the throttle window. The
	// heartbeat after the window reports it again.
	lost error

	mu          sync.RWMutex
	state       State
	agent       *agent.Agent
	identity    session.Identity
	lastErr     error
	background  bool
	connectedAt time.Time
}

// New creates a supervisor. Call Run to connect.
func New(cfg Config) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid supervisor config: %w", err)
	}
	return &Supervisor{
		cfg:     cfg,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		rc:      NewReconnector(cfg.Backoff, cfg.MaxAttempts, cfg.ThrottleWindow),
		log:     newTransitionLog(0),
		signals: make(chan error),
		ctrl:    make(chan func(ctx context.Context)),
		exits:   make(chan agentExit, 1),
		stopped: make(chan struct{}),
		apiKey:  cfg.APIKey,
	}, nil
}

// Run connects and keeps the device connected until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	defer close(s.stopped)
	defer func() {
		s.teardown()
		s.saveView()
		s.setState(StateDisconnected, nil)
	}()

	s.loadView()
	s.setState(StateConnecting, nil)
	if err := s.connect(ctx); err != nil {
		s.failure(err)
	}

	var timer clockwork.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		var tick <-chan time.Time
		if at, ok := s.deadline(); ok {
			timer = s.clock.NewTimer(at.Sub(s.clock.Now()))
			tick = timer.Chan()
		}
		var done <-chan struct{}
		if s.sess != nil && s.lost == nil {
			done = s.sess.Done()
		}

		select {
		case <-ctx.Done():
			return nil

		case <-tick:
			s.onTimer(ctx)

		case <-done:
			s.fail(fmt.Errorf("session ended: %w", s.sess.Err()))

		case ex := <-s.exits:
			if ex.agent == s.currentAgent() && ex.err != nil && !errors.Is(ex.err, context.Canceled) {
				s.fail(fmt.Errorf("agent stopped: %w", ex.err))
			}

		case err := <-s.signals:
			s.failure(err)

		case fn := <-s.ctrl:
			fn(ctx)
		}

		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}
}

func (s *Supervisor) deadline() (time.Time, bool) {
	switch s.State() {
	case StateConnected:
		return s.nextBeat, s.sess != nil
	case StateReconnecting:
		at := s.rc.WakeAt()
		return at, !at.IsZero()
	}
	return time.Time{}, false
}

func (s *Supervisor) onTimer(ctx context.Context) {
	now := s.clock.Now()
	switch s.State() {
	case StateConnected:
		if !now.Before(s.nextBeat) {
			s.heartbeat(ctx)
		}
	case StateReconnecting:
		if s.rc.Due(now) {
			s.attempt(ctx)
		}
	}
}

// connect joins, builds and starts the agent, and restarts monitoring.
func (s *Supervisor) connect(ctx context.Context) error {
	key, err := s.credentials()
	if err != nil {
		return err
	}

	jctx, cancel := context.WithTimeout(ctx, s.cfg.JoinTimeout)
	sess, err := s.cfg.Transport.Join(jctx, session.JoinParams{
		DeviceID:   s.cfg.DeviceID,
		DeviceName: s.cfg.DeviceName,
		APIKey:     key,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("join: %w", err)
	}

	identity := sess.Welcome().Identity
	if s.cfg.Credentials != nil {
		creds := storage.Credentials{APIKey: key, UserID: identity.UserID, Email: identity.Email, Name: identity.Name}
		if err := s.cfg.Credentials.SaveCredentials(creds); err != nil {
			s.logger.Warn("failed to cache credentials", "error", err)
		}
	}

	a, err := agent.New(agent.Config{
		Session:     sess,
		Monitor:     s.cfg.Monitor,
		View:        s.cfg.View,
		DeviceID:    s.cfg.DeviceID,
		DeviceName:  s.cfg.DeviceName,
		AlwaysOn:    s.cfg.AlwaysOn,
		AutoApprove: s.cfg.AutoApprove,
		Clock:       s.clock,
		Logger:      s.cfg.AgentLogger,
	})
	if err != nil {
		_ = sess.Leave()
		return err
	}

	actx, acancel := context.WithCancel(ctx)
	go func() {
		err := a.Run(actx)
		select {
		case s.exits <- agentExit{agent: a, err: err}:
		case <-s.stopped:
		}
	}()

	s.sess = sess
	s.agentCancel = acancel
	s.lost = nil
	s.nextBeat = s.clock.Now().Add(s.heartbeatInterval())
	s.rc.Succeeded()

	s.mu.Lock()
	s.agent = a
	s.identity = identity
	s.lastErr = nil
	s.connectedAt = s.clock.Now()
	s.mu.Unlock()
	s.setState(StateConnected, nil)
	s.logger.Info("connected", "device", s.cfg.DeviceID, "user", identity.UserID)

	if s.wasActive {
		s.reconcile(ctx, a)
	}
	s.startMonitor(ctx)
	return nil
}

// reconcile re-activates sync and publishes anything copied while offline.
func (s *Supervisor) reconcile(ctx context.Context, a *agent.Agent) {
	if !s.cfg.AlwaysOn {
		if err := a.Activate(ctx); err != nil {
			s.logger.Warn("failed to restore sync", "error", err)
			return
		}
	}
	added, err := a.CatchUp(ctx)
	if err != nil {
		s.logger.Warn("catch-up failed", "error", err)
		return
	}
	if added {
		s.logger.Info("published clip copied while offline")
	}
}

func (s *Supervisor) startMonitor(ctx context.Context) {
	m := s.cfg.Monitor
	if !m.Capabilities().Read {
		m.EnterFallback()
		return
	}
	if err := m.Start(ctx); err != nil {
		s.logger.Warn("failed to start clipboard monitor", "error", err)
	}
}

func (s *Supervisor) credentials() (string, error) {
	if s.apiKey != "" {
		return s.apiKey, nil
	}
	if s.cfg.Credentials == nil {
		return "", ErrNoCredentials
	}
	creds, err := s.cfg.Credentials.Credentials()
	if err != nil {
		return "", fmt.Errorf("load credentials: %w", err)
	}
	if creds == nil || creds.APIKey == "" {
		return "", ErrNoCredentials
	}
	s.logger.Info("restored cached credentials", "user", creds.UserID)
	s.apiKey = creds.APIKey
	return s.apiKey, nil
}

// failure starts a reconnection sequence unless one is running or the
// signal is throttled.
func (s *Supervisor) failure(err error) {
	now := s.clock.Now()
	if !s.rc.Signal(now) {
		s.logger.Debug("failure signal ignored", "error", err, "in_flight", s.rc.InFlight(), "exhausted", s.rc.Exhausted())
		return
	}

	s.logger.Warn("connection lost", "error", err, "retry_in", s.rc.Delay())
	s.teardown()
	s.setState(StateReconnecting, err)
}

// fail handles a failure of the current connection. When the signal is
// throttled the failure is kept and reported again by the heartbeat that
// follows the throttle window.
func (s *Supervisor) fail(err error) {
	s.failure(err)
	if s.State() != StateConnected || s.lost != nil {
		return
	}
	s.lost = err
	s.nextBeat = s.rc.ThrottledUntil()
}

func (s *Supervisor) attempt(ctx context.Context) {
	now := s.clock.Now()
	s.rc.Attempted(now)
	n := s.rc.Attempt()
	s.logger.Info("reconnecting", "attempt", n, "max_attempts", s.rc.MaxAttempts())

	err := s.connect(ctx)
	if err == nil {
		s.logger.Info("reconnected", "attempt", n)
		return
	}
	if ctx.Err() != nil {
		return
	}

	if s.rc.Failed(now) {
		s.logger.Warn("reconnect failed", "attempt", n, "error", err, "retry_in", s.rc.Delay())
		s.setState(StateReconnecting, err)
		return
	}
	s.logger.Error("giving up reconnecting", "attempts", n, "error", err)
	s.setState(StatePermanentlyDisconnected, err)
}

func (s *Supervisor) heartbeat(ctx context.Context) {
	s.nextBeat = s.clock.Now().Add(s.heartbeatInterval())
	if s.lost != nil {
		s.failure(s.lost)
		return
	}
	hctx, cancel := context.WithTimeout(ctx, DefaultHeartbeatTimeout)
	defer cancel()
	if err := s.sess.Heartbeat(hctx); err != nil {
		s.failure(fmt.Errorf("heartbeat: %w", err))
		return
	}
	s.logger.Debug("heartbeat ok")
}

func (s *Supervisor) heartbeatInterval() time.Duration {
	if s.Background() {
		return s.cfg.BackgroundHeartbeatInterval
	}
	return s.cfg.HeartbeatInterval
}

// teardown stops the monitor and the agent and leaves the session.
func (s *Supervisor) teardown() {
	a := s.currentAgent()
	if a == nil && s.sess == nil {
		return
	}
	if a != nil {
		s.wasActive = a.Active()
	}
	s.cfg.Monitor.Stop()
	if s.agentCancel != nil {
		s.agentCancel()
		s.agentCancel = nil
	}
	if s.sess != nil {
		if err := s.sess.Leave(); err != nil {
			s.logger.Debug("leave failed", "error", err)
		}
		s.sess = nil
	}
	s.mu.Lock()
	s.agent = nil
	s.mu.Unlock()
	s.saveView()
}

func (s *Supervisor) setState(next State, cause error) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	if cause != nil {
		s.lastErr = cause
	}
	s.mu.Unlock()

	if prev == next {
		return
	}
	t := Transition{From: prev, To: next, At: s.clock.Now()}
	if cause != nil {
		t.Error = cause.Error()
	}
	s.log.Push(t)
	s.logger.Debug("connection state changed", "from", prev.String(), "to", next.String())
}

func (s *Supervisor) loadView() {
	if s.cfg.ViewStore == nil {
		return
	}
	cache, err := s.cfg.ViewStore.View()
	if err != nil {
		s.logger.Warn("failed to load cached view", "error", err)
		return
	}
	if cache != nil {
		s.cfg.View.LoadCache(*cache)
	}
}

func (s *Supervisor) saveView() {
	if s.cfg.ViewStore == nil {
		return
	}
	if err := s.cfg.ViewStore.SaveView(s.cfg.View.Cache()); err != nil {
		s.logger.Warn("failed to save view", "error", err)
	}
}

func (s *Supervisor) currentAgent() *agent.Agent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agent
}

// run hands fn to the Run goroutine and waits for it.
func (s *Supervisor) run(ctx context.Context, fn func(ctx context.Context)) error {
	done := make(chan struct{})
	wrapped := func(ctx context.Context) {
		defer close(done)
		fn(ctx)
	}
	select {
	case s.ctrl <- wrapped:
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the connection state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Agent returns the agent of the open session.
func (s *Supervisor) Agent() (*agent.Agent, error) {
	if a := s.currentAgent(); a != nil {
		return a, nil
	}
	return nil, ErrNotConnected
}

// View returns the device view. It stays readable while disconnected.
func (s *Supervisor) View() *agent.View { return s.cfg.View }

// Monitor returns the clipboard monitor.
func (s *Supervisor) Monitor() *clipboard.Monitor { return s.cfg.Monitor }

// Background reports whether the device is backgrounded.
func (s *Supervisor) Background() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.background
}

// ReportFailure feeds an external failure signal to the state machine.
func (s *Supervisor) ReportFailure(ctx context.Context, err error) error {
	select {
	case s.signals <- err:
		return nil
	case <-s.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EnterBackground lowers the heartbeat frequency and marks the device hidden.
// The connection stays up.
func (s *Supervisor) EnterBackground(ctx context.Context) error {
	return s.run(ctx, func(context.Context) {
		s.mu.Lock()
		s.background = true
		s.mu.Unlock()
		s.cfg.Monitor.SetPresence(false, false)
		if s.State() == StateConnected {
			s.nextBeat = s.clock.Now().Add(s.cfg.BackgroundHeartbeatInterval)
		}
		s.logger.Debug("entered background")
	})
}

// EnterForeground restores the normal heartbeat and checks the connection
// right away. While reconnecting, the pending attempt is moved to now unless
// the previous attempt is still inside the throttle window, in which case it
// runs when the window closes.
func (s *Supervisor) EnterForeground(ctx context.Context) error {
	return s.run(ctx, func(ctx context.Context) {
		s.mu.Lock()
		s.background = false
		s.mu.Unlock()
		_, focused := s.cfg.Monitor.Presence()
		s.cfg.Monitor.SetPresence(true, focused)
		switch s.State() {
		case StateConnected:
			s.heartbeat(ctx)
		case StateReconnecting:
			if s.rc.Expedite(s.clock.Now()) {
				s.logger.Info("reconnect attempt moved forward", "at", s.rc.WakeAt())
			}
		}
		s.logger.Debug("entered foreground")
	})
}

// Retry restarts reconnection with a fresh attempt counter. It does nothing
// unless the supervisor has given up.
func (s *Supervisor) Retry(ctx context.Context) error {
	var err error
	runErr := s.run(ctx, func(context.Context) {
		if st := s.State(); st != StatePermanentlyDisconnected && st != StateDisconnected {
			err = fmt.Errorf("cannot retry while %s", st)
			return
		}
		s.rc.Reset()
		s.rc.Signal(s.clock.Now())
		s.setState(StateReconnecting, nil)
		s.logger.Info("manual retry requested")
	})
	if runErr != nil {
		return runErr
	}
	return err
}

// Status returns a report of the connection.
func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.run(ctx, func(context.Context) {
		st = Status{
			Attempt:     s.rc.Attempt(),
			MaxAttempts: s.rc.MaxAttempts(),
			NextAttempt: s.rc.WakeAt(),
			DeviceID:    s.cfg.DeviceID,
			Transitions: s.log.List(),
		}
		if s.sess != nil && s.State() == StateConnected {
			st.NextHeartbeat = s.nextBeat
		}
		s.mu.RLock()
		st.State = s.state
		st.Background = s.background
		st.Identity = s.identity
		st.ConnectedAt = s.connectedAt
		if s.lastErr != nil {
			st.LastError = s.lastErr.Error()
		}
		a := s.agent
		s.mu.RUnlock()
		if a != nil {
			st.Active = a.Active()
		}
	})
	return st, err
}

// Done is closed when Run returns.
func (s *Supervisor) Done() <-chan struct{} { return s.stopped }
