package clipboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Bigwills27/Klipy/pkg/model"
)

// DefaultMaxConsecutiveErrors is how many unexplained read failures in a row
// demote the monitor to fallback mode.
const DefaultMaxConsecutiveErrors = 5

// DefaultInteractionWindow is how recent a user interaction must be for an
// unforced clipboard write.
const DefaultInteractionWindow = 5 * time.Second

// Source says how a detection was obtained.
type Source int

const (
	SourcePoll Source = iota
	SourcePaste
	SourceCapture
	SourceManual
	SourceCheck
)

func (s Source) String() string {
	switch s {
	case SourcePoll:
		return "poll"
	case SourcePaste:
		return "paste"
	case SourceCapture:
		return "capture"
	case SourceManual:
		return "manual"
	case SourceCheck:
		return "check"
	default:
		return "unknown"
	}
}

// Detection is a new local clip candidate.
type Detection struct {
	Text   string
	Source Source
	At     time.Time
}

// CheckOutcome classifies a single clipboard read.
type CheckOutcome int

const (
	CheckDetected CheckOutcome = iota
	CheckUnchanged
	CheckEmpty
	CheckPermissionDenied
	CheckUnavailable
	CheckFailed
)

func (o CheckOutcome) String() string {
	switch o {
	case CheckDetected:
		return "detected"
	case CheckUnchanged:
		return "unchanged"
	case CheckEmpty:
		return "empty"
	case CheckPermissionDenied:
		return "permission_denied"
	case CheckUnavailable:
		return "unavailable"
	case CheckFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CheckResult is returned by CheckOnce.
type CheckResult struct {
	Outcome CheckOutcome
	Text    string
	Err     error
}

// Logger interface for monitor logging.
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

// MonitorConfig holds monitor configuration.
type MonitorConfig struct {
	Clipboard            Clipboard
	Clock                clockwork.Clock
	Logger               Logger
	Intervals            Intervals
	MaxConsecutiveErrors int
	InteractionWindow    time.Duration
	// AutoWrite permits unforced writes of remote content.
	AutoWrite bool
	// Visible and Focused are the initial presence.
	Visible bool
	Focused bool
	// DetectionBuffer sizes the detections channel.
	DetectionBuffer int
}

// Validate checks the config and applies defaults.
func (c *MonitorConfig) Validate() error {
	if c.Clipboard == nil {
		return errors.New("clipboard is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = noopLogger{}
	}
	c.Intervals = c.Intervals.withDefaults()
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = DefaultMaxConsecutiveErrors
	}
	if c.InteractionWindow <= 0 {
		c.InteractionWindow = DefaultInteractionWindow
	}
	if c.DetectionBuffer <= 0 {
		c.DetectionBuffer = 16
	}
	return nil
}

// Monitor watches the local clipboard and reports new content.
//
// In polling mode a single goroutine reads the clipboard on an interval that
// follows presence: slow while hidden, faster while visible or focused, and
// fastest for a short time box after a copy gesture. Whenever presence moves
// to a more attentive state the loop checks immediately before re-arming.
//
// The monitor owns only the last seen value. It never touches shared state;
// detections are handed to whoever reads Detections.
type Monitor struct {
	cb     Clipboard
	clock  clockwork.Clock
	logger Logger
	cfg    MonitorConfig

	// readMu serializes clipboard reads and writes so a slow read finishes
	// before the next one starts.
	readMu sync.Mutex

	mu                sync.Mutex
	state             MonitorState
	mode              Mode
	visible           bool
	focused           bool
	autoWrite         bool
	aggressiveUntil   time.Time
	lastInteraction   time.Time
	lastSeen          string
	consecutiveErrors int
	checkPending      bool
	running           bool
	cancel            context.CancelFunc
	done              chan struct{}
	nextPoll          time.Time

	// unsupported is set once a read reports ErrNotSupported. The demotion
	// it causes survives Stop and Start.
	unsupported bool

	wake       chan struct{}
	detections chan Detection
	stats      monitorStats
}

// NewMonitor creates a stopped monitor.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid monitor config: %w", err)
	}
	return &Monitor{
		cb:         cfg.Clipboard,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
		cfg:        cfg,
		visible:    cfg.Visible,
		focused:    cfg.Focused,
		autoWrite:  cfg.AutoWrite,
		wake:       make(chan struct{}, 1),
		detections: make(chan Detection, cfg.DetectionBuffer),
	}, nil
}

// Detections delivers clips found by the polling loop and by CheckOnce. The
// channel stays open across Stop and Start.
func (m *Monitor) Detections() <-chan Detection {
	return m.detections
}

// Capabilities returns the backend capabilities.
func (m *Monitor) Capabilities() Capabilities {
	return m.cb.Capabilities()
}

// Start begins monitoring. It is idempotent. Starting a backend that cannot
// read is a precondition violation and returns ErrCapabilityUnavailable;
// callers check Capabilities first and use EnterFallback instead.
//
// The current clipboard content is recorded as already seen, so Start never
// reports it. A monitor that found reads unsupported starts in fallback mode.
func (m *Monitor) Start(ctx context.Context) error {
	caps := m.cb.Capabilities()
	if !caps.Read {
		return fmt.Errorf("start monitor: %w", ErrCapabilityUnavailable)
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.consecutiveErrors = 0
	if caps.ReliableRead && !m.unsupported {
		m.mode = ModePolling
		m.state = m.baseStateLocked()
	} else {
		m.mode = ModeFallback
		m.state = StateIdle
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done
	mode, state := m.mode, m.state
	m.mu.Unlock()

	m.prime()
	m.logger.Info("clipboard monitor started", "mode", mode.String(), "state", state.String())

	go m.run(ctx, done)
	return nil
}

// Stop halts polling and waits for the loop to exit. It is idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done

	m.mu.Lock()
	m.state = StateIdle
	if m.mode == ModePolling {
		m.mode = ModeStopped
	}
	m.mu.Unlock()
	m.logger.Info("clipboard monitor stopped")
}

// State returns the current polling state.
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NextPoll reports when the loop will next read the clipboard. It is zero
// while the loop is not armed.
func (m *Monitor) NextPoll() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextPoll
}

// Mode returns the current discovery mode.
func (m *Monitor) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Stats returns activity counters.
func (m *Monitor) Stats() Stats {
	return m.stats.snapshot()
}

// Presence returns the last reported visibility and focus.
func (m *Monitor) Presence() (visible, focused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible, m.focused
}

// SetPresence records visibility and focus changes.
func (m *Monitor) SetPresence(visible, focused bool) {
	now := m.clock.Now()

	m.mu.Lock()
	gainedFocus := focused && !m.focused
	m.visible, m.focused = visible, focused
	if m.mode != ModePolling {
		m.mu.Unlock()
		return
	}

	prev := m.state
	next := m.baseStateLocked()
	if prev == StatePollingAggressive && !gainedFocus && now.Before(m.aggressiveUntil) {
		next = StatePollingAggressive
	}
	m.state = next
	immediate := next > prev || gainedFocus
	m.mu.Unlock()

	if next != prev {
		m.logger.Debug("monitor state changed", "from", prev.String(), "to", next.String())
	}
	m.signal(immediate)
}

// NotifyInteraction records a user gesture. Copy shortcuts and selections
// switch to aggressive polling for the configured time box.
func (m *Monitor) NotifyInteraction(kind Interaction) {
	now := m.clock.Now()

	m.mu.Lock()
	m.lastInteraction = now
	if m.mode != ModePolling || kind == InteractionGeneric {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = StatePollingAggressive
	m.aggressiveUntil = now.Add(m.cfg.Intervals.AggressiveFor)
	m.mu.Unlock()

	if prev != StatePollingAggressive {
		m.logger.Debug("monitor state changed", "from", prev.String(), "to", StatePollingAggressive.String())
	}
	m.signal(prev != StatePollingAggressive)
}

// CheckOnce reads the clipboard once and reports what it found. New content
// is also sent on Detections, like a polled change. When the channel is full
// the detection is dropped and only the result carries it.
func (m *Monitor) CheckOnce() CheckResult {
	res := m.check()
	if res.Outcome != CheckDetected {
		return res
	}
	det := Detection{Text: res.Text, Source: SourceCheck, At: m.clock.Now()}
	select {
	case m.detections <- det:
	default:
		m.logger.Warn("detections channel full, dropping checked clip", "fingerprint", model.Fingerprint(res.Text))
	}
	return res
}

// EnterFallback disables polling in favour of paste events and manual
// capture.
func (m *Monitor) EnterFallback() {
	m.demote("fallback requested")
}

func (m *Monitor) baseStateLocked() MonitorState {
	switch {
	case !m.visible:
		return StatePollingHidden
	case m.focused:
		return StatePollingFocused
	default:
		return StatePollingVisible
	}
}

// signal asks the loop to re-arm, checking first when immediate is set.
func (m *Monitor) signal(immediate bool) {
	if immediate {
		m.mu.Lock()
		m.checkPending = true
		m.mu.Unlock()
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Monitor) takePending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.checkPending
	m.checkPending = false
	return p
}

// prime records the current content as seen without reporting it.
func (m *Monitor) prime() {
	m.readMu.Lock()
	text, err := m.cb.Read()
	m.readMu.Unlock()

	m.stats.reads.Add(1)
	if err != nil {
		if errors.Is(err, ErrNotSupported) {
			m.markUnsupported()
		}
		return
	}
	m.mu.Lock()
	if t := strings.TrimSpace(text); t != "" {
		m.lastSeen = t
	}
	m.mu.Unlock()
}

func (m *Monitor) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	var timer clockwork.Timer
	arm := func() <-chan time.Time {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
		d, ok := m.nextInterval()
		if !ok {
			m.setNextPoll(time.Time{})
			return nil
		}
		timer = m.clock.NewTimer(d)
		m.setNextPoll(m.clock.Now().Add(d))
		return timer.Chan()
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		m.setNextPoll(time.Time{})
	}()

	tick := arm()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
			if m.takePending() {
				m.poll(ctx)
			}
		case <-tick:
			m.expireAggressive()
			m.poll(ctx)
		}
		tick = arm()
	}
}

func (m *Monitor) setNextPoll(at time.Time) {
	m.mu.Lock()
	m.nextPoll = at
	m.mu.Unlock()
}

// nextInterval returns the delay until the next tick, or false when polling
// is disabled. Aggressive polling never overshoots its time box.
func (m *Monitor) nextInterval() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mode != ModePolling || m.state == StateIdle {
		return 0, false
	}
	d := m.cfg.Intervals.of(m.state)
	if m.state == StatePollingAggressive {
		if remaining := m.aggressiveUntil.Sub(m.clock.Now()); remaining < d {
			d = remaining
		}
	}
	if d < 0 {
		d = 0
	}
	return d, true
}

func (m *Monitor) expireAggressive() {
	m.mu.Lock()
	if m.state != StatePollingAggressive || m.clock.Now().Before(m.aggressiveUntil) {
		m.mu.Unlock()
		return
	}
	next := m.baseStateLocked()
	m.state = next
	m.mu.Unlock()
	m.logger.Debug("aggressive polling expired", "to", next.String())
}

// poll runs a loop-driven check and delivers any detection.
func (m *Monitor) poll(ctx context.Context) {
	if m.Mode() != ModePolling {
		return
	}
	res := m.check()
	if res.Outcome != CheckDetected {
		return
	}
	det := Detection{Text: res.Text, Source: SourcePoll, At: m.clock.Now()}
	select {
	case m.detections <- det:
	case <-ctx.Done():
	}
}

func (m *Monitor) check() CheckResult {
	m.readMu.Lock()
	text, err := m.cb.Read()
	m.readMu.Unlock()
	m.stats.reads.Add(1)

	if err != nil {
		return m.classify(err)
	}

	text = strings.TrimSpace(text)

	m.mu.Lock()
	m.consecutiveErrors = 0
	if text == "" {
		m.mu.Unlock()
		return CheckResult{Outcome: CheckEmpty}
	}
	if text == m.lastSeen {
		m.mu.Unlock()
		return CheckResult{Outcome: CheckUnchanged}
	}
	m.lastSeen = text
	m.mu.Unlock()

	m.stats.detections.Add(1)
	m.logger.Debug("local clip detected", "fingerprint", model.Fingerprint(text), "len", len(text))
	return CheckResult{Outcome: CheckDetected, Text: text}
}

func (m *Monitor) classify(err error) CheckResult {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		m.stats.permissionDenied.Add(1)
		return CheckResult{Outcome: CheckPermissionDenied, Err: err}

	case errors.Is(err, ErrNotSupported):
		m.markUnsupported()
		return CheckResult{Outcome: CheckUnavailable, Err: err}
	}

	m.stats.failures.Add(1)
	m.mu.Lock()
	m.consecutiveErrors++
	n := m.consecutiveErrors
	m.mu.Unlock()

	m.logger.Warn("clipboard read failed", "error", err, "consecutive", n)
	if n >= m.cfg.MaxConsecutiveErrors {
		m.demote(fmt.Sprintf("%d consecutive read failures", n))
	}
	return CheckResult{Outcome: CheckFailed, Err: err}
}

// markUnsupported demotes the monitor for good. ErrNotSupported does not go
// away by retrying.
func (m *Monitor) markUnsupported() {
	m.mu.Lock()
	m.unsupported = true
	m.mu.Unlock()
	m.demote("read unsupported")
}

func (m *Monitor) demote(reason string) {
	m.mu.Lock()
	if m.mode == ModeFallback {
		m.mu.Unlock()
		return
	}
	m.mode = ModeFallback
	m.state = StateIdle
	m.mu.Unlock()

	m.stats.demotions.Add(1)
	m.logger.Warn("clipboard polling disabled, using paste fallback", "reason", reason)
	m.signal(false)
}
