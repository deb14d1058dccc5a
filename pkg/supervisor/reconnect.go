package supervisor

import "time"

const (
	// DefaultMaxAttempts is how many reconnection attempts are made before
	// giving up.
	DefaultMaxAttempts = 3

	// DefaultThrottleWindow is how long after an attempt new failure
	// signals are ignored.
	DefaultThrottleWindow = 30 * time.Second
)

// Reconnector is the reconnection state machine. It does no I/O and owns no
// timers: the supervisor loop feeds it failure signals and attempt results
// along with the current time, and arms a timer for WakeAt.
//
// At most one sequence is in flight. A failure signal is dropped while a
// sequence runs, after the attempts are exhausted, or within the throttle
// window of the previous attempt.
type Reconnector struct {
	backoff     Backoff
	maxAttempts int
	throttle    time.Duration

	attempt     int
	delay       time.Duration
	wakeAt      time.Time
	lastAttempt time.Time
	inFlight    bool
	exhausted   bool
}

// NewReconnector creates an idle state machine.
func NewReconnector(b Backoff, maxAttempts int, throttle time.Duration) *Reconnector {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if throttle < 0 {
		throttle = DefaultThrottleWindow
	}
	return &Reconnector{
		backoff:     b.withDefaults(),
		maxAttempts: maxAttempts,
		throttle:    throttle,
	}
}

// Signal reports a failure. It returns true when a new sequence starts, in
// which case the first attempt is due at WakeAt.
func (r *Reconnector) Signal(now time.Time) bool {
	if r.inFlight || r.exhausted {
		return false
	}
	if !r.lastAttempt.IsZero() && now.Sub(r.lastAttempt) < r.throttle {
		return false
	}
	r.inFlight = true
	r.schedule(now)
	return true
}

func (r *Reconnector) schedule(now time.Time) {
	r.attempt++
	r.delay = r.backoff.Delay(r.attempt)
	r.wakeAt = now.Add(r.delay)
}

// Due reports whether the scheduled attempt should run.
func (r *Reconnector) Due(now time.Time) bool {
	return r.inFlight && !now.Before(r.wakeAt)
}

// Expedite pulls the scheduled attempt forward to now, but never inside the
// throttle window of the previous attempt. It reports whether WakeAt moved.
func (r *Reconnector) Expedite(now time.Time) bool {
	if !r.inFlight {
		return false
	}
	at := now
	if !r.lastAttempt.IsZero() {
		if until := r.ThrottledUntil(); until.After(at) {
			at = until
		}
	}
	if !at.Before(r.wakeAt) {
		return false
	}
	r.wakeAt = at
	return true
}

// Attempted records that an attempt started at now.
func (r *Reconnector) Attempted(now time.Time) {
	r.lastAttempt = now
}

// Succeeded ends the sequence and resets the attempt counter.
func (r *Reconnector) Succeeded() {
	r.attempt = 0
	r.delay = 0
	r.wakeAt = time.Time{}
	r.inFlight = false
	r.exhausted = false
}

// Failed records a failed attempt. It returns true when another attempt is
// scheduled and false when the attempts are exhausted.
func (r *Reconnector) Failed(now time.Time) bool {
	if r.attempt >= r.maxAttempts {
		r.inFlight = false
		r.exhausted = true
		r.wakeAt = time.Time{}
		return false
	}
	r.schedule(now)
	return true
}

// Reset clears all history so the next Signal starts a fresh sequence.
func (r *Reconnector) Reset() {
	r.Succeeded()
	r.lastAttempt = time.Time{}
}

// ThrottledUntil returns when failure signals are accepted again.
func (r *Reconnector) ThrottledUntil() time.Time {
	return r.lastAttempt.Add(r.throttle)
}

// Attempt returns the number of the current or last attempt.
func (r *Reconnector) Attempt() int { return r.attempt }

// Delay returns the wait before the current attempt.
func (r *Reconnector) Delay() time.Duration { return r.delay }

// WakeAt returns when the next attempt is due, or zero when none is.
func (r *Reconnector) WakeAt() time.Time { return r.wakeAt }

// InFlight reports whether a sequence is running.
func (r *Reconnector) InFlight() bool { return r.inFlight }

// Exhausted reports whether every attempt failed.
func (r *Reconnector) Exhausted() bool { return r.exhausted }

// MaxAttempts returns the configured attempt limit.
func (r *Reconnector) MaxAttempts() int { return r.maxAttempts }
