package supervisor

import "time"

// Backoff computes the delay before a reconnection attempt. The delay grows
// linearly with the attempt number and is capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff returns a backoff with default settings
func DefaultBackoff() Backoff {
	return Backoff{
		Base: 2 * time.Second,
		Max:  30 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Base <= 0 {
		b.Base = d.Base
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Max < b.Base {
		b.Max = b.Base
	}
	return b
}

// Delay returns the wait before the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return b.Base
	}
	if time.Duration(attempt) > b.Max/b.Base {
		return b.Max
	}
	d := time.Duration(attempt) * b.Base
	if d > b.Max {
		return b.Max
	}
	return d
}
