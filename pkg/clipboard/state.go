package clipboard

import "time"

// MonitorState is the polling regime of the monitor.
type MonitorState int

// States are ordered by attentiveness; a transition to a higher value
// triggers an immediate check.
const (
	StateIdle MonitorState = iota
	StatePollingHidden
	StatePollingVisible
	StatePollingFocused
	StatePollingAggressive
)

func (s MonitorState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePollingHidden:
		return "polling_hidden"
	case StatePollingVisible:
		return "polling_visible"
	case StatePollingFocused:
		return "polling_focused"
	case StatePollingAggressive:
		return "polling_aggressive"
	default:
		return "unknown"
	}
}

// Mode says how local clips are discovered.
type Mode int

const (
	// ModeStopped means the monitor is not running.
	ModeStopped Mode = iota
	// ModePolling means the clipboard is read on a timer.
	ModePolling
	// ModeFallback means polling is disabled and clips arrive only through
	// paste events, manual capture and manual entry.
	ModeFallback
)

func (m Mode) String() string {
	switch m {
	case ModeStopped:
		return "stopped"
	case ModePolling:
		return "polling"
	case ModeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Interaction is a user gesture reported to the monitor.
type Interaction int

const (
	// InteractionGeneric is any click or keypress.
	InteractionGeneric Interaction = iota
	// InteractionCopyShortcut is a copy or cut keyboard shortcut.
	InteractionCopyShortcut
	// InteractionSelection is an active text selection.
	InteractionSelection
)

// ParseInteraction maps a presence keyword to an interaction.
func ParseInteraction(s string) (Interaction, bool) {
	switch s {
	case "interact":
		return InteractionGeneric, true
	case "copy", "cut":
		return InteractionCopyShortcut, true
	case "select":
		return InteractionSelection, true
	}
	return 0, false
}

// Intervals configures the polling cadence of each state.
type Intervals struct {
	Hidden     time.Duration `yaml:"hidden"`
	Visible    time.Duration `yaml:"visible"`
	Focused    time.Duration `yaml:"focused"`
	Aggressive time.Duration `yaml:"aggressive"`
	// AggressiveFor is the time box after which aggressive polling reverts.
	AggressiveFor time.Duration `yaml:"aggressive_for"`
}

// DefaultIntervals returns the standard cadence.
func DefaultIntervals() Intervals {
	return Intervals{
		Hidden:        2 * time.Second,
		Visible:       time.Second,
		Focused:       800 * time.Millisecond,
		Aggressive:    500 * time.Millisecond,
		AggressiveFor: 30 * time.Second,
	}
}

func (iv Intervals) withDefaults() Intervals {
	d := DefaultIntervals()
	if iv.Hidden <= 0 {
		iv.Hidden = d.Hidden
	}
	if iv.Visible <= 0 {
		iv.Visible = d.Visible
	}
	if iv.Focused <= 0 {
		iv.Focused = d.Focused
	}
	if iv.Aggressive <= 0 {
		iv.Aggressive = d.Aggressive
	}
	if iv.AggressiveFor <= 0 {
		iv.AggressiveFor = d.AggressiveFor
	}
	return iv
}

func (iv Intervals) of(s MonitorState) time.Duration {
	switch s {
	case StatePollingHidden:
		return iv.Hidden
	case StatePollingVisible:
		return iv.Visible
	case StatePollingFocused:
		return iv.Focused
	case StatePollingAggressive:
		return iv.Aggressive
	default:
		return 0
	}
}
