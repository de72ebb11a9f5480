// Package health provides component health tracking for the preview system
package health

import (
	"sync"
	"time"
)

// State represents the health state of a component
type State int

const (
	// StateHealthy indicates the component is fully operational
	StateHealthy State = iota

	// StateDegraded indicates repeated failures; the component still serves
	// requests but callers may want to alert.
	StateDegraded

	// StateUnavailable indicates the component should be bypassed
	StateUnavailable
)

// String returns the string representation of a health state
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// ComponentHealth tracks the health of a single component
type ComponentHealth struct {
	Name                 string    `json:"name"`
	State                State     `json:"state"`
	LastStateChange      time.Time `json:"last_state_change"`
	ConsecutiveErrors    int       `json:"consecutive_errors"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	LastErrorMessage     string    `json:"last_error_message,omitempty"`
}

// StateChangeCallback is invoked when a component's state changes
type StateChangeCallback func(component string, oldState, newState State, err error)

// TrackerConfig configures the failure thresholds
type TrackerConfig struct {
	// DegradedThreshold is the number of consecutive errors before a
	// component is marked degraded.
	DegradedThreshold int `yaml:"degraded_threshold"`

	// UnavailableThreshold is the number of consecutive errors before a
	// component is marked unavailable.
	UnavailableThreshold int `yaml:"unavailable_threshold"`

	// RecoveryThreshold is the number of consecutive successes needed to
	// return to healthy.
	RecoveryThreshold int `yaml:"recovery_threshold"`
}

// DefaultConfig returns the default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		DegradedThreshold:    3,
		UnavailableThreshold: 10,
		RecoveryThreshold:    2,
	}
}

// Tracker tracks the health of multiple components. A single failure is
// noise; state only changes once the configured thresholds are crossed, so a
// one-off corrupted cache file never raises an alert while a corrupt cache
// directory does.
type Tracker struct {
	mu         sync.Mutex
	config     TrackerConfig
	components map[string]*ComponentHealth
	callbacks  []StateChangeCallback
}

// NewTracker creates a health tracker
func NewTracker(config TrackerConfig) *Tracker {
	if config.DegradedThreshold <= 0 {
		config.DegradedThreshold = DefaultConfig().DegradedThreshold
	}
	if config.UnavailableThreshold <= 0 {
		config.UnavailableThreshold = DefaultConfig().UnavailableThreshold
	}
	if config.RecoveryThreshold <= 0 {
		config.RecoveryThreshold = DefaultConfig().RecoveryThreshold
	}
	return &Tracker{
		config:     config,
		components: make(map[string]*ComponentHealth),
	}
}

// OnStateChange registers a callback for component state transitions
func (t *Tracker) OnStateChange(cb StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// RecordSuccess records a successful operation for the component
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	h := t.component(component)
	h.ConsecutiveErrors = 0
	h.ConsecutiveSuccesses++

	var notify []StateChangeCallback
	var old State
	if h.State != StateHealthy && h.ConsecutiveSuccesses >= t.config.RecoveryThreshold {
		old = h.State
		h.State = StateHealthy
		h.LastStateChange = time.Now()
		notify = append([]StateChangeCallback(nil), t.callbacks...)
	}
	name := h.Name
	t.mu.Unlock()

	for _, cb := range notify {
		cb(name, old, StateHealthy, nil)
	}
}

// RecordFailure records a failed operation for the component
func (t *Tracker) RecordFailure(component string, err error) {
	t.mu.Lock()
	h := t.component(component)
	h.ConsecutiveSuccesses = 0
	h.ConsecutiveErrors++
	if err != nil {
		h.LastErrorMessage = err.Error()
	}

	newState := h.State
	switch {
	case h.ConsecutiveErrors >= t.config.UnavailableThreshold:
		newState = StateUnavailable
	case h.ConsecutiveErrors >= t.config.DegradedThreshold:
		if h.State == StateHealthy {
			newState = StateDegraded
		}
	}

	var notify []StateChangeCallback
	old := h.State
	if newState != h.State {
		h.State = newState
		h.LastStateChange = time.Now()
		notify = append([]StateChangeCallback(nil), t.callbacks...)
	}
	name := h.Name
	t.mu.Unlock()

	for _, cb := range notify {
		cb(name, old, newState, err)
	}
}

// State returns the current state of a component. Unknown components are
// healthy.
func (t *Tracker) State(component string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.components[component]; ok {
		return h.State
	}
	return StateHealthy
}

// Snapshot returns a copy of all component health records
func (t *Tracker) Snapshot() map[string]ComponentHealth {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]ComponentHealth, len(t.components))
	for name, h := range t.components {
		out[name] = *h
	}
	return out
}

func (t *Tracker) component(name string) *ComponentHealth {
	h, ok := t.components[name]
	if !ok {
		h = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: time.Now(),
		}
		t.components[name] = h
	}
	return h
}
