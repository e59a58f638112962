package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pokulabs/poku/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting             State = "BOOTING"
	CredentialsRequired State = "CREDENTIALS_REQUIRED"
	Connecting          State = "CONNECTING"
	Backfilling         State = "BACKFILLING"
	Ready               State = "READY"
	Degraded            State = "DEGRADED"
	Error               State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:             {CredentialsRequired, Connecting, Error},
	CredentialsRequired: {Connecting, Error},
	Connecting:          {Backfilling, Ready, Degraded, CredentialsRequired, Error},
	Backfilling:         {Ready, Degraded, Error},
	Ready:               {Degraded, CredentialsRequired, Error},
	Degraded:            {Connecting, Ready, CredentialsRequired, Error},
	Error:               {Booting},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	reason  string
	since   time.Time
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		since:   time.Now(),
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Snapshot returns the current state, the reason given for entering it and
// when that happened.
func (m *Machine) Snapshot() (State, string, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.reason, m.since
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	return m.TransitionWithReason(to, "")
}

// TransitionWithReason is Transition with a human readable cause, such as
// the error that degraded the daemon.
func (m *Machine) TransitionWithReason(to State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.reason = reason
	m.since = time.Now()
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindDaemonStatus,
			Timestamp: m.since,
			Payload: bus.StatusEvent{
				From:   string(from),
				To:     string(to),
				Reason: reason,
			},
		})
	}
	return nil
}
