// Package status tracks the push-channel connection lifecycle.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/flintchat/flint/internal/bus"
)

// State represents a push-channel connection state.
type State string

const (
	Disconnected State = "DISCONNECTED"
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	// ReconnectFailed is terminal: the transport exhausted its retry
	// budget and only an explicit reconnect (or restart) leaves it.
	ReconnectFailed State = "RECONNECT_FAILED"
)

// validTransitions defines allowed state transitions. Transitions are
// driven by transport notifications; the reconciler only observes them.
var validTransitions = map[State][]State{
	Disconnected:    {Connecting},
	Connecting:      {Connected, Reconnecting, Disconnected},
	Connected:       {Reconnecting, Disconnected},
	Reconnecting:    {Connected, Connecting, ReconnectFailed, Disconnected},
	ReconnectFailed: {Connecting, Disconnected},
}

// Machine tracks and enforces connection state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Disconnected.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Disconnected,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Online reports whether the channel is usable for emits.
func (m *Machine) Online() bool {
	return m.Current() == Connected
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed; a transition to the current state is a
// no-op so duplicate transport notifications are harmless.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.New(bus.KindConnStatus, StatusChange{From: from, To: to}))
	}
	return nil
}

// StatusChange is the payload for connection status change events.
type StatusChange struct {
	From State
	To   State
}
