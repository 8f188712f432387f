package status

import (
	"testing"

	"github.com/flintchat/flint/internal/bus"
)

func TestInitialState(t *testing.T) {
	m := NewMachine(nil)
	if m.Current() != Disconnected {
		t.Errorf("initial state = %s, want DISCONNECTED", m.Current())
	}
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from State
		to   State
	}{
		{Disconnected, Connecting},
		{Connecting, Connected},
		{Connecting, Reconnecting},
		{Connected, Reconnecting},
		{Connected, Disconnected},
		{Reconnecting, Connected},
		{Reconnecting, ReconnectFailed},
		{ReconnectFailed, Connecting},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			m := NewMachine(nil)
			walkTo(t, m, tt.from)
			if err := m.Transition(tt.to); err != nil {
				t.Errorf("Transition(%s -> %s) error = %v", tt.from, tt.to, err)
			}
			if m.Current() != tt.to {
				t.Errorf("state = %s, want %s", m.Current(), tt.to)
			}
		})
	}
}

func TestInvalidTransition(t *testing.T) {
	m := NewMachine(nil)
	if err := m.Transition(Connected); err == nil {
		t.Error("Transition(DISCONNECTED -> CONNECTED) should fail")
	}
	if err := m.Transition(ReconnectFailed); err == nil {
		t.Error("Transition(DISCONNECTED -> RECONNECT_FAILED) should fail")
	}
}

// TestDuplicateNotificationIsNoop covers the transport firing the same
// lifecycle event twice across a flaky link.
func TestDuplicateNotificationIsNoop(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	if err := m.Transition(Connected); err != nil {
		t.Errorf("repeated Transition(CONNECTED) error = %v, want nil", err)
	}
	if m.Current() != Connected {
		t.Errorf("state = %s, want CONNECTED", m.Current())
	}
}

func TestTransitionEmitsEvent(t *testing.T) {
	b := bus.NewBus()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	m := NewMachine(b)
	if err := m.Transition(Connecting); err != nil {
		t.Fatal(err)
	}

	evt := <-ch
	if evt.Kind != bus.KindConnStatus {
		t.Errorf("event kind = %q, want %q", evt.Kind, bus.KindConnStatus)
	}
	change, ok := evt.Payload.(StatusChange)
	if !ok {
		t.Fatalf("payload type = %T, want StatusChange", evt.Payload)
	}
	if change.From != Disconnected || change.To != Connecting {
		t.Errorf("change = %v -> %v, want DISCONNECTED -> CONNECTING", change.From, change.To)
	}
}

// TestDropReconnectCycle simulates a network drop that the transport
// recovers from: CONNECTED → RECONNECTING → CONNECTED.
func TestDropReconnectCycle(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Connected)

	steps := []State{Reconnecting, Connected}
	for _, s := range steps {
		if err := m.Transition(s); err != nil {
			t.Fatalf("Transition to %s: %v (current: %s)", s, err, m.Current())
		}
	}
	if m.Current() != Connected {
		t.Errorf("final state = %s, want CONNECTED", m.Current())
	}
}

// TestRetryBudgetExhausted verifies the terminal path after the
// transport gives up, and that only an explicit reconnect leaves it.
func TestRetryBudgetExhausted(t *testing.T) {
	m := NewMachine(nil)
	walkTo(t, m, Reconnecting)

	if err := m.Transition(ReconnectFailed); err != nil {
		t.Fatalf("RECONNECTING -> RECONNECT_FAILED: %v", err)
	}
	if err := m.Transition(Connected); err == nil {
		t.Error("RECONNECT_FAILED -> CONNECTED should fail without reconnecting")
	}
	if err := m.Transition(Connecting); err != nil {
		t.Errorf("RECONNECT_FAILED -> CONNECTING (manual reconnect): %v", err)
	}
}

// walkTo is a helper that transitions the machine to a target state.
func walkTo(t *testing.T, m *Machine, target State) {
	t.Helper()
	paths := map[State][]State{
		Disconnected:    {},
		Connecting:      {Connecting},
		Connected:       {Connecting, Connected},
		Reconnecting:    {Connecting, Connected, Reconnecting},
		ReconnectFailed: {Connecting, Connected, Reconnecting, ReconnectFailed},
	}
	for _, s := range paths[target] {
		if err := m.Transition(s); err != nil {
			t.Fatalf("walkTo(%s): %v", target, err)
		}
	}
}
