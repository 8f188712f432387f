package model

import (
	"encoding/json"
	"testing"
)

func TestCanonicalID(t *testing.T) {
	tests := []struct {
		name     string
		oid, alt string
		want     string
	}{
		{"oid only", "a", "", "a"},
		{"alt only", "", "b", "b"},
		{"both prefers oid", "a", "b", "a"},
		{"neither", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalID(tt.oid, tt.alt); got != tt.want {
				t.Errorf("CanonicalID(%q, %q) = %q, want %q", tt.oid, tt.alt, got, tt.want)
			}
		})
	}
}

func TestSameKeyEmptyNeverMatches(t *testing.T) {
	if SameKey("", "") {
		t.Error("two empty keys must not match")
	}
	if SameKey("", "a") || SameKey("a", "") {
		t.Error("empty key must not match anything")
	}
	if !SameKey("a", "a") {
		t.Error("equal non-empty keys must match")
	}
}

func TestMessageDualIDField(t *testing.T) {
	var rest, push Message
	if err := json.Unmarshal([]byte(`{"_id":"m1","content":"a"}`), &rest); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(`{"id":"m1","content":"a"}`), &push); err != nil {
		t.Fatal(err)
	}
	if !SameKey(rest.Key(), push.Key()) {
		t.Errorf("keys %q and %q should match", rest.Key(), push.Key())
	}
}

func TestMessageChatKey(t *testing.T) {
	m := Message{ChatID: "c1", Chat: &Chat{OID: "c2"}}
	if got := m.ChatKey(); got != "c1" {
		t.Errorf("ChatKey = %q, want explicit chatId over embedded", got)
	}
	m = Message{Chat: &Chat{AltID: "c2"}}
	if got := m.ChatKey(); got != "c2" {
		t.Errorf("ChatKey = %q, want embedded chat id", got)
	}
	if got := (Message{}).ChatKey(); got != "" {
		t.Errorf("ChatKey = %q, want empty", got)
	}
}

func TestStatusForDefaultsToSent(t *testing.T) {
	m := Message{Status: map[string]string{"u2": StatusSeen}}
	if got := m.StatusFor("u2"); got != StatusSeen {
		t.Errorf("StatusFor(u2) = %q, want seen", got)
	}
	if got := m.StatusFor("u3"); got != StatusSent {
		t.Errorf("StatusFor(u3) = %q, want sent default", got)
	}
}

func TestWithStatusCopies(t *testing.T) {
	orig := Message{Status: map[string]string{"u2": StatusSent}}
	patched := orig.WithStatus("u2", StatusSeen)

	if orig.Status["u2"] != StatusSent {
		t.Error("WithStatus mutated the receiver's map")
	}
	if patched.Status["u2"] != StatusSeen {
		t.Errorf("patched status = %q, want seen", patched.Status["u2"])
	}
}

func TestChatDisplayName(t *testing.T) {
	group := Chat{IsGroup: true, Name: "team", Members: []User{{OID: "u1"}, {OID: "u2", Username: "bo"}}}
	if got := group.DisplayName("u1"); got != "team" {
		t.Errorf("group display name = %q, want team", got)
	}

	direct := Chat{Members: []User{{OID: "u1", Username: "me"}, {OID: "u2", Username: "bo"}}}
	if got := direct.DisplayName("u1"); got != "bo" {
		t.Errorf("direct display name = %q, want counterpart username", got)
	}
}

func TestChatCounterpart(t *testing.T) {
	direct := Chat{Members: []User{{OID: "u1"}, {AltID: "u2", Username: "bo"}}}
	other, ok := direct.Counterpart("u1")
	if !ok || other.Username != "bo" {
		t.Errorf("Counterpart = %+v ok=%v, want bo", other, ok)
	}

	group := Chat{IsGroup: true, Members: []User{{OID: "u1"}, {OID: "u2"}}}
	if _, ok := group.Counterpart("u1"); ok {
		t.Error("group chat should have no counterpart")
	}
}
