package sync

import (
	stdsync "sync"

	"github.com/flintchat/flint/internal/model"
)

// Thread is the client-side cache of messages for the active chat.
// Replaced wholesale on chat activation; mutation follows the same
// copy-on-write discipline as ChatList.
type Thread struct {
	mu     stdsync.Mutex
	chatID string
	msgs   []model.Message
}

// NewThread creates an empty thread cache.
func NewThread() *Thread {
	return &Thread{}
}

// LoadInitial replaces the thread with the REST history of a chat,
// deduplicated by canonical id preserving first occurrence.
func (t *Thread) LoadInitial(chatID string, msgs []model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make([]model.Message, 0, len(msgs))
	seen := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		key := m.Key()
		if key != "" && seen[key] {
			continue
		}
		seen[key] = true
		next = append(next, m)
	}
	t.chatID = chatID
	t.msgs = next
}

// ChatID returns the chat the thread currently holds.
func (t *Thread) ChatID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chatID
}

// Snapshot returns a copy of the cached messages.
func (t *Thread) Snapshot() []model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]model.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Clear drops the thread, e.g. on logout.
func (t *Thread) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chatID = ""
	t.msgs = nil
}

// AppendIncoming appends a pushed message if it belongs to the active
// chat and its canonical id is not already cached. Returns whether the
// thread changed; a duplicate or foreign-chat message is a no-op.
func (t *Thread) AppendIncoming(msg model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !model.SameKey(msg.ChatKey(), t.chatID) {
		return false
	}
	key := msg.Key()
	for _, m := range t.msgs {
		if model.SameKey(m.Key(), key) {
			return false
		}
	}
	t.appendLocked(msg)
	return true
}

// AppendProvisional appends an optimistic entry for a local send.
func (t *Thread) AppendProvisional(msg model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appendLocked(msg)
}

// ResolveProvisional replaces the optimistic entry with the canonical
// message from the server ack. If the canonical message already arrived
// over the push channel (the ack lost the race), the provisional entry
// is simply dropped.
func (t *Thread) ResolveProvisional(tempID string, canonical model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	canonicalPresent := false
	key := canonical.Key()
	for _, m := range t.msgs {
		if !m.Optimistic && model.SameKey(m.Key(), key) {
			canonicalPresent = true
			break
		}
	}

	next := make([]model.Message, 0, len(t.msgs))
	for _, m := range t.msgs {
		if m.Optimistic && model.SameKey(m.Key(), tempID) {
			if canonicalPresent {
				continue
			}
			next = append(next, canonical)
			continue
		}
		next = append(next, m)
	}
	t.msgs = next
}

// RemoveProvisional rolls back a failed optimistic send.
func (t *Thread) RemoveProvisional(tempID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make([]model.Message, 0, len(t.msgs))
	for _, m := range t.msgs {
		if m.Optimistic && model.SameKey(m.Key(), tempID) {
			continue
		}
		next = append(next, m)
	}
	t.msgs = next
}

// ApplyStatus patches the status map of the matching message,
// independent of sender. An id matching nothing cached is a no-op.
func (t *Thread) ApplyStatus(upd model.StatusUpdate) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, m := range t.msgs {
		if !model.SameKey(m.Key(), upd.MessageID) {
			continue
		}
		next := make([]model.Message, len(t.msgs))
		copy(next, t.msgs)
		next[i] = m.WithStatus(upd.UserID, upd.Status)
		t.msgs = next
		return true
	}
	return false
}

// UnseenIDs returns the canonical ids of cached messages not authored
// by selfID, for the seen-acknowledgment batch on activation.
func (t *Thread) UnseenIDs(selfID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []string
	for _, m := range t.msgs {
		if m.Optimistic || model.SameKey(m.SenderID, selfID) {
			continue
		}
		if key := m.Key(); key != "" {
			ids = append(ids, key)
		}
	}
	return ids
}

func (t *Thread) appendLocked(msg model.Message) {
	next := make([]model.Message, 0, len(t.msgs)+1)
	next = append(next, t.msgs...)
	next = append(next, msg)
	t.msgs = next
}
