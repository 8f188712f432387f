package sync

import (
	stdsync "sync"

	"github.com/flintchat/flint/internal/model"
)

// ChatList is the client-side cache of chat summaries shown in the
// sidebar. All mutation replaces the backing slice wholesale; snapshots
// handed out are never aliased by later updates. Every insert is
// preceded by an existence check on the canonical id, so replaying the
// same event never produces a duplicate entry.
type ChatList struct {
	mu       stdsync.Mutex
	chats    []model.Chat
	activeID string
}

// NewChatList creates an empty chat list cache.
func NewChatList() *ChatList {
	return &ChatList{}
}

// LoadInitial replaces the cache with the REST result, deduplicated by
// canonical id preserving first occurrence. If no chat is active yet,
// the first entry becomes active.
func (l *ChatList) LoadInitial(chats []model.Chat) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make([]model.Chat, 0, len(chats))
	seen := make(map[string]bool, len(chats))
	for _, c := range chats {
		key := c.Key()
		if key != "" && seen[key] {
			continue
		}
		seen[key] = true
		next = append(next, c)
	}
	l.chats = next

	if l.activeID == "" && len(next) > 0 {
		l.activeID = next[0].Key()
	}
}

// Snapshot returns a copy of the cached chat list.
func (l *ChatList) Snapshot() []model.Chat {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Chat, len(l.chats))
	copy(out, l.chats)
	return out
}

// Clear drops the cache, e.g. on logout.
func (l *ChatList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chats = nil
	l.activeID = ""
}

// ActiveID returns the canonical id of the active chat, or "".
func (l *ChatList) ActiveID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeID
}

// Activate marks a chat active and zeroes its unread counter. Returns
// the activated chat and whether it was found.
func (l *ChatList) Activate(chatID string) (model.Chat, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.activeID = chatID
	for i, c := range l.chats {
		if model.SameKey(c.Key(), chatID) {
			if c.Unread != 0 {
				next := l.copyChats()
				next[i].Unread = 0
				l.chats = next
			}
			return l.chats[i], true
		}
	}
	return model.Chat{}, false
}

// ApplyMessage reconciles an incoming message into the list. If the
// owning chat is cached, its last-message snapshot is replaced and the
// unread counter bumped when the chat is not active and the sender is
// not self. If the chat is unknown but the event embeds chat info, the
// chat is inserted at the front (re-checking for a race-created
// duplicate first). Returns false when the chat is unknown and the
// event carries nothing to insert; the caller must fetch it.
func (l *ChatList) ApplyMessage(msg model.Message, selfID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	chatKey := msg.ChatKey()
	for i, c := range l.chats {
		if !model.SameKey(c.Key(), chatKey) {
			continue
		}
		next := l.copyChats()
		m := msg
		next[i].LastMessage = &m
		if !model.SameKey(chatKey, l.activeID) && !model.SameKey(msg.SenderID, selfID) {
			next[i].Unread++
		}
		l.chats = next
		return true
	}

	if msg.Chat == nil {
		return false
	}

	chat := *msg.Chat
	m := msg
	chat.LastMessage = &m
	if !model.SameKey(chatKey, l.activeID) && !model.SameKey(msg.SenderID, selfID) {
		chat.Unread = 1
	}
	l.insertFrontLocked(chat)
	return true
}

// InsertIfAbsent inserts a fetched chat at the front unless an entry
// with the same canonical id appeared while the fetch was in flight.
// Returns whether the chat was inserted.
func (l *ChatList) InsertIfAbsent(chat model.Chat) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := chat.Key()
	for _, c := range l.chats {
		if model.SameKey(c.Key(), key) {
			return false
		}
	}
	l.insertFrontLocked(chat)
	return true
}

// UpsertFromCreated applies a chat:created event: insert at the front
// or replace the existing entry, preserving the local unread counter
// and typing flag on replace.
func (l *ChatList) UpsertFromCreated(chat model.Chat) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := chat.Key()
	for i, c := range l.chats {
		if model.SameKey(c.Key(), key) {
			next := l.copyChats()
			chat.Unread = c.Unread
			chat.Typing = c.Typing
			next[i] = chat
			l.chats = next
			return
		}
	}
	l.insertFrontLocked(chat)
}

// ApplyPresence patches the presence fields of the matching member in
// every chat containing that user. Returns whether anything changed.
func (l *ChatList) ApplyPresence(upd model.PresenceUpdate) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	changed := false
	next := l.copyChats()
	for i, c := range next {
		for j, m := range c.Members {
			if !model.SameKey(m.Key(), upd.UserID) {
				continue
			}
			members := make([]model.User, len(c.Members))
			copy(members, c.Members)
			members[j].IsOnline = upd.IsOnline
			if upd.LastSeen != 0 {
				members[j].LastSeen = upd.LastSeen
			}
			next[i].Members = members
			changed = true
			break
		}
	}
	if changed {
		l.chats = next
	}
	return changed
}

// ApplyTyping sets the ephemeral typing flag on the matching chat only.
func (l *ChatList) ApplyTyping(upd model.TypingUpdate) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, c := range l.chats {
		if model.SameKey(c.Key(), upd.ChatID) {
			if c.Typing == upd.Typing {
				return false
			}
			next := l.copyChats()
			next[i].Typing = upd.Typing
			l.chats = next
			return true
		}
	}
	return false
}

// ApplyStatus patches the status map of a chat's last-message snapshot
// so sidebar previews show delivery ticks. A message id matching no
// cached preview is a no-op.
func (l *ChatList) ApplyStatus(upd model.StatusUpdate) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, c := range l.chats {
		if c.LastMessage == nil || !model.SameKey(c.LastMessage.Key(), upd.MessageID) {
			continue
		}
		next := l.copyChats()
		patched := c.LastMessage.WithStatus(upd.UserID, upd.Status)
		next[i].LastMessage = &patched
		l.chats = next
		return true
	}
	return false
}

func (l *ChatList) insertFrontLocked(chat model.Chat) {
	next := make([]model.Chat, 0, len(l.chats)+1)
	next = append(next, chat)
	next = append(next, l.chats...)
	l.chats = next
}

func (l *ChatList) copyChats() []model.Chat {
	next := make([]model.Chat, len(l.chats))
	copy(next, l.chats)
	return next
}
