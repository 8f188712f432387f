package model

// Delivery status values carried in a message's per-recipient status map.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusSeen      = "seen"
)

// User is an account on the server, also used for chat members.
// Presence fields are patched in place by user:presence events.
type User struct {
	OID      string `json:"_id,omitempty"`
	AltID    string `json:"id,omitempty"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	IsOnline bool   `json:"isOnline"`
	LastSeen Millis `json:"lastSeen,omitempty"`
}

// Key returns the canonical identifier for the user.
func (u User) Key() string { return CanonicalID(u.OID, u.AltID) }

// Chat is a cached chat summary as shown in the sidebar.
// Typing and Unread are client-local and never sent to the server.
type Chat struct {
	OID         string   `json:"_id,omitempty"`
	AltID       string   `json:"id,omitempty"`
	Members     []User   `json:"members"`
	IsGroup     bool     `json:"isGroup"`
	Name        string   `json:"name,omitempty"`
	LastMessage *Message `json:"lastMessage,omitempty"`
	Typing      bool     `json:"-"`
	Unread      int      `json:"-"`
}

// Key returns the canonical identifier for the chat.
func (c Chat) Key() string { return CanonicalID(c.OID, c.AltID) }

// DisplayName returns the group name, or the counterpart member's
// username for a direct chat. selfID is the current user's canonical id.
func (c Chat) DisplayName(selfID string) string {
	if c.IsGroup {
		return c.Name
	}
	for _, m := range c.Members {
		if !SameKey(m.Key(), selfID) {
			return m.Username
		}
	}
	return c.Name
}

// Counterpart returns the other member of a direct chat, if any.
func (c Chat) Counterpart(selfID string) (User, bool) {
	if c.IsGroup {
		return User{}, false
	}
	for _, m := range c.Members {
		if !SameKey(m.Key(), selfID) {
			return m, true
		}
	}
	return User{}, false
}

// Message is a cached chat message. Content is plaintext after the
// decryption boundary. Status maps recipient id to sent/delivered/seen.
// Optimistic marks a locally created, not-yet-acknowledged send.
type Message struct {
	OID        string            `json:"_id,omitempty"`
	AltID      string            `json:"id,omitempty"`
	ChatID     string            `json:"chatId,omitempty"`
	SenderID   string            `json:"senderId"`
	Content    string            `json:"content"`
	CreatedAt  Millis            `json:"createdAt,omitempty"`
	Status     map[string]string `json:"status,omitempty"`
	Optimistic bool              `json:"-"`

	// Chat carries embedded chat info when the server includes it on a
	// message:new event, sparing the client a fetch round trip.
	Chat *Chat `json:"chat,omitempty"`
}

// Key returns the canonical identifier for the message.
func (m Message) Key() string { return CanonicalID(m.OID, m.AltID) }

// ChatKey returns the canonical id of the owning chat, preferring the
// explicit chatId field over embedded chat info.
func (m Message) ChatKey() string {
	if m.ChatID != "" {
		return m.ChatID
	}
	if m.Chat != nil {
		return m.Chat.Key()
	}
	return ""
}

// StatusFor returns the delivery status recorded for a recipient,
// defaulting to sent.
func (m Message) StatusFor(userID string) string {
	if s, ok := m.Status[userID]; ok {
		return s
	}
	return StatusSent
}

// WithStatus returns a copy of the message with the recipient's status
// replaced. The receiver's status map is never mutated.
func (m Message) WithStatus(userID, status string) Message {
	next := make(map[string]string, len(m.Status)+1)
	for k, v := range m.Status {
		next[k] = v
	}
	next[userID] = status
	m.Status = next
	return m
}

// PresenceUpdate is the payload of a user:presence event.
type PresenceUpdate struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
	LastSeen Millis `json:"lastSeen,omitempty"`
}

// TypingUpdate is the payload of a typing event.
type TypingUpdate struct {
	ChatID string `json:"chatId"`
	Typing bool   `json:"typing"`
}

// StatusUpdate is the payload of a message:status event.
type StatusUpdate struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Status    string `json:"status"`
}
