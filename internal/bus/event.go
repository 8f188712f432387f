package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Namespaces: push.* carries raw channel events into the
// reconciler, chat.* and message.* carry store mutations out to the UI,
// conn.* carries connection lifecycle changes.
const (
	KindPushMessage  = "push.message_new"
	KindPushChat     = "push.chat_created"
	KindPushStatus   = "push.message_status"
	KindPushTyping   = "push.typing"
	KindPushPresence = "push.presence"

	KindChatsChanged    = "chat.list_changed"
	KindMessagesChanged = "message.thread_changed"
	KindSendFailed      = "message.send_failed"

	KindConnStatus = "conn.status_changed"
	KindConnError  = "conn.error"
)

// New constructs an event stamped with the current time.
func New(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
