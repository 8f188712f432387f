// Package sync reconciles REST-fetched state with the asynchronous
// push-event stream: new messages, presence, typing, receipts, and
// membership changes are merged into the chat list and thread caches
// under idempotence and ordering constraints.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	stdsync "sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flintchat/flint/internal/bus"
	"github.com/flintchat/flint/internal/model"
	"github.com/flintchat/flint/internal/realtime"
)

// ErrNoActiveChat is returned when a send is attempted with no chat open.
var ErrNoActiveChat = errors.New("no active chat")

// ChatAPI is the REST surface the reconciler needs.
type ChatAPI interface {
	ListChats(ctx context.Context) ([]model.Chat, error)
	GetChat(ctx context.Context, chatID string) (*model.Chat, error)
	ListMessages(ctx context.Context, chatID string) ([]model.Message, error)
}

// Emitter is the outbound half of the push channel.
type Emitter interface {
	JoinChat(chatID string)
	SendMessage(chatID, content string, ack func(realtime.SendAck)) error
	MarkDelivered(messageID string)
	MarkSeen(messageIDs []string)
	AwaitConnected(ctx context.Context, cap time.Duration) error
}

// Reconciler owns the two caches and merges push events into them. It
// subscribes to push.* events on the bus and processes them in arrival
// order on a single goroutine; UI-initiated operations (activation,
// sends) run on their callers and synchronize through the store locks.
type Reconciler struct {
	chats  *ChatList
	thread *Thread
	api    ChatAPI
	ch     Emitter
	bus    *bus.Bus
	logger *zap.Logger
	selfID string
	cancel context.CancelFunc

	// inflight dedupes concurrent fetch-and-insert round trips for the
	// same unknown chat. The insert itself still re-checks existence:
	// two completions may interleave regardless.
	mu       stdsync.Mutex
	inflight map[string]bool
}

// NewReconciler creates a reconciler for the given user identity.
func NewReconciler(chats *ChatList, thread *Thread, api ChatAPI, ch Emitter, b *bus.Bus, selfID string, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		chats:    chats,
		thread:   thread,
		api:      api,
		ch:       ch,
		bus:      b,
		logger:   logger,
		selfID:   selfID,
		inflight: make(map[string]bool),
	}
}

// Start subscribes to inbound push events on the bus.
func (r *Reconciler) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	ch, unsub := r.bus.Subscribe("push.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				r.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Reconciler) handleEvent(ctx context.Context, evt bus.Event) {
	switch evt.Kind {
	case bus.KindPushMessage:
		msg, ok := evt.Payload.(model.Message)
		if !ok {
			return
		}
		r.ingestMessage(ctx, msg)
	case bus.KindPushChat:
		chat, ok := evt.Payload.(model.Chat)
		if !ok {
			return
		}
		r.ingestChatCreated(chat)
	case bus.KindPushStatus:
		upd, ok := evt.Payload.(model.StatusUpdate)
		if !ok {
			return
		}
		r.ingestStatus(upd)
	case bus.KindPushTyping:
		upd, ok := evt.Payload.(model.TypingUpdate)
		if !ok {
			return
		}
		if r.chats.ApplyTyping(upd) {
			r.bus.Publish(bus.New(bus.KindChatsChanged, nil))
		}
	case bus.KindPushPresence:
		upd, ok := evt.Payload.(model.PresenceUpdate)
		if !ok {
			return
		}
		if r.chats.ApplyPresence(upd) {
			r.bus.Publish(bus.New(bus.KindChatsChanged, nil))
		}
	}
}

// ingestMessage merges a message:new event into both caches. Chat-list
// insertion is three-tier: an existing chat gets its preview replaced;
// an unknown chat with embedded info is inserted directly; otherwise
// the chat is fetched and inserted if still absent when the fetch
// returns.
func (r *Reconciler) ingestMessage(ctx context.Context, msg model.Message) {
	if r.chats.ApplyMessage(msg, r.selfID) {
		r.bus.Publish(bus.New(bus.KindChatsChanged, nil))
	} else {
		r.fetchAndInsert(ctx, msg)
	}

	if r.thread.AppendIncoming(msg) {
		r.bus.Publish(bus.New(bus.KindMessagesChanged, nil))
		// Receipt side effect: the message is on screen, so it is both
		// delivered and seen. Best effort; the channel logs failures.
		if !model.SameKey(msg.SenderID, r.selfID) {
			if key := msg.Key(); key != "" {
				r.ch.MarkDelivered(key)
				r.ch.MarkSeen([]string{key})
			}
		}
	}
}

func (r *Reconciler) ingestChatCreated(chat model.Chat) {
	r.chats.UpsertFromCreated(chat)
	// Always re-join the room, new entry or not: a chat:created replay
	// after a reconnect must restore the subscription.
	if key := chat.Key(); key != "" {
		r.ch.JoinChat(key)
	}
	r.bus.Publish(bus.New(bus.KindChatsChanged, nil))
}

func (r *Reconciler) ingestStatus(upd model.StatusUpdate) {
	if r.chats.ApplyStatus(upd) {
		r.bus.Publish(bus.New(bus.KindChatsChanged, nil))
	}
	if r.thread.ApplyStatus(upd) {
		r.bus.Publish(bus.New(bus.KindMessagesChanged, nil))
	}
}

// fetchAndInsert resolves the unknown chat owning msg over REST. The
// existence re-check on insert makes the completion idempotent against
// a competing insert that won the race. After a successful insert the
// triggering message is replayed into the list: the REST result knows
// nothing about it, so the preview and unread counter come from the
// replay, not the fetch.
func (r *Reconciler) fetchAndInsert(ctx context.Context, msg model.Message) {
	chatID := msg.ChatKey()
	if chatID == "" {
		return
	}
	r.mu.Lock()
	if r.inflight[chatID] {
		r.mu.Unlock()
		return
	}
	r.inflight[chatID] = true
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.inflight, chatID)
			r.mu.Unlock()
		}()

		chat, err := r.api.GetChat(ctx, chatID)
		if err != nil {
			r.logger.Warn("fetch chat failed, cache unchanged",
				zap.String("chat_id", chatID), zap.Error(err))
			return
		}
		if r.chats.InsertIfAbsent(*chat) {
			// The chat exists now, so this takes the replace tier. Skipped
			// when the insert lost the race: the winner carried its own
			// message, and replaying ours could double-count it.
			r.chats.ApplyMessage(msg, r.selfID)
			r.bus.Publish(bus.New(bus.KindChatsChanged, nil))
		}
	}()
}

// LoadInitialChats populates the chat list from REST and joins every
// chat's room so push events start flowing.
func (r *Reconciler) LoadInitialChats(ctx context.Context) error {
	chats, err := r.api.ListChats(ctx)
	if err != nil {
		return fmt.Errorf("load chats: %w", err)
	}
	r.chats.LoadInitial(chats)
	for _, c := range chats {
		if key := c.Key(); key != "" {
			r.ch.JoinChat(key)
		}
	}
	r.bus.Publish(bus.New(bus.KindChatsChanged, nil))
	return nil
}

// ActivateChat opens a chat: loads its history into the thread, zeroes
// the unread counter, and issues a seen batch for every cached message
// not authored by the current user.
func (r *Reconciler) ActivateChat(ctx context.Context, chatID string) error {
	msgs, err := r.api.ListMessages(ctx, chatID)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	r.chats.Activate(chatID)
	r.thread.LoadInitial(chatID, msgs)

	if ids := r.thread.UnseenIDs(r.selfID); len(ids) > 0 {
		r.ch.MarkSeen(ids)
	}

	r.bus.Publish(bus.New(bus.KindChatsChanged, nil))
	r.bus.Publish(bus.New(bus.KindMessagesChanged, nil))
	return nil
}

// SendOptimistic sends trimmed content to the active chat. The
// provisional entry appears immediately and is resolved by the server
// ack: replaced by the canonical message on success, rolled back on
// failure. Blank content is a no-op. When the channel is down the call
// waits up to the await cap for reconnection before failing without
// creating an optimistic entry.
func (r *Reconciler) SendOptimistic(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	chatID := r.chats.ActiveID()
	if chatID == "" {
		return ErrNoActiveChat
	}

	if err := r.ch.AwaitConnected(ctx, realtime.DefaultAwaitTimeout); err != nil {
		return fmt.Errorf("send %q: %w", preview(content), err)
	}

	tempID := "local-" + uuid.New().String()
	provisional := model.Message{
		OID:        tempID,
		ChatID:     chatID,
		SenderID:   r.selfID,
		Content:    content,
		CreatedAt:  model.Now(),
		Status:     map[string]string{r.selfID: model.StatusSent},
		Optimistic: true,
	}
	r.thread.AppendProvisional(provisional)
	r.bus.Publish(bus.New(bus.KindMessagesChanged, nil))

	err := r.ch.SendMessage(chatID, content, func(ack realtime.SendAck) {
		if ack.OK && ack.Message != nil {
			r.thread.ResolveProvisional(tempID, *ack.Message)
			if r.chats.ApplyMessage(*ack.Message, r.selfID) {
				r.bus.Publish(bus.New(bus.KindChatsChanged, nil))
			}
			r.bus.Publish(bus.New(bus.KindMessagesChanged, nil))
			return
		}
		reason := ack.Error
		if reason == "" {
			reason = "send rejected"
		}
		r.logger.Warn("send failed, rolling back optimistic entry",
			zap.String("chat_id", chatID), zap.String("reason", reason))
		r.thread.RemoveProvisional(tempID)
		r.bus.Publish(bus.New(bus.KindSendFailed, reason))
		r.bus.Publish(bus.New(bus.KindMessagesChanged, nil))
	})
	if err != nil {
		r.thread.RemoveProvisional(tempID)
		r.bus.Publish(bus.New(bus.KindMessagesChanged, nil))
		return fmt.Errorf("send %q: %w", preview(content), err)
	}
	return nil
}

func preview(s string) string {
	const max = 24
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
