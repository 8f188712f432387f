// Package realtime manages the persistent push channel to the chat
// server: a socket.io connection carrying server events inbound and
// acknowledged client requests outbound. Lifecycle notifications drive
// the status machine; inbound events are republished on the bus for the
// reconciler.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/zishang520/socket.io/clients/engine/v3/transports"
	socketio "github.com/zishang520/socket.io/clients/socket/v3"
	sockettypes "github.com/zishang520/socket.io/v3/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/flintchat/flint/internal/bus"
	"github.com/flintchat/flint/internal/crypto"
	"github.com/flintchat/flint/internal/model"
	"github.com/flintchat/flint/internal/status"
)

const (
	// MaxReconnectAttempts is the transport retry budget; after this the
	// channel is RECONNECT_FAILED until an explicit reconnect.
	MaxReconnectAttempts = 10

	connectTimeout = 10 * time.Second

	// AwaitConnected polling parameters. The cap is the cancellation
	// policy for the send path.
	awaitInterval       = 250 * time.Millisecond
	DefaultAwaitTimeout = 5 * time.Second
)

// serverDisconnectReason is the socket.io reason for a server-initiated
// disconnect. Only this case requires a manual reconnect call: on plain
// network loss the transport retries on its own.
const serverDisconnectReason = "io server disconnect"

// ErrNotConnected is returned when an emit or bounded wait gives up
// without a usable connection.
var ErrNotConnected = errors.New("push channel not connected")

// SendAck is the server's acknowledgment of a message:send.
type SendAck struct {
	OK      bool           `json:"ok"`
	Message *model.Message `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// AuthError marks an authentication failure during connect. It is
// surfaced to the user instead of being silently retried.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	return "push channel authentication failed: " + e.Reason
}

// Channel is the managed handle to the push connection. Created once
// per valid token, torn down on logout. Event handlers are registered
// exactly once per socket identity, in Connect.
type Channel struct {
	serverURL string
	token     string
	machine   *status.Machine
	bus       *bus.Bus
	cipher    *crypto.Cipher
	logger    *zap.Logger

	// typing=true emits are throttled so keystrokes don't flood the
	// channel. typing=false always goes through.
	typingLimiter *rate.Limiter

	mu     sync.RWMutex
	socket *socketio.Socket
}

// NewChannel creates an unconnected channel handle.
func NewChannel(serverURL, token string, m *status.Machine, b *bus.Bus, cipher *crypto.Cipher, logger *zap.Logger) *Channel {
	return &Channel{
		serverURL:     serverURL,
		token:         token,
		machine:       m,
		bus:           b,
		cipher:        cipher,
		logger:        logger,
		typingLimiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
	}
}

// Connect establishes the socket and registers all handlers. Calling it
// on an already connected channel is a no-op.
func (c *Channel) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.socket != nil {
		return nil
	}

	opts := socketio.DefaultOptions()
	opts.SetTransports(sockettypes.NewSet(
		transports.Polling,
		transports.WebSocket,
	))
	opts.SetQuery(url.Values{"token": {c.token}})
	opts.SetTimeout(connectTimeout)
	opts.SetReconnectionAttempts(MaxReconnectAttempts)

	_ = c.machine.Transition(status.Connecting)

	socket, err := socketio.Connect(c.serverURL, opts)
	if err != nil {
		_ = c.machine.Transition(status.Disconnected)
		return fmt.Errorf("connect push channel: %w", err)
	}
	c.socket = socket
	c.registerHandlers(socket)
	return nil
}

// Close tears the channel down. Further emits fail fast.
func (c *Channel) Close() {
	c.mu.Lock()
	socket := c.socket
	c.socket = nil
	c.mu.Unlock()

	if socket != nil {
		socket.Disconnect()
	}
	_ = c.machine.Transition(status.Disconnected)
}

// Connected reports whether the channel is usable for emits.
func (c *Channel) Connected() bool {
	return c.machine.Online()
}

// AwaitConnected blocks until the channel is connected, polling at a
// fixed interval, up to cap. There is no cancellation token beyond ctx;
// the bound itself is the cancellation policy. If the transport already
// gave up (RECONNECT_FAILED), one explicit reconnect is attempted.
func (c *Channel) AwaitConnected(ctx context.Context, cap time.Duration) error {
	if cap <= 0 {
		cap = DefaultAwaitTimeout
	}
	if c.machine.Current() == status.ReconnectFailed {
		c.reconnect()
	}

	deadline := time.Now().Add(cap)
	ticker := time.NewTicker(awaitInterval)
	defer ticker.Stop()

	for {
		if c.Connected() {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrNotConnected
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// JoinChat subscribes the client to a chat's real-time room. Safe to
// repeat; the server treats re-joins as no-ops.
func (c *Channel) JoinChat(chatID string) {
	c.emit("chat:join", chatID)
}

// SendMessage emits message:send with the encrypted body and invokes
// ack with the server's response. Returns an error only when the
// channel is down or encryption fails; ack outcomes arrive async.
func (c *Channel) SendMessage(chatID, content string, ack func(SendAck)) error {
	encrypted, err := c.cipher.Encrypt(content)
	if err != nil {
		return fmt.Errorf("encrypt message: %w", err)
	}

	c.mu.RLock()
	socket := c.socket
	c.mu.RUnlock()
	if socket == nil || !c.Connected() {
		return ErrNotConnected
	}

	payload := map[string]any{"chatId": chatID, "content": encrypted}
	return socket.Emit("message:send", payload, func(args ...any) {
		var res SendAck
		if !decodePayload(args, &res) {
			res = SendAck{Error: "malformed acknowledgment"}
		}
		if res.Message != nil {
			msg := *res.Message
			msg.Content = c.cipher.Decrypt(msg.Content)
			res.Message = &msg
		}
		ack(res)
	})
}

// MarkDelivered acknowledges receipt of a message. Best effort.
func (c *Channel) MarkDelivered(messageID string) {
	c.emit("message:delivered", map[string]any{"messageId": messageID})
}

// MarkSeen acknowledges a batch of messages as seen. Best effort.
func (c *Channel) MarkSeen(messageIDs []string) {
	if len(messageIDs) == 0 {
		return
	}
	c.emit("message:seen", map[string]any{"messageIds": messageIDs})
}

// Typing notifies the active chat that the user is (or stopped) typing.
func (c *Channel) Typing(chatID string, typing bool) {
	if typing && !c.typingLimiter.Allow() {
		return
	}
	c.emit("typing", map[string]any{"chatId": chatID, "typing": typing})
}

func (c *Channel) emit(event string, payload any) {
	c.mu.RLock()
	socket := c.socket
	c.mu.RUnlock()

	if socket == nil || !c.Connected() {
		c.logger.Warn("emit dropped, channel down", zap.String("event", event))
		return
	}
	if err := socket.Emit(event, payload); err != nil {
		c.logger.Warn("emit failed", zap.String("event", event), zap.Error(err))
	}
}

// reconnect forces a client-side reconnect. Needed when the server
// kicked us or after the retry budget ran out.
func (c *Channel) reconnect() {
	c.mu.RLock()
	socket := c.socket
	c.mu.RUnlock()
	if socket == nil {
		return
	}
	_ = c.machine.Transition(status.Connecting)
	socket.Connect()
}

func (c *Channel) registerHandlers(socket *socketio.Socket) {
	socket.On("connect", func(...any) {
		c.logger.Info("push channel connected")
		_ = c.machine.Transition(status.Connected)
	})

	socket.On("disconnect", func(args ...any) {
		reason := ""
		if len(args) > 0 {
			reason = fmt.Sprint(args[0])
		}
		c.logger.Warn("push channel disconnected", zap.String("reason", reason))
		_ = c.machine.Transition(status.Reconnecting)
		if reason == serverDisconnectReason {
			c.reconnect()
		}
	})

	socket.On("connect_error", func(args ...any) {
		err := argsError(args)
		c.logger.Warn("push channel connect error", zap.Error(err))
		if isAuthError(err) {
			c.bus.Publish(bus.New(bus.KindConnError, &AuthError{Reason: err.Error()}))
			return
		}
		_ = c.machine.Transition(status.Reconnecting)
		c.bus.Publish(bus.New(bus.KindConnError, err))
	})

	manager := socket.Io()
	manager.On("reconnect_attempt", func(args ...any) {
		c.logger.Info("push channel reconnect attempt", zap.Any("attempt", first(args)))
		_ = c.machine.Transition(status.Reconnecting)
	})
	manager.On("reconnect_failed", func(...any) {
		c.logger.Error("push channel reconnect budget exhausted")
		_ = c.machine.Transition(status.ReconnectFailed)
		c.bus.Publish(bus.New(bus.KindConnError, ErrNotConnected))
	})

	socket.On("message:new", func(args ...any) {
		var msg model.Message
		if !decodePayload(args, &msg) {
			c.logger.Warn("malformed message:new payload")
			return
		}
		msg.Content = c.cipher.Decrypt(msg.Content)
		if msg.Chat != nil && msg.Chat.LastMessage != nil {
			last := *msg.Chat.LastMessage
			last.Content = c.cipher.Decrypt(last.Content)
			chat := *msg.Chat
			chat.LastMessage = &last
			msg.Chat = &chat
		}
		c.bus.Publish(bus.New(bus.KindPushMessage, msg))
	})

	socket.On("chat:created", func(args ...any) {
		var chat model.Chat
		if !decodePayload(args, &chat) {
			c.logger.Warn("malformed chat:created payload")
			return
		}
		if chat.LastMessage != nil {
			last := *chat.LastMessage
			last.Content = c.cipher.Decrypt(last.Content)
			chat.LastMessage = &last
		}
		c.bus.Publish(bus.New(bus.KindPushChat, chat))
	})

	socket.On("message:status", func(args ...any) {
		var upd model.StatusUpdate
		if !decodePayload(args, &upd) {
			c.logger.Warn("malformed message:status payload")
			return
		}
		c.bus.Publish(bus.New(bus.KindPushStatus, upd))
	})

	socket.On("typing", func(args ...any) {
		var upd model.TypingUpdate
		if !decodePayload(args, &upd) {
			return
		}
		c.bus.Publish(bus.New(bus.KindPushTyping, upd))
	})

	socket.On("user:presence", func(args ...any) {
		var upd model.PresenceUpdate
		if !decodePayload(args, &upd) {
			return
		}
		c.bus.Publish(bus.New(bus.KindPushPresence, upd))
	})
}

func argsError(args []any) error {
	if len(args) > 0 && args[0] != nil {
		if e, ok := args[0].(error); ok {
			return e
		}
		return fmt.Errorf("connection error: %v", args[0])
	}
	return errors.New("connection error: unknown error")
}

func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "auth") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "invalid token")
}

func first(args []any) any {
	if len(args) > 0 {
		return args[0]
	}
	return nil
}
