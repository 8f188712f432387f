// Package api is the REST client for the chat server. It owns the
// decryption boundary: message content leaving this package is
// plaintext.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/flintchat/flint/internal/crypto"
	"github.com/flintchat/flint/internal/model"
	"go.uber.org/zap"
)

// Client talks to the chat server's REST surface with a bearer token.
type Client struct {
	base   string
	http   *http.Client
	cipher *crypto.Cipher
	logger *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewClient creates a REST client. base is the server origin plus API
// prefix, e.g. "https://chat.example.com/api".
func NewClient(base string, cipher *crypto.Cipher, logger *zap.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		http:   &http.Client{Timeout: 15 * time.Second},
		cipher: cipher,
		logger: logger,
	}
}

// SetToken installs the bearer token used on subsequent requests.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// LoginResult is the server's response to login and register.
type LoginResult struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// Login exchanges credentials for a token and the current user record.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var res LoginResult
	err := c.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &res)
	if err != nil {
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}

// Register creates an account and logs in.
func (c *Client) Register(ctx context.Context, username, password string) (*LoginResult, error) {
	var res LoginResult
	err := c.do(ctx, http.MethodPost, "/auth/register", map[string]string{
		"username": username,
		"password": password,
	}, &res)
	if err != nil {
		return nil, err
	}
	c.SetToken(res.Token)
	return &res, nil
}

// SearchUsers queries users matching q.
func (c *Client) SearchUsers(ctx context.Context, q string) ([]model.User, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/users?q="+url.QueryEscape(q), nil, &raw); err != nil {
		return nil, err
	}
	return model.CoerceList[model.User](raw)
}

// ListChats fetches the chat list. The response is coerced: a server
// that returns a bare object instead of an array yields one chat.
func (c *Client) ListChats(ctx context.Context) ([]model.Chat, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/chats", nil, &raw); err != nil {
		return nil, err
	}
	chats, err := model.CoerceList[model.Chat](raw)
	if err != nil {
		return nil, err
	}
	for i := range chats {
		c.decryptLast(&chats[i])
	}
	return chats, nil
}

// GetChat fetches one chat by id. Used when a message arrives for a
// chat the client has never seen and the event carries no chat info.
func (c *Client) GetChat(ctx context.Context, chatID string) (*model.Chat, error) {
	var chat model.Chat
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID), nil, &chat); err != nil {
		return nil, err
	}
	c.decryptLast(&chat)
	return &chat, nil
}

// CreateChat creates a direct or group chat with the given members.
func (c *Client) CreateChat(ctx context.Context, memberIDs []string, name string, isGroup bool) (*model.Chat, error) {
	var chat model.Chat
	err := c.do(ctx, http.MethodPost, "/chats", map[string]any{
		"members": memberIDs,
		"name":    name,
		"isGroup": isGroup,
	}, &chat)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListMessages fetches the message history of a chat, decrypted.
func (c *Client) ListMessages(ctx context.Context, chatID string) ([]model.Message, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/messages", nil, &raw); err != nil {
		return nil, err
	}
	msgs, err := model.CoerceList[model.Message](raw)
	if err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].Content = c.cipher.Decrypt(msgs[i].Content)
	}
	return msgs, nil
}

// ListMembers fetches the member list of a chat.
func (c *Client) ListMembers(ctx context.Context, chatID string) ([]model.User, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID)+"/members", nil, &raw); err != nil {
		return nil, err
	}
	return model.CoerceList[model.User](raw)
}

// RemoveMember removes a user from a group chat. Older server builds
// only accept DELETE on the collection, so a 404/405 on the POST route
// falls back to that.
func (c *Client) RemoveMember(ctx context.Context, chatID, userID string) error {
	path := "/chats/" + url.PathEscape(chatID) + "/members/remove"
	err := c.do(ctx, http.MethodPost, path, map[string]string{"userId": userID}, nil)
	var se *ServerError
	if asServerError(err, &se) && (se.Status == http.StatusNotFound || se.Status == http.StatusMethodNotAllowed) {
		c.logger.Info("members/remove unsupported, falling back to DELETE",
			zap.String("chat_id", chatID), zap.Int("status", se.Status))
		return c.do(ctx, http.MethodDelete, "/chats/"+url.PathEscape(chatID)+"/members",
			map[string]string{"userId": userID}, nil)
	}
	return err
}

// UpdateProfile updates the current user's profile fields.
func (c *Client) UpdateProfile(ctx context.Context, username, avatar string) (*model.User, error) {
	var user model.User
	err := c.do(ctx, http.MethodPut, "/users/me", map[string]string{
		"username": username,
		"avatar":   avatar,
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) decryptLast(chat *model.Chat) {
	if chat.LastMessage != nil {
		last := *chat.LastMessage
		last.Content = c.cipher.Decrypt(last.Content)
		chat.LastMessage = &last
	}
}

// ServerError is a non-2xx REST response.
type ServerError struct {
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.Status)
}

func asServerError(err error, target **ServerError) bool {
	if err == nil {
		return false
	}
	se, ok := err.(*ServerError)
	if ok {
		*target = se
	}
	return ok
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &ServerError{Status: resp.StatusCode}
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil {
			se.Message = payload.Error
			if se.Message == "" {
				se.Message = payload.Message
			}
		}
		return se
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
