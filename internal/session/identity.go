package session

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/flintchat/flint/internal/model"
)

// Identity holds the authenticated user and their bearer token for the
// lifetime of a session. It is persisted so the client can resume
// without re-entering credentials; logout removes it.
type Identity struct {
	Token string     `json:"token"`
	User  model.User `json:"user"`
}

// UserID returns the canonical id of the current user, or "" when
// unauthenticated.
func (id *Identity) UserID() string {
	if id == nil {
		return ""
	}
	return id.User.Key()
}

// LoadIdentity reads stored credentials for a session. A missing file
// is not an error: it returns (nil, nil) meaning login is required.
func LoadIdentity(sessionName string) (*Identity, error) {
	data, err := os.ReadFile(TokenPath(sessionName))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var id Identity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if id.Token == "" {
		return nil, nil
	}
	return &id, nil
}

// SaveIdentity persists credentials for a session with 0600 permissions.
func SaveIdentity(sessionName string, id *Identity) error {
	if err := EnsureDir(sessionName); err != nil {
		return err
	}
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return os.WriteFile(TokenPath(sessionName), data, 0600)
}

// ClearIdentity removes stored credentials. Called on logout; all cached
// chat state dies with the process, only the token outlives it.
func ClearIdentity(sessionName string) error {
	err := os.Remove(TokenPath(sessionName))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
