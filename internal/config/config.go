package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.flint/config.toml.
type Config struct {
	// ServerURL is the chat server origin, e.g. "https://chat.example.com".
	// Both the REST API and the push channel live behind it.
	ServerURL string `toml:"server_url"`
	// APIBase is the REST path prefix, default "/api".
	APIBase string `toml:"api_base"`
	// MessageSecret is the shared symmetric secret for message bodies.
	MessageSecret string `toml:"message_secret"`
	// DefaultSession names the session used when --session is not given.
	DefaultSession string `toml:"default_session"`
}

// ApplyDefaults fills in unset optional fields.
func (c *Config) ApplyDefaults() {
	if c.APIBase == "" {
		c.APIBase = "/api"
	}
}

// Load reads config from the given path. Returns an error if the file
// is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
