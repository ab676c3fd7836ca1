// Package config loads the TOML configuration of the chat client and of the
// development relay.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration is a time.Duration written as "1.5s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Reconnect is the transport's own retry policy after an established
// session drops.
type Reconnect struct {
	Enabled     bool     `toml:"enabled"`
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
}

// Client represents ~/.chatsync/client.toml.
type Client struct {
	ServerURL string    `toml:"server_url"`
	UserID    string    `toml:"user_id"`
	Token     string    `toml:"token"`
	LogPath   string    `toml:"log_path"`
	Reconnect Reconnect `toml:"reconnect"`
}

// Relay represents ~/.chatsync/relay.toml. Tokens maps bearer tokens to the
// user ids they authenticate.
type Relay struct {
	Listen       string            `toml:"listen"`
	DataDir      string            `toml:"data_dir"`
	HealthSocket string            `toml:"health_socket"`
	LogPath      string            `toml:"log_path"`
	HistoryLimit int               `toml:"history_limit"`
	Tokens       map[string]string `toml:"tokens"`
}

// DefaultClient returns the client defaults.
func DefaultClient() *Client {
	return &Client{
		ServerURL: "ws://127.0.0.1:8080/ws",
		LogPath:   ClientLogPath(),
		Reconnect: Reconnect{
			Enabled:     true,
			MaxAttempts: 5,
			BaseDelay:   Duration{500 * time.Millisecond},
			MaxDelay:    Duration{10 * time.Second},
		},
	}
}

// DefaultRelay returns the relay defaults.
func DefaultRelay() *Relay {
	return &Relay{
		Listen:       "127.0.0.1:8080",
		DataDir:      RelayDir(),
		LogPath:      RelayLogPath(),
		HistoryLimit: 200,
		Tokens:       map[string]string{},
	}
}

// LoadClient reads a client config over the defaults. Returns an error if the
// file is missing.
func LoadClient(path string) (*Client, error) {
	cfg := DefaultClient()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRelay reads a relay config over the defaults.
func LoadRelay(path string) (*Relay, error) {
	cfg := DefaultRelay()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.HealthSocket == "" {
		cfg.HealthSocket = HealthSocketPath(cfg.DataDir)
	}
	return cfg, nil
}

// Validate checks the client config is usable.
func (c *Client) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid server_url %q: scheme must be ws or wss", c.ServerURL)
	}
	if c.UserID != "" {
		if err := ValidateUserID(c.UserID); err != nil {
			return err
		}
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}
	return nil
}

// Validate checks the relay config is usable.
func (r *Relay) Validate() error {
	if r.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if r.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if len(r.Tokens) == 0 {
		return fmt.Errorf("no tokens configured: nobody could connect")
	}
	for token, userID := range r.Tokens {
		if token == "" {
			return fmt.Errorf("empty token for user %q", userID)
		}
		if err := ValidateUserID(userID); err != nil {
			return err
		}
	}
	return nil
}

// Save writes cfg to path, creating parent dirs as needed. The file holds
// tokens, so it is private to the user.
func Save(path string, cfg any) error {
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
