package config

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.chatsync.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatsync")
}

// ClientConfigPath returns the client config file path.
func ClientConfigPath() string {
	return filepath.Join(BaseDir(), "client.toml")
}

// RelayConfigPath returns the relay config file path.
func RelayConfigPath() string {
	return filepath.Join(BaseDir(), "relay.toml")
}

// RelayDir returns the default relay data directory.
func RelayDir() string {
	return filepath.Join(BaseDir(), "relay")
}

// LogDir returns the log directory.
func LogDir() string {
	return filepath.Join(BaseDir(), "logs")
}

func ClientLogPath() string {
	return filepath.Join(LogDir(), "chatsync.log")
}

func RelayLogPath() string {
	return filepath.Join(LogDir(), "chatrelay.log")
}

// HealthSocketPath returns the UDS path of the relay health endpoint.
func HealthSocketPath(dataDir string) string {
	return filepath.Join(dataDir, "health.sock")
}

// EnsureDir creates each directory with owner-only permissions.
func EnsureDir(dirs ...string) error {
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
