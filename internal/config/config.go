// Package config provides TOML configuration file loading for the host.
// The configuration file lives at ~/.pocketagent/config.toml by default, but can
// be overridden with the --config flag. CLI flags always take precedence over
// file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the host configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files.
type Config struct {
	// Addr is the host:port for the WebSocket server.
	// Default: 0.0.0.0:7070
	Addr string `toml:"addr"`

	// DataDir holds the database, certificates and log file.
	// Default: ~/.pocketagent
	DataDir string `toml:"data_dir"`

	// DBPath is the SQLite settings database.
	// Default: <data_dir>/pocketagent.db
	DBPath string `toml:"db_path"`

	// TLS serves wss:// with a self-signed certificate.
	// Default: false
	TLS bool `toml:"tls"`

	// TLSCert is the path to the TLS certificate file.
	// Default: <data_dir>/certs/host.crt (auto-generated if missing)
	TLSCert string `toml:"tls_cert"`

	// TLSKey is the path to the TLS key file.
	// Default: <data_dir>/certs/host.key (auto-generated if missing)
	TLSKey string `toml:"tls_key"`

	// MdnsEnabled advertises the host on the local network so the mobile
	// app can find it without typing an address. Pairing is still required.
	// Default: false
	MdnsEnabled bool `toml:"mdns_enabled"`

	// HostName is the name shown to mobile clients and in mDNS.
	// Default: the system hostname
	HostName string `toml:"host_name"`

	// Pair prints a pairing code on startup.
	// Default: false
	Pair bool `toml:"pair"`

	// QR renders the startup pairing code as a QR code (requires Pair).
	// Default: false
	QR bool `toml:"qr"`

	// PushURL overrides the push gateway endpoint.
	// Default: the Expo push API
	PushURL string `toml:"push_url"`

	// PushAccessToken is sent as a bearer token to the push gateway.
	PushAccessToken string `toml:"push_access_token"`

	// LogFile redirects host logs to a file instead of stderr.
	LogFile string `toml:"log_file"`
}

// DefaultDataDir returns ~/.pocketagent.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DataDirName), nil
}

// DefaultConfigPath returns the default config file location: ~/.pocketagent/config.toml.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts the default location and returns an empty
//     Config without error if that file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyDefaults fills every unset field with its default value.
// Paths derived from DataDir are resolved after DataDir itself.
func (c *Config) ApplyDefaults() error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}
		c.DataDir = dir
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, DefaultDBName)
	}
	if c.TLSCert == "" {
		c.TLSCert = filepath.Join(c.DataDir, "certs", "host.crt")
	}
	if c.TLSKey == "" {
		c.TLSKey = filepath.Join(c.DataDir, "certs", "host.key")
	}
	if c.HostName == "" {
		if name, err := os.Hostname(); err == nil {
			c.HostName = name
		} else {
			c.HostName = DefaultHostName
		}
	}
	return nil
}

// WriteDefault creates a config file with LAN-ready defaults at the given path.
// An existing file is never overwritten.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# pocketagent configuration

# Listen on all interfaces so the phone can reach the host over the LAN
addr = %q

# Advertise on the local network (pairing is still required)
mdns_enabled = false
`, DefaultAddr)

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
