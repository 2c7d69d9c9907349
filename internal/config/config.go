// Package config manages the daemon-level configuration file.
//
// This is the daemon's own settings (paths, binary location, default
// session options), distinct from the per-session provider options map
// validated by the provider package.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Default locations used when the configuration file names none.
const (
	DefaultOpenVPNPath  = "/usr/sbin/openvpn"
	DefaultLogDir       = "/var/log/ovpnd"
	DefaultSnapshotPath = "/run/ovpnd/status.json"
)

// Config represents the daemon configuration.
type Config struct {
	// SocketPath is where the control socket is created.
	SocketPath string `yaml:"socket_path"`
	// SocketGroup is the group granted access to the control socket.
	SocketGroup string `yaml:"socket_group"`
	// SnapshotPath is where the status snapshot file is written.
	// Empty disables the snapshot.
	SnapshotPath string `yaml:"snapshot_path"`
	// LogDir is the directory for session debug logs.
	LogDir string `yaml:"log_dir"`
	// OpenVPNPath is the path to the OpenVPN client binary.
	OpenVPNPath string `yaml:"openvpn_path"`
	// Options is the default raw provider options map used when a
	// start request carries none. Validation happens at session start,
	// not here.
	Options map[string]any `yaml:"options,omitempty"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SocketGroup:  "ovpnd",
		SnapshotPath: DefaultSnapshotPath,
		LogDir:       DefaultLogDir,
		OpenVPNPath:  DefaultOpenVPNPath,
	}
}

// Load reads the configuration from disk. A missing file yields the
// defaults, not an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.OpenVPNPath == "" {
		return fmt.Errorf("openvpn path must not be empty")
	}
	if c.LogDir == "" {
		return fmt.Errorf("log directory must not be empty")
	}
	return nil
}
