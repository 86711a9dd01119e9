// Package config loads and watches the user configuration file at
// ~/.shellpanel/config.toml.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the TOML config file for user preferences.
const FileName = "config.toml"

// UserConfig represents user-facing configuration in TOML format.
type UserConfig struct {
	// Server configures the process host daemon.
	Server ServerConfig `toml:"server"`

	// Panel configures the session panel behavior.
	Panel PanelConfig `toml:"panel"`

	// Logs configures log output and rotation.
	Logs LogConfig `toml:"logs"`
}

// ServerConfig defines process host settings.
type ServerConfig struct {
	// Listen is the host daemon's listen address.
	Listen string `toml:"listen"`

	// Token is the bearer token required for API and websocket access.
	// Empty disables auth (local use only).
	Token string `toml:"token"`

	// ProjectsDir is the directory scanned for project listings.
	ProjectsDir string `toml:"projects_dir"`

	// Shell overrides the shell launched per channel (default: $SHELL
	// or /bin/sh).
	Shell string `toml:"shell"`
}

// PanelConfig defines panel behavior settings.
type PanelConfig struct {
	// AutoReconnect re-attaches the most recent session on a fresh
	// connection with nothing selected.
	AutoReconnect bool `toml:"auto_reconnect"`
}

// LogConfig defines log settings.
type LogConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `toml:"level"`

	// Format is "json" (default) or "text".
	Format string `toml:"format"`

	// Dir is the log directory; empty means the config dir.
	Dir string `toml:"dir"`
}

// Default returns the built-in configuration.
func Default() *UserConfig {
	return &UserConfig{
		Server: ServerConfig{
			Listen: "127.0.0.1:8420",
		},
		Panel: PanelConfig{
			AutoReconnect: true,
		},
		Logs: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Dir returns the shellpanel config directory, honoring the
// SHELLPANEL_HOME override.
func Dir() string {
	if dir := os.Getenv("SHELLPANEL_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shellpanel"
	}
	return filepath.Join(home, ".shellpanel")
}

// Path returns the config file path.
func Path() string {
	return filepath.Join(Dir(), FileName)
}

// Load reads the config file, applying defaults for anything unset. A
// missing file yields the defaults without error.
func Load(path string) (*UserConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *UserConfig) applyDefaults() {
	d := Default()
	if c.Server.Listen == "" {
		c.Server.Listen = d.Server.Listen
	}
	if c.Logs.Level == "" {
		c.Logs.Level = d.Logs.Level
	}
	if c.Logs.Format == "" {
		c.Logs.Format = d.Logs.Format
	}
}

// Save writes the config file, creating the directory as needed.
func Save(path string, cfg *UserConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: mkdir: %w", err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
