// Package config holds the daemon's scalar configuration, mirroring
// internal/client/config's shape: a JSON-backed struct with
// Validate/Save/LoadFromFile, loadable via viper+cobra flags in
// cmd/syncd.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/orbitflux/syncd/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultConfigPath  = filepath.Join(home, ".syncd", "config.json")
	DefaultSyncRoot    = filepath.Join(home, "SyncBox")
	DefaultRemoteURL   = "https://api.example.com"
	DefaultLogFilePath = filepath.Join(home, ".syncd", "logs", "syncd.log")
)

var (
	ErrInvalidURL   = errors.New("config: invalid url")
	ErrInvalidEmail = errors.New("config: invalid email")
)

// Config is the daemon's persisted configuration. AccessToken is
// marked json:"-" so it is never written to disk, matching the
// teacher's treatment of credentials in internal/client/config.Config.
type Config struct {
	SyncRoot       string   `json:"sync_root" mapstructure:"sync_root"`
	AccountEmail   string   `json:"account_email" mapstructure:"account_email"`
	RemoteURL      string   `json:"remote_url" mapstructure:"remote_url"`
	ExcludedPaths  []string `json:"excluded_paths,omitempty" mapstructure:"excluded_paths"`
	LogFilePath    string   `json:"log_file_path,omitempty" mapstructure:"log_file_path"`
	AccessToken    string   `json:"-" mapstructure:"access_token"`
	Path           string   `json:"-" mapstructure:"config_path"`
}

// Save writes the config as JSON, creating parent directories as
// needed (internal/client/config.Config.Save's pattern).
func (c *Config) Save() error {
	if err := utils.EnsureParent(c.Path); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.Path, data, 0o644)
}

// Validate fills in defaults and rejects an unusable configuration.
func (c *Config) Validate() error {
	if c.Path == "" {
		c.Path = DefaultConfigPath
	}
	if c.LogFilePath == "" {
		c.LogFilePath = DefaultLogFilePath
	}

	var err error
	c.SyncRoot, err = utils.ResolvePath(c.SyncRoot)
	if err != nil {
		return err
	}

	c.AccountEmail = strings.ToLower(strings.TrimSpace(c.AccountEmail))
	if _, err := mail.ParseAddress(c.AccountEmail); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidEmail, c.AccountEmail)
	}

	if err := validateURL(c.RemoteURL); err != nil {
		return fmt.Errorf("remote url: %w", err)
	}

	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

// LogValue redacts secrets from log output (slog.LogValuer), matching
// internal/client/config.Config.LogValue.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("sync_root", c.SyncRoot),
		slog.String("account_email", c.AccountEmail),
		slog.String("remote_url", c.RemoteURL),
		slog.Int("excluded_paths", len(c.ExcludedPaths)),
		slog.String("log_file_path", c.LogFilePath),
		slog.Bool("access_token", c.AccessToken != ""),
		slog.String("path", c.Path),
	)
}

func LoadFromFile(path string) (*Config, error) {
	path, err := utils.ResolvePath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadFromReader(path, f)
}

func LoadFromReader(path string, reader io.ReadCloser) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Path = path
	return &cfg, nil
}
