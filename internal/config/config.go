// Package config loads and persists the service configuration from a
// YAML or TOML file, with environment overrides for secrets and a
// file watcher that applies live-tunable settings without a restart.
package config

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Server holds the HTTP surface settings.
type Server struct {
	Listen   string `yaml:"listen" toml:"listen"`
	AppToken string `yaml:"app_token" toml:"app_token"`
}

// Database holds the sqlite settings.
type Database struct {
	Path string `yaml:"path" toml:"path"`
}

// Cache bounds the download cache directory.
type Cache struct {
	Path                 string `yaml:"path" toml:"path"`
	MaxSize              int64  `yaml:"max_size" toml:"max_size"`
	CheckIntervalSeconds int    `yaml:"check_interval_seconds" toml:"check_interval_seconds"`
}

// Direction configures one scheduler (download or upload). The
// max-concurrent and retry-delay knobs are live-tunable through the
// watcher and the API.
type Direction struct {
	MaxConcurrent     int  `yaml:"max_concurrent" toml:"max_concurrent"`
	RetryDelayMinutes int  `yaml:"retry_delay_minutes" toml:"retry_delay_minutes"`
	AutoRetry         bool `yaml:"auto_retry" toml:"auto_retry"`
	AutoWaitSeconds   int  `yaml:"auto_wait_seconds" toml:"auto_wait_seconds"`
}

// RetryDelay is the direction's retry delay as a duration.
func (d Direction) RetryDelay() time.Duration {
	return time.Duration(d.RetryDelayMinutes) * time.Minute
}

// Automation wires feed ingestion to task creation.
type Automation struct {
	EnableAutoSubscription    bool   `yaml:"enable_auto_subscription" toml:"enable_auto_subscription"`
	EnableAutoDownload        bool   `yaml:"enable_auto_download" toml:"enable_auto_download"`
	EnableAutoUpload          bool   `yaml:"enable_auto_upload" toml:"enable_auto_upload"`
	CallbackURL               string `yaml:"callback_url" toml:"callback_url"`
	ValidationIntervalSeconds int    `yaml:"validation_interval_seconds" toml:"validation_interval_seconds"`
}

// WebSub holds the secret material for subscription callbacks.
type WebSub struct {
	SecretKey string `yaml:"secret_key" toml:"secret_key"`
}

// Uploader is the external command uploads shell out to. Placeholders
// {file}, {dest} and {name} are expanded per task. Destination is the
// default target assigned to automatically created upload tasks.
type Uploader struct {
	Command     string   `yaml:"command" toml:"command"`
	Args        []string `yaml:"args" toml:"args"`
	Destination string   `yaml:"destination" toml:"destination"`
}

// Config is the full service configuration.
type Config struct {
	Server     Server     `yaml:"server" toml:"server"`
	Database   Database   `yaml:"database" toml:"database"`
	Cache      Cache      `yaml:"cache" toml:"cache"`
	Download   Direction  `yaml:"download" toml:"download"`
	Upload     Direction  `yaml:"upload" toml:"upload"`
	Automation Automation `yaml:"automation" toml:"automation"`
	WebSub     WebSub     `yaml:"websub" toml:"websub"`
	Uploader   Uploader   `yaml:"uploader" toml:"uploader"`
}

// Default returns the configuration used when keys are absent.
func Default() Config {
	return Config{
		Server:   Server{Listen: ":8000"},
		Database: Database{Path: "repost.db"},
		Cache:    Cache{Path: "cache", MaxSize: 0, CheckIntervalSeconds: 10},
		Download: Direction{MaxConcurrent: 2, RetryDelayMinutes: 5, AutoRetry: true},
		Upload:   Direction{MaxConcurrent: 1, RetryDelayMinutes: 5, AutoRetry: true},
		Automation: Automation{
			EnableAutoDownload:        true,
			ValidationIntervalSeconds: 30,
		},
	}
}

// Load reads the file at path, fills unset keys with defaults, and
// applies environment overrides. The format follows the extension:
// .yaml/.yml or .toml.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: %w", path, ErrUnknownFormat)
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Environment overrides keep secrets out of the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("REPOST_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("REPOST_APP_TOKEN"); v != "" {
		c.Server.AppToken = v
	}
	if v := os.Getenv("REPOST_DATABASE_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("REPOST_WEBSUB_SECRET_KEY"); v != "" {
		c.WebSub.SecretKey = v
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("%w: server.listen", ErrMissingKey)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path", ErrMissingKey)
	}
	if c.Download.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: download.max_concurrent must be positive", ErrInvalidValue)
	}
	if c.Upload.MaxConcurrent <= 0 {
		return fmt.Errorf("%w: upload.max_concurrent must be positive", ErrInvalidValue)
	}
	if c.Automation.EnableAutoSubscription && c.Automation.CallbackURL == "" {
		return fmt.Errorf("%w: automation.callback_url required with auto subscription", ErrMissingKey)
	}
	return nil
}

// Save writes the configuration back to path in the format its
// extension names. Live settings mutated at runtime survive restarts
// this way.
func (c *Config) Save(path string) error {
	var data []byte
	var err error
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	case ".toml":
		data, err = tomlMarshal(c)
	default:
		return fmt.Errorf("config %s: %w", path, ErrUnknownFormat)
	}
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

func tomlMarshal(c *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// NewSubscriptionToken mints the per-process WebSub verify token.
func NewSubscriptionToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating subscription token: %w", err)
	}
	return hex.EncodeToString(raw), nil
}
