// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

// Package config reads and writes the relay agent configuration document.
// The document lives at <agent dir>/config.json; the agent directory is
// created with owner-only permissions and the document itself is 0600.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"github.com/hyvehq/relay-agent/pkg/disk"
	"github.com/hyvehq/relay-agent/pkg/log"
)

var clog = log.WithComponent("Configuration")

const (
	// DirName is the agent directory under the user's home.
	DirName = ".hyve-relay"
	// FileName is the configuration document inside the agent directory.
	FileName = "config.json"

	dirPerm  = os.FileMode(0700)
	filePerm = os.FileMode(0600)

	// CurrentVersion tags the document schema.
	CurrentVersion = 1
)

// Channel tags accepted by the configuration document.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelSignal   = "signal"
	ChannelIMessage = "imessage"
)

// ValidChannel reports whether tag names a known platform.
func ValidChannel(tag string) bool {
	switch tag {
	case ChannelWhatsApp, ChannelSignal, ChannelIMessage:
		return true
	}
	return false
}

// ValidationError is a configuration problem that prevents the agent from
// starting. It is reported once, at startup.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + e.Field + ": " + e.Reason
}

// ServerConfig locates the cloud gateway.
type ServerConfig struct {
	BaseURL string `json:"baseUrl"`
}

// HeartbeatConfig sets the initial liveness cadence. The server may override
// the interval at runtime; overrides live in memory only.
type HeartbeatConfig struct {
	IntervalSeconds int `json:"intervalSeconds"`
}

// OutboundConfig sets the outbound poll cadence and batch cap.
type OutboundConfig struct {
	PollIntervalSeconds int `json:"pollIntervalSeconds"`
	MaxPerPoll          int `json:"maxPerPoll"`
}

// ReconnectConfig bounds the supervisor's reconnection policy.
// MaxAttempts = 0 means unbounded.
type ReconnectConfig struct {
	MaxAttempts       int `json:"maxAttempts"`
	InitialDelayMs    int `json:"initialDelayMs"`
	MaxDelayMs        int `json:"maxDelayMs"`
	WatchdogTimeoutMs int `json:"watchdogTimeoutMs"`
}

// LoggingConfig sets the diagnostic output threshold and optional file sink.
type LoggingConfig struct {
	Level    string `json:"level"`
	File     string `json:"file,omitempty"`
	RotateMb int64  `json:"rotateMb,omitempty"`
}

// StatusConfig enables the local read-only status API when Port > 0.
type StatusConfig struct {
	Port int `json:"port"`
}

// Config is the versioned configuration document. One per agent install.
type Config struct {
	Version     int    `json:"version"`
	Channel     string `json:"channel,omitempty"`
	RelayID     string `json:"relayId,omitempty"`
	DeviceToken string `json:"deviceToken,omitempty"`
	UserID      string `json:"userId,omitempty"`
	InstallID   string `json:"installId,omitempty"`

	Server    ServerConfig    `json:"server"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Outbound  OutboundConfig  `json:"outbound"`
	Reconnect ReconnectConfig `json:"reconnect"`
	Logging   LoggingConfig   `json:"logging"`
	Status    StatusConfig    `json:"status"`

	// AuthToken is the user-identity bearer taken from the environment for
	// unattended register/revoke. It is never persisted.
	AuthToken string `json:"-"`
}

// envOverrides is the environment surface bound with envconfig.
type envOverrides struct {
	AuthToken string `envconfig:"auth_token"`
	LogLevel  string `envconfig:"log_level"`
	Dir       string `envconfig:"dir"`
}

const envPrefix = "hyve_relay"

// Dir resolves the agent directory. HYVE_RELAY_DIR overrides the default
// location under the user's home.
func Dir() (string, error) {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err == nil && env.Dir != "" {
		return env.Dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "unable to resolve the user home directory")
	}
	return filepath.Join(home, DirName), nil
}

// FilePath resolves the configuration document path.
func FilePath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// NewConfig returns a document populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: CurrentVersion,
		Server: ServerConfig{
			BaseURL: "https://gateway.hyve.dev",
		},
		Heartbeat: HeartbeatConfig{
			IntervalSeconds: 30,
		},
		Outbound: OutboundConfig{
			PollIntervalSeconds: 5,
			MaxPerPoll:          3,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts:       0,
			InitialDelayMs:    1000,
			MaxDelayMs:        30000,
			WatchdogTimeoutMs: 900000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the on-disk document, merges it over the defaults and
// applies environment overrides. It always returns a fully populated
// document: a missing or corrupt file falls back to the defaults with a
// warning, never an error.
func LoadConfig() *Config {
	cfg := NewConfig()

	path, err := FilePath()
	if err != nil {
		clog.WithError(err).Warn("Unable to locate the configuration document, using defaults.")
		applyEnvOverrides(cfg)
		cfg.normalize()
		return cfg
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			clog.WithError(err).WithField("path", path).Warn("Unable to read the configuration document, using defaults.")
		}
		applyEnvOverrides(cfg)
		cfg.normalize()
		return cfg
	}

	// Unmarshalling over the defaults struct merges the on-disk partial:
	// absent fields keep their default values.
	if err := json.Unmarshal(raw, cfg); err != nil {
		clog.WithError(err).WithField("path", path).Warn("Corrupt configuration document, using defaults.")
		cfg = NewConfig()
	}

	applyEnvOverrides(cfg)
	cfg.normalize()
	return cfg
}

// SaveConfig persists the document atomically: the agent directory is created
// 0700, the document is written to a temporary sibling and renamed in place
// with mode 0600.
func SaveConfig(cfg *Config) error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := disk.MkdirAll(dir, dirPerm); err != nil {
		return errors.Wrapf(err, "unable to create the agent directory %s", dir)
	}
	if err := restrictDirPerm(dir); err != nil {
		return err
	}

	if cfg.InstallID == "" {
		cfg.InstallID = uuid.NewString()
	}
	cfg.Version = CurrentVersion

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to encode the configuration document")
	}

	return disk.WriteFileAtomic(filepath.Join(dir, FileName), data, filePerm)
}

// ChannelDir resolves (and creates on demand) the credential directory owned
// by the plugin for the given channel tag.
func ChannelDir(tag string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	channelDir := filepath.Join(dir, tag)
	if err := disk.MkdirAll(channelDir, dirPerm); err != nil {
		return "", errors.Wrapf(err, "unable to create the credential directory %s", channelDir)
	}
	if err := restrictDirPerm(channelDir); err != nil {
		return "", err
	}
	return channelDir, nil
}

// restrictDirPerm tightens a directory to owner-only access. MkdirAll applies
// the mode only when it creates the directory; one that already existed, e.g.
// pre-created by an installer or pointed at through HYVE_RELAY_DIR, keeps
// whatever mode it was born with.
func restrictDirPerm(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return errors.Wrapf(err, "unable to inspect the directory %s", dir)
	}
	if info.Mode().Perm() == dirPerm {
		return nil
	}
	if err := os.Chmod(dir, dirPerm); err != nil {
		return errors.Wrapf(err, "unable to restrict the directory %s", dir)
	}
	return nil
}

// Activated reports whether the install completed activation: a channel was
// chosen and the server issued both the relay id and the device token.
func (c *Config) Activated() bool {
	return c.RelayID != "" && c.DeviceToken != "" && c.Channel != ""
}

// SetCredentials installs the server-issued identifiers. They are always
// written together, never independently.
func (c *Config) SetCredentials(relayID, deviceToken string) error {
	if (relayID == "") != (deviceToken == "") {
		return &ValidationError{Field: "relayId/deviceToken", Reason: "written together or not at all"}
	}
	c.RelayID = relayID
	c.DeviceToken = deviceToken
	return nil
}

// ClearCredentials drops the server-issued identifiers, e.g. after a revoke.
func (c *Config) ClearCredentials() {
	c.RelayID = ""
	c.DeviceToken = ""
}

// Validate reports the first startup-blocking problem, or nil.
func (c *Config) Validate() error {
	if c.Server.BaseURL == "" {
		return &ValidationError{Field: "server.baseUrl", Reason: "must not be empty"}
	}
	if !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		return &ValidationError{Field: "server.baseUrl", Reason: "must be an absolute URL"}
	}
	if c.Channel != "" && !ValidChannel(c.Channel) {
		return &ValidationError{Field: "channel", Reason: "unknown channel tag " + c.Channel}
	}
	if c.Reconnect.InitialDelayMs > c.Reconnect.MaxDelayMs {
		return &ValidationError{Field: "reconnect", Reason: "initialDelayMs must not exceed maxDelayMs"}
	}
	if (c.RelayID == "") != (c.DeviceToken == "") {
		return &ValidationError{Field: "relayId/deviceToken", Reason: "present together or not at all"}
	}
	return nil
}

// normalize clamps out-of-range values back to usable ones. The loader never
// fails, so anything that cannot be clamped silently becomes its default.
func (c *Config) normalize() {
	if c.Heartbeat.IntervalSeconds <= 0 {
		c.Heartbeat.IntervalSeconds = 30
	}
	if c.Outbound.PollIntervalSeconds <= 0 {
		c.Outbound.PollIntervalSeconds = 5
	}
	if c.Outbound.MaxPerPoll <= 0 {
		c.Outbound.MaxPerPoll = 3
	}
	if c.Reconnect.InitialDelayMs <= 0 {
		c.Reconnect.InitialDelayMs = 1000
	}
	if c.Reconnect.MaxDelayMs < c.Reconnect.InitialDelayMs {
		c.Reconnect.MaxDelayMs = c.Reconnect.InitialDelayMs
	}
	if c.Reconnect.MaxAttempts < 0 {
		c.Reconnect.MaxAttempts = 0
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
		c.Logging.Level = strings.ToLower(c.Logging.Level)
	default:
		c.Logging.Level = "info"
	}
}

func applyEnvOverrides(cfg *Config) {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		clog.WithError(err).Warn("Unable to read environment overrides.")
		return
	}
	if env.AuthToken != "" {
		cfg.AuthToken = env.AuthToken
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
}
