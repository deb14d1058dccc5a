// Package config provides configuration management for klipy agents and
// hubs. It handles loading, validation and display of all settings.
//
// Configuration Sources:
//
// Settings are layered with the following precedence:
//  1. Command-line flags (highest priority)
//  2. KLIPY_* environment variables
//  3. A .env file in the working directory
//  4. A YAML file (--config, or ~/.config/klipy/config.yaml)
//  5. Default values (lowest priority)
//
// Environment Variables:
//
//   - KLIPY_HUB_URL: WebSocket address of the hub (discovered over mDNS when unset)
//   - KLIPY_API_KEY: Account API key
//   - KLIPY_API_KEY_FILE: Path to a file containing the API key
//   - KLIPY_DEVICE_NAME: Display name of this device
//   - KLIPY_STATE_DIR: Directory holding state.db
//   - KLIPY_SOCKET: Local API socket path
//   - KLIPY_ALWAYS_ON: Activate sync automatically after every connect
//   - KLIPY_AUTO_WRITE: Write remote clips without a recent interaction
//   - KLIPY_AUTO_APPROVE: Skip the approval queue for remote clips
//   - KLIPY_HEARTBEAT_INTERVAL: Foreground heartbeat cadence
//   - KLIPY_BACKGROUND_HEARTBEAT_INTERVAL: Heartbeat cadence while backgrounded
//   - KLIPY_MAX_ATTEMPTS: Reconnection attempts before giving up
//   - KLIPY_RECONNECT_THROTTLE: Minimum spacing of reconnection attempts
//   - KLIPY_BACKOFF_BASE, KLIPY_BACKOFF_MAX: Reconnection backoff step and cap
//   - KLIPY_VERBOSE: Enable debug logging
//   - KLIPY_HUB_LISTEN, KLIPY_HUB_DATABASE, KLIPY_HUB_REDIS,
//     KLIPY_HUB_SNAPSHOTS, KLIPY_HUB_ADVERTISE: Hub settings
//   - KLIPY_HUB_MAX_CLIPS, KLIPY_HUB_PERSIST_INTERVAL,
//     KLIPY_HUB_MAX_MEMBERS: Room limits
//
// Security:
//
// The API key is never logged or displayed in configuration output.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Bigwills27/Klipy/pkg/clipboard"
)

// Defaults.
const (
	DefaultHeartbeatInterval           = 5 * time.Minute
	DefaultBackgroundHeartbeatInterval = 15 * time.Minute
	DefaultMaxAttempts                 = 3
	DefaultReconnectThrottle           = 30 * time.Second
	DefaultBackoffBase                 = 2 * time.Second
	DefaultBackoffMax                  = 30 * time.Second
	DefaultHubListen                   = ":7457"
	DefaultHubMaxClips                 = 100
	DefaultHubPersistInterval          = 5 * time.Second
	DefaultSocketName                  = "klipy.sock"
)

// HubConfig holds settings of the hub process.
type HubConfig struct {
	Listen string `yaml:"listen"`
	// Database is the account directory DSN: a SQLite path or a
	// postgres:// URL.
	Database string `yaml:"database"`
	// Redis, when set, stores room snapshots in Redis instead of Snapshots.
	Redis     string `yaml:"redis"`
	Snapshots string `yaml:"snapshots"`
	Advertise bool   `yaml:"advertise"`
	Name      string `yaml:"name"`

	MaxClips        int           `yaml:"max_clips"`
	PersistInterval time.Duration `yaml:"persist_interval"`
	// MaxMembers limits concurrent devices per account. Zero means no limit.
	MaxMembers int `yaml:"max_members"`
}

// Config holds the complete configuration.
type Config struct {
	HubURL     string `yaml:"hub_url"`
	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"`
	DeviceName string `yaml:"device_name"`
	StateDir   string `yaml:"state_dir"`
	Socket     string `yaml:"socket"`

	AlwaysOn    bool `yaml:"always_on"`
	AutoWrite   bool `yaml:"auto_write"`
	AutoApprove bool `yaml:"auto_approve"`

	Intervals                   clipboard.Intervals `yaml:"intervals"`
	HeartbeatInterval           time.Duration       `yaml:"heartbeat_interval"`
	BackgroundHeartbeatInterval time.Duration       `yaml:"background_heartbeat_interval"`
	MaxAttempts                 int                 `yaml:"max_attempts"`
	ReconnectThrottle           time.Duration       `yaml:"reconnect_throttle"`
	BackoffBase                 time.Duration       `yaml:"backoff_base"`
	BackoffMax                  time.Duration       `yaml:"backoff_max"`

	Verbose bool `yaml:"verbose"`

	Hub HubConfig `yaml:"hub"`
}

// NewConfig creates a configuration with sensible defaults:
//   - StateDir: ~/.local/state/klipy
//   - Socket: klipy.sock in the user runtime directory
//   - Intervals: the clipboard monitor's standard cadence
//   - HeartbeatInterval: 5m (15m in the background), MaxAttempts: 3
//   - Reconnection: 30s throttle, backoff from 2s up to 30s
//   - Hub: listen on :7457 with a SQLite directory under StateDir, keep
//     100 clips and persist every 5s
//
// Explicit activation is the default; AlwaysOn is off.
func NewConfig() *Config {
	stateDir := defaultStateDir()
	return &Config{
		DeviceName:                  "",
		StateDir:                    stateDir,
		Socket:                      DefaultSocketPath(),
		Intervals:                   clipboard.DefaultIntervals(),
		HeartbeatInterval:           DefaultHeartbeatInterval,
		BackgroundHeartbeatInterval: DefaultBackgroundHeartbeatInterval,
		MaxAttempts:                 DefaultMaxAttempts,
		ReconnectThrottle:           DefaultReconnectThrottle,
		BackoffBase:                 DefaultBackoffBase,
		BackoffMax:                  DefaultBackoffMax,
		Hub: HubConfig{
			Listen:          DefaultHubListen,
			Database:        filepath.Join(stateDir, "accounts.db"),
			Snapshots:       filepath.Join(stateDir, "hub.db"),
			Name:            "klipy",
			MaxClips:        DefaultHubMaxClips,
			PersistInterval: DefaultHubPersistInterval,
		},
	}
}

// Load builds a configuration from the YAML file at path (or the default
// location when path is empty), the .env file and the environment. Flags are
// applied by the caller afterwards.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			if explicit || !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg.LoadFromEnv()
	return cfg, nil
}

// LoadFile merges a YAML file into the config. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// LoadDotEnv exports the variables of a .env file that are not already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Validate ensures the configuration is usable by an agent. If APIKeyFile is
// set the key is read from it. A missing API key is not an error here: the
// agent may still hold credentials cached by an earlier run.
func (c *Config) Validate() error {
	if c.APIKeyFile != "" {
		if c.APIKey != "" {
			return fmt.Errorf("cannot specify both --api-key and --api-key-file")
		}
		content, err := os.ReadFile(c.APIKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read api key file: %w", err)
		}
		c.APIKey = strings.TrimSpace(string(content))
	}

	if c.HubURL != "" && !strings.HasPrefix(c.HubURL, "ws://") && !strings.HasPrefix(c.HubURL, "wss://") {
		return fmt.Errorf("hub url must start with ws:// or wss://: %s", c.HubURL)
	}
	if c.StateDir == "" {
		return fmt.Errorf("state directory is required")
	}
	if c.Socket == "" {
		return fmt.Errorf("socket path is required")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.BackgroundHeartbeatInterval <= 0 {
		return fmt.Errorf("background heartbeat interval must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.ReconnectThrottle < 0 {
		return fmt.Errorf("reconnect throttle must not be negative")
	}
	if c.BackoffBase <= 0 || c.BackoffMax <= 0 {
		return fmt.Errorf("backoff base and max must be positive")
	}
	if c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("backoff max %s is below backoff base %s", c.BackoffMax, c.BackoffBase)
	}
	iv := c.Intervals
	if iv.Hidden < 0 || iv.Visible < 0 || iv.Focused < 0 || iv.Aggressive < 0 || iv.AggressiveFor < 0 {
		return fmt.Errorf("poll intervals must not be negative")
	}
	return nil
}

// ValidateHub ensures the hub settings are usable.
func (c *Config) ValidateHub() error {
	if c.Hub.Listen == "" {
		return fmt.Errorf("hub listen address is required")
	}
	if !strings.Contains(c.Hub.Listen, ":") {
		return fmt.Errorf("listen address should be in format host:port or :port")
	}
	if c.Hub.Database == "" {
		return fmt.Errorf("hub database is required")
	}
	if c.Hub.Redis != "" && !strings.HasPrefix(c.Hub.Redis, "redis://") && !strings.HasPrefix(c.Hub.Redis, "rediss://") {
		return fmt.Errorf("redis url must start with redis:// or rediss://")
	}
	if c.Hub.MaxClips <= 0 {
		return fmt.Errorf("hub max clips must be positive")
	}
	if c.Hub.PersistInterval <= 0 {
		return fmt.Errorf("hub persist interval must be positive")
	}
	if c.Hub.MaxMembers < 0 {
		return fmt.Errorf("hub max members must not be negative")
	}
	return nil
}

// LoadFromEnv overrides settings from KLIPY_* environment variables. Values
// that fail to parse are ignored, keeping the existing setting.
func (c *Config) LoadFromEnv() {
	setString(&c.HubURL, "KLIPY_HUB_URL")
	setString(&c.APIKey, "KLIPY_API_KEY")
	setString(&c.APIKeyFile, "KLIPY_API_KEY_FILE")
	setString(&c.DeviceName, "KLIPY_DEVICE_NAME")
	setString(&c.StateDir, "KLIPY_STATE_DIR")
	setString(&c.Socket, "KLIPY_SOCKET")
	setBool(&c.AlwaysOn, "KLIPY_ALWAYS_ON")
	setBool(&c.AutoWrite, "KLIPY_AUTO_WRITE")
	setBool(&c.AutoApprove, "KLIPY_AUTO_APPROVE")
	setDuration(&c.HeartbeatInterval, "KLIPY_HEARTBEAT_INTERVAL")
	setDuration(&c.BackgroundHeartbeatInterval, "KLIPY_BACKGROUND_HEARTBEAT_INTERVAL")
	setDuration(&c.ReconnectThrottle, "KLIPY_RECONNECT_THROTTLE")
	setDuration(&c.BackoffBase, "KLIPY_BACKOFF_BASE")
	setDuration(&c.BackoffMax, "KLIPY_BACKOFF_MAX")
	setDuration(&c.Intervals.Focused, "KLIPY_POLL_FOCUSED")
	setDuration(&c.Intervals.Visible, "KLIPY_POLL_VISIBLE")
	setDuration(&c.Intervals.Hidden, "KLIPY_POLL_HIDDEN")
	setBool(&c.Verbose, "KLIPY_VERBOSE")
	setInt(&c.MaxAttempts, "KLIPY_MAX_ATTEMPTS")

	setString(&c.Hub.Listen, "KLIPY_HUB_LISTEN")
	setString(&c.Hub.Database, "KLIPY_HUB_DATABASE")
	setString(&c.Hub.Redis, "KLIPY_HUB_REDIS")
	setString(&c.Hub.Snapshots, "KLIPY_HUB_SNAPSHOTS")
	setBool(&c.Hub.Advertise, "KLIPY_HUB_ADVERTISE")
	setInt(&c.Hub.MaxClips, "KLIPY_HUB_MAX_CLIPS")
	setDuration(&c.Hub.PersistInterval, "KLIPY_HUB_PERSIST_INTERVAL")
	setInt(&c.Hub.MaxMembers, "KLIPY_HUB_MAX_MEMBERS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// StatePath returns the bbolt file of the agent.
func (c *Config) StatePath() string {
	return filepath.Join(c.StateDir, "state.db")
}

// DefaultConfigPath returns ~/.config/klipy/config.yaml, or "" when the user
// config directory is unknown.
func DefaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "klipy", "config.yaml")
}

// DefaultSocketPath returns the local API socket path. XDG_RUNTIME_DIR is
// preferred, then the temp dir with the uid in the name.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, DefaultSocketName)
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("klipy-%d.sock", os.Getuid()))
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "klipy")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "klipy")
	}
	return filepath.Join(home, ".local", "state", "klipy")
}

// String returns a representation suitable for logging. The API key is
// shown as "[hidden]" when set and "[not set]" otherwise.
func (c *Config) String() string {
	keyDisplay := "[hidden]"
	if c.APIKey == "" {
		keyDisplay = "[not set]"
	}

	hubURL := c.HubURL
	if hubURL == "" {
		hubURL = "[discover]"
	}

	return fmt.Sprintf(
		"Config{HubURL: %s, APIKey: %s, DeviceName: %s, StateDir: %s, Socket: %s, AlwaysOn: %v, AutoWrite: %v, AutoApprove: %v, Heartbeat: %s/%s, MaxAttempts: %d, Throttle: %s, Backoff: %s-%s, Verbose: %v}",
		hubURL, keyDisplay, c.DeviceName, c.StateDir, c.Socket, c.AlwaysOn, c.AutoWrite, c.AutoApprove,
		c.HeartbeatInterval, c.BackgroundHeartbeatInterval, c.MaxAttempts, c.ReconnectThrottle, c.BackoffBase, c.BackoffMax, c.Verbose,
	)
}
