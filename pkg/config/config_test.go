package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bigwills27/Klipy/pkg/clipboard"
)

func TestNewConfig(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/var/lib/test")
	cfg := NewConfig()

	assert.Equal(t, "/var/lib/test/klipy", cfg.StateDir)
	assert.Equal(t, "/var/lib/test/klipy/state.db", cfg.StatePath())
	assert.Equal(t, clipboard.DefaultIntervals(), cfg.Intervals)
	assert.Equal(t, 5*time.Minute, cfg.HeartbeatInterval)
	assert.Equal(t, 15*time.Minute, cfg.BackgroundHeartbeatInterval)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.ReconnectThrottle)
	assert.Equal(t, 2*time.Second, cfg.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.BackoffMax)
	assert.False(t, cfg.AlwaysOn, "explicit activation is the default")
	assert.False(t, cfg.Verbose)
	assert.Equal(t, DefaultHubListen, cfg.Hub.Listen)
	assert.Equal(t, 100, cfg.Hub.MaxClips)
	assert.Equal(t, 5*time.Second, cfg.Hub.PersistInterval)
	assert.Zero(t, cfg.Hub.MaxMembers, "no member limit by default")
	assert.NotEmpty(t, cfg.Socket)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{name: "defaults", modify: func(*Config) {}},
		{name: "secure hub url", modify: func(c *Config) { c.HubURL = "wss://klipy.example.com/ws" }},
		{
			name:   "http hub url",
			modify: func(c *Config) { c.HubURL = "http://klipy.example.com" },
			errMsg: "hub url must start with ws:// or wss://",
		},
		{
			name:   "missing state dir",
			modify: func(c *Config) { c.StateDir = "" },
			errMsg: "state directory is required",
		},
		{
			name:   "missing socket",
			modify: func(c *Config) { c.Socket = "" },
			errMsg: "socket path is required",
		},
		{
			name:   "zero heartbeat",
			modify: func(c *Config) { c.HeartbeatInterval = 0 },
			errMsg: "heartbeat interval must be positive",
		},
		{
			name:   "zero attempts",
			modify: func(c *Config) { c.MaxAttempts = 0 },
			errMsg: "max attempts must be positive",
		},
		{
			name:   "zero background heartbeat",
			modify: func(c *Config) { c.BackgroundHeartbeatInterval = 0 },
			errMsg: "background heartbeat interval must be positive",
		},
		{name: "no throttle", modify: func(c *Config) { c.ReconnectThrottle = 0 }},
		{
			name:   "negative throttle",
			modify: func(c *Config) { c.ReconnectThrottle = -time.Second },
			errMsg: "reconnect throttle must not be negative",
		},
		{
			name:   "zero backoff base",
			modify: func(c *Config) { c.BackoffBase = 0 },
			errMsg: "backoff base and max must be positive",
		},
		{
			name:   "backoff max below base",
			modify: func(c *Config) { c.BackoffBase = time.Minute; c.BackoffMax = time.Second },
			errMsg: "backoff max 1s is below backoff base 1m0s",
		},
		{
			name:   "negative interval",
			modify: func(c *Config) { c.Intervals.Focused = -time.Second },
			errMsg: "poll intervals must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestValidateHub(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.ValidateHub())

	cfg.Hub.Redis = "redis://localhost:6379/0"
	assert.NoError(t, cfg.ValidateHub())

	cfg.Hub.Redis = "localhost:6379"
	assert.ErrorContains(t, cfg.ValidateHub(), "redis url")

	cfg = NewConfig()
	cfg.Hub.Listen = "7457"
	assert.ErrorContains(t, cfg.ValidateHub(), "host:port")

	cfg = NewConfig()
	cfg.Hub.Database = ""
	assert.ErrorContains(t, cfg.ValidateHub(), "database is required")

	cfg = NewConfig()
	cfg.Hub.MaxClips = 0
	assert.ErrorContains(t, cfg.ValidateHub(), "max clips must be positive")

	cfg = NewConfig()
	cfg.Hub.PersistInterval = 0
	assert.ErrorContains(t, cfg.ValidateHub(), "persist interval must be positive")

	cfg = NewConfig()
	cfg.Hub.MaxMembers = -1
	assert.ErrorContains(t, cfg.ValidateHub(), "max members must not be negative")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("KLIPY_HUB_URL", "ws://hub.lan:7457/ws")
	t.Setenv("KLIPY_API_KEY", "klipy_env")
	t.Setenv("KLIPY_DEVICE_NAME", "laptop")
	t.Setenv("KLIPY_ALWAYS_ON", "true")
	t.Setenv("KLIPY_AUTO_APPROVE", "1")
	t.Setenv("KLIPY_HEARTBEAT_INTERVAL", "2m")
	t.Setenv("KLIPY_POLL_FOCUSED", "250ms")
	t.Setenv("KLIPY_MAX_ATTEMPTS", "5")
	t.Setenv("KLIPY_HUB_REDIS", "redis://cache:6379")
	t.Setenv("KLIPY_HUB_ADVERTISE", "yes")
	t.Setenv("KLIPY_BACKGROUND_HEARTBEAT_INTERVAL", "20m")
	t.Setenv("KLIPY_RECONNECT_THROTTLE", "10s")
	t.Setenv("KLIPY_BACKOFF_BASE", "500ms")
	t.Setenv("KLIPY_BACKOFF_MAX", "1m")
	t.Setenv("KLIPY_HUB_MAX_CLIPS", "50")
	t.Setenv("KLIPY_HUB_PERSIST_INTERVAL", "2s")
	t.Setenv("KLIPY_HUB_MAX_MEMBERS", "8")

	cfg := NewConfig()
	cfg.LoadFromEnv()

	assert.Equal(t, "ws://hub.lan:7457/ws", cfg.HubURL)
	assert.Equal(t, "klipy_env", cfg.APIKey)
	assert.Equal(t, "laptop", cfg.DeviceName)
	assert.True(t, cfg.AlwaysOn)
	assert.True(t, cfg.AutoApprove)
	assert.Equal(t, 2*time.Minute, cfg.HeartbeatInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.Intervals.Focused)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, "redis://cache:6379", cfg.Hub.Redis)
	assert.False(t, cfg.Hub.Advertise, "unparseable bool keeps the default")
	assert.Equal(t, 20*time.Minute, cfg.BackgroundHeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.ReconnectThrottle)
	assert.Equal(t, 500*time.Millisecond, cfg.BackoffBase)
	assert.Equal(t, time.Minute, cfg.BackoffMax)
	assert.Equal(t, 50, cfg.Hub.MaxClips)
	assert.Equal(t, 2*time.Second, cfg.Hub.PersistInterval)
	assert.Equal(t, 8, cfg.Hub.MaxMembers)
}

func TestLoadFromEnvInvalidValues(t *testing.T) {
	t.Setenv("KLIPY_HEARTBEAT_INTERVAL", "soon")
	t.Setenv("KLIPY_MAX_ATTEMPTS", "many")
	t.Setenv("KLIPY_VERBOSE", "loud")
	t.Setenv("KLIPY_HUB_MAX_MEMBERS", "lots")

	cfg := NewConfig()
	cfg.LoadFromEnv()

	assert.Equal(t, DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.False(t, cfg.Verbose)
	assert.Zero(t, cfg.Hub.MaxMembers)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `hub_url: wss://hub.example.com/ws
device_name: studio
always_on: true
intervals:
  focused: 300ms
heartbeat_interval: 1m
reconnect_throttle: 5s
backoff_max: 2m
hub:
  listen: 127.0.0.1:9000
  advertise: true
  max_clips: 250
  max_members: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg := NewConfig()
	require.NoError(t, cfg.LoadFile(path))

	assert.Equal(t, "wss://hub.example.com/ws", cfg.HubURL)
	assert.Equal(t, "studio", cfg.DeviceName)
	assert.True(t, cfg.AlwaysOn)
	assert.Equal(t, 300*time.Millisecond, cfg.Intervals.Focused)
	assert.Equal(t, clipboard.DefaultIntervals().Hidden, cfg.Intervals.Hidden, "absent keys keep defaults")
	assert.Equal(t, time.Minute, cfg.HeartbeatInterval)
	assert.Equal(t, "127.0.0.1:9000", cfg.Hub.Listen)
	assert.True(t, cfg.Hub.Advertise)
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.ReconnectThrottle)
	assert.Equal(t, 2*time.Minute, cfg.BackoffMax)
	assert.Equal(t, DefaultBackoffBase, cfg.BackoffBase)
	assert.Equal(t, 250, cfg.Hub.MaxClips)
	assert.Equal(t, 3, cfg.Hub.MaxMembers)
	assert.Equal(t, DefaultHubPersistInterval, cfg.Hub.PersistInterval)
}

func TestLoadFileErrors(t *testing.T) {
	cfg := NewConfig()
	assert.Error(t, cfg.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("always_on: [nope"), 0o600))
	assert.ErrorContains(t, cfg.LoadFile(path), "parse config file")
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device_name: from-yaml\nmax_attempts: 7\n"), 0o600))

	t.Setenv("KLIPY_DEVICE_NAME", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.DeviceName, "environment beats the file")
	assert.Equal(t, 7, cfg.MaxAttempts, "file beats the defaults")

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err, "an explicit config path must exist")

	t.Setenv("XDG_CONFIG_HOME", dir)
	cfg, err = Load("")
	require.NoError(t, err, "a missing default config file is fine")
	assert.Equal(t, DefaultMaxAttempts, cfg.MaxAttempts)
}

func TestLoadDotEnv(t *testing.T) {
	const key = "KLIPY_TEST_DOTENV_NAME"
	t.Cleanup(func() { os.Unsetenv(key) })
	t.Setenv("KLIPY_TEST_DOTENV_KEY", "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(key+"=desk\nKLIPY_TEST_DOTENV_KEY=from-file\n"), 0o600))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "desk", os.Getenv(key))
	assert.Equal(t, "from-env", os.Getenv("KLIPY_TEST_DOTENV_KEY"), ".env never overrides the environment")

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), ".env")), "missing file is ignored")
}

func TestAPIKeyFile(t *testing.T) {
	t.Run("trimmed key from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "key")
		require.NoError(t, os.WriteFile(path, []byte("  klipy_abc  \n"), 0o600))

		cfg := NewConfig()
		cfg.APIKeyFile = path
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "klipy_abc", cfg.APIKey)
	})

	t.Run("both key and file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "key")
		require.NoError(t, os.WriteFile(path, []byte("klipy_abc"), 0o600))

		cfg := NewConfig()
		cfg.APIKey = "klipy_other"
		cfg.APIKeyFile = path
		assert.ErrorContains(t, cfg.Validate(), "cannot specify both")
	})

	t.Run("unreadable file", func(t *testing.T) {
		cfg := NewConfig()
		cfg.APIKeyFile = filepath.Join(t.TempDir(), "missing")
		assert.ErrorContains(t, cfg.Validate(), "failed to read api key file")
	})
}

func TestConfigString(t *testing.T) {
	cfg := NewConfig()
	cfg.APIKey = "klipy_supersecret"
	cfg.DeviceName = "laptop"

	str := cfg.String()
	assert.NotContains(t, str, "supersecret")
	assert.Contains(t, str, "APIKey: [hidden]")
	assert.Contains(t, str, "DeviceName: laptop")
	assert.Contains(t, str, "HubURL: [discover]")

	cfg.APIKey = ""
	assert.True(t, strings.Contains(cfg.String(), "APIKey: [not set]"))
}
