package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Bigwills27/Klipy/pkg/agent"
	"github.com/Bigwills27/Klipy/pkg/api"
	"github.com/Bigwills27/Klipy/pkg/clipboard"
	"github.com/Bigwills27/Klipy/pkg/config"
	"github.com/Bigwills27/Klipy/pkg/discovery"
	"github.com/Bigwills27/Klipy/pkg/session"
	"github.com/Bigwills27/Klipy/pkg/storage"
	"github.com/Bigwills27/Klipy/pkg/supervisor"
)

// discoverTimeout bounds the mDNS lookup of a hub when no URL is set.
const discoverTimeout = 5 * time.Second

var (
	agentFlags struct {
		hubURL      string
		apiKey      string
		apiKeyFile  string
		deviceName  string
		stateDir    string
		alwaysOn    bool
		autoWrite   bool
		autoApprove bool
		heartbeat   time.Duration
		maxAttempts int
	}

	agentCmd = &cobra.Command{
		Use:   "agent",
		Short: "Run the klipy agent",
		Long: `Run the klipy agent for this device.

The agent:
- Connects to the hub and joins the account's shared room
- Watches the local clipboard and publishes new clips while sync is active
- Writes clips from other devices, or queues them for approval
- Reconnects with backoff and gives up after --max-attempts failures
- Serves the local API used by the other klipy commands

Sync starts inactive unless --always-on is set; use "klipy activate".
Without --hub the agent looks for a hub on the local network.

Examples:
  # Discover the hub over mDNS
  klipy agent --api-key klipy_...

  # Connect to a known hub and sync right away
  klipy agent --hub wss://klipy.example.com --always-on`,
		RunE: runAgent,
		Args: cobra.NoArgs,
	}
)

func init() {
	f := agentCmd.Flags()
	f.StringVar(&agentFlags.hubURL, "hub", "", "Hub WebSocket URL (discovered over mDNS when unset)")
	f.StringVar(&agentFlags.apiKey, "api-key", "", "Account API key")
	f.StringVar(&agentFlags.apiKeyFile, "api-key-file", "", "Path to a file containing the API key")
	f.StringVar(&agentFlags.deviceName, "name", "", "Device name (default: hostname and platform)")
	f.StringVar(&agentFlags.stateDir, "state-dir", "", "Directory for state.db")
	f.BoolVar(&agentFlags.alwaysOn, "always-on", false, "Activate sync after every connect")
	f.BoolVar(&agentFlags.autoWrite, "auto-write", false, "Write remote clips to the clipboard without asking")
	f.BoolVar(&agentFlags.autoApprove, "auto-approve", false, "Skip the approval queue")
	f.DurationVar(&agentFlags.heartbeat, "heartbeat", config.DefaultHeartbeatInterval, "Heartbeat interval")
	f.IntVar(&agentFlags.maxAttempts, "max-attempts", config.DefaultMaxAttempts, "Reconnection attempts before giving up")
}

// applyAgentFlags overrides the loaded config with flags set on the command
// line.
func applyAgentFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("hub") {
		cfg.HubURL = agentFlags.hubURL
	}
	if f.Changed("api-key") {
		cfg.APIKey = agentFlags.apiKey
	}
	if f.Changed("api-key-file") {
		cfg.APIKeyFile = agentFlags.apiKeyFile
	}
	if f.Changed("name") {
		cfg.DeviceName = agentFlags.deviceName
	}
	if f.Changed("state-dir") {
		cfg.StateDir = agentFlags.stateDir
	}
	if f.Changed("always-on") {
		cfg.AlwaysOn = agentFlags.alwaysOn
	}
	if f.Changed("auto-write") {
		cfg.AutoWrite = agentFlags.autoWrite
	}
	if f.Changed("auto-approve") {
		cfg.AutoApprove = agentFlags.autoApprove
	}
	if f.Changed("heartbeat") {
		cfg.HeartbeatInterval = agentFlags.heartbeat
	}
	if f.Changed("max-attempts") {
		cfg.MaxAttempts = agentFlags.maxAttempts
	}
}

func runAgent(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyAgentFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	log := newLogger(os.Stderr, cfg.Verbose)
	log.Info("starting klipy agent", "version", version, "socket", cfg.Socket)
	log.Debug("configuration", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runAgentWithConfig(ctx, cfg, log)
}

func runAgentWithConfig(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	store, err := storage.OpenBolt(cfg.StatePath())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			log.Error("failed to close state", "error", closeErr)
		}
	}()

	deviceID, err := agent.LoadDeviceID(store)
	if err != nil {
		return err
	}
	deviceName := cfg.DeviceName
	if deviceName == "" {
		deviceName = agent.DefaultDeviceName()
	}

	hubURL, err := resolveHub(ctx, cfg, log)
	if err != nil {
		return err
	}

	log.Info("initializing clipboard")
	monitor, err := createMonitor(cfg, log)
	if err != nil {
		return err
	}

	sup, err := supervisor.New(supervisor.Config{
		Transport:                   session.NewWSTransport(hubURL, log.With("component", "session")),
		Monitor:                     monitor,
		View:                        agent.NewView(0),
		Credentials:                 store,
		ViewStore:                   store,
		DeviceID:                    deviceID,
		DeviceName:                  deviceName,
		APIKey:                      cfg.APIKey,
		AlwaysOn:                    cfg.AlwaysOn,
		AutoApprove:                 cfg.AutoApprove,
		HeartbeatInterval:           cfg.HeartbeatInterval,
		BackgroundHeartbeatInterval: cfg.BackgroundHeartbeatInterval,
		MaxAttempts:                 cfg.MaxAttempts,
		ThrottleWindow:              cfg.ReconnectThrottle,
		Backoff:                     supervisor.Backoff{Base: cfg.BackoffBase, Max: cfg.BackoffMax},
		Logger:                      log.With("component", "supervisor"),
		AgentLogger:                 log.With("component", "agent"),
	})
	if err != nil {
		return fmt.Errorf("failed to create supervisor: %w", err)
	}

	srv, err := api.NewServer(&api.ServerConfig{
		Supervisor: sup,
		Logger:     log,
		SocketPath: cfg.Socket,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("failed to create api server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start api server: %w", err)
	}
	defer func() {
		if stopErr := srv.Stop(); stopErr != nil {
			log.Error("failed to stop api server", "error", stopErr)
		}
	}()

	log.Info("klipy agent is running", "device_id", deviceID, "device_name", deviceName, "hub", hubURL)

	err = sup.Run(ctx)

	stats := monitor.Stats()
	log.Info("final statistics",
		"reads", stats.Reads,
		"detections", stats.Detections,
		"writes", stats.Writes,
		"refusals", stats.Refusals,
	)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("klipy agent stopped")
	return nil
}

// resolveHub returns the configured hub URL or looks one up on the LAN.
func resolveHub(ctx context.Context, cfg *config.Config, log *slog.Logger) (string, error) {
	if cfg.HubURL != "" {
		return cfg.HubURL, nil
	}
	log.Info("looking for a hub on the local network")
	dctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()
	hub, err := discovery.First(dctx)
	if err != nil {
		return "", fmt.Errorf("no hub configured and %w (set --hub or KLIPY_HUB_URL)", err)
	}
	log.Info("discovered hub", "instance", hub.Instance, "url", hub.URL())
	return hub.URL(), nil
}

// createMonitor wraps the platform clipboard. Without a usable clipboard the
// agent still runs; the monitor stays in fallback mode and clips arrive
// through copy, paste and capture commands.
func createMonitor(cfg *config.Config, log *slog.Logger) (*clipboard.Monitor, error) {
	cb, err := clipboard.NewPlatformClipboard()
	if err != nil {
		log.Warn("no clipboard tool found, running without system clipboard", "error", err)
		cb = clipboard.NewNoopClipboard()
	}
	monitor, err := clipboard.NewMonitor(clipboard.MonitorConfig{
		Clipboard: cb,
		Logger:    log.With("component", "clipboard"),
		Intervals: cfg.Intervals,
		AutoWrite: cfg.AutoWrite,
		Visible:   true,
		Focused:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create clipboard monitor: %w", err)
	}
	return monitor, nil
}
