// Package main implements the klipy CLI: the device agent, the hub, and the
// client subcommands that drive a running agent over its Unix socket.
//
// # Overview
//
// Every device of an account runs "klipy agent". The agent watches the local
// clipboard, replicates new clips through the hub to the account's other
// devices, and keeps the shared history. "klipy hub" runs the hub itself:
// the account directory, the WebSocket session endpoint and, optionally, an
// mDNS advertisement so agents on the LAN find it without configuration.
//
// # Configuration
//
// Settings come from flags, KLIPY_* environment variables, a .env file and
// a YAML config file, in that order of precedence. See pkg/config.
//
// # Example Usage
//
//	# Create an account and get an API key
//	klipy user add --email ada@example.com --name Ada
//
//	# Run the hub and advertise it on the LAN
//	klipy hub --advertise
//
//	# Run the agent on each device, then turn sync on
//	klipy agent --api-key klipy_...
//	klipy activate
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Bigwills27/Klipy/pkg/client"
	"github.com/Bigwills27/Klipy/pkg/config"
)

var (
	// Version information (set by build flags)
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	socketPath string
	configPath string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "klipy",
		Short: "Shared clipboard across your devices",
		Long: `klipy keeps one clipboard history for all devices of an account.

Run "klipy agent" on every device and "klipy hub" on one machine the devices
can reach. The remaining commands talk to the local agent.`,
		SilenceUsage: true,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&socketPath, "socket", "", "Local API socket path (default: $XDG_RUNTIME_DIR/klipy.sock)")
	pf.StringVar(&configPath, "config", "", "Config file (default: ~/.config/klipy/config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(
		agentCmd,
		hubCmd,
		userCmd,
		copyCmd,
		pasteCmd,
		statusCmd,
		historyCmd,
		devicesCmd,
		activateCmd,
		deactivateCmd,
		removeCmd,
		clearCmd,
		pendingCmd,
		approveCmd,
		forceCmd,
		dismissCmd,
		retryCmd,
		captureCmd,
		presenceCmd,
		versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig layers the config file, .env and environment, then the
// persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if cmd.Flags().Changed("socket") {
		cfg.Socket = socketPath
	}
	if verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

// newClient returns a client for the socket of the local agent.
func newClient(cmd *cobra.Command) (*client.Client, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return client.New(&client.Config{SocketPath: cfg.Socket}), nil
}
