package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bigwills27/Klipy/pkg/account"
)

var (
	userFlags struct {
		email   string
		name    string
		keyName string
	}

	userCmd = &cobra.Command{
		Use:   "user",
		Short: "Manage hub accounts",
	}

	userAddCmd = &cobra.Command{
		Use:   "add",
		Short: "Create an account and print its API key",
		Long: `Create an account in the hub's account database and print a new API key.

The key is shown once. Pass it to "klipy agent --api-key" on every device
of the account.

Examples:
  klipy user add --email ada@example.com --name Ada`,
		RunE: runUserAdd,
		Args: cobra.NoArgs,
	}

	userKeyCmd = &cobra.Command{
		Use:   "key",
		Short: "Issue another API key for an existing account",
		Long: `Issue an additional API key for the account with the given email.

Examples:
  klipy user key --email ada@example.com --key-name laptop`,
		RunE: runUserKey,
		Args: cobra.NoArgs,
	}
)

func init() {
	userAddCmd.Flags().StringVar(&userFlags.email, "email", "", "Account email")
	userAddCmd.Flags().StringVar(&userFlags.name, "name", "", "Display name")
	_ = userAddCmd.MarkFlagRequired("email")

	userKeyCmd.Flags().StringVar(&userFlags.email, "email", "", "Account email")
	userKeyCmd.Flags().StringVar(&userFlags.keyName, "key-name", "default", "Label for the key")
	_ = userKeyCmd.MarkFlagRequired("email")

	userCmd.AddCommand(userAddCmd, userKeyCmd)
}

func openDirectory(cmd *cobra.Command) (*account.Directory, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Hub.Database == "" {
		return nil, fmt.Errorf("hub database is required")
	}
	return account.Open(cfg.Hub.Database)
}

func runUserAdd(cmd *cobra.Command, _ []string) error {
	dir, err := openDirectory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()

	ctx := cmd.Context()
	user, err := dir.CreateUser(ctx, userFlags.email, userFlags.name)
	if err != nil {
		return err
	}
	key, _, err := dir.GenerateAPIKey(ctx, user.ID, "default")
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Created user %s (%s)\n", user.Email, user.ID)
	_, _ = fmt.Fprintf(out, "API key: %s\n", key)
	_, _ = fmt.Fprintln(out, "Store it now; it cannot be shown again.")
	return nil
}

func runUserKey(cmd *cobra.Command, _ []string) error {
	dir, err := openDirectory(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = dir.Close() }()

	ctx := cmd.Context()
	user, err := dir.GetUserByEmail(ctx, userFlags.email)
	if err != nil {
		return err
	}
	key, info, err := dir.GenerateAPIKey(ctx, user.ID, userFlags.keyName)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Issued key %s for %s\n", info.ID, user.Email)
	_, _ = fmt.Fprintf(out, "API key: %s\n", key)
	return nil
}
