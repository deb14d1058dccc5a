package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	activateCmd = &cobra.Command{
		Use:   "activate",
		Short: "Turn sync on for this device",
		Long: `Turn sync on. The agent publishes local copies and receives clips from
the account's other devices. Clips copied by other devices while this one
was inactive are offered for approval.`,
		RunE: runActivate,
		Args: cobra.NoArgs,
	}

	deactivateCmd = &cobra.Command{
		Use:   "deactivate",
		Short: "Turn sync off for this device",
		RunE:  runDeactivate,
		Args:  cobra.NoArgs,
	}

	removeCmd = &cobra.Command{
		Use:   "remove <clip-id>",
		Short: "Delete a clip from the shared history",
		RunE:  runRemove,
		Args:  cobra.ExactArgs(1),
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Delete every clip from the shared history",
		RunE:  runClear,
		Args:  cobra.NoArgs,
	}

	retryCmd = &cobra.Command{
		Use:   "retry",
		Short: "Reconnect after the agent gave up",
		Long: `Restart reconnection after the agent exhausted its attempts. The attempt
counter starts over.`,
		RunE: runRetry,
		Args: cobra.NoArgs,
	}
)

func runActivate(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	if err := c.Activate(); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Sync active.")
	return nil
}

func runDeactivate(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	if err := c.Deactivate(); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Sync inactive.")
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	return c.Remove(args[0])
}

func runClear(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	removed, err := c.Clear()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d clips.\n", removed)
	return nil
}

func runRetry(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	return c.Retry()
}
