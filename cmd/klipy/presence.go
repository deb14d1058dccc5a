package main

import (
	"github.com/spf13/cobra"

	"github.com/Bigwills27/Klipy/pkg/api"
)

var presenceCmd = &cobra.Command{
	Use:   "presence <focus|blur|visible|hidden|interact|copy|cut|select>",
	Short: "Report a focus, visibility or interaction change",
	Long: `Tell the agent about the user's presence so it can adapt polling and
decide whether remote clips may be written.

  focus     the klipy window gained focus
  blur      the klipy window lost focus
  visible   the device is in the foreground
  hidden    the device went to the background
  interact  the user interacted with klipy
  copy      the user pressed a copy shortcut
  cut       the user pressed a cut shortcut
  select    the user selected text, which often precedes a copy

Examples:
  # From a window manager hook
  klipy presence focus`,
	RunE:      runPresence,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{
		api.PresenceFocus, api.PresenceBlur, api.PresenceVisible, api.PresenceHidden,
		api.PresenceInteract, api.PresenceCopy, api.PresenceCut, api.PresenceSelect,
	},
}

func runPresence(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	return c.Presence(args[0])
}
