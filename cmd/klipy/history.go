package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Bigwills27/Klipy/pkg/model"
)

// previewWidth is how many runes of a clip the listings show.
const previewWidth = 48

var (
	historyJSON   bool
	historyLimit  int
	historySearch string
	devicesJSON   bool

	historyCmd = &cobra.Command{
		Use:   "history",
		Short: "List the shared clip history",
		Long: `List the clips in the shared history, newest first.

Examples:
  klipy history
  klipy history --limit 5
  klipy history --search "api key"
  klipy history --json`,
		RunE: runHistory,
		Args: cobra.NoArgs,
	}

	devicesCmd = &cobra.Command{
		Use:   "devices",
		Short: "List the devices of the account",
		RunE:  runDevices,
		Args:  cobra.NoArgs,
	}
)

func init() {
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Show at most n clips")
	historyCmd.Flags().StringVarP(&historySearch, "search", "s", "", "Show only clips containing this text (case-insensitive)")
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "Output as JSON")
}

func runHistory(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	clips, err := c.History()
	if err != nil {
		return err
	}
	clips = filterClips(clips, historySearch)
	if historyLimit > 0 && len(clips) > historyLimit {
		clips = clips[:historyLimit]
	}
	if historyJSON {
		return writeJSON(cmd.OutOrStdout(), clips)
	}
	printClips(cmd.OutOrStdout(), clips, time.Now())
	return nil
}

func runDevices(cmd *cobra.Command, _ []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	devices, err := c.Devices()
	if err != nil {
		return err
	}
	if devicesJSON {
		return writeJSON(cmd.OutOrStdout(), devices)
	}
	printDevices(cmd.OutOrStdout(), devices, time.Now())
	return nil
}

// filterClips keeps the clips whose text contains query, ignoring case. An
// empty query keeps everything.
func filterClips(clips []model.Clip, query string) []model.Clip {
	if query == "" {
		return clips
	}
	query = strings.ToLower(query)
	var out []model.Clip
	for _, clip := range clips {
		if strings.Contains(strings.ToLower(clip.Text), query) {
			out = append(out, clip)
		}
	}
	return out
}

func printClips(out io.Writer, clips []model.Clip, now time.Time) {
	if len(clips) == 0 {
		_, _ = fmt.Fprintln(out, "No clips.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tFROM\tCOPIED\tSIZE\tTEXT")
	for _, clip := range clips {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			clip.ID,
			clip.OriginDeviceID,
			humanize.RelTime(clip.CreatedAt, now, "ago", "from now"),
			humanize.Bytes(uint64(len(clip.Text))),
			preview(clip.Text, previewWidth),
		)
	}
}

func printDevices(out io.Writer, devices []model.Device, now time.Time) {
	if len(devices) == 0 {
		_, _ = fmt.Fprintln(out, "No devices.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "ID\tNAME\tSYNC\tLAST SEEN")
	for _, d := range devices {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			d.DeviceID,
			d.DeviceName,
			onOff(d.IsActive),
			humanize.RelTime(d.LastActivity, now, "ago", "from now"),
		)
	}
}

// preview flattens text to one line and cuts it to width runes.
func preview(text string, width int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= width {
		return text
	}
	return string(runes[:width-1]) + "…"
}
