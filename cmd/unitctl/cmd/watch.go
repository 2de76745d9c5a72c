package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"unitbus/systemd"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print manager events until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		pterm.Info.Println("watching systemd, press Ctrl-C to stop")
		err := client.Watch(cmd.Context(), func(ev systemd.Event) {
			fmt.Println(describe(ev))
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func describe(ev systemd.Event) string {
	switch e := ev.(type) {
	case systemd.JobNew:
		return fmt.Sprintf("job %d new: %s", e.ID, e.Unit)
	case systemd.JobRemoved:
		return fmt.Sprintf("job %d removed: %s (%s)", e.ID, e.Unit, e.Result)
	case systemd.UnitNew:
		return "unit new: " + e.Unit
	case systemd.UnitRemoved:
		return "unit removed: " + e.Unit
	case systemd.UnitFilesChanged:
		return "unit files changed"
	case systemd.Reloading:
		if e.Active {
			return "reloading"
		}
		return "reloaded"
	case systemd.StartupFinished:
		return fmt.Sprintf("startup finished in %s (kernel %s, userspace %s)", e.Total, e.Kernel, e.Userspace)
	case systemd.PropertiesChanged:
		names := make([]string, 0, len(e.Changed))
		for name := range e.Changed {
			names = append(names, name)
		}
		sort.Strings(names)
		return fmt.Sprintf("%s %s changed: %s", e.Path, e.Interface, strings.Join(names, ", "))
	}
	return fmt.Sprintf("%T", ev)
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
