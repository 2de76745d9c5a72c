package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"unitbus/dbus"
	"unitbus/systemd"
)

type jobFunc func(ctx context.Context, name string, mode systemd.Mode) (dbus.ObjectPath, error)

// jobCommand builds one of the start/stop/... commands. The client is only
// available once the root pre-run has connected, hence the selector.
func jobCommand(use, short string, pick func(*systemd.Client) jobFunc) *cobra.Command {
	var mode string
	c := &cobra.Command{
		Use:   use + " UNIT...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := systemd.ParseMode(mode)
			if err != nil {
				return err
			}
			run := pick(client)
			for _, unit := range args {
				job, err := run(cmd.Context(), unit, m)
				if err != nil {
					return fmt.Errorf("%s %s: %w", use, unit, err)
				}
				pterm.Success.Printfln("%s %s: job %s", use, unit, job)
			}
			return nil
		},
	}
	c.Flags().StringVar(&mode, "mode", systemd.Replace.Token(),
		"job mode: replace, fail, isolate, ignore-dependencies, ignore-requirements")
	return c
}

var statusCmd = &cobra.Command{
	Use:   "status [UNIT...]",
	Short: "List loaded units",
	RunE: func(cmd *cobra.Command, args []string) error {
		states, _ := cmd.Flags().GetStringSlice("state")
		var (
			units []systemd.UnitStatus
			err   error
		)
		switch {
		case len(args) > 0:
			units, err = client.ListUnitsByNames(cmd.Context(), args)
		case len(states) > 0:
			units, err = client.ListUnitsFiltered(cmd.Context(), states)
		default:
			units, err = client.ListUnits(cmd.Context())
		}
		if err != nil {
			return err
		}
		return pterm.DefaultTable.WithHasHeader().WithData(unitTable(units)).Render()
	},
}

var getUnitCmd = &cobra.Command{
	Use:   "get-unit UNIT",
	Short: "Print the object path of a loaded unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := client.GetUnit(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	},
}

func unitTable(units []systemd.UnitStatus) pterm.TableData {
	data := pterm.TableData{{"UNIT", "LOAD", "ACTIVE", "SUB", "JOB", "DESCRIPTION"}}
	for _, u := range units {
		job := ""
		if u.JobID != 0 {
			job = strconv.FormatUint(uint64(u.JobID), 10) + " " + u.JobType
		}
		data = append(data, []string{u.Name, u.LoadState, u.ActiveState, u.SubState, job, u.Description})
	}
	return data
}

func init() {
	rootCmd.AddCommand(
		jobCommand("start", "Start units", func(c *systemd.Client) jobFunc { return c.StartUnit }),
		jobCommand("stop", "Stop units", func(c *systemd.Client) jobFunc { return c.StopUnit }),
		jobCommand("restart", "Restart units", func(c *systemd.Client) jobFunc { return c.RestartUnit }),
		jobCommand("reload", "Reload unit configuration", func(c *systemd.Client) jobFunc { return c.ReloadUnit }),
		jobCommand("try-restart", "Restart units that are running", func(c *systemd.Client) jobFunc { return c.TryRestartUnit }),
		statusCmd,
		getUnitCmd,
	)
	statusCmd.Flags().StringSlice("state", nil, "only units in these active or sub states")
}
