package cmd

import (
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"unitbus/systemd"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List queued jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := client.ListJobs(cmd.Context())
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			pterm.Info.Println("no jobs running")
			return nil
		}
		return pterm.DefaultTable.WithHasHeader().WithData(jobTable(jobs)).Render()
	},
}

var cancelJobCmd = &cobra.Command{
	Use:   "cancel-job ID...",
	Short: "Cancel queued jobs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, arg := range args {
			id, err := strconv.ParseUint(arg, 10, 32)
			if err != nil {
				return err
			}
			if err := client.CancelJob(cmd.Context(), uint32(id)); err != nil {
				return err
			}
			pterm.Success.Printfln("cancelled job %d", id)
		}
		return nil
	},
}

func jobTable(jobs []systemd.Job) pterm.TableData {
	data := pterm.TableData{{"JOB", "UNIT", "TYPE", "STATE"}}
	for _, j := range jobs {
		data = append(data, []string{strconv.FormatUint(uint64(j.ID), 10), j.Unit, j.Type, j.State})
	}
	return data
}

func init() {
	rootCmd.AddCommand(jobsCmd, cancelJobCmd)
}
