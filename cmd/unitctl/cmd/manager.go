package cmd

import (
	"fmt"
	"runtime"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	Version   = "0.1.0"
	GitCommit = "development"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show client and manager versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("unitctl v%s (%s, %s)\n", Version, GitCommit, runtime.Version())
		v, err := client.Version(cmd.Context())
		if err != nil {
			return err
		}
		state, err := client.SystemState(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("systemd %s, system %s\n", v, state)
		return nil
	},
}

var setLogLevelCmd = &cobra.Command{
	Use:   "set-log-level LEVEL",
	Short: "Change the manager log level",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.SetLogLevel(cmd.Context(), args[0]); err != nil {
			return err
		}
		pterm.Success.Printfln("log level set to %s", args[0])
		return nil
	},
}

var daemonReloadCmd = &cobra.Command{
	Use:   "daemon-reload",
	Short: "Reload all unit files",
	RunE: func(cmd *cobra.Command, args []string) error {
		return client.Reload(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd, setLogLevelCmd, daemonReloadCmd)
}
