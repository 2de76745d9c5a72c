// Package cmd implements the unitctl command line.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"unitbus/config"
	"unitbus/logging"
	"unitbus/systemd"
)

var (
	cfgFile  string
	address  string
	capacity int
	timeout  time.Duration
	logLevel string

	client *systemd.Client
	log    *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:   "unitctl",
	Short: "Control systemd units over a pooled system bus client",
	Long: `unitctl talks to the systemd manager over the D-Bus system bus.

Calls share a bounded pool of bus connections, so many concurrent
requests reuse a handful of sockets.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: connect,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if client == nil {
			return nil
		}
		return client.Close()
	},
}

// Execute runs the root command until it finishes or the process is
// interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		pterm.Error.Println(err)
	}
	return err
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (.toml or .yaml)")
	flags.StringVar(&address, "address", "", "bus address (default: system bus)")
	flags.IntVar(&capacity, "capacity", config.DefaultCapacity, "maximum pooled bus connections")
	flags.DurationVar(&timeout, "timeout", config.DefaultCallTimeout, "per-call timeout")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
}

// loadConfig merges file, environment and flags, in that order.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("address") {
		cfg.Bus.Address = address
	}
	if flags.Changed("capacity") {
		cfg.Pool.Capacity = capacity
	}
	if flags.Changed("timeout") {
		cfg.Call.Timeout.Duration = timeout
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	return cfg, cfg.Validate()
}

func connect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err = logging.New(cfg.Log)
	if err != nil {
		return err
	}
	client, err = systemd.New(cfg, systemd.WithLogger(log))
	return err
}
