//go:build linux

package main

import (
	"io"

	"github.com/joeycumines/go-reactor/internal/daemon"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func newRunCmd(logOutput io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reactor daemon until SIGINT or SIGTERM",
		Long: `Runs a reactor loop on the main goroutine. SIGHUP reloads the config
file; with watch enabled, so does editing it. A heartbeat timer logs loop
statistics and pings the systemd watchdog.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg := daemon.DefaultConfig()
			if path != "" {
				var err error
				if cfg, err = daemon.LoadConfig(path); err != nil {
					return err
				}
			}
			if err := applyFlags(cmd.Flags(), &cfg); err != nil {
				return err
			}
			logger, err := newLogger(logOutput, cfg.LogLevel)
			if err != nil {
				return err
			}
			return daemon.Run(cmd.Context(), daemon.Options{
				Logger:     logger,
				ConfigPath: path,
				Config:     cfg,
			})
		},
	}
	cmd.Flags().StringP("config", "c", "", "TOML config file")
	cmd.Flags().String("metrics-addr", "", "Prometheus listen address, overrides metrics_addr")
	cmd.Flags().Duration("heartbeat", 0, "Heartbeat period, overrides heartbeat")
	return cmd
}

// applyFlags overrides cfg with the flags that were set explicitly.
func applyFlags(flags *pflag.FlagSet, cfg *daemon.Config) (err error) {
	flags.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "metrics-addr":
			cfg.MetricsAddr = f.Value.String()
		case "log-level":
			cfg.LogLevel = f.Value.String()
		case "heartbeat":
			var d daemon.Duration
			if err = d.UnmarshalText([]byte(f.Value.String())); err == nil {
				cfg.Heartbeat = d
			}
		}
	})
	if err != nil {
		return err
	}
	return cfg.Validate()
}
