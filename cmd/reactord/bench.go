//go:build linux

package main

import (
	"fmt"
	"io"

	"github.com/joeycumines/go-reactor/internal/daemon"
	"github.com/spf13/cobra"
)

func newBenchCmd(logOutput io.Writer) *cobra.Command {
	var opts daemon.BenchOptions
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure cross goroutine invoke throughput",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			logger, err := newLogger(logOutput, level)
			if err != nil {
				return err
			}
			opts.Logger = logger
			res, err := daemon.Bench(cmd.Context(), opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "executed=%d retries=%d elapsed=%s rate=%.0f/s\n",
				res.Executed, res.Retries, res.Elapsed, res.Rate())
			return err
		},
	}
	cmd.Flags().IntVarP(&opts.Producers, "producers", "p", 4, "Producer goroutines")
	cmd.Flags().IntVarP(&opts.Items, "items", "n", 100000, "Invocations per producer")
	cmd.Flags().IntVar(&opts.PayloadSize, "payload", 16, "Payload bytes per invocation")
	cmd.Flags().Uint32Var(&opts.QueueSize, "queue-size", 0, "Invoke queue bytes, a power of two (default from the loop)")
	return cmd
}
