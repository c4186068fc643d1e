//go:build linux

// Command reactord runs a reactor event loop as a service.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joeycumines/go-reactor/internal/daemon"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/cobra"
)

func main() {
	// reactord run handles these signals on its loop; this context covers
	// startup and the bench command
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd(os.Stderr).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(logOutput io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "reactord",
		Short:        "Run and exercise a reactor event loop",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("log-level", "info", "Log level (emerg..trace)")
	root.AddCommand(newRunCmd(logOutput), newBenchCmd(logOutput))
	return root
}

func newLogger(w io.Writer, level string) (*logiface.Logger[logiface.Event], error) {
	lvl, err := daemon.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("--log-level: %w", err)
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(lvl),
	).Logger(), nil
}
