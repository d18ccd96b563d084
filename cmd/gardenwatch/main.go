// Package main is the entry point for the gardenwatch binary. Its watch
// subcommand keeps long-lived watches on Gardener resource collections,
// reconnecting on failure, and serves health, metrics and the watched
// state on an ops HTTP endpoint.
//
// Dependencies are assembled via Google Wire; see wire.go.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/otterscale/gardenwatch/internal/cmd"
	"github.com/otterscale/gardenwatch/internal/cmd/watch"
	"github.com/otterscale/gardenwatch/internal/config"
)

// version is injected at build time via -ldflags
// (e.g. -ldflags "-X main.version=v1.2.3").
var version = "devel"

func main() {
	// Cancel on SIGINT (Ctrl+C) or SIGTERM (container runtime).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		// Cobra is configured with SilenceErrors: true, so we
		// print the error here for consistent formatting.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run wires all dependencies and executes the root Cobra command.
func run(ctx context.Context) error {
	rootCmd, cleanup, err := wireCmd()
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer cleanup()

	return rootCmd.ExecuteContext(ctx)
}

// newCmd is a Wire provider that constructs the root Cobra command and
// registers the watch subcommand. The watcher itself is built lazily by
// wireWatcher once flags have been parsed.
func newCmd(conf *config.Config) (*cobra.Command, error) {
	c := &cobra.Command{
		Use:           "gardenwatch",
		Short:         "gardenwatch: resilient watches on Gardener resource collections.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			log, err := cmd.NewLogger(os.Stderr, conf.LogLevel(), conf.LogFormat())
			if err != nil {
				return err
			}
			slog.SetDefault(log.With("version", version))
			return nil
		},
	}

	if err := conf.BindFlags(c.PersistentFlags(), config.ClusterOptions); err != nil {
		return nil, err
	}

	watchCmd, err := cmd.NewWatchCommand(conf, func() (*watch.Watcher, func(), error) {
		return wireWatcher(conf)
	})
	if err != nil {
		return nil, err
	}

	c.AddCommand(watchCmd)

	return c, nil
}
