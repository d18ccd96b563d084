//go:build wireinject

package main

import (
	"github.com/google/wire"
	"github.com/spf13/cobra"

	"github.com/otterscale/gardenwatch/internal/cmd"
	"github.com/otterscale/gardenwatch/internal/cmd/watch"
	"github.com/otterscale/gardenwatch/internal/config"
	"github.com/otterscale/gardenwatch/internal/kubernetes"
	"github.com/otterscale/gardenwatch/internal/leader"
	"github.com/otterscale/gardenwatch/internal/telemetry"
)

func wireCmd() (*cobra.Command, func(), error) {
	panic(wire.Build(
		newCmd,
		config.ProviderSet,
	))
}

func wireWatcher(*config.Config) (*watch.Watcher, func(), error) {
	panic(wire.Build(
		cmd.ProviderSet,
		kubernetes.ProviderSet,
		leader.ProviderSet,
		telemetry.ProviderSet,
	))
}
