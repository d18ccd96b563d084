package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otterscale/gardenwatch/internal/cmd/watch"
	"github.com/otterscale/gardenwatch/internal/config"
)

type WatchInjector func() (*watch.Watcher, func(), error)

func NewWatchCommand(conf *config.Config, newWatcher WatchInjector) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "watch",
		Short:   "Watch Gardener resource collections and serve their state on the ops endpoints",
		Example: "gardenwatch watch --resources=core.gardener.cloud/v1beta1/shoots --namespace=garden-dev --address=:8299",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, cleanup, err := newWatcher()
			if err != nil {
				return fmt.Errorf("failed to initialize watcher: %w", err)
			}
			defer cleanup()

			cfg := watch.Config{
				Address:             conf.ServerAddress(),
				AllowedOrigins:      conf.ServerAllowedOrigins(),
				Resources:           conf.WatchResources(),
				NamespacedResources: conf.WatchNamespacedResources(),
				Namespace:           conf.WatchNamespace(),
				LabelSelector:       conf.WatchLabelSelector(),
				IdleTimeout:         conf.WatchIdleTimeout(),
				SendInitialEvents:   conf.WatchSendInitialEvents(),
				BackoffBase:         conf.WatchBackoffBase(),
				BackoffMax:          conf.WatchBackoffMax(),
				BackoffMaxAttempts:  conf.WatchBackoffMaxAttempts(),
				BackoffJitter:       conf.WatchBackoffJitter(),
			}

			return w.Run(cmd.Context(), cfg)
		},
	}

	if err := conf.BindFlags(cmd.Flags(), config.ServerOptions); err != nil {
		return nil, err
	}
	if err := conf.BindFlags(cmd.Flags(), config.WatchOptions); err != nil {
		return nil, err
	}

	return cmd, nil
}
