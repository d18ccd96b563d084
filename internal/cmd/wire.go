// Package cmd defines the Cobra subcommands and their Wire provider
// sets. It bridges configuration, dependency injection, and the
// watch runtime.
package cmd

import (
	"github.com/google/wire"

	"github.com/otterscale/gardenwatch/internal/cmd/watch"
)

// ProviderSet is the Wire provider set for the CLI layer. It exposes
// the Watcher constructor plus its ops handler.
var ProviderSet = wire.NewSet(
	watch.ProviderSet,
)
