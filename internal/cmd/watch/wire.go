package watch

import "github.com/google/wire"

var ProviderSet = wire.NewSet(NewWatcher, NewHandler)
