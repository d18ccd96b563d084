// Package watch implements the runtime behind the watch command: one
// connection per configured collection, the in-memory state they feed,
// and the ops HTTP server that reports on them.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/otterscale/gardenwatch/internal/core"
	"github.com/otterscale/gardenwatch/internal/kubernetes"
	"github.com/otterscale/gardenwatch/internal/leader"
	"github.com/otterscale/gardenwatch/internal/telemetry"
	"github.com/otterscale/gardenwatch/internal/transport"
	"github.com/otterscale/gardenwatch/internal/transport/http"
)

// Config holds the runtime parameters for a Watcher.
type Config struct {
	Address        string
	AllowedOrigins []string

	Resources           []string
	NamespacedResources []string
	Namespace           string
	LabelSelector       string
	IdleTimeout         time.Duration
	SendInitialEvents   bool

	BackoffBase        time.Duration
	BackoffMax         time.Duration
	BackoffMaxAttempts int
	BackoffJitter      float64
}

// Watcher owns the watch connections and the ops server.
type Watcher struct {
	handler   *Handler
	source    core.WatchSource
	discovery *kubernetes.Discovery
	metrics   *telemetry.Metrics
	elector   *leader.Elector
}

// NewWatcher returns a Watcher. elector may be nil, in which case the
// connections run unconditionally.
func NewWatcher(handler *Handler, source core.WatchSource, discovery *kubernetes.Discovery, metrics *telemetry.Metrics, elector *leader.Elector) *Watcher {
	return &Watcher{
		handler:   handler,
		source:    source,
		discovery: discovery,
		metrics:   metrics,
		elector:   elector,
	}
}

// Run verifies the configured collections, then serves until ctx is
// cancelled or a connection fails terminally.
func (w *Watcher) Run(ctx context.Context, cfg Config) error {
	collections, err := parseCollections(cfg)
	if err != nil {
		return err
	}

	if w.discovery != nil {
		if err := w.discovery.VerifyAll(slog.Default(), collections); err != nil {
			return fmt.Errorf("failed to verify collections: %w", err)
		}
	}

	policy := core.NewBackoff(cfg.BackoffBase, cfg.BackoffMax, cfg.BackoffMaxAttempts, cfg.BackoffJitter)

	conns := make([]transport.Listener, 0, len(collections))
	for _, c := range collections {
		conns = append(conns, w.connect(c, cfg, policy))
	}

	httpSrv, err := http.NewServer(
		http.WithAddress(cfg.Address),
		http.WithAllowedOrigins(cfg.AllowedOrigins),
		http.WithMount(w.handler.Mount),
	)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := w.metrics.Shutdown(shutdownCtx); err != nil {
			slog.Warn("failed to shut down metrics", "error", err)
		}
	}()

	if w.elector == nil {
		return transport.Serve(ctx, append([]transport.Listener{httpSrv}, conns...)...)
	}
	return transport.Serve(ctx, httpSrv, &leaderListener{elector: w.elector, listeners: conns})
}

func (w *Watcher) connect(c core.Collection, cfg Config, policy core.ReconnectPolicy) *connectionListener {
	state := core.NewResourceState(c)
	w.metrics.TrackState(state)

	conn := core.NewConnection(c, w.source, policy,
		core.WithNamespace(cfg.Namespace),
		core.WithLabelSelector(cfg.LabelSelector),
		core.WithIdleTimeout(cfg.IdleTimeout),
		core.WithSendInitialEvents(cfg.SendInitialEvents),
	)
	d := core.Register(conn, state.Apply,
		core.WithRecorder(w.metrics),
		core.WithStatusReporter(w.handler.SetServing),
		core.WithResyncer(state),
	)
	w.handler.Track(conn, d, state)

	return &connectionListener{conn: conn}
}

func parseCollections(cfg Config) ([]core.Collection, error) {
	if len(cfg.Resources) == 0 {
		return nil, &core.ErrInvalidInput{Field: "resources", Message: "at least one collection is required"}
	}

	registry := core.NewCollectionRegistry(cfg.NamespacedResources)
	seen := map[string]bool{}

	var out []core.Collection
	var errs []error
	for _, s := range cfg.Resources {
		c, err := registry.ParseCollection(s)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[c.String()] {
			continue
		}
		seen[c.String()] = true
		out = append(out, c)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
