// Package telemetry records watch metrics with OpenTelemetry and exports
// them in the Prometheus exposition format.
package telemetry

import (
	"context"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/otterscale/gardenwatch/internal/core"
)

const meterName = "github.com/otterscale/gardenwatch"

// Metrics implements core.Recorder and exposes the state gauge.
type Metrics struct {
	registry *prometheus.Registry
	provider *sdkmetric.MeterProvider

	signals metric.Int64Counter
	events  metric.Int64Counter

	mu     sync.RWMutex
	states []*core.ResourceState
}

var _ core.Recorder = (*Metrics)(nil)

// New creates a meter provider backed by a private Prometheus registry.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		registry: registry,
		provider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter)),
	}
	meter := m.provider.Meter(meterName)

	m.signals, err = meter.Int64Counter("gardenwatch_watch_signals",
		metric.WithDescription("Lifecycle signals emitted by watch connections"),
	)
	if err != nil {
		return nil, err
	}

	m.events, err = meter.Int64Counter("gardenwatch_watch_events",
		metric.WithDescription("Watch notifications by kind and classification outcome"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge("gardenwatch_state_objects",
		metric.WithDescription("Objects currently held in the in-memory state"),
		metric.WithInt64Callback(m.observeStates),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// MeterProvider returns the provider, e.g. for connect interceptors.
func (m *Metrics) MeterProvider() metric.MeterProvider {
	return m.provider
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests and custom handlers.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// TrackState adds s to the state gauge.
func (m *Metrics) TrackState(s *core.ResourceState) {
	m.mu.Lock()
	m.states = append(m.states, s)
	m.mu.Unlock()
}

// Shutdown flushes and stops the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}

func (m *Metrics) RecordSignal(c core.Collection, signal string) {
	m.signals.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("collection", c.String()),
		attribute.String("signal", signal),
	))
}

func (m *Metrics) RecordEvent(c core.Collection, kind string, outcome core.Outcome) {
	// Unrecognized kinds come straight off the wire; keep the label set
	// bounded.
	if !core.EventKind(kind).Known() {
		kind = "unknown"
	}
	m.events.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("collection", c.String()),
		attribute.String("kind", kind),
		attribute.String("outcome", outcome.String()),
	))
}

func (m *Metrics) observeStates(_ context.Context, o metric.Int64Observer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.states {
		o.Observe(int64(s.Len()), metric.WithAttributes(
			attribute.String("collection", s.Collection().String()),
		))
	}
	return nil
}
