package watch

import (
	"encoding/json"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"connectrpc.com/grpchealth"
	"connectrpc.com/grpcreflect"
	"connectrpc.com/otelconnect"

	"github.com/otterscale/gardenwatch/internal/core"
	"github.com/otterscale/gardenwatch/internal/telemetry"
)

// tracked groups what the ops endpoints report for one collection.
type tracked struct {
	conn       *core.Connection
	dispatcher *core.Dispatcher
	state      *core.ResourceState
}

// Handler serves health, reflection, metrics and a read-only view of
// the watched state.
type Handler struct {
	metrics *telemetry.Metrics
	checker *grpchealth.StaticChecker

	mu          sync.RWMutex
	order       []string
	collections map[string]*tracked
}

func NewHandler(metrics *telemetry.Metrics) *Handler {
	return &Handler{
		metrics:     metrics,
		checker:     grpchealth.NewStaticChecker(),
		collections: map[string]*tracked{},
	}
}

// Track adds a collection to the ops view. Its health service starts
// as not serving until the connection reports otherwise.
func (h *Handler) Track(conn *core.Connection, dispatcher *core.Dispatcher, state *core.ResourceState) {
	name := conn.Collection().String()

	h.mu.Lock()
	if _, ok := h.collections[name]; !ok {
		h.order = append(h.order, name)
	}
	h.collections[name] = &tracked{conn: conn, dispatcher: dispatcher, state: state}
	h.mu.Unlock()

	h.checker.SetStatus(name, grpchealth.StatusNotServing)
}

// SetServing is the status reporter handed to every dispatcher.
func (h *Handler) SetServing(c core.Collection, serving bool) {
	status := grpchealth.StatusNotServing
	if serving {
		status = grpchealth.StatusServing
	}
	h.checker.SetStatus(c.String(), status)
}

// Mount registers all handlers, middlewares, and observability tools to the mux.
func (h *Handler) Mount(mux *http.ServeMux) error {
	otelInterceptor, err := otelconnect.NewInterceptor(
		otelconnect.WithMeterProvider(h.metrics.MeterProvider()),
	)
	if err != nil {
		return err
	}

	interceptors := connect.WithInterceptors(
		otelInterceptor,
	)

	h.registerOpsHandlers(mux, interceptors)

	mux.HandleFunc("GET /status", h.status)
	mux.HandleFunc("GET /collections/{collection...}", h.collection)

	return nil
}

// registerOpsHandlers sets up Reflection, Health Check, and Metrics.
func (h *Handler) registerOpsHandlers(mux *http.ServeMux, opts ...connect.HandlerOption) {
	// gRPC Reflection
	reflector := grpcreflect.NewStaticReflector(grpchealth.HealthV1ServiceName)
	mux.Handle(grpcreflect.NewHandlerV1(reflector, opts...))
	mux.Handle(grpcreflect.NewHandlerV1Alpha(reflector, opts...))

	// gRPC Health Check
	mux.Handle(grpchealth.NewHandler(h.checker, opts...))

	// Prometheus Metrics
	mux.Handle("/metrics", h.metrics.Handler())
}

type collectionStatus struct {
	Collection   string `json:"collection"`
	Namespaced   bool   `json:"namespaced"`
	State        string `json:"state"`
	Session      string `json:"session,omitempty"`
	Objects      int    `json:"objects"`
	Connects     uint64 `json:"connects"`
	Disconnects  uint64 `json:"disconnects"`
	Reconnects   uint64 `json:"reconnects"`
	Errors       uint64 `json:"errors"`
	Delivered    uint64 `json:"delivered"`
	Dropped      uint64 `json:"dropped"`
	Malformed    uint64 `json:"malformed"`
	StatusErrors uint64 `json:"statusErrors"`
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	out := make([]collectionStatus, 0, len(h.order))
	for _, name := range h.order {
		t := h.collections[name]
		stats := t.dispatcher.Stats()
		out = append(out, collectionStatus{
			Collection:   name,
			Namespaced:   t.conn.Collection().Namespaced,
			State:        string(t.conn.State()),
			Session:      t.conn.SessionID(),
			Objects:      t.state.Len(),
			Connects:     stats.Connects,
			Disconnects:  stats.Disconnects,
			Reconnects:   stats.Reconnects,
			Errors:       stats.Errors,
			Delivered:    stats.Delivered,
			Dropped:      stats.Dropped,
			Malformed:    stats.Malformed,
			StatusErrors: stats.StatusErrors,
		})
	}
	h.mu.RUnlock()

	writeJSON(w, http.StatusOK, out)
}

type object struct {
	Name            string         `json:"name"`
	Namespace       string         `json:"namespace,omitempty"`
	ResourceVersion string         `json:"resourceVersion,omitempty"`
	Object          map[string]any `json:"object,omitempty"`
}

// collection lists the objects of one collection. The namespace query
// parameter narrows the list and full=true includes the object bodies.
func (h *Handler) collection(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("collection")

	h.mu.RLock()
	t, ok := h.collections[name]
	h.mu.RUnlock()
	if !ok {
		http.Error(w, "unknown collection "+name, http.StatusNotFound)
		return
	}

	full := r.URL.Query().Get("full") == "true"
	snapshots := t.state.List(r.URL.Query().Get("namespace"))
	out := make([]object, 0, len(snapshots))
	for _, s := range snapshots {
		o := object{Name: s.Name, Namespace: s.Namespace, ResourceVersion: s.ResourceVersion}
		if full {
			o.Object = s.Object
		}
		out = append(out, o)
	}

	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
