package watch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/otterscale/gardenwatch/internal/core"
)

type testEnv struct {
	server *httptest.Server
	conn   *core.Connection
	state  *core.ResourceState
}

func newTestEnv(t *testing.T, src core.WatchSource) *testEnv {
	t.Helper()

	metrics := newTestMetrics(t)
	h := NewHandler(metrics)

	state := core.NewResourceState(shoots)
	metrics.TrackState(state)
	conn := core.NewConnection(shoots, src, core.NewBackoff(time.Millisecond, time.Millisecond, 0, 0))
	d := core.Register(conn, state.Apply, core.WithRecorder(metrics), core.WithStatusReporter(h.SetServing))
	h.Track(conn, d, state)

	mux := http.NewServeMux()
	if err := h.Mount(mux); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testEnv{server: srv, conn: conn, state: state}
}

func (e *testEnv) start(t *testing.T, objects int) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.conn.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	deadline := time.Now().Add(5 * time.Second)
	for e.state.Len() < objects {
		if time.Now().After(deadline) {
			t.Fatalf("state has %d objects, want %d", e.state.Len(), objects)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (e *testEnv) healthStatus(t *testing.T, service string) string {
	t.Helper()

	body := strings.NewReader(`{"service":"` + service + `"}`)
	resp, err := http.Post(e.server.URL+"/grpc.health.v1.Health/Check", "application/json", body)
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode health response: %v", err)
	}
	return out.Status
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHandler_Health(t *testing.T) {
	env := newTestEnv(t, &staticSource{events: []core.RawEvent{shoot("dev", "garden-dev", "1")}})

	if got := env.healthStatus(t, shoots.String()); got != "SERVING_STATUS_NOT_SERVING" && got != "NOT_SERVING" {
		t.Errorf("status before start = %q", got)
	}

	env.start(t, 1)

	if got := env.healthStatus(t, shoots.String()); got != "SERVING_STATUS_SERVING" && got != "SERVING" {
		t.Errorf("status after connect = %q", got)
	}
}

func TestHandler_Status(t *testing.T) {
	env := newTestEnv(t, &staticSource{events: []core.RawEvent{
		shoot("dev", "garden-dev", "1"),
		shoot("prod", "garden-prod", "2"),
		{Type: "BOOKMARK", Object: map[string]any{"metadata": map[string]any{"resourceVersion": "3"}}},
	}})
	env.start(t, 2)

	var got []collectionStatus
	if code := getJSON(t, env.server.URL+"/status", &got); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if len(got) != 1 {
		t.Fatalf("got %d collections, want 1", len(got))
	}

	s := got[0]
	if s.Collection != shoots.String() || !s.Namespaced {
		t.Errorf("collection = %s namespaced = %v", s.Collection, s.Namespaced)
	}
	if s.State != string(core.StateConnected) || s.Session == "" {
		t.Errorf("state = %q session = %q", s.State, s.Session)
	}
	if s.Objects != 2 || s.Delivered != 2 || s.Connects != 1 {
		t.Errorf("status = %+v", s)
	}
}

func TestHandler_Collection(t *testing.T) {
	env := newTestEnv(t, &staticSource{events: []core.RawEvent{
		shoot("dev", "garden-dev", "1"),
		shoot("prod", "garden-prod", "2"),
		shoot("ci", "garden-dev", "3"),
	}})
	env.start(t, 3)

	base := env.server.URL + "/collections/" + shoots.String()

	tests := []struct {
		name  string
		query string
		want  []string
		full  bool
	}{
		{name: "all", want: []string{"garden-dev/ci", "garden-dev/dev", "garden-prod/prod"}},
		{name: "namespace", query: "?namespace=garden-dev", want: []string{"garden-dev/ci", "garden-dev/dev"}},
		{name: "full", query: "?namespace=garden-prod&full=true", want: []string{"garden-prod/prod"}, full: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []object
			if code := getJSON(t, base+tt.query, &got); code != http.StatusOK {
				t.Fatalf("status code = %d", code)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d objects, want %d", len(got), len(tt.want))
			}
			for i, o := range got {
				if key := o.Namespace + "/" + o.Name; key != tt.want[i] {
					t.Errorf("object %d = %s, want %s", i, key, tt.want[i])
				}
				if (o.Object != nil) != tt.full {
					t.Errorf("object %d body present = %v, want %v", i, o.Object != nil, tt.full)
				}
			}
		})
	}

	if code := getJSON(t, env.server.URL+"/collections/v1/secrets", nil); code != http.StatusNotFound {
		t.Errorf("unknown collection status = %d, want 404", code)
	}
}

func TestHandler_Metrics(t *testing.T) {
	metrics := newTestMetrics(t)
	h := NewHandler(metrics)

	state := core.NewResourceState(shoots)
	metrics.TrackState(state)
	state.Apply(core.Envelope{Kind: core.EventAdded, Resource: &core.Snapshot{Name: "dev", Namespace: "garden-dev", ResourceVersion: "1"}})
	metrics.RecordEvent(shoots, string(core.EventAdded), core.OutcomeValid)

	mux := http.NewServeMux()
	if err := h.Mount(mux); err != nil {
		t.Fatalf("Mount: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"gardenwatch_state_objects", "gardenwatch_watch_events_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("metrics output lacks %s", name)
		}
	}

	n, err := testutil.GatherAndCount(metrics.Gatherer(), "gardenwatch_watch_events_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 1 {
		t.Errorf("event series = %d, want 1", n)
	}
}
