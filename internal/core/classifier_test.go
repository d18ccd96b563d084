package core

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestClassify(t *testing.T) {
	shoot := map[string]any{
		"metadata": map[string]any{
			"name":            "dev",
			"namespace":       "garden-core",
			"resourceVersion": "42",
		},
		"spec": map[string]any{"region": "eu-west-1"},
	}

	tests := []struct {
		name        string
		raw         RawEvent
		wantOutcome Outcome
		wantKind    EventKind
		wantReason  string
	}{
		{name: "added", raw: RawEvent{Type: "ADDED", Object: shoot}, wantOutcome: OutcomeValid, wantKind: EventAdded},
		{name: "modified", raw: RawEvent{Type: "MODIFIED", Object: shoot}, wantOutcome: OutcomeValid, wantKind: EventModified},
		{name: "deleted", raw: RawEvent{Type: "DELETED", Object: shoot}, wantOutcome: OutcomeValid, wantKind: EventDeleted},
		{name: "error", raw: RawEvent{Type: "ERROR", Object: map[string]any{"code": 500}}, wantOutcome: OutcomeValid, wantKind: EventError},
		{name: "unknown kind", raw: RawEvent{Type: "FOO", Object: shoot}, wantOutcome: OutcomeDropped},
		{name: "bookmark", raw: RawEvent{Type: "BOOKMARK", Object: shoot}, wantOutcome: OutcomeDropped},
		{name: "lowercase kind", raw: RawEvent{Type: "added", Object: shoot}, wantOutcome: OutcomeDropped},
		{name: "nil object", raw: RawEvent{Type: "ADDED"}, wantOutcome: OutcomeMalformed, wantReason: "missing object"},
		{
			name:        "no metadata",
			raw:         RawEvent{Type: "MODIFIED", Object: map[string]any{"spec": map[string]any{}}},
			wantOutcome: OutcomeMalformed,
			wantReason:  "missing metadata",
		},
		{
			name:        "empty name",
			raw:         RawEvent{Type: "DELETED", Object: map[string]any{"metadata": map[string]any{"name": ""}}},
			wantOutcome: OutcomeMalformed,
			wantReason:  "missing metadata.name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Classify(tt.raw)
			if r.Outcome != tt.wantOutcome {
				t.Fatalf("Outcome = %s, want %s", r.Outcome, tt.wantOutcome)
			}
			if r.Type != tt.raw.Type {
				t.Errorf("Type = %q, want %q", r.Type, tt.raw.Type)
			}

			switch tt.wantOutcome {
			case OutcomeValid:
				if r.Envelope.Kind != tt.wantKind {
					t.Errorf("Kind = %s, want %s", r.Envelope.Kind, tt.wantKind)
				}
				if (r.Envelope.Resource == nil) == (r.Envelope.Status == nil) {
					t.Error("exactly one of Resource and Status must be set")
				}
			case OutcomeMalformed:
				if r.Err == nil || r.Err.Reason != tt.wantReason {
					t.Errorf("Err = %v, want reason %q", r.Err, tt.wantReason)
				}
			case OutcomeDropped:
				if r.Err != nil || r.Envelope.Resource != nil || r.Envelope.Status != nil {
					t.Errorf("dropped result carries data: %+v", r)
				}
			}
		})
	}
}

func TestClassify_Snapshot(t *testing.T) {
	r := Classify(RawEvent{Type: "ADDED", Object: object("dev", "garden-core", "42")})

	snap := r.Envelope.Resource
	if snap == nil {
		t.Fatal("expected a snapshot")
	}
	if snap.Name != "dev" || snap.Namespace != "garden-core" || snap.ResourceVersion != "42" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Key() != "garden-core/dev" {
		t.Errorf("Key() = %q", snap.Key())
	}
}

func TestClassify_StatusCodeShapes(t *testing.T) {
	tests := []struct {
		name string
		code any
		want int32
	}{
		{name: "int", code: 410, want: 410},
		{name: "int32", code: int32(403), want: 403},
		{name: "int64", code: int64(500), want: 500},
		{name: "float64", code: float64(410), want: 410},
		{name: "json.Number", code: json.Number("404"), want: 404},
		{name: "bad json.Number", code: json.Number("x"), want: 0},
		{name: "string", code: "410", want: 0},
		{name: "overflow", code: int64(1) << 40, want: 0},
		{name: "missing", code: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Classify(RawEvent{Type: "ERROR", Object: map[string]any{
				"code":    tt.code,
				"reason":  "Expired",
				"message": "too old resource version",
			}})
			status := r.Envelope.Status
			if status.Code != tt.want {
				t.Errorf("Code = %d, want %d", status.Code, tt.want)
			}
			if status.Reason != "Expired" || status.Message != "too old resource version" {
				t.Errorf("status = %+v", status)
			}
		})
	}
}

func TestClassify_Idempotent(t *testing.T) {
	inputs := []RawEvent{
		{Type: "ADDED", Object: object("a", "ns", "1")},
		{Type: "ERROR", Object: map[string]any{"code": 410, "reason": "Gone"}},
		{Type: "FOO"},
		{Type: "MODIFIED", Object: map[string]any{}},
	}

	for _, raw := range inputs {
		if a, b := Classify(raw), Classify(raw); !reflect.DeepEqual(a, b) {
			t.Errorf("Classify(%v) not idempotent: %+v vs %+v", raw.Type, a, b)
		}
	}
}
