package core

import (
	"encoding/json"
	"math"
)

// Outcome tags a classification result.
type Outcome int

const (
	// OutcomeValid carries an Envelope.
	OutcomeValid Outcome = iota
	// OutcomeDropped marks an unrecognized kind. It is not an error.
	OutcomeDropped
	// OutcomeMalformed marks a recognized kind with an unusable payload.
	OutcomeMalformed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeValid:
		return "valid"
	case OutcomeDropped:
		return "dropped"
	case OutcomeMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Result is the tagged output of Classify. Envelope is set only for
// OutcomeValid, Err only for OutcomeMalformed.
type Result struct {
	Outcome  Outcome
	Envelope Envelope
	Type     string
	Err      *MalformedError
}

// Classify validates raw and turns it into an Envelope. It has no side
// effects: the same input always yields an equal Result.
func Classify(raw RawEvent) Result {
	kind := EventKind(raw.Type)
	if !kind.Known() {
		return Result{Outcome: OutcomeDropped, Type: raw.Type}
	}

	if kind == EventError {
		return Result{
			Outcome:  OutcomeValid,
			Type:     raw.Type,
			Envelope: Envelope{Kind: EventError, Status: statusFrom(raw.Object)},
		}
	}

	snap, reason := snapshotFrom(raw.Object)
	if reason != "" {
		return Result{
			Outcome: OutcomeMalformed,
			Type:    raw.Type,
			Err:     &MalformedError{Type: raw.Type, Reason: reason},
		}
	}

	return Result{
		Outcome:  OutcomeValid,
		Type:     raw.Type,
		Envelope: Envelope{Kind: kind, Resource: snap},
	}
}

func snapshotFrom(obj map[string]any) (*Snapshot, string) {
	if obj == nil {
		return nil, "missing object"
	}
	metadata, ok := obj["metadata"].(map[string]any)
	if !ok {
		return nil, "missing metadata"
	}
	name, _ := metadata["name"].(string)
	if name == "" {
		return nil, "missing metadata.name"
	}
	namespace, _ := metadata["namespace"].(string)
	resourceVersion, _ := metadata["resourceVersion"].(string)

	return &Snapshot{
		Name:            name,
		Namespace:       namespace,
		ResourceVersion: resourceVersion,
		Object:          obj,
	}, ""
}

func statusFrom(obj map[string]any) *StatusError {
	status := &StatusError{}
	if obj == nil {
		return status
	}
	status.Code = toInt32(obj["code"])
	status.Reason, _ = obj["reason"].(string)
	status.Message, _ = obj["message"].(string)
	return status
}

// toInt32 accepts the numeric shapes produced by the unstructured
// converter and encoding/json.
func toInt32(v any) int32 {
	switch n := v.(type) {
	case int:
		return clampInt32(int64(n))
	case int32:
		return n
	case int64:
		return clampInt32(n)
	case float64:
		return clampInt32(int64(n))
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return clampInt32(i)
	default:
		return 0
	}
}

func clampInt32(n int64) int32 {
	if n > math.MaxInt32 || n < math.MinInt32 {
		return 0
	}
	return int32(n)
}

// resourceVersionOf reads metadata.resourceVersion from a raw payload. It
// is used for BOOKMARK notifications that never become envelopes.
func resourceVersionOf(obj map[string]any) string {
	metadata, ok := obj["metadata"].(map[string]any)
	if !ok {
		return ""
	}
	rv, _ := metadata["resourceVersion"].(string)
	return rv
}

// initialEventsEndAnnotation marks the bookmark that closes the initial
// events of a streaming list.
const initialEventsEndAnnotation = "k8s.io/initial-events-end"

func initialEventsEnd(obj map[string]any) bool {
	metadata, _ := obj["metadata"].(map[string]any)
	annotations, _ := metadata["annotations"].(map[string]any)
	v, _ := annotations[initialEventsEndAnnotation].(string)
	return v == "true"
}
