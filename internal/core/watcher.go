package core

import (
	"context"
	"time"
)

// EventKind is the kind of a classified watch notification. Only the four
// kinds below ever reach the dispatcher; everything else is dropped by
// Classify.
type EventKind string

const (
	EventAdded    EventKind = "ADDED"
	EventModified EventKind = "MODIFIED"
	EventDeleted  EventKind = "DELETED"
	EventError    EventKind = "ERROR"
)

// bookmarkType is not a delivered kind but the connection reads its
// resourceVersion to resume watches.
const bookmarkType = "BOOKMARK"

// Known reports whether k is one of the recognized kinds.
func (k EventKind) Known() bool {
	switch k {
	case EventAdded, EventModified, EventDeleted, EventError:
		return true
	default:
		return false
	}
}

// RawEvent is a notification exactly as the watch source delivered it.
// Object carries the decoded JSON payload so that the domain layer does
// not depend on unstructured.Unstructured.
type RawEvent struct {
	Type   string
	Object map[string]any
}

// Snapshot is the typed view of a resource carried by ADDED, MODIFIED and
// DELETED envelopes. Object holds the full payload.
type Snapshot struct {
	Name            string
	Namespace       string
	ResourceVersion string
	Object          map[string]any
}

// Key returns "namespace/name", or "name" for cluster scoped resources.
func (s *Snapshot) Key() string {
	if s.Namespace == "" {
		return s.Name
	}
	return s.Namespace + "/" + s.Name
}

// StatusError is the server-signalled failure carried by ERROR envelopes.
type StatusError struct {
	Code    int32
	Reason  string
	Message string
}

func (e *StatusError) Error() string {
	return "watch status " + e.Reason + ": " + e.Message
}

// Envelope is the normalized unit delivered downstream. Exactly one of
// Resource and Status is set, determined by Kind.
type Envelope struct {
	Kind     EventKind
	Resource *Snapshot
	Status   *StatusError
}

// WatchOptions narrows a subscription.
type WatchOptions struct {
	Namespace       string
	LabelSelector   string
	ResourceVersion string
	// TimeoutSeconds asks the server to close the stream after the given
	// duration. Zero leaves the server default.
	TimeoutSeconds    int64
	SendInitialEvents bool
}

// Watcher provides a channel of RawEvents and a way to stop the
// underlying watch.
type Watcher interface {
	// ResultChan returns a channel that receives watch events.
	// The channel is closed when the watch ends or Stop is called.
	ResultChan() <-chan RawEvent
	// Stop terminates the watch and closes the result channel.
	Stop()
}

// WatchSource opens subscriptions. The Kubernetes implementation lives in
// internal/kubernetes; tests substitute their own.
type WatchSource interface {
	Watch(ctx context.Context, collection Collection, opts WatchOptions) (Watcher, error)
}

// Consumer receives validated envelopes. It is never handed an ERROR
// envelope.
type Consumer func(Envelope)

// Observer receives everything a Connection emits, in order, from the
// connection's own goroutine.
type Observer interface {
	OnConnect(c Collection, session string)
	OnDisconnect(c Collection, session string, err error)
	OnReconnect(c Collection, session string, attempt int, delay time.Duration)
	OnError(c Collection, session string, err error)
	OnResult(c Collection, session string, r Result)

	// OnRelistStart and OnRelistEnd bracket the replay of the current
	// state that follows every watch opened without a resume point.
	// Objects not replayed between the two no longer exist.
	OnRelistStart(c Collection, session string)
	OnRelistEnd(c Collection, session string)
}

type nopObserver struct{}

func (nopObserver) OnConnect(Collection, string) {}
func (nopObserver) OnDisconnect(Collection, string, error) {}
func (nopObserver) OnReconnect(Collection, string, int, time.Duration) {}
func (nopObserver) OnError(Collection, string, error) {}
func (nopObserver) OnResult(Collection, string, Result) {}
func (nopObserver) OnRelistStart(Collection, string) {}
func (nopObserver) OnRelistEnd(Collection, string) {}
