package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// blockingListener runs until its context is cancelled.
type blockingListener struct {
	started atomic.Bool
	stopped atomic.Bool
}

func (l *blockingListener) Start(ctx context.Context) error {
	l.started.Store(true)
	<-ctx.Done()
	return nil
}

func (l *blockingListener) Stop(context.Context) error {
	l.stopped.Store(true)
	return nil
}

type failingListener struct {
	err error
}

func (l *failingListener) Start(context.Context) error { return l.err }
func (l *failingListener) Stop(context.Context) error  { return nil }

func TestServe_StopsAllOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	a, b := &blockingListener{}, &blockingListener{}
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, a, b) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	for i, l := range []*blockingListener{a, b} {
		if !l.started.Load() || !l.stopped.Load() {
			t.Errorf("listener %d started=%v stopped=%v", i, l.started.Load(), l.stopped.Load())
		}
	}
}

func TestServe_ListenerFailureStopsOthers(t *testing.T) {
	boom := errors.New("retries exhausted")
	other := &blockingListener{}

	done := make(chan error, 1)
	go func() { done <- Serve(context.Background(), other, &failingListener{err: boom}) }()

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("Serve() error = %v, want %v", err, boom)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after a listener failed")
	}

	if !other.stopped.Load() {
		t.Error("healthy listener was not stopped")
	}
}
