package kubernetes

import (
	"context"
	"log/slog"
	"sync"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"

	"github.com/otterscale/gardenwatch/internal/core"
)

type watchSource struct {
	kubernetes *Kubernetes
	discovery  *Discovery
	log        *slog.Logger
}

// NewWatchSource returns a core.WatchSource backed by the dynamic
// client. discovery may be nil, which disables streaming lists.
func NewWatchSource(kubernetes *Kubernetes, discovery *Discovery) core.WatchSource {
	return &watchSource{
		kubernetes: kubernetes,
		discovery:  discovery,
		log:        slog.Default().With("component", "watch-source"),
	}
}

var _ core.WatchSource = (*watchSource)(nil)

func (s *watchSource) Watch(ctx context.Context, c core.Collection, opts core.WatchOptions) (core.Watcher, error) {
	listOpts := metav1.ListOptions{
		LabelSelector:       opts.LabelSelector,
		Watch:               true,
		AllowWatchBookmarks: true,
		ResourceVersion:     opts.ResourceVersion,
	}

	if opts.TimeoutSeconds > 0 {
		timeout := opts.TimeoutSeconds
		listOpts.TimeoutSeconds = &timeout
	}

	if opts.SendInitialEvents && s.watchListSupported(ctx) {
		sendInitialEvents := true
		listOpts.ResourceVersionMatch = metav1.ResourceVersionMatchNotOlderThan
		listOpts.SendInitialEvents = &sendInitialEvents
	}

	var client dynamic.ResourceInterface = s.kubernetes.dynamic.Resource(c.GroupVersionResource)
	if c.Namespaced && opts.Namespace != "" {
		client = s.kubernetes.dynamic.Resource(c.GroupVersionResource).Namespace(opts.Namespace)
	}

	w, err := client.Watch(ctx, listOpts)
	if err != nil {
		return nil, wrapK8sError("watch "+c.String(), err)
	}
	return newWatcher(w), nil
}

func (s *watchSource) watchListSupported(ctx context.Context) bool {
	if s.discovery == nil {
		return false
	}
	ok, err := s.discovery.SupportsWatchList(ctx)
	if err != nil {
		s.log.Warn("cannot determine streaming list support", "error", err)
		return false
	}
	return ok
}

// watcher adapts a watch.Interface to core.Watcher, converting every
// event payload into its unstructured map form.
type watcher struct {
	upstream watch.Interface
	result   chan core.RawEvent
	done     chan struct{}
	stopOnce sync.Once
}

var _ core.Watcher = (*watcher)(nil)

func newWatcher(upstream watch.Interface) *watcher {
	w := &watcher{
		upstream: upstream,
		result:   make(chan core.RawEvent),
		done:     make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *watcher) run() {
	defer close(w.result)

	for ev := range w.upstream.ResultChan() {
		select {
		case w.result <- toRawEvent(ev):
		case <-w.done:
			return
		}
	}
}

func (w *watcher) ResultChan() <-chan core.RawEvent {
	return w.result
}

func (w *watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.upstream.Stop()
	})
}

func toRawEvent(ev watch.Event) core.RawEvent {
	raw := core.RawEvent{Type: string(ev.Type)}

	switch obj := ev.Object.(type) {
	case nil:
	case *unstructured.Unstructured:
		raw.Object = obj.Object
	default:
		// *metav1.Status for ERROR events, typed objects otherwise.
		if m, err := runtime.DefaultUnstructuredConverter.ToUnstructured(obj); err == nil {
			raw.Object = m
		}
	}
	return raw
}
