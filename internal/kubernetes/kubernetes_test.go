package kubernetes

import (
	"context"
	"errors"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/version"
	"k8s.io/apimachinery/pkg/watch"
	fakediscovery "k8s.io/client-go/discovery/fake"
	dynamicfake "k8s.io/client-go/dynamic/fake"
	ktesting "k8s.io/client-go/testing"

	"github.com/otterscale/gardenwatch/internal/core"
)

var (
	shootsGVR     = schema.GroupVersionResource{Group: "core.gardener.cloud", Version: "v1beta1", Resource: "shoots"}
	namespacesGVR = schema.GroupVersionResource{Version: "v1", Resource: "namespaces"}

	shoots     = core.Collection{GroupVersionResource: shootsGVR, Namespaced: true}
	namespaces = core.Collection{GroupVersionResource: namespacesGVR}
)

func newFakeDynamic() *dynamicfake.FakeDynamicClient {
	return dynamicfake.NewSimpleDynamicClientWithCustomListKinds(runtime.NewScheme(), map[schema.GroupVersionResource]string{
		shootsGVR:     "ShootList",
		namespacesGVR: "NamespaceList",
	})
}

func newFakeDiscovery(gitVersion string) *fakediscovery.FakeDiscovery {
	return &fakediscovery.FakeDiscovery{
		Fake: &ktesting.Fake{
			Resources: []*metav1.APIResourceList{
				{
					GroupVersion: "core.gardener.cloud/v1beta1",
					APIResources: []metav1.APIResource{
						{Name: "shoots", Namespaced: true, Kind: "Shoot"},
						{Name: "projects", Namespaced: false, Kind: "Project"},
					},
				},
			},
		},
		FakedServerVersion: &version.Info{GitVersion: gitVersion},
	}
}

func shoot(name, namespace, rv string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion("core.gardener.cloud/v1beta1")
	u.SetKind("Shoot")
	u.SetName(name)
	u.SetNamespace(namespace)
	u.SetResourceVersion(rv)
	return u
}

var _ = Describe("wrapK8sError", func() {
	gr := schema.GroupResource{Group: "core.gardener.cloud", Resource: "shoots"}

	DescribeTable("classifies API errors",
		func(err error, permanent bool) {
			wrapped := wrapK8sError("watch shoots", err)

			var te *core.TransportError
			Expect(errors.As(wrapped, &te)).To(BeTrue())
			Expect(te.Permanent).To(Equal(permanent))
			Expect(core.IsPermanent(wrapped)).To(Equal(permanent))
			Expect(errors.Is(wrapped, err)).To(BeTrue())
		},
		Entry("unauthorized", apierrors.NewUnauthorized("no token"), true),
		Entry("forbidden", apierrors.NewForbidden(gr, "", errors.New("rbac")), true),
		Entry("not found", apierrors.NewNotFound(gr, ""), true),
		Entry("method not allowed", apierrors.NewMethodNotSupported(gr, "watch"), true),
		Entry("bad request", apierrors.NewBadRequest("bad selector"), true),
		Entry("service unavailable", apierrors.NewServiceUnavailable("etcd"), false),
		Entry("too many requests", apierrors.NewTooManyRequests("slow down", 1), false),
		Entry("internal", apierrors.NewInternalError(errors.New("boom")), false),
		Entry("network error", errors.New("connection refused"), false),
	)

	It("passes nil through", func() {
		Expect(wrapK8sError("watch", nil)).To(BeNil())
	})
})

var _ = Describe("watchSource", func() {
	var (
		ctx      context.Context
		cancel   context.CancelFunc
		client   *dynamicfake.FakeDynamicClient
		upstream *watch.FakeWatcher
		actions  chan ktesting.WatchActionImpl
		source   core.WatchSource
	)

	BeforeEach(func() {
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		client = newFakeDynamic()
		upstream = watch.NewFakeWithChanSize(8, false)
		actions = make(chan ktesting.WatchActionImpl, 4)

		client.PrependWatchReactor("*", func(action ktesting.Action) (bool, watch.Interface, error) {
			actions <- action.(ktesting.WatchActionImpl)
			return true, upstream, nil
		})

		k := NewForClients(client, newFakeDiscovery("v1.33.2"))
		source = NewWatchSource(k, NewDiscovery(k))
	})

	AfterEach(func() {
		cancel()
	})

	It("scopes namespaced collections and forwards resume options", func() {
		w, err := source.Watch(ctx, shoots, core.WatchOptions{
			Namespace:       "garden-dev",
			LabelSelector:   "team=core",
			ResourceVersion: "42",
			TimeoutSeconds:  300,
		})
		Expect(err).NotTo(HaveOccurred())
		defer w.Stop()

		var action ktesting.WatchActionImpl
		Eventually(actions).Should(Receive(&action))
		Expect(action.GetNamespace()).To(Equal("garden-dev"))
		Expect(action.GetResource()).To(Equal(shootsGVR))
		Expect(action.GetWatchRestrictions().ResourceVersion).To(Equal("42"))
		Expect(action.GetWatchRestrictions().Labels.String()).To(Equal("team=core"))
	})

	It("ignores the namespace for cluster scoped collections", func() {
		w, err := source.Watch(ctx, namespaces, core.WatchOptions{Namespace: "garden-dev"})
		Expect(err).NotTo(HaveOccurred())
		defer w.Stop()

		var action ktesting.WatchActionImpl
		Eventually(actions).Should(Receive(&action))
		Expect(action.GetNamespace()).To(BeEmpty())
	})

	It("converts objects and statuses into raw events in order", func() {
		w, err := source.Watch(ctx, shoots, core.WatchOptions{})
		Expect(err).NotTo(HaveOccurred())
		defer w.Stop()

		upstream.Add(shoot("dev", "garden-core", "7"))
		upstream.Error(&metav1.Status{
			Status:  metav1.StatusFailure,
			Code:    410,
			Reason:  metav1.StatusReasonExpired,
			Message: "too old resource version",
		})

		var ev core.RawEvent
		Eventually(w.ResultChan()).Should(Receive(&ev))
		Expect(ev.Type).To(Equal("ADDED"))
		r := core.Classify(ev)
		Expect(r.Outcome).To(Equal(core.OutcomeValid))
		Expect(r.Envelope.Resource.Key()).To(Equal("garden-core/dev"))
		Expect(r.Envelope.Resource.ResourceVersion).To(Equal("7"))

		Eventually(w.ResultChan()).Should(Receive(&ev))
		Expect(ev.Type).To(Equal("ERROR"))
		r = core.Classify(ev)
		Expect(r.Envelope.Status.Code).To(Equal(int32(410)))
		Expect(r.Envelope.Status.Reason).To(Equal("Expired"))
	})

	It("closes the result channel when the server ends the stream", func() {
		w, err := source.Watch(ctx, shoots, core.WatchOptions{})
		Expect(err).NotTo(HaveOccurred())

		upstream.Stop()
		Eventually(w.ResultChan()).Should(BeClosed())
		w.Stop()
	})

	It("stops the upstream watch on Stop", func() {
		w, err := source.Watch(ctx, shoots, core.WatchOptions{})
		Expect(err).NotTo(HaveOccurred())

		w.Stop()
		w.Stop()
		Eventually(upstream.IsStopped).Should(BeTrue())
		Eventually(w.ResultChan()).Should(BeClosed())
	})

	It("maps watch failures to transport errors", func() {
		failing := newFakeDynamic()
		failing.PrependWatchReactor("*", func(ktesting.Action) (bool, watch.Interface, error) {
			return true, nil, apierrors.NewForbidden(shootsGVR.GroupResource(), "", errors.New("rbac"))
		})
		src := NewWatchSource(NewForClients(failing, newFakeDiscovery("v1.33.2")), nil)

		_, err := src.Watch(ctx, shoots, core.WatchOptions{})
		Expect(err).To(HaveOccurred())
		Expect(core.IsPermanent(err)).To(BeTrue())
	})
})

var _ = Describe("Discovery", func() {
	DescribeTable("gates streaming lists on the server version",
		func(gitVersion string, want bool) {
			d := NewDiscovery(NewForClients(newFakeDynamic(), newFakeDiscovery(gitVersion)))
			ok, err := d.SupportsWatchList(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(Equal(want))
		},
		Entry("older release", "v1.33.4", false),
		Entry("first supported release", "v1.34.0", true),
		Entry("vendor build", "v1.34.1-gke.1200", true),
		Entry("newer release", "v1.35.0+k3s1", true),
	)

	It("rejects an unparsable version", func() {
		d := NewDiscovery(NewForClients(newFakeDynamic(), newFakeDiscovery("not-a-version")))
		_, err := d.SupportsWatchList(context.Background())
		Expect(err).To(HaveOccurred())
	})

	It("caches the server version", func() {
		disc := newFakeDiscovery("v1.34.0")
		d := NewDiscovery(NewForClients(newFakeDynamic(), disc))

		for range 3 {
			_, err := d.ServerVersion(context.Background())
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(disc.Actions()).To(HaveLen(1))
	})

	It("verifies served collections and their scope", func() {
		d := NewDiscovery(NewForClients(newFakeDynamic(), newFakeDiscovery("v1.34.0")))

		namespaced, err := d.Verify(shoots)
		Expect(err).NotTo(HaveOccurred())
		Expect(namespaced).To(BeTrue())

		projects := core.Collection{GroupVersionResource: shootsGVR.GroupVersion().WithResource("projects")}
		namespaced, err = d.Verify(projects)
		Expect(err).NotTo(HaveOccurred())
		Expect(namespaced).To(BeFalse())

		seeds := core.Collection{GroupVersionResource: shootsGVR.GroupVersion().WithResource("seeds")}
		_, err = d.Verify(seeds)
		Expect(err).To(HaveOccurred())
		Expect(core.IsPermanent(err)).To(BeTrue())

		Expect(d.VerifyAll(slog.Default(), []core.Collection{shoots, projects})).To(Succeed())
		Expect(d.VerifyAll(slog.Default(), []core.Collection{shoots, seeds})).NotTo(Succeed())
	})
})
