package kubernetes

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/sync/singleflight"
	"k8s.io/apimachinery/pkg/version"
	"k8s.io/client-go/discovery"

	"github.com/otterscale/gardenwatch/internal/core"
)

// DefaultVersionTTL is how long a discovered server version is reused.
const DefaultVersionTTL = 10 * time.Minute

// versionFetchTimeout bounds a cache-miss fetch. It uses
// context.WithoutCancel so that one caller's cancellation does not fail
// all singleflight waiters.
const versionFetchTimeout = 30 * time.Second

// https://kubernetes.io/docs/reference/using-api/api-concepts/#streaming-lists
// v1.34 beta default on
var watchListVersion = semver.MustParse("v1.34.0")

// Discovery answers the questions the watch layer asks the API server:
// its version and whether a collection is served and namespace scoped.
// Every connection shares one instance, so version lookups are cached
// and deduplicated.
type Discovery struct {
	client discovery.DiscoveryInterface
	ttl    time.Duration

	mu        sync.RWMutex
	version   *version.Info
	expiresAt time.Time
	flights   singleflight.Group
}

// NewDiscovery returns a Discovery backed by k's discovery client.
func NewDiscovery(k *Kubernetes) *Discovery {
	return &Discovery{
		client: k.discovery,
		ttl:    DefaultVersionTTL,
	}
}

// ServerVersion returns the cached server version, fetching it when the
// cache is empty or expired.
func (d *Discovery) ServerVersion(ctx context.Context) (*version.Info, error) {
	d.mu.RLock()
	v, expiresAt := d.version, d.expiresAt
	d.mu.RUnlock()

	if v != nil && time.Now().Before(expiresAt) {
		return v, nil
	}

	ch := d.flights.DoChan("version", func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), versionFetchTimeout)
		defer cancel()

		info, err := d.fetchVersion(fetchCtx)
		if err != nil {
			return nil, wrapK8sError("discover server version", err)
		}

		d.mu.Lock()
		d.version = info
		d.expiresAt = time.Now().Add(d.ttl)
		d.mu.Unlock()

		return info, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*version.Info), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Discovery) fetchVersion(ctx context.Context) (*version.Info, error) {
	type result struct {
		info *version.Info
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		info, err := d.client.ServerVersion()
		ch <- result{info, err}
	}()

	select {
	case r := <-ch:
		return r.info, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// SupportsWatchList reports whether the server streams initial events
// on watch requests.
func (d *Discovery) SupportsWatchList(ctx context.Context) (bool, error) {
	info, err := d.ServerVersion(ctx)
	if err != nil {
		return false, err
	}

	kubeVersion, err := semver.NewVersion(info.GitVersion)
	if err != nil {
		return false, fmt.Errorf("parse server version %q: %w", info.GitVersion, err)
	}

	// Vendor builds such as v1.34.1-gke.100 carry a pre-release suffix
	// that would otherwise sort below the release.
	release := semver.New(kubeVersion.Major(), kubeVersion.Minor(), kubeVersion.Patch(), "", "")
	return release.GreaterThanEqual(watchListVersion), nil
}

// Verify checks that collection is served and returns whether the
// server considers it namespace scoped.
func (d *Discovery) Verify(c core.Collection) (namespaced bool, err error) {
	op := "discover " + c.String()

	resources, err := d.client.ServerResourcesForGroupVersion(c.GroupVersion().String())
	if err != nil {
		return false, wrapK8sError(op, err)
	}

	for i := range resources.APIResources {
		if resources.APIResources[i].Name == c.Resource {
			return resources.APIResources[i].Namespaced, nil
		}
	}

	return false, &core.TransportError{
		Op:        op,
		Permanent: true,
		Cause:     fmt.Errorf("unable to recognize resource %q in %s", c.Resource, c.GroupVersion()),
	}
}

// VerifyAll runs Verify for every collection and logs scope mismatches
// between the registry and the server. The first error is returned.
func (d *Discovery) VerifyAll(log *slog.Logger, collections []core.Collection) error {
	for _, c := range collections {
		namespaced, err := d.Verify(c)
		if err != nil {
			return err
		}
		if namespaced != c.Namespaced {
			log.Warn("collection scope differs from server",
				"collection", c.String(),
				"configured", c.Namespaced,
				"server", namespaced,
			)
		}
	}
	return nil
}
