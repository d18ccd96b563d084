package kubernetes

import (
	"fmt"
	"log/slog"

	"k8s.io/client-go/discovery"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/otterscale/gardenwatch/internal/config"
)

const userAgent = "gardenwatch"

// Kubernetes holds the clients shared by the watch source, discovery
// and leader election.
type Kubernetes struct {
	dynamic   dynamic.Interface
	discovery discovery.DiscoveryInterface
}

// NewRESTConfig returns the cluster config. An explicit kubeconfig path
// wins; otherwise the in-cluster service account is used, falling back
// to the user's kubeconfig for local development.
func NewRESTConfig(conf *config.Config) (*rest.Config, error) {
	var (
		cfg *rest.Config
		err error
	)

	if path := conf.KubeConfig(); path != "" {
		cfg, err = clientcmd.BuildConfigFromFlags("", path)
	} else if cfg, err = rest.InClusterConfig(); err != nil {
		slog.Warn("in-cluster config not available, falling back to kubeconfig", "error", err)
		cfg, err = clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kube config: %w", err)
	}

	return rest.AddUserAgent(cfg, userAgent), nil
}

// New creates the dynamic and discovery clients for cfg.
func New(cfg *rest.Config) (*Kubernetes, error) {
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dynamic client: %w", err)
	}

	disc, err := discovery.NewDiscoveryClientForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client: %w", err)
	}

	return NewForClients(dyn, disc), nil
}

// NewForClients wraps existing clients, e.g. fakes in tests.
func NewForClients(dyn dynamic.Interface, disc discovery.DiscoveryInterface) *Kubernetes {
	return &Kubernetes{
		dynamic:   dyn,
		discovery: disc,
	}
}
