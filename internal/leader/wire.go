package leader

import (
	"github.com/google/wire"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/otterscale/gardenwatch/internal/config"
)

// ProvideElector returns nil when leader election is disabled.
func ProvideElector(conf *config.Config, restCfg *rest.Config) (*Elector, error) {
	if !conf.LeaderEnabled() {
		return nil, nil
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, err
	}

	return NewElector(Config{
		Namespace: conf.LeaderNamespace(),
		LeaseName: conf.LeaderLeaseName(),
	}, clientset)
}

var ProviderSet = wire.NewSet(ProvideElector)
