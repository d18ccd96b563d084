// Package config provides unified configuration loading from files,
// environment variables, and CLI flags using viper and pflag.
//
// Resolution order (highest wins):
//  1. CLI flags
//  2. Environment variables (prefix GARDENWATCH_)
//  3. Config file (config.yaml in . or /etc/gardenwatch/)
//  4. Compiled defaults
package config

// Viper keys for the ops HTTP server.
const (
	keyServerAddress        = "server.address"
	keyServerAllowedOrigins = "server.allowed_origins"
)

// Viper keys for the watch connections.
const (
	keyWatchResources           = "watch.resources"
	keyWatchNamespacedResources = "watch.namespaced_resources"
	keyWatchNamespace           = "watch.namespace"
	keyWatchLabelSelector       = "watch.label_selector"
	keyWatchIdleTimeout         = "watch.idle_timeout"
	keyWatchSendInitialEvents   = "watch.send_initial_events"
	keyWatchBackoffBase         = "watch.backoff.base"
	keyWatchBackoffMax          = "watch.backoff.max"
	keyWatchBackoffMaxAttempts  = "watch.backoff.max_attempts"
	keyWatchBackoffJitter       = "watch.backoff.jitter"
)

// Viper keys for cluster access, leader election and logging.
const (
	keyKubeConfig      = "kube.config"
	keyLeaderEnabled   = "leader.enabled"
	keyLeaderNamespace = "leader.namespace"
	keyLeaderLeaseName = "leader.lease_name"
	keyLogLevel        = "log.level"
	keyLogFormat       = "log.format"
)
