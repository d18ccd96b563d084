package config

import (
	"strings"
	"time"
)

// Option describes a single configuration entry: its viper key, the
// corresponding CLI flag name, the compiled default, and a
// human-readable description shown in --help output.
type Option struct {
	Key         string
	Flag        string
	Default     any
	Description string
}

// ServerOptions configures the ops HTTP server.
var ServerOptions = []Option{
	{Key: keyServerAddress, Flag: toFlag(keyServerAddress), Default: ":8299", Description: "Ops server listen address"},
	{Key: keyServerAllowedOrigins, Flag: toFlag(keyServerAllowedOrigins), Default: []string{}, Description: "Ops server allowed origins"},
}

// WatchOptions configures the watch connections. Each entry is
// registered as a viper default and a CLI flag.
var WatchOptions = []Option{
	{Key: keyWatchResources, Flag: toFlag(keyWatchResources), Default: []string{"core.gardener.cloud/v1beta1/shoots"}, Description: "Collections to watch as group/version/resource"},
	{Key: keyWatchNamespacedResources, Flag: toFlag(keyWatchNamespacedResources), Default: []string{"shoots"}, Description: "Resource names that are namespace scoped"},
	{Key: keyWatchNamespace, Flag: toFlag(keyWatchNamespace), Default: "", Description: "Namespace for namespaced collections, empty for all"},
	{Key: keyWatchLabelSelector, Flag: toFlag(keyWatchLabelSelector), Default: "", Description: "Label selector applied to every watch"},
	{Key: keyWatchIdleTimeout, Flag: toFlag(keyWatchIdleTimeout), Default: 10 * time.Minute, Description: "Reconnect when a watch is silent this long, 0 disables"},
	{Key: keyWatchSendInitialEvents, Flag: toFlag(keyWatchSendInitialEvents), Default: true, Description: "Use streaming lists when the server supports them"},
	{Key: keyWatchBackoffBase, Flag: toFlag(keyWatchBackoffBase), Default: time.Second, Description: "Initial reconnect delay"},
	{Key: keyWatchBackoffMax, Flag: toFlag(keyWatchBackoffMax), Default: 30 * time.Second, Description: "Maximum reconnect delay"},
	{Key: keyWatchBackoffMaxAttempts, Flag: toFlag(keyWatchBackoffMaxAttempts), Default: 10, Description: "Consecutive failed reconnects before giving up, 0 for unlimited"},
	{Key: keyWatchBackoffJitter, Flag: toFlag(keyWatchBackoffJitter), Default: 0.2, Description: "Random extra delay as a fraction of the reconnect delay"},
}

// ClusterOptions configures cluster access, leader election and logging.
var ClusterOptions = []Option{
	{Key: keyKubeConfig, Flag: toFlag(keyKubeConfig), Default: "", Description: "Path to a kubeconfig, empty for in-cluster config"},
	{Key: keyLeaderEnabled, Flag: toFlag(keyLeaderEnabled), Default: false, Description: "Only watch while holding the leader lease"},
	{Key: keyLeaderNamespace, Flag: toFlag(keyLeaderNamespace), Default: "garden", Description: "Namespace of the leader lease"},
	{Key: keyLeaderLeaseName, Flag: toFlag(keyLeaderLeaseName), Default: "gardenwatch-leader", Description: "Name of the leader lease"},
	{Key: keyLogLevel, Flag: toFlag(keyLogLevel), Default: "info", Description: "Log level (debug, info, warn, error)"},
	{Key: keyLogFormat, Flag: toFlag(keyLogFormat), Default: "text", Description: "Log format (text, json)"},
}

// toFlag converts a viper key like "watch.backoff.max_attempts" into a
// CLI flag like "backoff-max-attempts" by lower-casing, replacing dots
// and underscores with hyphens, and stripping the "server-" or "watch-"
// prefix.
func toFlag(key string) string {
	flag := strings.ToLower(key)
	flag = strings.ReplaceAll(flag, ".", "-")
	flag = strings.ReplaceAll(flag, "_", "-")
	flag = strings.TrimPrefix(flag, "server-")
	flag = strings.TrimPrefix(flag, "watch-")
	return flag
}
