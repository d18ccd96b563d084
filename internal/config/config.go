package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config wraps a viper instance and exposes typed getters for every
// configuration key.
type Config struct {
	v *viper.Viper
}

// New loads defaults, the optional config file and the environment.
// Flags are bound later through BindFlags.
func New() (*Config, error) {
	v := viper.New()

	// default values
	for _, options := range [][]Option{ServerOptions, WatchOptions, ClusterOptions} {
		for _, o := range options {
			v.SetDefault(o.Key, o.Default)
		}
	}

	// load config from file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/gardenwatch/")

	if err := v.ReadInConfig(); err != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundErr) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// load config from environment variables
	v.SetEnvPrefix("GARDENWATCH")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return &Config{v: v}, nil
}

// BindFlags registers options on fs and binds each flag to its viper
// key so that an explicitly set flag wins over env and file values.
func (c *Config) BindFlags(fs *pflag.FlagSet, options []Option) error {
	for _, o := range options {
		switch v := o.Default.(type) {
		case string:
			fs.String(o.Flag, v, o.Description)
		case int:
			fs.Int(o.Flag, v, o.Description)
		case bool:
			fs.Bool(o.Flag, v, o.Description)
		case float64:
			fs.Float64(o.Flag, v, o.Description)
		case []string:
			fs.StringSlice(o.Flag, v, o.Description)
		case time.Duration:
			fs.Duration(o.Flag, v, o.Description)
		default:
			return fmt.Errorf("unsupported flag type for key: %s", o.Key)
		}

		if err := c.v.BindPFlag(o.Key, fs.Lookup(o.Flag)); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", o.Flag, err)
		}
	}

	return nil
}

func (c *Config) ServerAddress() string {
	return c.v.GetString(keyServerAddress) // GARDENWATCH_SERVER_ADDRESS
}

func (c *Config) ServerAllowedOrigins() []string {
	return c.v.GetStringSlice(keyServerAllowedOrigins) // GARDENWATCH_SERVER_ALLOWED_ORIGINS
}

func (c *Config) WatchResources() []string {
	return c.v.GetStringSlice(keyWatchResources) // GARDENWATCH_WATCH_RESOURCES
}

func (c *Config) WatchNamespacedResources() []string {
	return c.v.GetStringSlice(keyWatchNamespacedResources) // GARDENWATCH_WATCH_NAMESPACED_RESOURCES
}

func (c *Config) WatchNamespace() string {
	return c.v.GetString(keyWatchNamespace) // GARDENWATCH_WATCH_NAMESPACE
}

func (c *Config) WatchLabelSelector() string {
	return c.v.GetString(keyWatchLabelSelector) // GARDENWATCH_WATCH_LABEL_SELECTOR
}

func (c *Config) WatchIdleTimeout() time.Duration {
	return c.v.GetDuration(keyWatchIdleTimeout) // GARDENWATCH_WATCH_IDLE_TIMEOUT
}

func (c *Config) WatchSendInitialEvents() bool {
	return c.v.GetBool(keyWatchSendInitialEvents) // GARDENWATCH_WATCH_SEND_INITIAL_EVENTS
}

func (c *Config) WatchBackoffBase() time.Duration {
	return c.v.GetDuration(keyWatchBackoffBase) // GARDENWATCH_WATCH_BACKOFF_BASE
}

func (c *Config) WatchBackoffMax() time.Duration {
	return c.v.GetDuration(keyWatchBackoffMax) // GARDENWATCH_WATCH_BACKOFF_MAX
}

func (c *Config) WatchBackoffMaxAttempts() int {
	return c.v.GetInt(keyWatchBackoffMaxAttempts) // GARDENWATCH_WATCH_BACKOFF_MAX_ATTEMPTS
}

func (c *Config) WatchBackoffJitter() float64 {
	return c.v.GetFloat64(keyWatchBackoffJitter) // GARDENWATCH_WATCH_BACKOFF_JITTER
}

func (c *Config) KubeConfig() string {
	return c.v.GetString(keyKubeConfig) // GARDENWATCH_KUBE_CONFIG
}

func (c *Config) LeaderEnabled() bool {
	return c.v.GetBool(keyLeaderEnabled) // GARDENWATCH_LEADER_ENABLED
}

func (c *Config) LeaderNamespace() string {
	return c.v.GetString(keyLeaderNamespace) // GARDENWATCH_LEADER_NAMESPACE
}

func (c *Config) LeaderLeaseName() string {
	return c.v.GetString(keyLeaderLeaseName) // GARDENWATCH_LEADER_LEASE_NAME
}

func (c *Config) LogLevel() string {
	return c.v.GetString(keyLogLevel) // GARDENWATCH_LOG_LEVEL
}

func (c *Config) LogFormat() string {
	return c.v.GetString(keyLogFormat) // GARDENWATCH_LOG_FORMAT
}
