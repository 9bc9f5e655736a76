// Package conf loads and validates the service configuration.
//
// Settings are read once at startup (YAML file, OFFLINECACHE_* environment
// variables, command line flags) and then passed by value into the router and
// lifecycle pipelines. Nothing reads configuration from package state after
// Load returns.
package conf

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/offlinecache/internal/errors"
)

// Strategy names accepted in the policy section.
const (
	StrategyCacheFirst           = "cache-first"
	StrategyNetworkFirst         = "network-first"
	StrategyStaleWhileRevalidate = "stale-while-revalidate"
)

// Route classes used as policy keys.
const (
	RouteStatic  = "static"
	RouteImage   = "image"
	RouteDynamic = "dynamic"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Settings is the complete service configuration.
type Settings struct {
	Main struct {
		LogLevel  string `mapstructure:"loglevel"`
		LogFormat string `mapstructure:"logformat"` // text or json
	} `mapstructure:"main"`

	Server struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"server"`

	Upstream struct {
		BaseURL string   `mapstructure:"baseurl"`
		Timeout Duration `mapstructure:"timeout"` // 0 means no timeout
	} `mapstructure:"upstream"`

	Cache struct {
		Version         string   `mapstructure:"version"`
		Driver          string   `mapstructure:"driver"`
		DSN             string   `mapstructure:"dsn"`
		StaticMarkers   []string `mapstructure:"staticmarkers"`
		ImageMarkers    []string `mapstructure:"imagemarkers"`
		ImageExtensions []string `mapstructure:"imageextensions"`
		RootDocument    string   `mapstructure:"rootdocument"`
		ListingPath     string   `mapstructure:"listingpath"`
	} `mapstructure:"cache"`

	// Policy maps a route class to a strategy name.
	Policy map[string]string `mapstructure:"policy"`

	Manifest struct {
		URLs []string `mapstructure:"urls"`
		File string   `mapstructure:"file"`
	} `mapstructure:"manifest"`

	Lifecycle struct {
		SkipWaiting bool `mapstructure:"skipwaiting"`
	} `mapstructure:"lifecycle"`

	Revalidate struct {
		// EvictAfterFailures evicts a stale entry after this many consecutive
		// failed background refreshes. 0 never evicts.
		EvictAfterFailures int `mapstructure:"evictafterfailures"`
	} `mapstructure:"revalidate"`

	Offline struct {
		SessionCookie string `mapstructure:"sessioncookie"`
	} `mapstructure:"offline"`

	MQTT struct {
		Enabled     bool     `mapstructure:"enabled"`
		Broker      string   `mapstructure:"broker"`
		ClientID    string   `mapstructure:"clientid"`
		Username    string   `mapstructure:"username"`
		Password    string   `mapstructure:"password"`
		TopicPrefix string   `mapstructure:"topicprefix"`
		Timeout     Duration `mapstructure:"timeout"`
	} `mapstructure:"mqtt"`

	Sentry struct {
		Enabled     bool   `mapstructure:"enabled"`
		DSN         string `mapstructure:"dsn"`
		Environment string `mapstructure:"environment"`
	} `mapstructure:"sentry"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"metrics"`
}

// StaticPartition returns the static partition name for the configured version.
func (s *Settings) StaticPartition() string { return "static-" + s.Cache.Version }

// APIPartition returns the API snapshot partition name.
func (s *Settings) APIPartition() string { return "api-" + s.Cache.Version }

// ImagesPartition returns the images partition name.
func (s *Settings) ImagesPartition() string { return "images-" + s.Cache.Version }

// CurrentPartitions returns the allow-list of partitions that survive cleanup.
func (s *Settings) CurrentPartitions() []string {
	return []string{s.StaticPartition(), s.APIPartition(), s.ImagesPartition()}
}

// Load reads configuration from configFile (optional) and the environment
// into a fresh viper instance. Flag overrides are applied by the caller via
// BindFlags before Load.
func Load(v *viper.Viper, configFile string) (*Settings, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	v.SetEnvPrefix("OFFLINECACHE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New(err).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("file", configFile).
				Build()
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings, viper.DecodeHook(DurationDecodeHook())); err != nil {
		return nil, errors.New(fmt.Errorf("failed to decode settings: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}

	settings.fillPolicyDefaults()

	if settings.Manifest.File != "" {
		urls, err := LoadManifestFile(settings.Manifest.File)
		if err != nil {
			return nil, err
		}
		settings.Manifest.URLs = append(settings.Manifest.URLs, urls...)
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// fillPolicyDefaults restores the default strategy of every route a partial
// policy section left out. Viper replaces map defaults wholesale.
func (s *Settings) fillPolicyDefaults() {
	if s.Policy == nil {
		s.Policy = make(map[string]string)
	}
	for route, strategy := range DefaultPolicy() {
		if _, ok := s.Policy[route]; !ok {
			s.Policy[route] = strategy
		}
	}
}

// manifestFile is the on-disk shape of a manifest file.
type manifestFile struct {
	URLs []string `yaml:"urls"`
}

// LoadManifestFile reads a YAML manifest file. Both a bare list and a
// document with a "urls" key are accepted.
func LoadManifestFile(path string) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("manifest_file", path).
			Build()
	}

	var list []string
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var doc manifestFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.New(fmt.Errorf("failed to parse manifest: %w", err)).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("manifest_file", path).
			Build()
	}
	return doc.URLs, nil
}

var validStrategies = []string{StrategyCacheFirst, StrategyNetworkFirst, StrategyStaleWhileRevalidate}

// Validate checks the settings for values the service cannot run with.
func (s *Settings) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Newf(format, args...).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if strings.TrimSpace(s.Cache.Version) == "" {
		return invalid("cache.version must not be empty")
	}
	u, err := url.Parse(s.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("upstream.baseurl %q must be an absolute URL", s.Upstream.BaseURL)
	}
	switch s.Cache.Driver {
	case DriverMemory, DriverSQLite, DriverMySQL:
	default:
		return invalid("unknown cache.driver %q", s.Cache.Driver)
	}
	if s.Cache.Driver == DriverMySQL && s.Cache.DSN == "" {
		return invalid("cache.dsn is required for the mysql driver")
	}
	if !strings.HasPrefix(s.Cache.ListingPath, "/") {
		return invalid("cache.listingpath %q must start with /", s.Cache.ListingPath)
	}
	for route, strategy := range s.Policy {
		if !slices.Contains([]string{RouteStatic, RouteImage, RouteDynamic}, route) {
			return invalid("unknown policy route %q", route)
		}
		if !slices.Contains(validStrategies, strategy) {
			return invalid("unknown strategy %q for route %q", strategy, route)
		}
	}
	if s.Revalidate.EvictAfterFailures < 0 {
		return invalid("revalidate.evictafterfailures must be >= 0")
	}
	if s.MQTT.Enabled && s.MQTT.Broker == "" {
		return invalid("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}
