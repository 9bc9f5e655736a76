package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	s, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "v1", s.Cache.Version)
	assert.Equal(t, DriverSQLite, s.Cache.Driver)
	assert.Equal(t, DefaultListingPath, s.Cache.ListingPath)
	assert.Equal(t, DefaultPolicy(), s.Policy)
	assert.True(t, s.Lifecycle.SkipWaiting)
	assert.Zero(t, s.Upstream.Timeout.Std())
	assert.Equal(t, 5*time.Second, s.MQTT.Timeout.Std())
	assert.NotEmpty(t, s.Manifest.URLs)
	assert.Equal(t, []string{"static-v1", "api-v1", "images-v1"}, s.CurrentPartitions())
}

func TestLoad_File(t *testing.T) {
	manifest := writeFile(t, "manifest.yaml", "- /extra.js\n- /extra.css\n")
	cfg := writeFile(t, "config.yaml", `
upstream:
  baseurl: http://backend:9000
  timeout: 15s
cache:
  version: v2
  driver: memory
policy:
  dynamic: network-first
manifest:
  urls: ["/"]
  file: `+manifest+`
revalidate:
  evictafterfailures: 3
`)

	s, err := Load(viper.New(), cfg)
	require.NoError(t, err)

	assert.Equal(t, "http://backend:9000", s.Upstream.BaseURL)
	assert.Equal(t, 15*time.Second, s.Upstream.Timeout.Std())
	assert.Equal(t, "v2", s.Cache.Version)
	assert.Equal(t, DriverMemory, s.Cache.Driver)
	assert.Equal(t, StrategyNetworkFirst, s.Policy[RouteDynamic])
	assert.Equal(t, StrategyCacheFirst, s.Policy[RouteStatic], "unset policy keys keep defaults")
	assert.Equal(t, []string{"/", "/extra.js", "/extra.css"}, s.Manifest.URLs)
	assert.Equal(t, 3, s.Revalidate.EvictAfterFailures)
}

func TestLoad_PartialPolicyKeepsDefaultRoutes(t *testing.T) {
	cfg := writeFile(t, "config.yaml", "policy:\n  image: network-first\n")

	s, err := Load(viper.New(), cfg)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		RouteStatic:  StrategyCacheFirst,
		RouteImage:   StrategyNetworkFirst,
		RouteDynamic: StrategyStaleWhileRevalidate,
	}, s.Policy)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("OFFLINECACHE_CACHE_VERSION", "v9")
	s, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "api-v9", s.APIPartition())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadManifestFile_Document(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "m.yaml", "urls:\n  - /a\n  - https://cdn.example.com/lib@1.2.3/lib.js\n")
	urls, err := LoadManifestFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "https://cdn.example.com/lib@1.2.3/lib.js"}, urls)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(s *Settings)
	}{
		{"empty version", func(s *Settings) { s.Cache.Version = " " }},
		{"relative upstream", func(s *Settings) { s.Upstream.BaseURL = "/api" }},
		{"unknown driver", func(s *Settings) { s.Cache.Driver = "bolt" }},
		{"mysql without dsn", func(s *Settings) { s.Cache.Driver = DriverMySQL; s.Cache.DSN = "" }},
		{"relative listing path", func(s *Settings) { s.Cache.ListingPath = "list" }},
		{"unknown route", func(s *Settings) { s.Policy["video"] = StrategyCacheFirst }},
		{"unknown strategy", func(s *Settings) { s.Policy[RouteDynamic] = "cache-only" }},
		{"negative eviction", func(s *Settings) { s.Revalidate.EvictAfterFailures = -1 }},
		{"mqtt without broker", func(s *Settings) { s.MQTT.Enabled = true }},
	}

	require.NoError(t, NewDefaultSettings().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := NewDefaultSettings()
			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestNetworkFirstPolicy(t *testing.T) {
	t.Parallel()
	p := NetworkFirstPolicy()
	assert.Equal(t, StrategyNetworkFirst, p[RouteDynamic])
	assert.Equal(t, StrategyCacheFirst, p[RouteStatic])
}
