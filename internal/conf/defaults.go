package conf

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultListingPath is the inventory listing endpoint of the backend.
const DefaultListingPath = "/obtener_activos_escaneados/"

// defaultManifest lists what the installation pipeline pre-caches. Third-party
// libraries are pinned to exact versions so a version bump is reproducible.
var defaultManifest = []string{
	"/",
	"/index.html",
	"/login.html",
	"/static/js/app.js",
	"/static/js/scanner.js",
	"/static/css/styles.css",
	"/static/images/logo.png",
	"/static/images/icon-192.png",
	"/static/images/icon-512.png",
	"/manifest.json",
	"https://cdn.jsdelivr.net/npm/bootstrap@5.3.2/dist/css/bootstrap.min.css",
	"https://unpkg.com/html5-qrcode@2.3.8/html5-qrcode.min.js",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("main.loglevel", "info")
	v.SetDefault("main.logformat", "text")

	v.SetDefault("server.listen", ":8080")

	v.SetDefault("upstream.baseurl", "http://localhost:8000")
	v.SetDefault("upstream.timeout", "0s")

	v.SetDefault("cache.version", "v1")
	v.SetDefault("cache.driver", DriverSQLite)
	v.SetDefault("cache.dsn", "offlinecache.db")
	v.SetDefault("cache.staticmarkers", []string{"/static/"})
	v.SetDefault("cache.imagemarkers", []string{"/images/"})
	v.SetDefault("cache.imageextensions", []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico"})
	v.SetDefault("cache.rootdocument", "/")
	v.SetDefault("cache.listingpath", DefaultListingPath)

	v.SetDefault("policy", DefaultPolicy())

	v.SetDefault("manifest.urls", defaultManifest)

	v.SetDefault("lifecycle.skipwaiting", true)

	v.SetDefault("revalidate.evictafterfailures", 0)

	v.SetDefault("offline.sessioncookie", "sessionid")

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.clientid", "offlinecache")
	v.SetDefault("mqtt.topicprefix", "offlinecache")
	v.SetDefault("mqtt.timeout", (5 * time.Second).String())

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.environment", "production")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// DefaultPolicy is the current route policy: cache-first for static assets
// and images, stale-while-revalidate for everything else.
func DefaultPolicy() map[string]string {
	return map[string]string{
		RouteStatic:  StrategyCacheFirst,
		RouteImage:   StrategyCacheFirst,
		RouteDynamic: StrategyStaleWhileRevalidate,
	}
}

// NetworkFirstPolicy is the earlier policy where pages and API calls go to
// the network first.
func NetworkFirstPolicy() map[string]string {
	p := DefaultPolicy()
	p[RouteDynamic] = StrategyNetworkFirst
	return p
}

// NewDefaultSettings returns settings populated from defaults only. Used by
// tests and as a base for programmatic construction.
func NewDefaultSettings() *Settings {
	v := viper.New()
	setDefaults(v)
	s := &Settings{}
	// Defaults are well formed; a decode failure here is a programming error.
	if err := v.Unmarshal(s, viper.DecodeHook(DurationDecodeHook())); err != nil {
		panic(err)
	}
	return s
}
