package router

import (
	"net/http"
	"path"
	"slices"
	"strings"

	"github.com/tphakala/offlinecache/internal/cachestore"
	"github.com/tphakala/offlinecache/internal/conf"
)

// Route classes beyond the policy routes.
const (
	// RouteBypass requests are forwarded without touching the cache.
	RouteBypass = "bypass"
	// RouteMutation requests go to the offline mutation handler.
	RouteMutation = "mutation"
)

// classifier decides the route class of a request.
type classifier struct {
	staticMarkers   []string
	imageMarkers    []string
	imageExtensions []string
	// thirdParty holds the descriptor keys of absolute manifest URLs. They
	// are pre-cached into the static partition, so they route as static.
	thirdParty map[string]struct{}
}

func newClassifier(s *conf.Settings) *classifier {
	c := &classifier{
		staticMarkers: slices.Clone(s.Cache.StaticMarkers),
		imageMarkers:  slices.Clone(s.Cache.ImageMarkers),
		thirdParty:    make(map[string]struct{}),
	}
	for _, ext := range s.Cache.ImageExtensions {
		c.imageExtensions = append(c.imageExtensions, strings.ToLower(ext))
	}
	for _, u := range s.Manifest.URLs {
		if d := cachestore.NewDescriptor(u); strings.Contains(d.URL, "://") {
			c.thirdParty[d.Key()] = struct{}{}
		}
	}
	return c
}

// interceptable reports whether the request uses a scheme the cache handles.
// Origin-form requests are always http(s).
func interceptable(r *http.Request) bool {
	if !r.URL.IsAbs() {
		return true
	}
	switch strings.ToLower(r.URL.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}

// classify returns the route class of an intercepted request.
func (c *classifier) classify(r *http.Request, d cachestore.Descriptor) string {
	if !interceptable(r) {
		return RouteBypass
	}
	if r.Method != http.MethodGet {
		return RouteMutation
	}
	if _, ok := c.thirdParty[d.Key()]; ok {
		return conf.RouteStatic
	}

	p := r.URL.Path
	for _, marker := range c.staticMarkers {
		if strings.Contains(p, marker) {
			return conf.RouteStatic
		}
	}
	if slices.Contains(c.imageExtensions, strings.ToLower(path.Ext(p))) {
		return conf.RouteImage
	}
	for _, marker := range c.imageMarkers {
		if strings.Contains(p, marker) {
			return conf.RouteImage
		}
	}
	return conf.RouteDynamic
}
