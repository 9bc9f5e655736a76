package strategy

import (
	"github.com/tphakala/offlinecache/internal/conf"
	"github.com/tphakala/offlinecache/internal/errors"
)

// Policy maps route classes to strategies. The strategy instances are shared
// between routes that name the same strategy.
type Policy struct {
	routes map[string]Strategy
	swr    *StaleWhileRevalidate
}

// NewPolicy builds a policy from a route to strategy-name map.
func NewPolicy(routes map[string]string, base *Base, opts SWROptions) (*Policy, error) {
	swr := NewStaleWhileRevalidate(base, opts)
	byName := map[string]Strategy{
		conf.StrategyCacheFirst:           NewCacheFirst(base),
		conf.StrategyNetworkFirst:         NewNetworkFirst(base),
		conf.StrategyStaleWhileRevalidate: swr,
	}

	p := &Policy{routes: make(map[string]Strategy, len(routes)), swr: swr}
	for route, name := range routes {
		s, ok := byName[name]
		if !ok {
			return nil, errors.Newf("unknown strategy %q for route %q", name, route).
				Component("strategy").
				Category(errors.CategoryConfiguration).
				Build()
		}
		p.routes[route] = s
	}
	return p, nil
}

// For returns the strategy of route. Routes missing from the policy use
// stale-while-revalidate.
func (p *Policy) For(route string) Strategy {
	if s, ok := p.routes[route]; ok {
		return s
	}
	return p.swr
}

// Wait blocks until background refreshes have finished.
func (p *Policy) Wait() {
	p.swr.Wait()
}
