package strategy

import (
	"context"

	"github.com/tphakala/offlinecache/internal/conf"
	"github.com/tphakala/offlinecache/internal/observability/metrics"
)

// CacheFirst answers from the partition when it can and never touches the
// network on a hit.
type CacheFirst struct {
	base *Base
}

// NewCacheFirst creates the strategy.
func NewCacheFirst(base *Base) *CacheFirst {
	return &CacheFirst{base: base}
}

func (s *CacheFirst) Name() string { return conf.StrategyCacheFirst }

func (s *CacheFirst) Serve(ctx context.Context, ex *Exchange) Result {
	if resp, ok := s.base.lookup(ctx, ex); ok {
		return Result{Response: resp, Outcome: metrics.OutcomeCacheHit}
	}

	resp, err := s.base.fetch(ctx, ex)
	if err != nil {
		if pre, ok := s.base.precached(ctx, ex); ok {
			return Result{Response: pre, Outcome: metrics.OutcomePrecachedFallback}
		}
		return Result{Response: OfflineText(), Outcome: metrics.OutcomeOfflineText}
	}
	s.base.store(ctx, ex, resp)
	return Result{Response: resp, Outcome: metrics.OutcomeNetwork}
}
