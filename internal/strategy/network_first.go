package strategy

import (
	"context"

	"github.com/tphakala/offlinecache/internal/conf"
	"github.com/tphakala/offlinecache/internal/observability/metrics"
)

// NetworkFirst prefers a fresh answer and falls back to the partition, then
// to the pre-cached copy, then to the cached root document, then to the
// offline page.
type NetworkFirst struct {
	base *Base
}

// NewNetworkFirst creates the strategy.
func NewNetworkFirst(base *Base) *NetworkFirst {
	return &NetworkFirst{base: base}
}

func (s *NetworkFirst) Name() string { return conf.StrategyNetworkFirst }

func (s *NetworkFirst) Serve(ctx context.Context, ex *Exchange) Result {
	resp, err := s.base.fetch(ctx, ex)
	if err == nil {
		s.base.store(ctx, ex, resp)
		return Result{Response: resp, Outcome: metrics.OutcomeNetwork}
	}

	if cached, ok := s.base.lookup(ctx, ex); ok {
		return Result{Response: cached, Outcome: metrics.OutcomeCacheFallback}
	}
	if pre, ok := s.base.precached(ctx, ex); ok {
		return Result{Response: pre, Outcome: metrics.OutcomePrecachedFallback}
	}
	if root, ok := s.base.root(ctx); ok {
		return Result{Response: root, Outcome: metrics.OutcomeRootFallback}
	}
	return Result{Response: OfflinePage(), Outcome: metrics.OutcomeOfflinePage}
}
