package strategy

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tphakala/offlinecache/internal/conf"
	"github.com/tphakala/offlinecache/internal/events"
	"github.com/tphakala/offlinecache/internal/logger"
	"github.com/tphakala/offlinecache/internal/observability/metrics"
)

// Background refresh results.
const (
	RefreshSuccess = "success"
	RefreshFailure = "failure"
	RefreshEvicted = "evicted"
)

// StaleWhileRevalidate answers from the partition at once and refreshes the
// entry in the background for the next request.
type StaleWhileRevalidate struct {
	base       *Base
	events     events.Publisher
	evictAfter int
	failures   *FailureTracker

	group singleflight.Group
	wg    sync.WaitGroup
	now   func() time.Time
}

// SWROptions configures background refreshes.
type SWROptions struct {
	// EvictAfter evicts an entry after that many consecutive failed
	// refreshes. 0 never evicts.
	EvictAfter int
	Events     events.Publisher
}

// NewStaleWhileRevalidate creates the strategy.
func NewStaleWhileRevalidate(base *Base, opts SWROptions) *StaleWhileRevalidate {
	if opts.Events == nil {
		opts.Events = events.Discard{}
	}
	return &StaleWhileRevalidate{
		base:       base,
		events:     opts.Events,
		evictAfter: opts.EvictAfter,
		failures:   NewFailureTracker(),
		now:        time.Now,
	}
}

func (s *StaleWhileRevalidate) Name() string { return conf.StrategyStaleWhileRevalidate }

func (s *StaleWhileRevalidate) Serve(ctx context.Context, ex *Exchange) Result {
	if cached, ok := s.base.lookup(ctx, ex); ok {
		s.revalidate(ex)
		return Result{Response: cached, Outcome: metrics.OutcomeCacheHit}
	}

	resp, err := s.base.fetch(ctx, ex)
	if err == nil {
		s.base.store(ctx, ex, resp)
		return Result{Response: resp, Outcome: metrics.OutcomeNetwork}
	}
	if pre, ok := s.base.precached(ctx, ex); ok {
		return Result{Response: pre, Outcome: metrics.OutcomePrecachedFallback}
	}
	if root, ok := s.base.root(ctx); ok {
		return Result{Response: root, Outcome: metrics.OutcomeRootFallback}
	}
	return Result{Response: OfflinePage(), Outcome: metrics.OutcomeOfflinePage}
}

// Wait blocks until every background refresh has finished.
func (s *StaleWhileRevalidate) Wait() {
	s.wg.Wait()
}

// revalidate starts a detached refresh of ex. Refreshes of one key are
// coalesced while one is in flight.
func (s *StaleWhileRevalidate) revalidate(ex *Exchange) {
	key := ex.Partition.Name() + "|" + ex.Descriptor.Key()
	s.wg.Go(func() {
		_, _, _ = s.group.Do(key, func() (any, error) {
			s.refresh(context.Background(), ex)
			return nil, nil
		})
	})
}

func (s *StaleWhileRevalidate) refresh(ctx context.Context, ex *Exchange) {
	key := ex.Partition.Name() + "|" + ex.Descriptor.Key()
	log := s.base.logger().With(
		logger.String("partition", ex.Partition.Name()),
		logger.String("key", ex.Descriptor.Key()))

	resp, err := s.base.fetch(ctx, ex)
	if err == nil {
		s.failures.Success(key)
		s.base.store(ctx, ex, resp)
		s.base.Metrics.RecordRefresh(RefreshSuccess)
		return
	}

	streak := s.failures.Failure(key, s.now())
	s.base.Metrics.RecordRefresh(RefreshFailure)
	log.Debug("background refresh failed", logger.Int("consecutive", streak), logger.Error(err))
	s.events.Publish(&events.Event{
		Kind:       events.KindRefreshFailed,
		Partition:  ex.Partition.Name(),
		Key:        ex.Descriptor.Key(),
		Properties: map[string]any{"consecutive": streak},
	})

	if s.evictAfter <= 0 || streak < s.evictAfter {
		return
	}
	if err := ex.Partition.Delete(ctx, ex.Descriptor); err != nil {
		log.Warn("failed to evict stale entry", logger.Error(err))
		return
	}
	s.failures.Success(key)
	s.base.Metrics.RecordRefresh(RefreshEvicted)
	log.Info("evicted stale entry after repeated refresh failures", logger.Int("failures", streak))
	s.events.Publish(&events.Event{
		Kind:      events.KindEntryEvicted,
		Partition: ex.Partition.Name(),
		Key:       ex.Descriptor.Key(),
	})
}
