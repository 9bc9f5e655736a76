// Package strategy implements the read strategies used for GET requests:
// cache-first, network-first and stale-while-revalidate.
package strategy

import (
	"context"

	"github.com/tphakala/offlinecache/internal/cachestore"
	"github.com/tphakala/offlinecache/internal/logger"
	"github.com/tphakala/offlinecache/internal/network"
	"github.com/tphakala/offlinecache/internal/observability/metrics"
)

// Exchange is one GET request being served.
type Exchange struct {
	// Route is the route class the request was classified as.
	Route string
	// Descriptor is the storage key.
	Descriptor cachestore.Descriptor
	// Request is forwarded to the network as is.
	Request *network.Outgoing
	// Partition is where the route's responses live.
	Partition *cachestore.Partition
}

// Result is what a strategy answers with. Response is never nil.
type Result struct {
	Response *cachestore.Response
	Outcome  string
}

// Strategy orders cache and network access for one request.
type Strategy interface {
	Name() string
	Serve(ctx context.Context, ex *Exchange) Result
}

// PersistFunc stores a successful network response for ex.
type PersistFunc func(ctx context.Context, ex *Exchange, resp *cachestore.Response) error

// Base holds what every strategy needs.
type Base struct {
	Fetcher network.Fetcher
	// Persist defaults to a plain partition put.
	Persist PersistFunc
	// Root is the partition holding the root document and RootKey its key.
	Root    *cachestore.Partition
	RootKey cachestore.Descriptor
	Metrics *metrics.Metrics
	Log     logger.Logger
}

func (b *Base) logger() logger.Logger {
	if b.Log == nil {
		return logger.NewNop()
	}
	return b.Log
}

// lookup returns the cached response. Storage errors are logged and read as
// a miss.
func (b *Base) lookup(ctx context.Context, ex *Exchange) (*cachestore.Response, bool) {
	resp, ok, err := ex.Partition.Match(ctx, ex.Descriptor)
	if err != nil {
		b.logger().Warn("cache lookup failed",
			logger.String("partition", ex.Partition.Name()),
			logger.String("key", ex.Descriptor.Key()),
			logger.Error(err))
		ok = false
	}
	b.Metrics.RecordLookup(ex.Partition.Name(), ok)
	return resp, ok
}

// fetch asks the network. Only transport failures are errors.
func (b *Base) fetch(ctx context.Context, ex *Exchange) (*cachestore.Response, error) {
	return b.Fetcher.Fetch(ctx, ex.Request)
}

// store persists resp. A storage failure never fails the request.
func (b *Base) store(ctx context.Context, ex *Exchange, resp *cachestore.Response) {
	persist := b.Persist
	if persist == nil {
		persist = PutPartition
	}
	if err := persist(ctx, ex, resp); err != nil {
		b.logger().Warn("failed to store network response",
			logger.String("partition", ex.Partition.Name()),
			logger.String("key", ex.Descriptor.Key()),
			logger.Error(err))
	}
}

// root returns the cached root document.
func (b *Base) root(ctx context.Context) (*cachestore.Response, bool) {
	if b.Root == nil {
		return nil, false
	}
	resp, ok, err := b.Root.Match(ctx, b.RootKey)
	if err != nil {
		b.logger().Warn("root document lookup failed", logger.Error(err))
		return nil, false
	}
	return resp, ok
}

// precached returns the entry installed into the root partition under the
// request's own descriptor. Manifest pages such as /login.html route as
// dynamic but are pre-cached into the static partition, so an offline miss
// in the route's partition still finds them there.
func (b *Base) precached(ctx context.Context, ex *Exchange) (*cachestore.Response, bool) {
	if b.Root == nil || ex.Partition == nil || ex.Partition.Name() == b.Root.Name() {
		return nil, false
	}
	resp, ok, err := b.Root.Match(ctx, ex.Descriptor)
	if err != nil {
		b.logger().Warn("pre-cached lookup failed",
			logger.String("key", ex.Descriptor.Key()),
			logger.Error(err))
		return nil, false
	}
	return resp, ok
}

// PutPartition is the default PersistFunc.
func PutPartition(ctx context.Context, ex *Exchange, resp *cachestore.Response) error {
	return ex.Partition.Put(ctx, ex.Descriptor, resp)
}
