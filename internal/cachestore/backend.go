package cachestore

import "context"

// Backend is the storage behind partitions. Implementations must make single
// key operations atomic; no cross-key transactions are required. A miss is
// reported as (nil, false, nil).
type Backend interface {
	// Ensure creates the partition if absent.
	Ensure(ctx context.Context, partition string) error
	// Exists reports whether the partition is present.
	Exists(ctx context.Context, partition string) (bool, error)
	// Names lists every partition.
	Names(ctx context.Context) ([]string, error)
	// Drop deletes a partition and its entries. Dropping an unknown
	// partition returns false without error.
	Drop(ctx context.Context, partition string) (bool, error)

	Get(ctx context.Context, partition, key string) (*Response, bool, error)
	Set(ctx context.Context, partition, key string, resp *Response) error
	Remove(ctx context.Context, partition, key string) error
	Keys(ctx context.Context, partition string) ([]string, error)
}
