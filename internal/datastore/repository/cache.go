package repository

import (
	"context"

	"github.com/tphakala/offlinecache/internal/datastore/entities"
	"github.com/tphakala/offlinecache/internal/errors"
)

// ErrCacheEntryNotFound is returned when a partition has no entry for a key.
var ErrCacheEntryNotFound = errors.NewStd("cache entry not found")

// ErrPartitionNotFound is returned when a partition name is unknown.
var ErrPartitionNotFound = errors.NewStd("cache partition not found")

// CacheRepository persists cache partitions and their entries.
type CacheRepository interface {
	// Partitions
	EnsurePartition(ctx context.Context, name string) (*entities.Partition, error)
	GetPartition(ctx context.Context, name string) (*entities.Partition, error)
	ListPartitions(ctx context.Context) ([]entities.Partition, error)
	DeletePartition(ctx context.Context, name string) error

	// Entries
	GetEntry(ctx context.Context, partitionID uint, key string) (*entities.CacheEntry, error)
	PutEntry(ctx context.Context, entry *entities.CacheEntry) error
	DeleteEntry(ctx context.Context, partitionID uint, key string) error
	ListKeys(ctx context.Context, partitionID uint) ([]string, error)
	CountEntries(ctx context.Context, partitionID uint) (int64, error)
}
