package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/tphakala/offlinecache/internal/datastore/entities"
	"github.com/tphakala/offlinecache/internal/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// cacheRepository implements CacheRepository.
type cacheRepository struct {
	db *gorm.DB
}

// NewCacheRepository creates a new CacheRepository.
func NewCacheRepository(db *gorm.DB) CacheRepository {
	return &cacheRepository{db: db}
}

// HashKey returns the hex SHA-256 of a cache key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// EnsurePartition returns the named partition, creating it when absent.
func (r *cacheRepository) EnsurePartition(ctx context.Context, name string) (*entities.Partition, error) {
	partition := entities.Partition{Name: name}
	err := r.db.WithContext(ctx).
		Where(entities.Partition{Name: name}).
		FirstOrCreate(&partition).Error
	if err != nil {
		return nil, fmt.Errorf("failed to ensure partition %q: %w", name, err)
	}
	return &partition, nil
}

// GetPartition returns a partition by name.
// Returns ErrPartitionNotFound if it does not exist.
func (r *cacheRepository) GetPartition(ctx context.Context, name string) (*entities.Partition, error) {
	var partition entities.Partition
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&partition).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPartitionNotFound
		}
		return nil, fmt.Errorf("failed to get partition %q: %w", name, err)
	}
	return &partition, nil
}

// ListPartitions returns every partition ordered by name.
func (r *cacheRepository) ListPartitions(ctx context.Context) ([]entities.Partition, error) {
	var partitions []entities.Partition
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&partitions).Error; err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}
	return partitions, nil
}

// DeletePartition deletes a partition and all its entries.
func (r *cacheRepository) DeletePartition(ctx context.Context, name string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var partition entities.Partition
		if err := tx.Where("name = ?", name).First(&partition).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPartitionNotFound
			}
			return fmt.Errorf("failed to find partition %q: %w", name, err)
		}
		// Explicit delete: sqlite only cascades with foreign_keys enabled.
		if err := tx.Where("partition_id = ?", partition.ID).Delete(&entities.CacheEntry{}).Error; err != nil {
			return fmt.Errorf("failed to delete entries of partition %q: %w", name, err)
		}
		if err := tx.Delete(&partition).Error; err != nil {
			return fmt.Errorf("failed to delete partition %q: %w", name, err)
		}
		return nil
	})
}

// GetEntry returns the entry stored under key.
// Returns ErrCacheEntryNotFound on a miss.
func (r *cacheRepository) GetEntry(ctx context.Context, partitionID uint, key string) (*entities.CacheEntry, error) {
	var entry entities.CacheEntry
	err := r.db.WithContext(ctx).
		Where("partition_id = ? AND key_hash = ?", partitionID, HashKey(key)).
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCacheEntryNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &entry, nil
}

// PutEntry inserts or replaces the entry for (PartitionID, Key).
func (r *cacheRepository) PutEntry(ctx context.Context, entry *entities.CacheEntry) error {
	if entry.PartitionID == 0 {
		return fmt.Errorf("failed to put cache entry: missing partition ID")
	}
	entry.KeyHash = HashKey(entry.Key)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "partition_id"}, {Name: "key_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"cache_key", "status", "header", "body", "stored_at"}),
	}).Omit(clause.Associations).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// DeleteEntry removes the entry for key. Deleting a missing entry is not an error.
func (r *cacheRepository) DeleteEntry(ctx context.Context, partitionID uint, key string) error {
	err := r.db.WithContext(ctx).
		Where("partition_id = ? AND key_hash = ?", partitionID, HashKey(key)).
		Delete(&entities.CacheEntry{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// ListKeys returns every key stored in the partition.
func (r *cacheRepository) ListKeys(ctx context.Context, partitionID uint) ([]string, error) {
	var keys []string
	err := r.db.WithContext(ctx).Model(&entities.CacheEntry{}).
		Where("partition_id = ?", partitionID).
		Order("id ASC").
		Pluck("cache_key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}
	return keys, nil
}

// CountEntries returns the number of entries in the partition.
func (r *cacheRepository) CountEntries(ctx context.Context, partitionID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.CacheEntry{}).
		Where("partition_id = ?", partitionID).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return count, nil
}
