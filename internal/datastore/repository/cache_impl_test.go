package repository

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tphakala/offlinecache/internal/datastore/entities"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"
)

// setupCacheTestDB creates a file-backed SQLite database private to the test.
func setupCacheTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?_foreign_keys=ON", filepath.Join(t.TempDir(), "cache.db"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gorm_logger.Default.LogMode(gorm_logger.Silent),
	})
	require.NoError(t, err, "failed to open database")

	sqlDB, err := db.DB()
	require.NoError(t, err, "failed to get sql.DB")
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&entities.Partition{}, &entities.CacheEntry{}))
	return db
}

func TestCacheRepository_EnsurePartitionIdempotent(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))
	ctx := t.Context()

	first, err := repo.EnsurePartition(ctx, "static-v1")
	require.NoError(t, err)
	second, err := repo.EnsurePartition(ctx, "static-v1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	partitions, err := repo.ListPartitions(ctx)
	require.NoError(t, err)
	assert.Len(t, partitions, 1)
}

func TestCacheRepository_PutOverwrites(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))
	ctx := t.Context()

	p, err := repo.EnsurePartition(ctx, "api-v1")
	require.NoError(t, err)

	require.NoError(t, repo.PutEntry(ctx, &entities.CacheEntry{
		PartitionID: p.ID, Key: "GET /a", Status: 200, Body: []byte("one"), StoredAt: time.Now(),
	}))
	require.NoError(t, repo.PutEntry(ctx, &entities.CacheEntry{
		PartitionID: p.ID, Key: "GET /a", Status: 201, Body: []byte("two"), StoredAt: time.Now(),
	}))

	got, err := repo.GetEntry(ctx, p.ID, "GET /a")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got.Body))
	assert.Equal(t, 201, got.Status)

	count, err := repo.CountEntries(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCacheRepository_GetMissing(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))
	ctx := t.Context()

	p, err := repo.EnsurePartition(ctx, "api-v1")
	require.NoError(t, err)

	_, err = repo.GetEntry(ctx, p.ID, "GET /nope")
	require.ErrorIs(t, err, ErrCacheEntryNotFound)

	_, err = repo.GetPartition(ctx, "images-v1")
	require.ErrorIs(t, err, ErrPartitionNotFound)
}

func TestCacheRepository_DeletePartitionRemovesEntries(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))
	ctx := t.Context()

	old, err := repo.EnsurePartition(ctx, "static-v1")
	require.NoError(t, err)
	keep, err := repo.EnsurePartition(ctx, "static-v2")
	require.NoError(t, err)

	for _, p := range []*entities.Partition{old, keep} {
		require.NoError(t, repo.PutEntry(ctx, &entities.CacheEntry{
			PartitionID: p.ID, Key: "GET /", Body: []byte("<html>"), StoredAt: time.Now(),
		}))
	}

	require.NoError(t, repo.DeletePartition(ctx, "static-v1"))
	require.ErrorIs(t, repo.DeletePartition(ctx, "static-v1"), ErrPartitionNotFound)

	count, err := repo.CountEntries(ctx, old.ID)
	require.NoError(t, err)
	assert.Zero(t, count)

	keys, err := repo.ListKeys(ctx, keep.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"GET /"}, keys)
}

func TestCacheRepository_DeleteEntry(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))
	ctx := t.Context()

	p, err := repo.EnsurePartition(ctx, "api-v1")
	require.NoError(t, err)
	require.NoError(t, repo.PutEntry(ctx, &entities.CacheEntry{
		PartitionID: p.ID, Key: "GET /x", StoredAt: time.Now(),
	}))

	require.NoError(t, repo.DeleteEntry(ctx, p.ID, "GET /x"))
	require.NoError(t, repo.DeleteEntry(ctx, p.ID, "GET /x"), "deleting twice is fine")

	_, err = repo.GetEntry(ctx, p.ID, "GET /x")
	assert.ErrorIs(t, err, ErrCacheEntryNotFound)
}

func TestCacheRepository_PutRequiresPartition(t *testing.T) {
	repo := NewCacheRepository(setupCacheTestDB(t))
	assert.Error(t, repo.PutEntry(t.Context(), &entities.CacheEntry{Key: "GET /"}))
}

func TestHashKey(t *testing.T) {
	t.Parallel()
	assert.Len(t, HashKey("GET /"), 64)
	assert.NotEqual(t, HashKey("GET /a"), HashKey("GET /b"))
}
