//go:build integration

package repository_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tphakala/offlinecache/internal/datastore"
	"github.com/tphakala/offlinecache/internal/datastore/entities"
	"github.com/tphakala/offlinecache/internal/datastore/repository"
	"github.com/tphakala/offlinecache/internal/testutil/containers"
)

// MySQL test container shared across all tests in this package
var (
	mysqlContainer *containers.MySQLContainer
	testDB         *gorm.DB
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	mysqlContainer, err = containers.NewMySQLContainer(ctx, nil)
	if err != nil {
		panic("failed to create MySQL container: " + err.Error())
	}

	testDB, err = datastore.Open(datastore.Config{Driver: "mysql", DSN: mysqlContainer.DSN()})
	if err != nil {
		_ = mysqlContainer.Terminate(context.Background())
		panic("failed to open gorm database: " + err.Error())
	}

	code := m.Run()

	_ = datastore.Close(testDB)
	if err := mysqlContainer.Terminate(context.Background()); err != nil {
		panic("failed to terminate MySQL container: " + err.Error())
	}
	os.Exit(code)
}

func resetDatabase(t *testing.T) {
	t.Helper()
	require.NoError(t, mysqlContainer.Reset(t.Context(), []string{"cache_entries", "cache_partitions"}))
}

func TestMySQL_UpsertAndCascade(t *testing.T) {
	resetDatabase(t)
	repo := repository.NewCacheRepository(testDB)
	ctx := t.Context()

	p, err := repo.EnsurePartition(ctx, "api-v1")
	require.NoError(t, err)

	key := "GET /obtener_activos_escaneados/"
	require.NoError(t, repo.PutEntry(ctx, &entities.CacheEntry{PartitionID: p.ID, Key: key, Status: 200, Body: []byte(`{"activos":[]}`)}))
	require.NoError(t, repo.PutEntry(ctx, &entities.CacheEntry{PartitionID: p.ID, Key: key, Status: 200, Body: []byte(`{"activos":[{"codigo":"A1"}]}`)}))

	got, err := repo.GetEntry(ctx, p.ID, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"activos":[{"codigo":"A1"}]}`, string(got.Body))

	count, err := repo.CountEntries(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, repo.DeletePartition(ctx, "api-v1"))
	_, err = repo.GetEntry(ctx, p.ID, key)
	require.ErrorIs(t, err, repository.ErrCacheEntryNotFound)
}

func TestMySQL_LongKeysAndLargeBodies(t *testing.T) {
	resetDatabase(t)
	repo := repository.NewCacheRepository(testDB)
	ctx := t.Context()

	p, err := repo.EnsurePartition(ctx, "static-v1")
	require.NoError(t, err)

	key := "GET https://cdn.example.com/" + strings.Repeat("a", 2000) + ".js"
	body := []byte(strings.Repeat("x", 1<<20))
	require.NoError(t, repo.PutEntry(ctx, &entities.CacheEntry{PartitionID: p.ID, Key: key, Status: 200, Body: body}))

	got, err := repo.GetEntry(ctx, p.ID, key)
	require.NoError(t, err)
	assert.Equal(t, key, got.Key)
	assert.Len(t, got.Body, len(body))

	keys, err := repo.ListKeys(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)
}
