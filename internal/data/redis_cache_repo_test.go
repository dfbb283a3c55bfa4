package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/housecall/housecall/internal/data"
	"github.com/housecall/housecall/internal/testutil"
)

func TestRedisCacheRepoSetGetDelete(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := data.NewRedisCacheRepo(client)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "catalog:list", []byte(`[{"id":"svc-1"}]`), time.Minute))

	got, err := repo.Get(ctx, "catalog:list")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[{"id":"svc-1"}]`), got)

	deleted, err := repo.Delete(ctx, "catalog:list")
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err = repo.Get(ctx, "catalog:list")
	require.NoError(t, err)
	assert.Nil(t, got, "a miss is nil bytes, not an error")
}

func TestRedisCacheRepoDeleteMissing(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := data.NewRedisCacheRepo(client)

	deleted, err := repo.Delete(context.Background(), "catalog:service:never-set")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestRedisCacheRepoTTLExpires(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := data.NewRedisCacheRepo(client)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "catalog:service:ttl", []byte("x"), 50*time.Millisecond))
	time.Sleep(150 * time.Millisecond)

	got, err := repo.Get(ctx, "catalog:service:ttl")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisCacheRepoHealth(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	repo := data.NewRedisCacheRepo(client)

	assert.NoError(t, repo.Health(context.Background()))
}
