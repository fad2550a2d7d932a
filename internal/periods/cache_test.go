package periods

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), srv
}

func TestCacheFetchJSONCachesUntilBump(t *testing.T) {
	cache, srv := newTestCache(t)
	ctx := context.Background()
	companyID := uuid.New()
	var loads int32
	loader := func(context.Context) (any, error) {
		n := atomic.AddInt32(&loads, 1)
		return map[string]int32{"load": n}, nil
	}

	var out map[string]int32
	require.NoError(t, cache.FetchJSON(ctx, companyID, "list", &out, loader))
	require.Equal(t, int32(1), out["load"])
	require.NoError(t, cache.FetchJSON(ctx, companyID, "list", &out, loader))
	require.Equal(t, int32(1), out["load"])
	require.True(t, srv.Exists("periods:list:"+companyID.String()+":1"))

	require.NoError(t, cache.Bump(ctx, companyID))
	require.NoError(t, cache.FetchJSON(ctx, companyID, "list", &out, loader))
	require.Equal(t, int32(2), out["load"])

	other := uuid.New()
	require.NoError(t, cache.FetchJSON(ctx, other, "list", &out, loader))
	require.Equal(t, int32(3), out["load"])
}

func TestCacheDoesNotStoreLoaderErrors(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	companyID := uuid.New()

	var out PeriodWithSnapshots
	err := cache.FetchJSON(ctx, companyID, "current", &out, func(context.Context) (any, error) {
		return nil, ErrPeriodNotFound
	})
	require.ErrorIs(t, err, ErrPeriodNotFound)

	err = cache.FetchJSON(ctx, companyID, "current", &out, func(context.Context) (any, error) {
		return PeriodWithSnapshots{Period: Period{CompanyID: companyID}}, nil
	})
	require.NoError(t, err)
	require.Equal(t, companyID, out.Period.CompanyID)
}

func TestCacheFallsBackWhenRedisIsDown(t *testing.T) {
	cache, srv := newTestCache(t)
	srv.Close()

	var out []int
	err := cache.FetchJSON(context.Background(), uuid.New(), "list", &out, func(context.Context) (any, error) {
		return []int{1, 2}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, out)
}

func TestNilCacheLoadsDirectly(t *testing.T) {
	var cache *Cache
	var out string
	require.NoError(t, cache.FetchJSON(context.Background(), uuid.New(), "x", &out, func(context.Context) (any, error) {
		return "fresh", nil
	}))
	require.Equal(t, "fresh", out)
	require.NoError(t, cache.Bump(context.Background(), uuid.New()))

	err := cache.FetchJSON(context.Background(), uuid.New(), "x", &out, nil)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrPeriodNotFound))
}

func TestServiceWritesInvalidateCachedReads(t *testing.T) {
	f := newFixture(t)
	cache, _ := newTestCache(t)
	f.svc = NewService(f.repo, f.mentorships, f.pillars, f.audit, ServiceConfig{Cache: cache})
	actor := f.consultant()

	all, err := f.svc.FindAll(context.Background(), actor, f.companyID)
	require.NoError(t, err)
	require.Empty(t, all)

	f.first(day(2026, 2, 1))

	all, err = f.svc.FindAll(context.Background(), actor, f.companyID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Len(t, all[0].Snapshots, 1)
}
