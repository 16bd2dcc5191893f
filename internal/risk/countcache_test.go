package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/steward/internal/domain"
)

func TestCountCacheFetchesOnceWithinTTL(t *testing.T) {
	cache := NewCountCache(5 * time.Minute)

	calls := 0
	fetch := func(context.Context) (int, error) {
		calls++
		return 2, nil
	}

	require.Equal(t, 2, cache.GetOrFetch(context.Background(), domain.AssetClassCrypto, fetch))
	require.Equal(t, 2, cache.GetOrFetch(context.Background(), domain.AssetClassCrypto, fetch))
	require.Equal(t, 1, calls)
}

func TestCountCacheExpiresAfterTTL(t *testing.T) {
	cache := NewCountCache(5 * time.Minute)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	calls := 0
	fetch := func(context.Context) (int, error) {
		calls++
		return calls, nil
	}

	require.Equal(t, 1, cache.GetOrFetch(context.Background(), domain.AssetClassEquity, fetch))

	clock = clock.Add(4 * time.Minute)
	require.Equal(t, 1, cache.GetOrFetch(context.Background(), domain.AssetClassEquity, fetch))

	clock = clock.Add(2 * time.Minute)
	require.Equal(t, 2, cache.GetOrFetch(context.Background(), domain.AssetClassEquity, fetch))
	require.Equal(t, 2, calls)
}

func TestCountCacheReturnsSentinelOnFetchError(t *testing.T) {
	cache := NewCountCache(5 * time.Minute)

	failing := func(context.Context) (int, error) {
		return 0, errors.New("store unreachable")
	}
	require.Equal(t, BlockedSentinelCount,
		cache.GetOrFetch(context.Background(), domain.AssetClassCrypto, failing))

	// The sentinel must not be cached: a working fetch right after the
	// outage returns the real count.
	working := func(context.Context) (int, error) { return 1, nil }
	require.Equal(t, 1, cache.GetOrFetch(context.Background(), domain.AssetClassCrypto, working))
}

func TestCountCacheClassesAreIndependent(t *testing.T) {
	cache := NewCountCache(5 * time.Minute)
	ctx := context.Background()

	require.Equal(t, 3, cache.GetOrFetch(ctx, domain.AssetClassCrypto,
		func(context.Context) (int, error) { return 3, nil }))
	require.Equal(t, 7, cache.GetOrFetch(ctx, domain.AssetClassEquity,
		func(context.Context) (int, error) { return 7, nil }))

	cache.Invalidate(domain.AssetClassCrypto)

	require.Equal(t, 4, cache.GetOrFetch(ctx, domain.AssetClassCrypto,
		func(context.Context) (int, error) { return 4, nil }))
	// Equity entry survives the crypto invalidation.
	require.Equal(t, 7, cache.GetOrFetch(ctx, domain.AssetClassEquity,
		func(context.Context) (int, error) { return 0, errors.New("should not be called") }))
}
