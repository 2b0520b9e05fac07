package client

import (
	"testing"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/stretchr/testify/require"
)

func TestQueryCacheOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    QueryCacheOptions
		retries int
		wantErr bool
	}{
		{name: "defaults", opts: QueryCacheOptions{}},
		{name: "default retries", opts: QueryCacheOptions{Retries: DefaultRetries}, retries: DefaultRetries},
		{name: "stale time", opts: QueryCacheOptions{StaleTime: 30 * time.Second}},
		{name: "negative stale time", opts: QueryCacheOptions{StaleTime: -time.Second}, wantErr: true},
		{name: "negative retention", opts: QueryCacheOptions{Retention: -time.Second}, wantErr: true},
		{name: "negative retries", opts: QueryCacheOptions{Retries: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, err := NewQueryCache(tt.opts)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, 5*time.Minute, cache.Options().Retention)
			require.Equal(t, tt.retries, cache.Options().Retries)
		})
	}
}

func TestRetentionCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &retentionCache{
		inner:     httpcache.NewMemoryCache(),
		retention: time.Minute,
		now:       func() time.Time { return now },
	}

	c.Set("k", []byte("value"))

	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "value", string(got))

	now = now.Add(59 * time.Second)
	_, ok = c.Get("k")
	require.True(t, ok)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("k")
	require.False(t, ok)

	// expired entries are removed from the backing cache
	_, ok = c.inner.Get("k")
	require.False(t, ok)

	c.inner.Set("short", []byte{1, 2})
	_, ok = c.Get("short")
	require.False(t, ok)

	c.Set("gone", []byte("x"))
	c.Delete("gone")
	_, ok = c.Get("gone")
	require.False(t, ok)
}

func TestQueryCacheDiskBacked(t *testing.T) {
	dir := t.TempDir()

	first, err := NewQueryCache(QueryCacheOptions{CacheDir: dir})
	require.NoError(t, err)
	first.cache.Set("k", []byte("value"))

	second, err := NewQueryCache(QueryCacheOptions{CacheDir: dir})
	require.NoError(t, err)
	got, ok := second.cache.Get("k")
	require.True(t, ok)
	require.Equal(t, "value", string(got))
}
