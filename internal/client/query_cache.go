package client

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
	"github.com/rs/zerolog/log"
)

// DefaultRetries is the retry count the CLI uses for reads.
const DefaultRetries = 3

// QueryCacheOptions tune how job reads are cached and retried.
type QueryCacheOptions struct {
	// StaleTime overrides the server freshness of cached reads, zero keeps
	// the server's max-age.
	StaleTime time.Duration
	// Retention is how long an entry is kept once stored, fresh or not.
	Retention time.Duration
	// Retries is the number of retries of a failed read, zero disables
	// retrying. Callers wanting the usual policy set DefaultRetries.
	Retries int
	// RefetchOnFocus makes a focus event refetch the watched generation.
	RefetchOnFocus bool
	// CacheDir keeps entries on disk across runs when set.
	CacheDir string
}

func (o *QueryCacheOptions) ApplyDefaults() {
	if o.Retention == 0 {
		o.Retention = 5 * time.Minute
	}
}

func (o *QueryCacheOptions) Validate() error {
	if o.StaleTime < 0 {
		return errors.New("stale time must not be negative")
	}
	if o.Retention < 0 {
		return errors.New("retention must not be negative")
	}
	if o.Retries < 0 {
		return errors.New("retries must not be negative")
	}
	return nil
}

// QueryCache is an HTTP response cache shared by the clients it is given to.
type QueryCache struct {
	opts  QueryCacheOptions
	cache *retentionCache
}

func NewQueryCache(opts QueryCacheOptions) (*QueryCache, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var inner httpcache.Cache = httpcache.NewMemoryCache()
	if opts.CacheDir != "" {
		inner = diskcache.New(opts.CacheDir)
	}

	return &QueryCache{
		opts:  opts,
		cache: &retentionCache{inner: inner, retention: opts.Retention, now: time.Now},
	}, nil
}

func (q *QueryCache) Options() QueryCacheOptions {
	return q.opts
}

// Transport wraps base with the cache. Responses served from the cache carry
// the httpcache.XFromCache header.
func (q *QueryCache) Transport(base http.RoundTripper) http.RoundTripper {
	cached := &httpcache.Transport{
		Transport:           base,
		Cache:               q.cache,
		MarkCachedResponses: true,
	}
	if q.opts.StaleTime <= 0 {
		return cached
	}
	return &staleTimeTransport{next: cached, staleTime: q.opts.StaleTime}
}

// staleTimeTransport asks the cache to treat entries younger than staleTime
// as fresh on requests that carry no cache directives of their own.
type staleTimeTransport struct {
	next      http.RoundTripper
	staleTime time.Duration
}

func (t *staleTimeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || req.Header.Get("Cache-Control") != "" {
		return t.next.RoundTrip(req)
	}

	req = req.Clone(req.Context())
	req.Header.Set("Cache-Control", fmt.Sprintf("max-age=%d", int(t.staleTime.Seconds())))

	return t.next.RoundTrip(req)
}

// retentionCache drops entries stored longer than retention ago. The store
// time is kept as a prefix of the value so any httpcache.Cache can back it.
type retentionCache struct {
	inner     httpcache.Cache
	retention time.Duration
	now       func() time.Time

	mu sync.Mutex
}

func (c *retentionCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, ok := c.inner.Get(key)
	if !ok {
		return nil, false
	}
	if len(raw) < 8 {
		c.inner.Delete(key)
		return nil, false
	}

	stored := time.Unix(0, int64(binary.BigEndian.Uint64(raw[:8])))
	if c.now().Sub(stored) > c.retention {
		c.inner.Delete(key)
		return nil, false
	}

	return raw[8:], true
}

func (c *retentionCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(raw[:8], uint64(c.now().UnixNano()))
	copy(raw[8:], value)

	c.inner.Set(key, raw)
}

func (c *retentionCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Delete(key)
}

// retryRead runs op with exponential backoff up to the configured retries.
// Errors wrapped with backoff.Permanent are returned without retrying.
func retryRead[T any](ctx context.Context, retries int, name string, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(retries+1)),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Debug().Err(err).Str("read", name).Dur("retry_in", d).Msg("Retrying read")
		}),
	)
}
