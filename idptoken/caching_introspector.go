/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptoken

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/lrucache"
	"golang.org/x/sync/singleflight"

	"github.com/discoenv/go-authkit/internal/idputil"
	"github.com/discoenv/go-authkit/internal/metrics"
	"github.com/discoenv/go-authkit/internal/strutil"
)

const (
	// DefaultIntrospectionCacheMaxEntries is a default maximum number of entries in the introspection cache.
	DefaultIntrospectionCacheMaxEntries = 10000

	// DefaultIntrospectionFetchTimeout bounds a single shared introspection call.
	DefaultIntrospectionFetchTimeout = 30 * time.Second

	// MaxIdentityAge is the hard cap on the age of a cached identity counted from its issued-at time.
	MaxIdentityAge = 86400 * time.Second
)

// CacheKey identifies a single introspection lookup.
// The raw token is part of the key because introspection results are per token, not per user.
type CacheKey struct {
	IntrospectionURL string
	Token            string
	ClientID         string
	ClientSecret     string
}

// Sum returns the SHA-256 digest of the key. Fields are length-prefixed, so different tuples never collide
// by concatenation.
func (k CacheKey) Sum() [sha256.Size]byte {
	h := sha256.New()
	var lenBuf [8]byte
	for _, s := range [...]string{k.IntrospectionURL, k.Token, k.ClientID, k.ClientSecret} {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(s)))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write(strutil.StringToBytesUnsafe(s))
	}
	var sum [sha256.Size]byte
	h.Sum(sum[:0])
	return sum
}

// CacheEntry is a cached identity together with the time it was fetched.
type CacheEntry struct {
	Identity  Identity
	FetchedAt time.Time
}

// IsExpired reports whether the cached entry must not be served at the given time.
// Checks are applied in order and every one of them fails closed:
// not active, no issued-at and no expiration time, zero or pre-epoch now,
// expiration time reached, issued more than MaxIdentityAge ago.
func IsExpired(entry CacheEntry, now time.Time) bool {
	identity := &entry.Identity
	if !identity.Active {
		return true
	}
	if identity.IssuedAt == nil && identity.ExpiresAt == nil {
		return true
	}
	if now.IsZero() || now.Unix() <= 0 {
		return true
	}
	if identity.ExpiresAt != nil && !now.Before(identity.ExpiresAt.Time) {
		return true
	}
	if identity.IssuedAt != nil && !now.Before(identity.IssuedAt.Add(MaxIdentityAge)) {
		return true
	}
	return false
}

// IntrospectionCacheStorage stores cache entries by the digest of their keys.
// Implementations must be safe for concurrent use.
type IntrospectionCacheStorage interface {
	Get(ctx context.Context, key [sha256.Size]byte) (CacheEntry, bool)
	Add(ctx context.Context, key [sha256.Size]byte, entry CacheEntry)
	Purge(ctx context.Context)
	Len(ctx context.Context) int
}

// FetchFunc performs the actual introspection call for a cache miss.
type FetchFunc func(ctx context.Context) (*IntrospectionResult, error)

// IntrospectionCacheOpts contains options for IntrospectionCache.
type IntrospectionCacheOpts struct {
	// MaxEntries is a maximum number of entries in the default LRU storage.
	// DefaultIntrospectionCacheMaxEntries is used when it's zero.
	MaxEntries int

	// FetchTimeout bounds a shared introspection call.
	// The call is detached from the cancellation of the request that started it,
	// so other waiters can still receive its result.
	FetchTimeout time.Duration

	// Storage replaces the default in-memory LRU storage.
	Storage IntrospectionCacheStorage

	// Clock returns the current time. time.Now is used when it's nil.
	Clock func() time.Time

	// Logger is a logger for the cache.
	Logger log.FieldLogger

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	// It allows distinguishing metrics from different instances of the same library.
	PrometheusLibInstanceLabel string
}

// IntrospectionCache keeps introspected identities while they are live according to IsExpired
// and guarantees at most one in-flight introspection call per key.
// Failures are never cached.
type IntrospectionCache struct {
	client       *Client
	storage      IntrospectionCacheStorage
	sfGroup      singleflight.Group
	fetchTimeout time.Duration
	clock        func() time.Time
	logger       log.FieldLogger
	promMetrics  *metrics.PrometheusMetrics
}

// NewIntrospectionCache creates a new IntrospectionCache with default options in front of the given client.
func NewIntrospectionCache(client *Client) (*IntrospectionCache, error) {
	return NewIntrospectionCacheWithOpts(client, IntrospectionCacheOpts{})
}

// NewIntrospectionCacheWithOpts creates a new IntrospectionCache with the given options.
// The client may be nil if the cache is only used through GetOrFetch.
func NewIntrospectionCacheWithOpts(client *Client, opts IntrospectionCacheOpts) (*IntrospectionCache, error) {
	promMetrics := metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceIntrospectionCache)

	if opts.MaxEntries < 0 {
		return nil, fmt.Errorf("max entries should be non-negative, got %d", opts.MaxEntries)
	}
	if opts.MaxEntries == 0 {
		opts.MaxEntries = DefaultIntrospectionCacheMaxEntries
	}
	if opts.FetchTimeout == 0 {
		opts.FetchTimeout = DefaultIntrospectionFetchTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	storage := opts.Storage
	if storage == nil {
		cache, err := lrucache.New[[sha256.Size]byte, CacheEntry](opts.MaxEntries, promMetrics.IntrospectionCache)
		if err != nil {
			return nil, err
		}
		storage = &introspectionCacheLRUAdapter{cache}
	}

	return &IntrospectionCache{
		client:       client,
		storage:      storage,
		fetchTimeout: opts.FetchTimeout,
		clock:        opts.Clock,
		logger:       idputil.PrepareLogger(opts.Logger),
		promMetrics:  promMetrics,
	}, nil
}

// IntrospectIdentity returns the identity bound to the token, introspecting it through the owned client
// only when there is no live cached entry.
func (c *IntrospectionCache) IntrospectIdentity(ctx context.Context, token string) (Identity, error) {
	if c == nil {
		return Identity{}, ErrAuthenticationDisabled
	}
	if c.client == nil {
		return Identity{}, fmt.Errorf("introspection cache has no identity provider client")
	}
	return c.GetOrFetch(ctx, c.client.CacheKey(token), func(ctx context.Context) (*IntrospectionResult, error) {
		return c.client.IntrospectToken(ctx, token)
	})
}

// GetOrFetch returns the live cached identity for the key or calls fetch to obtain a fresh one.
// Concurrent callers with the same key share a single fetch and receive the same result.
// If ctx is done before the shared fetch completes, GetOrFetch returns ctx.Err()
// while the fetch keeps running for the other waiters.
func (c *IntrospectionCache) GetOrFetch(ctx context.Context, key CacheKey, fetch FetchFunc) (Identity, error) {
	sum := key.Sum()

	entry, found := c.storage.Get(ctx, sum)
	switch {
	case !found:
		c.promMetrics.IncIntrospectionCacheLookups(metrics.CacheLookupMiss)
	case IsExpired(entry, c.clock()):
		c.promMetrics.IncIntrospectionCacheLookups(metrics.CacheLookupExpired)
	default:
		c.promMetrics.IncIntrospectionCacheLookups(metrics.CacheLookupHit)
		return entry.Identity, nil
	}

	resultCh := c.sfGroup.DoChan(string(sum[:]), func() (interface{}, error) {
		flightCtx := context.WithoutCancel(ctx)
		// Another flight for the same key may have finished between the lookup above and this point.
		if cached, ok := c.storage.Get(flightCtx, sum); ok && !IsExpired(cached, c.clock()) {
			return cached.Identity, nil
		}
		fetchCtx, cancel := context.WithTimeout(flightCtx, c.fetchTimeout)
		defer cancel()
		result, err := fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, fmt.Errorf("introspection returned no result")
		}
		c.storage.Add(flightCtx, sum, CacheEntry{Identity: result.Identity, FetchedAt: c.clock()})
		return result.Identity, nil
	})

	select {
	case res := <-resultCh:
		c.promMetrics.IncIntrospectionFetches(res.Shared)
		if res.Err != nil {
			c.logger.Debug("token introspection failed", log.Error(res.Err))
			return Identity{}, res.Err
		}
		return res.Val.(Identity), nil
	case <-ctx.Done():
		return Identity{}, ctx.Err()
	}
}

// Len returns the number of stored entries, including expired ones not evicted yet.
func (c *IntrospectionCache) Len(ctx context.Context) int {
	return c.storage.Len(ctx)
}

// Purge removes all entries.
func (c *IntrospectionCache) Purge(ctx context.Context) {
	c.storage.Purge(ctx)
}

type introspectionCacheLRUAdapter struct {
	cache *lrucache.LRUCache[[sha256.Size]byte, CacheEntry]
}

func (a *introspectionCacheLRUAdapter) Get(_ context.Context, key [sha256.Size]byte) (CacheEntry, bool) {
	return a.cache.Get(key)
}

func (a *introspectionCacheLRUAdapter) Add(_ context.Context, key [sha256.Size]byte, entry CacheEntry) {
	a.cache.Add(key, entry)
}

func (a *introspectionCacheLRUAdapter) Purge(_ context.Context) {
	a.cache.Purge()
}

func (a *introspectionCacheLRUAdapter) Len(_ context.Context) int {
	return a.cache.Len()
}
