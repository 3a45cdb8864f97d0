/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptoken_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtgo "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/discoenv/go-authkit/idptest"
	"github.com/discoenv/go-authkit/idptoken"
)

var testNow = time.Date(2024, time.May, 14, 10, 0, 0, 0, time.UTC)

func numericDate(t time.Time) *jwtgo.NumericDate {
	return jwtgo.NewNumericDate(t)
}

func TestIsExpired(t *testing.T) {
	tests := []struct {
		name     string
		identity idptoken.Identity
		now      time.Time
		expired  bool
	}{
		{
			name:     "inactive",
			identity: idptoken.Identity{Active: false, ExpiresAt: numericDate(testNow.Add(time.Hour))},
			now:      testNow,
			expired:  true,
		},
		{
			name:     "no issued-at and no expiration time",
			identity: idptoken.Identity{Active: true},
			now:      testNow,
			expired:  true,
		},
		{
			name:     "zero now",
			identity: idptoken.Identity{Active: true, ExpiresAt: numericDate(testNow.Add(time.Hour))},
			now:      time.Time{},
			expired:  true,
		},
		{
			name:     "epoch now",
			identity: idptoken.Identity{Active: true, ExpiresAt: numericDate(testNow.Add(time.Hour))},
			now:      time.Unix(0, 0),
			expired:  true,
		},
		{
			name:     "expiration time reached",
			identity: idptoken.Identity{Active: true, ExpiresAt: numericDate(testNow)},
			now:      testNow,
			expired:  true,
		},
		{
			name:     "expiration time passed",
			identity: idptoken.Identity{Active: true, ExpiresAt: numericDate(testNow.Add(-time.Second))},
			now:      testNow,
			expired:  true,
		},
		{
			name: "issued more than a day ago but not expired by the provider",
			identity: idptoken.Identity{
				Active:    true,
				IssuedAt:  numericDate(testNow.Add(-90000 * time.Second)),
				ExpiresAt: numericDate(testNow.Add(3600 * time.Second)),
			},
			now:     testNow,
			expired: true,
		},
		{
			name:     "issued exactly a day ago, no expiration time",
			identity: idptoken.Identity{Active: true, IssuedAt: numericDate(testNow.Add(-86400 * time.Second))},
			now:      testNow,
			expired:  true,
		},
		{
			name: "live",
			identity: idptoken.Identity{
				Active:    true,
				IssuedAt:  numericDate(testNow.Add(-time.Minute)),
				ExpiresAt: numericDate(testNow.Add(time.Minute)),
			},
			now:     testNow,
			expired: false,
		},
		{
			name:     "live with issued-at only",
			identity: idptoken.Identity{Active: true, IssuedAt: numericDate(testNow.Add(-time.Hour))},
			now:      testNow,
			expired:  false,
		},
		{
			name:     "live with expiration time only",
			identity: idptoken.Identity{Active: true, ExpiresAt: numericDate(testNow.Add(48 * time.Hour))},
			now:      testNow,
			expired:  false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := idptoken.CacheEntry{Identity: tt.identity, FetchedAt: testNow}
			require.Equal(t, tt.expired, idptoken.IsExpired(entry, tt.now))
		})
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestCache(t *testing.T, clock *fakeClock) *idptoken.IntrospectionCache {
	t.Helper()
	cache, err := idptoken.NewIntrospectionCacheWithOpts(nil, idptoken.IntrospectionCacheOpts{Clock: clock.Now})
	require.NoError(t, err)
	return cache
}

func activeResult(now time.Time, entitlements ...string) *idptoken.IntrospectionResult {
	return &idptoken.IntrospectionResult{Identity: idptoken.Identity{
		Active:            true,
		PreferredUsername: "ipcdev",
		IssuedAt:          numericDate(now),
		ExpiresAt:         numericDate(now.Add(5 * time.Minute)),
		Entitlements:      entitlements,
	}}
}

var testCacheKey = idptoken.CacheKey{
	IntrospectionURL: "https://keycloak.example.org/realms/CyVerse/protocol/openid-connect/token/introspect",
	Token:            "access-token",
	ClientID:         "de",
	ClientSecret:     "de-secret",
}

func TestIntrospectionCache_GetOrFetch(t *testing.T) {
	t.Run("second call is served from cache", func(t *testing.T) {
		clock := &fakeClock{now: testNow}
		cache := newTestCache(t, clock)
		var calls atomic.Int32
		fetch := func(ctx context.Context) (*idptoken.IntrospectionResult, error) {
			calls.Add(1)
			return activeResult(testNow, "de-users"), nil
		}

		identity, err := cache.GetOrFetch(context.Background(), testCacheKey, fetch)
		require.NoError(t, err)
		require.Equal(t, "ipcdev", identity.PreferredUsername)
		identity2, err := cache.GetOrFetch(context.Background(), testCacheKey, fetch)
		require.NoError(t, err)
		require.Equal(t, identity, identity2)
		require.EqualValues(t, 1, calls.Load())
		require.Equal(t, 1, cache.Len(context.Background()))
	})

	t.Run("different key fields are different lookups", func(t *testing.T) {
		clock := &fakeClock{now: testNow}
		cache := newTestCache(t, clock)
		var calls atomic.Int32
		fetch := func(ctx context.Context) (*idptoken.IntrospectionResult, error) {
			calls.Add(1)
			return activeResult(testNow), nil
		}
		otherSecret := testCacheKey
		otherSecret.ClientSecret = "other"
		otherToken := testCacheKey
		otherToken.Token = "other-token"
		for _, key := range []idptoken.CacheKey{testCacheKey, otherSecret, otherToken, testCacheKey} {
			_, err := cache.GetOrFetch(context.Background(), key, fetch)
			require.NoError(t, err)
		}
		require.EqualValues(t, 3, calls.Load())
	})

	t.Run("entry is re-fetched once expired", func(t *testing.T) {
		clock := &fakeClock{now: testNow}
		cache := newTestCache(t, clock)
		var calls atomic.Int32
		fetch := func(ctx context.Context) (*idptoken.IntrospectionResult, error) {
			calls.Add(1)
			return activeResult(clock.Now()), nil
		}
		_, err := cache.GetOrFetch(context.Background(), testCacheKey, fetch)
		require.NoError(t, err)
		clock.Advance(4 * time.Minute)
		_, err = cache.GetOrFetch(context.Background(), testCacheKey, fetch)
		require.NoError(t, err)
		require.EqualValues(t, 1, calls.Load())
		clock.Advance(time.Minute)
		_, err = cache.GetOrFetch(context.Background(), testCacheKey, fetch)
		require.NoError(t, err)
		require.EqualValues(t, 2, calls.Load())
	})

	t.Run("inactive identity is never served from cache", func(t *testing.T) {
		clock := &fakeClock{now: testNow}
		cache := newTestCache(t, clock)
		var calls atomic.Int32
		fetch := func(ctx context.Context) (*idptoken.IntrospectionResult, error) {
			calls.Add(1)
			res := activeResult(testNow)
			res.Active = false
			return res, nil
		}
		for i := 0; i < 3; i++ {
			identity, err := cache.GetOrFetch(context.Background(), testCacheKey, fetch)
			require.NoError(t, err)
			require.False(t, identity.Active)
		}
		require.EqualValues(t, 3, calls.Load())
	})

	t.Run("identity without timestamps is not cacheable", func(t *testing.T) {
		clock := &fakeClock{now: testNow}
		cache := newTestCache(t, clock)
		var calls atomic.Int32
		fetch := func(ctx context.Context) (*idptoken.IntrospectionResult, error) {
			calls.Add(1)
			return &idptoken.IntrospectionResult{Identity: idptoken.Identity{Active: true}}, nil
		}
		for i := 0; i < 2; i++ {
			identity, err := cache.GetOrFetch(context.Background(), testCacheKey, fetch)
			require.NoError(t, err)
			require.True(t, identity.Active)
		}
		require.EqualValues(t, 2, calls.Load())
	})

	t.Run("failure is not cached", func(t *testing.T) {
		clock := &fakeClock{now: testNow}
		cache := newTestCache(t, clock)
		fetchErr := errors.New("connection refused")
		var calls atomic.Int32
		fetch := func(ctx context.Context) (*idptoken.IntrospectionResult, error) {
			if calls.Add(1) == 1 {
				return nil, fetchErr
			}
			return activeResult(testNow), nil
		}
		_, err := cache.GetOrFetch(context.Background(), testCacheKey, fetch)
		require.ErrorIs(t, err, fetchErr)
		require.Equal(t, 0, cache.Len(context.Background()))

		identity, err := cache.GetOrFetch(context.Background(), testCacheKey, fetch)
		require.NoError(t, err)
		require.True(t, identity.Active)
		require.EqualValues(t, 2, calls.Load())
	})

	t.Run("zero clock disables caching", func(t *testing.T) {
		clock := &fakeClock{}
		cache := newTestCache(t, clock)
		var calls atomic.Int32
		fetch := func(ctx context.Context) (*idptoken.IntrospectionResult, error) {
			calls.Add(1)
			return activeResult(testNow), nil
		}
		for i := 0; i < 2; i++ {
			_, err := cache.GetOrFetch(context.Background(), testCacheKey, fetch)
			require.NoError(t, err)
		}
		require.EqualValues(t, 2, calls.Load())
	})
}

func TestIntrospectionCache_GetOrFetchConcurrent(t *testing.T) {
	const callers = 50

	clock := &fakeClock{now: testNow}
	cache := newTestCache(t, clock)

	release := make(chan struct{})
	var calls atomic.Int32
	fetch := func(ctx context.Context) (*idptoken.IntrospectionResult, error) {
		calls.Add(1)
		<-release
		return activeResult(testNow, "de-users", "de-admins"), nil
	}

	var wg sync.WaitGroup
	results := make([]idptoken.Identity, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.GetOrFetch(context.Background(), testCacheKey, fetch)
		}(i)
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond) // let the other callers join the flight
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0], results[i])
	}
	require.Equal(t, []string{"de-users", "de-admins"}, results[0].Entitlements)
}

func TestIntrospectionCache_ConcurrentFailureIsShared(t *testing.T) {
	const callers = 10

	cache := newTestCache(t, &fakeClock{now: testNow})
	release := make(chan struct{})
	fetchErr := errors.New("provider is down")
	var calls atomic.Int32
	fetch := func(ctx context.Context) (*idptoken.IntrospectionResult, error) {
		calls.Add(1)
		<-release
		return nil, fetchErr
	}

	var wg sync.WaitGroup
	var failed atomic.Int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.GetOrFetch(context.Background(), testCacheKey, fetch); errors.Is(err, fetchErr) {
				failed.Add(1)
			}
		}()
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	// Callers arriving after the failed flight start a new one, so only the lower bound is exact.
	require.GreaterOrEqual(t, int(calls.Load()), 1)
	require.EqualValues(t, callers, failed.Load())
}

func TestIntrospectionCache_CancelledWaiterDoesNotCancelFetch(t *testing.T) {
	cache := newTestCache(t, &fakeClock{now: testNow})

	release := make(chan struct{})
	fetchCtxErr := make(chan error, 1)
	var calls atomic.Int32
	fetch := func(ctx context.Context) (*idptoken.IntrospectionResult, error) {
		calls.Add(1)
		<-release
		fetchCtxErr <- ctx.Err()
		return activeResult(testNow), nil
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.GetOrFetch(firstCtx, testCacheKey, fetch)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	type getOrFetchResult struct {
		identity idptoken.Identity
		err      error
	}
	secondResult := make(chan getOrFetchResult, 1)
	go func() {
		identity, err := cache.GetOrFetch(context.Background(), testCacheKey, fetch)
		secondResult <- getOrFetchResult{identity, err}
	}()

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	require.NoError(t, <-fetchCtxErr, "shared fetch must not be cancelled by a waiter")
	second := <-secondResult
	require.NoError(t, second.err)
	require.True(t, second.identity.Active)
	require.EqualValues(t, 1, calls.Load())
}

func TestIntrospectionCache_IntrospectIdentity(t *testing.T) {
	var introspections atomic.Int32
	idpSrv := idptest.NewHTTPServer(idptest.WithHTTPMiddleware(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			if r.URL.Path == idptest.TokenIntrospectionEndpointPath(idptest.DefaultRealm) {
				introspections.Add(1)
			}
			next.ServeHTTP(rw, r)
		})
	}))
	require.NoError(t, idpSrv.StartAndWaitForReady(time.Second))
	defer func() { _ = idpSrv.Shutdown(context.Background()) }()

	client, err := idptoken.NewClient(idpSrv.Source())
	require.NoError(t, err)
	cache, err := idptoken.NewIntrospectionCache(client)
	require.NoError(t, err)

	token, err := client.AcquireToken(context.Background(), "ipcdev", "secret")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		identity, err := cache.IntrospectIdentity(context.Background(), token.AccessToken)
		require.NoError(t, err)
		require.True(t, identity.Active)
		require.Equal(t, "ipcdev", identity.PreferredUsername)
	}
	require.EqualValues(t, 1, introspections.Load())

	for i := 0; i < 2; i++ {
		identity, err := cache.IntrospectIdentity(context.Background(), "revoked-token")
		require.NoError(t, err)
		require.False(t, identity.Active)
	}
	require.EqualValues(t, 3, introspections.Load())

	cache.Purge(context.Background())
	require.Equal(t, 0, cache.Len(context.Background()))
}

func TestNewIntrospectionCache_InvalidMaxEntries(t *testing.T) {
	_, err := idptoken.NewIntrospectionCacheWithOpts(nil, idptoken.IntrospectionCacheOpts{MaxEntries: -1})
	require.Error(t, err)

	cache, err := idptoken.NewIntrospectionCacheWithOpts(nil, idptoken.IntrospectionCacheOpts{})
	require.NoError(t, err)
	_, err = cache.IntrospectIdentity(context.Background(), "token")
	require.Error(t, err)
}
