/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package authkit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"

	"github.com/discoenv/go-authkit/idptoken"
	"github.com/discoenv/go-authkit/internal/idputil"
)

// NewIdentityProviderClient creates a new idptoken.Client for the identity provider described by the configuration.
// A *idptoken.ConfigurationError is returned when the endpoints cannot be derived from cfg.IDP.
// When the identity provider is not configured at all, nil client and nil error are returned:
// AuthenticationMiddleware and TokenHandler treat the nil client as "authentication is disabled".
func NewIdentityProviderClient(cfg *Config, opts ...IdentityProviderClientOption) (*idptoken.Client, error) {
	options := identityProviderClientOptions{loggerProvider: middleware.GetLoggerFromContext}
	for _, opt := range opts {
		opt(&options)
	}

	if !cfg.IDP.Enabled() {
		idputil.GetLoggerFromProvider(context.Background(), options.loggerProvider).Warn(
			"identity provider is not configured, authentication is disabled")
		return nil, nil
	}

	httpClient := options.httpClient
	if httpClient == nil {
		httpClient = idputil.MakeDefaultHTTPClient(cfg.HTTPClient.RequestTimeout)
	}

	client, err := idptoken.NewClientWithOpts(cfg.IDP.Source(), idptoken.ClientOpts{
		HTTPClient:                 httpClient,
		Logger:                     idputil.GetLoggerFromProvider(context.Background(), options.loggerProvider),
		PrometheusLibInstanceLabel: options.prometheusLibInstanceLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("new identity provider client: %w", err)
	}
	return client, nil
}

type identityProviderClientOptions struct {
	httpClient                 *http.Client
	loggerProvider             func(ctx context.Context) log.FieldLogger
	prometheusLibInstanceLabel string
}

// IdentityProviderClientOption is an option for creating idptoken.Client.
type IdentityProviderClientOption func(options *identityProviderClientOptions)

// WithIdentityProviderClientHTTPClient replaces the default HTTP client built from cfg.HTTPClient.
func WithIdentityProviderClientHTTPClient(httpClient *http.Client) IdentityProviderClientOption {
	return func(options *identityProviderClientOptions) {
		options.httpClient = httpClient
	}
}

// WithIdentityProviderClientLoggerProvider sets the logger provider for idptoken.Client.
func WithIdentityProviderClientLoggerProvider(
	loggerProvider func(ctx context.Context) log.FieldLogger,
) IdentityProviderClientOption {
	return func(options *identityProviderClientOptions) {
		options.loggerProvider = loggerProvider
	}
}

// WithIdentityProviderClientPrometheusLibInstanceLabel sets the Prometheus lib instance label for idptoken.Client.
func WithIdentityProviderClientPrometheusLibInstanceLabel(label string) IdentityProviderClientOption {
	return func(options *identityProviderClientOptions) {
		options.prometheusLibInstanceLabel = label
	}
}

// NewIntrospectionCache creates a new idptoken.IntrospectionCache in front of the given client
// with the size and fetch timeout from the configuration.
// A nil client (authentication is disabled) gives a nil cache and nil error.
func NewIntrospectionCache(
	cfg *Config, client *idptoken.Client, opts ...IntrospectionCacheOption,
) (*idptoken.IntrospectionCache, error) {
	if client == nil {
		return nil, nil
	}
	options := introspectionCacheOptions{loggerProvider: middleware.GetLoggerFromContext}
	for _, opt := range opts {
		opt(&options)
	}

	cache, err := idptoken.NewIntrospectionCacheWithOpts(client, idptoken.IntrospectionCacheOpts{
		MaxEntries:                 cfg.Introspection.Cache.MaxEntries,
		FetchTimeout:               cfg.Introspection.FetchTimeout,
		Storage:                    options.storage,
		Clock:                      options.clock,
		Logger:                     idputil.GetLoggerFromProvider(context.Background(), options.loggerProvider),
		PrometheusLibInstanceLabel: options.prometheusLibInstanceLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("new introspection cache: %w", err)
	}
	return cache, nil
}

type introspectionCacheOptions struct {
	storage                    idptoken.IntrospectionCacheStorage
	clock                      func() time.Time
	loggerProvider             func(ctx context.Context) log.FieldLogger
	prometheusLibInstanceLabel string
}

// IntrospectionCacheOption is an option for creating idptoken.IntrospectionCache.
type IntrospectionCacheOption func(options *introspectionCacheOptions)

// WithIntrospectionCacheStorage replaces the default in-memory LRU storage.
func WithIntrospectionCacheStorage(storage idptoken.IntrospectionCacheStorage) IntrospectionCacheOption {
	return func(options *introspectionCacheOptions) {
		options.storage = storage
	}
}

// WithIntrospectionCacheClock sets the function returning the current time, time.Now is used by default.
func WithIntrospectionCacheClock(clock func() time.Time) IntrospectionCacheOption {
	return func(options *introspectionCacheOptions) {
		options.clock = clock
	}
}

// WithIntrospectionCacheLoggerProvider sets the logger provider for idptoken.IntrospectionCache.
func WithIntrospectionCacheLoggerProvider(loggerProvider func(ctx context.Context) log.FieldLogger) IntrospectionCacheOption {
	return func(options *introspectionCacheOptions) {
		options.loggerProvider = loggerProvider
	}
}

// WithIntrospectionCachePrometheusLibInstanceLabel sets the Prometheus lib instance label for idptoken.IntrospectionCache.
func WithIntrospectionCachePrometheusLibInstanceLabel(label string) IntrospectionCacheOption {
	return func(options *introspectionCacheOptions) {
		options.prometheusLibInstanceLabel = label
	}
}

// NewRouteAuthorizationMiddleware creates AuthorizationMiddleware for the named route
// with the required entitlements and the empty requirements policy taken from the configuration.
// Options passed explicitly take precedence over the configuration.
func NewRouteAuthorizationMiddleware(
	cfg *Config, errorDomain, route string, opts ...AuthorizationMiddlewareOption,
) func(next http.Handler) http.Handler {
	return AuthorizationMiddleware(errorDomain, cfg.Authorization.RequiredEntitlements(route),
		append(cfg.authorizationMiddlewareOptions(), opts...)...)
}

// NewAdminAuthorizationMiddleware creates AuthorizationMiddleware that requires one of the admin entitlements.
func NewAdminAuthorizationMiddleware(
	cfg *Config, errorDomain string, opts ...AuthorizationMiddlewareOption,
) func(next http.Handler) http.Handler {
	return AuthorizationMiddleware(errorDomain, cfg.Entitlements.Admin,
		append(cfg.authorizationMiddlewareOptions(), opts...)...)
}

func (c *Config) authorizationMiddlewareOptions() []AuthorizationMiddlewareOption {
	if c.Authorization.EmptyRequirementsPolicy == "" {
		return nil
	}
	return []AuthorizationMiddlewareOption{
		WithAuthorizationMiddlewareEmptyRequirementsPolicy(c.Authorization.EmptyRequirementsPolicy),
	}
}

// SetDefaultLogger sets the default logger for the library.
func SetDefaultLogger(logger log.FieldLogger) {
	idputil.DefaultLogger = logger
}
