/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package authkit

import (
	"fmt"
	"strings"
	"time"

	"github.com/acronis/go-appkit/config"

	"github.com/discoenv/go-authkit/idptoken"
	"github.com/discoenv/go-authkit/internal/idputil"
	"github.com/discoenv/go-authkit/internal/strutil"
)

const cfgDefaultKeyPrefix = "auth"

const (
	cfgKeyHTTPClientRequestTimeout             = "httpClient.requestTimeout"
	cfgKeyIntrospectionCacheMaxEntries         = "introspection.cache.maxEntries"
	cfgKeyIntrospectionFetchTimeout            = "introspection.fetchTimeout"
	cfgKeyEntitlementsAdmin                    = "entitlements.admin"
	cfgKeyAuthorizationEmptyRequirementsPolicy = "authorization.emptyRequirementsPolicy"
	cfgKeyAuthorizationRoutes                  = "authorization.routes"
)

// EmptyRequirementsPolicy decides what AuthorizationMiddleware does on a route with no required entitlements.
type EmptyRequirementsPolicy string

const (
	// EmptyRequirementsPolicyAllow lets any authenticated identity through.
	EmptyRequirementsPolicyAllow EmptyRequirementsPolicy = "allow"

	// EmptyRequirementsPolicyDeny rejects every request with 403.
	EmptyRequirementsPolicyDeny EmptyRequirementsPolicy = "deny"
)

// ParseEmptyRequirementsPolicy parses the policy name case-insensitively.
func ParseEmptyRequirementsPolicy(s string) (EmptyRequirementsPolicy, error) {
	switch p := EmptyRequirementsPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case EmptyRequirementsPolicyAllow, EmptyRequirementsPolicyDeny:
		return p, nil
	default:
		return "", fmt.Errorf("unknown policy %q, should be one of: %q, %q",
			s, EmptyRequirementsPolicyAllow, EmptyRequirementsPolicyDeny)
	}
}

// Config represents a set of configuration parameters for authentication and authorization.
type Config struct {
	IDP           idptoken.Config     `mapstructure:"idp" yaml:"idp" json:"idp"`
	HTTPClient    HTTPClientConfig    `mapstructure:"httpClient" yaml:"httpClient" json:"httpClient"`
	Introspection IntrospectionConfig `mapstructure:"introspection" yaml:"introspection" json:"introspection"`
	Entitlements  EntitlementsConfig  `mapstructure:"entitlements" yaml:"entitlements" json:"entitlements"`
	Authorization AuthorizationConfig `mapstructure:"authorization" yaml:"authorization" json:"authorization"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	var opts = configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
// The identity provider section is left empty and has to be filled by the caller.
func NewDefaultConfig(options ...ConfigOption) *Config {
	cfg := NewConfig(options...)
	cfg.HTTPClient.RequestTimeout = idputil.DefaultHTTPRequestTimeout
	cfg.Introspection.Cache.MaxEntries = idptoken.DefaultIntrospectionCacheMaxEntries
	cfg.Introspection.FetchTimeout = idptoken.DefaultIntrospectionFetchTimeout
	cfg.Authorization.EmptyRequirementsPolicy = EmptyRequirementsPolicyAllow
	return cfg
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for auth in config.DataProvider.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	c.IDP.SetProviderDefaults(dp)
	dp.SetDefault(cfgKeyHTTPClientRequestTimeout, idputil.DefaultHTTPRequestTimeout.String())
	dp.SetDefault(cfgKeyIntrospectionCacheMaxEntries, idptoken.DefaultIntrospectionCacheMaxEntries)
	dp.SetDefault(cfgKeyIntrospectionFetchTimeout, idptoken.DefaultIntrospectionFetchTimeout.String())
	dp.SetDefault(cfgKeyAuthorizationEmptyRequirementsPolicy, string(EmptyRequirementsPolicyAllow))
}

type HTTPClientConfig struct {
	RequestTimeout time.Duration `mapstructure:"requestTimeout" yaml:"requestTimeout" json:"requestTimeout"`
}

// IntrospectionConfig is a configuration of the introspection cache.
type IntrospectionConfig struct {
	Cache        IntrospectionCacheConfig `mapstructure:"cache" yaml:"cache" json:"cache"`
	FetchTimeout time.Duration            `mapstructure:"fetchTimeout" yaml:"fetchTimeout" json:"fetchTimeout"`
}

type IntrospectionCacheConfig struct {
	MaxEntries int `mapstructure:"maxEntries" yaml:"maxEntries" json:"maxEntries"`
}

// EntitlementsConfig contains named sets of entitlements.
type EntitlementsConfig struct {
	// Admin is parsed from a comma-separated string.
	Admin []string `mapstructure:"admin" yaml:"admin" json:"admin"`
}

// AuthorizationConfig is a configuration of per-route entitlement requirements.
type AuthorizationConfig struct {
	EmptyRequirementsPolicy EmptyRequirementsPolicy `mapstructure:"emptyRequirementsPolicy" yaml:"emptyRequirementsPolicy" json:"emptyRequirementsPolicy"` // nolint:lll

	// Routes maps a route name to the entitlements required for it.
	// Route names are case-insensitive, values are comma-separated in the configuration source.
	Routes map[string][]string `mapstructure:"routes" yaml:"routes" json:"routes"`
}

// RequiredEntitlements returns the entitlements required for the named route.
// The result is empty when the route has no requirements.
func (c *AuthorizationConfig) RequiredEntitlements(route string) []string {
	return c.Routes[strings.ToLower(route)]
}

// Set sets auth configuration values from config.DataProvider.
func (c *Config) Set(dp config.DataProvider) error {
	var err error

	if err = c.IDP.Set(dp); err != nil {
		return err
	}
	if c.HTTPClient.RequestTimeout, err = dp.GetDuration(cfgKeyHTTPClientRequestTimeout); err != nil {
		return err
	}
	if c.HTTPClient.RequestTimeout < 0 {
		return dp.WrapKeyErr(cfgKeyHTTPClientRequestTimeout, fmt.Errorf("timeout should be non-negative"))
	}
	if err = c.setIntrospectionConfig(dp); err != nil {
		return err
	}
	if err = c.setEntitlementsConfig(dp); err != nil {
		return err
	}
	if err = c.setAuthorizationConfig(dp); err != nil {
		return err
	}

	return nil
}

func (c *Config) setIntrospectionConfig(dp config.DataProvider) error {
	var err error

	if c.Introspection.Cache.MaxEntries, err = dp.GetInt(cfgKeyIntrospectionCacheMaxEntries); err != nil {
		return err
	}
	if c.Introspection.Cache.MaxEntries < 0 {
		return dp.WrapKeyErr(cfgKeyIntrospectionCacheMaxEntries, fmt.Errorf("max entries should be non-negative"))
	}
	if c.Introspection.FetchTimeout, err = dp.GetDuration(cfgKeyIntrospectionFetchTimeout); err != nil {
		return err
	}
	if c.Introspection.FetchTimeout < 0 {
		return dp.WrapKeyErr(cfgKeyIntrospectionFetchTimeout, fmt.Errorf("timeout should be non-negative"))
	}

	return nil
}

func (c *Config) setEntitlementsConfig(dp config.DataProvider) error {
	admin, err := dp.GetString(cfgKeyEntitlementsAdmin)
	if err != nil {
		return err
	}
	c.Entitlements.Admin = strutil.SplitCommaSeparated(admin)
	return nil
}

func (c *Config) setAuthorizationConfig(dp config.DataProvider) error {
	policy, err := dp.GetString(cfgKeyAuthorizationEmptyRequirementsPolicy)
	if err != nil {
		return err
	}
	if c.Authorization.EmptyRequirementsPolicy, err = ParseEmptyRequirementsPolicy(policy); err != nil {
		return dp.WrapKeyErr(cfgKeyAuthorizationEmptyRequirementsPolicy, err)
	}

	routes, err := dp.GetStringMapString(cfgKeyAuthorizationRoutes)
	if err != nil {
		return err
	}
	c.Authorization.Routes = make(map[string][]string, len(routes))
	for route, entitlements := range routes {
		c.Authorization.Routes[strings.ToLower(route)] = strutil.SplitCommaSeparated(entitlements)
	}

	return nil
}
