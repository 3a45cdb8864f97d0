/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptoken

import (
	"fmt"

	"github.com/acronis/go-appkit/config"
)

const (
	cfgKeyIDPBaseURL      = "idp.baseUrl"
	cfgKeyIDPRealm        = "idp.realm"
	cfgKeyIDPClientID     = "idp.clientId"
	cfgKeyIDPClientSecret = "idp.clientSecret"
)

// Config is a configuration of the identity provider connection.
type Config struct {
	BaseURL      string `mapstructure:"baseUrl" yaml:"baseUrl" json:"baseUrl"`
	Realm        string `mapstructure:"realm" yaml:"realm" json:"realm"`
	ClientID     string `mapstructure:"clientId" yaml:"clientId" json:"clientId"`
	ClientSecret string `mapstructure:"clientSecret" yaml:"clientSecret" json:"-"`
}

var _ config.Config = (*Config)(nil)

// NewConfig creates a new configuration of the identity provider connection.
func NewConfig() *Config {
	return &Config{}
}

// SetProviderDefaults sets the default values for the configuration.
func (c *Config) SetProviderDefaults(_ config.DataProvider) {
}

// Set sets the configuration from the given data provider.
// An empty section (none of the four parameters set) means authentication is disabled.
// Otherwise all four parameters are required.
func (c *Config) Set(dp config.DataProvider) (err error) {
	if c.BaseURL, err = dp.GetString(cfgKeyIDPBaseURL); err != nil {
		return err
	}
	if c.Realm, err = dp.GetString(cfgKeyIDPRealm); err != nil {
		return err
	}
	if c.ClientID, err = dp.GetString(cfgKeyIDPClientID); err != nil {
		return err
	}
	if c.ClientSecret, err = dp.GetString(cfgKeyIDPClientSecret); err != nil {
		return err
	}
	if !c.Enabled() {
		return nil
	}

	if c.BaseURL == "" {
		return dp.WrapKeyErr(cfgKeyIDPBaseURL, fmt.Errorf("IDP base URL is required"))
	}
	if _, err = makeRealmURL(c.BaseURL, "realm"); err != nil {
		return dp.WrapKeyErr(cfgKeyIDPBaseURL, err)
	}
	if c.Realm == "" {
		return dp.WrapKeyErr(cfgKeyIDPRealm, fmt.Errorf("IDP realm is required"))
	}
	if c.ClientID == "" {
		return dp.WrapKeyErr(cfgKeyIDPClientID, fmt.Errorf("IDP client ID is required"))
	}
	if c.ClientSecret == "" {
		return dp.WrapKeyErr(cfgKeyIDPClientSecret, fmt.Errorf("IDP client secret is required"))
	}

	return nil
}

// Enabled reports whether the identity provider is configured at all.
func (c *Config) Enabled() bool {
	return c.BaseURL != "" || c.Realm != "" || c.ClientID != "" || c.ClientSecret != ""
}

// Source returns the identity provider source described by the configuration.
func (c *Config) Source() Source {
	return Source{BaseURL: c.BaseURL, Realm: c.Realm, ClientID: c.ClientID, ClientSecret: c.ClientSecret}
}
