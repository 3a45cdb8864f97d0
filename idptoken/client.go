/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptoken

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/acronis/go-appkit/log"

	"github.com/discoenv/go-authkit/internal/idputil"
	"github.com/discoenv/go-authkit/internal/metrics"
)

const (
	openIDConnectPath     = "protocol/openid-connect"
	authorizeEndpointPath = "auth"
	tokenEndpointPath     = "token"
	introspectionPath     = "introspect"
)

// Source describes the identity provider realm and the confidential client used to talk to it.
type Source struct {
	// BaseURL is the root URL of the identity provider (e.g. https://keycloak.example.org/auth).
	BaseURL string

	// Realm is the name of the realm tokens are issued in.
	Realm string

	ClientID     string
	ClientSecret string
}

// ClientOpts contains options for Client.
type ClientOpts struct {
	// HTTPClient is an HTTP client for doing requests to the token and introspection endpoints.
	// Requests are not retried, so a client with a retrying transport should not be used here.
	HTTPClient *http.Client

	// Logger is a logger for the client.
	Logger log.FieldLogger

	// PrometheusLibInstanceLabel is a label for Prometheus metrics.
	// It allows distinguishing metrics from different instances of the same library.
	PrometheusLibInstanceLabel string
}

// Client performs password-grant token acquisition and token introspection against a single realm.
// It is safe for concurrent use.
type Client struct {
	source           Source
	baseURL          string
	authorizeURL     string
	tokenURL         string
	introspectionURL string
	httpClient       *http.Client
	logger           log.FieldLogger
	promMetrics      *metrics.PrometheusMetrics
}

// NewClient creates a new Client with default options.
func NewClient(source Source) (*Client, error) {
	return NewClientWithOpts(source, ClientOpts{})
}

// NewClientWithOpts creates a new Client with the given options.
// A *ConfigurationError is returned when the endpoints cannot be derived from the source.
func NewClientWithOpts(source Source, opts ClientOpts) (*Client, error) {
	realmURL, err := makeRealmURL(source.BaseURL, source.Realm)
	if err != nil {
		return nil, err
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = idputil.MakeDefaultHTTPClient(idputil.DefaultHTTPRequestTimeout)
	}
	oidcURL := realmURL.JoinPath(openIDConnectPath)
	tokenURL := oidcURL.JoinPath(tokenEndpointPath)
	return &Client{
		source:           source,
		baseURL:          realmURL.String(),
		authorizeURL:     oidcURL.JoinPath(authorizeEndpointPath).String(),
		tokenURL:         tokenURL.String(),
		introspectionURL: tokenURL.JoinPath(introspectionPath).String(),
		httpClient:       opts.HTTPClient,
		logger:           idputil.PrepareLogger(opts.Logger),
		promMetrics:      metrics.GetPrometheusMetrics(opts.PrometheusLibInstanceLabel, metrics.SourceIDPClient),
	}, nil
}

func makeRealmURL(baseURL, realm string) (*url.URL, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, &ConfigurationError{Msg: "parse base URL", Err: err}
	}
	if parsedURL.Opaque != "" {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("base URL %q cannot have path segments appended", baseURL)}
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("base URL %q must be absolute and contain a host", baseURL)}
	}
	if parsedURL.Path == "" {
		parsedURL.Path = "/"
	}
	if strings.TrimSpace(realm) == "" {
		return nil, &ConfigurationError{Msg: "realm is empty"}
	}
	if realm == "." || realm == ".." {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("realm %q is not a valid path segment", realm)}
	}
	return parsedURL.JoinPath("realms", url.PathEscape(realm)), nil
}

// BaseURL returns the realm URL ({base}/realms/{realm}).
func (c *Client) BaseURL() string {
	return c.baseURL
}

// AuthorizeURL returns the URL of the authorization endpoint.
func (c *Client) AuthorizeURL() string {
	return c.authorizeURL
}

// TokenURL returns the URL of the token endpoint.
func (c *Client) TokenURL() string {
	return c.tokenURL
}

// IntrospectionURL returns the URL of the token introspection endpoint.
func (c *Client) IntrospectionURL() string {
	return c.introspectionURL
}

// CacheKey returns the key under which the introspection result of the token is cached.
func (c *Client) CacheKey(token string) CacheKey {
	return CacheKey{
		IntrospectionURL: c.introspectionURL,
		Token:            token,
		ClientID:         c.source.ClientID,
		ClientSecret:     c.source.ClientSecret,
	}
}

// AcquireToken requests an access token using the resource owner password credentials grant.
func (c *Client) AcquireToken(ctx context.Context, username, password string) (*Token, error) {
	if c == nil {
		return nil, ErrAuthenticationDisabled
	}
	form := url.Values{
		idputil.FormFieldGrantType:    {idputil.GrantTypePassword},
		idputil.FormFieldClientID:     {c.source.ClientID},
		idputil.FormFieldClientSecret: {c.source.ClientSecret},
		idputil.FormFieldUsername:     {username},
		idputil.FormFieldPassword:     {password},
	}
	var token Token
	if err := c.postForm(ctx, c.tokenURL, form, &token); err != nil {
		return nil, err
	}
	return &token, nil
}

// IntrospectToken asks the identity provider whether the token is active and returns the claims bound to it.
// A token that is not active is not an error: the result has Active set to false.
func (c *Client) IntrospectToken(ctx context.Context, token string) (*IntrospectionResult, error) {
	if c == nil {
		return nil, ErrAuthenticationDisabled
	}
	form := url.Values{
		idputil.FormFieldToken:        {token},
		idputil.FormFieldClientID:     {c.source.ClientID},
		idputil.FormFieldClientSecret: {c.source.ClientSecret},
	}
	var result IntrospectionResult
	if err := c.postForm(ctx, c.introspectionURL, form, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// IntrospectIdentity introspects the token and returns the identity bound to it.
func (c *Client) IntrospectIdentity(ctx context.Context, token string) (Identity, error) {
	result, err := c.IntrospectToken(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	return result.Identity, nil
}

func (c *Client) postForm(ctx context.Context, endpointURL string, form url.Values, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", idputil.ContentTypeFormURLEncoded)
	req.Header.Set("Accept", idputil.ContentTypeJSON)

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(startTime)
	if err != nil {
		c.promMetrics.ObserveHTTPClientRequest(http.MethodPost, endpointURL, 0, elapsed, metrics.HTTPRequestErrorDo)
		return &TransportError{URL: endpointURL, Err: err}
	}
	defer func() {
		if closeBodyErr := resp.Body.Close(); closeBodyErr != nil {
			c.logger.Error(fmt.Sprintf("closing response body error for POST %s", endpointURL), log.Error(closeBodyErr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.promMetrics.ObserveHTTPClientRequest(
			http.MethodPost, endpointURL, resp.StatusCode, elapsed, metrics.HTTPRequestErrorUnexpectedStatusCode)
		return &UnexpectedResponseError{URL: endpointURL, StatusCode: resp.StatusCode, Header: resp.Header.Clone()}
	}

	if err = json.NewDecoder(resp.Body).Decode(dst); err != nil {
		c.promMetrics.ObserveHTTPClientRequest(
			http.MethodPost, endpointURL, resp.StatusCode, elapsed, metrics.HTTPRequestErrorDecodeBody)
		return &UnmarshalError{URL: endpointURL, ContentType: resp.Header.Get("Content-Type"), Err: err}
	}

	c.promMetrics.ObserveHTTPClientRequest(http.MethodPost, endpointURL, resp.StatusCode, elapsed, "")
	return nil
}
