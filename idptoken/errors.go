/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptoken

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnauthenticated is returned when a request carries no usable bearer token
// or the token is reported as not active by the identity provider.
var ErrUnauthenticated = errors.New("request is unauthenticated")

// ErrForbidden is returned when an authenticated identity lacks the required entitlements.
var ErrForbidden = errors.New("request is forbidden")

// ErrAuthenticationDisabled is returned by a nil *Client or *IntrospectionCache,
// which is what the constructors give when the identity provider is not configured.
var ErrAuthenticationDisabled = errors.New("authentication is disabled, identity provider is not configured")

// ConfigurationError is returned when the identity provider client cannot be constructed
// from the given settings (e.g., malformed base URL or empty realm).
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return "invalid identity provider configuration: " + e.Msg + ": " + e.Err.Error()
	}
	return "invalid identity provider configuration: " + e.Msg
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// TransportError is returned when the identity provider cannot be reached.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("do request to %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UnexpectedResponseError is returned when the identity provider responds with a non-2xx status code.
// It captures the HTTP status code and response headers for further analysis.
type UnexpectedResponseError struct {
	URL        string
	StatusCode int
	Header     http.Header
}

func (e *UnexpectedResponseError) Error() string {
	return fmt.Sprintf("unexpected HTTP status code %d for POST %s", e.StatusCode, e.URL)
}

// UnmarshalError is returned when the identity provider response body is not the expected JSON.
type UnmarshalError struct {
	URL         string
	ContentType string
	Err         error
}

func (e *UnmarshalError) Error() string {
	return fmt.Sprintf("decode response body json (Content-Type: %s) for POST %s: %v", e.ContentType, e.URL, e.Err)
}

func (e *UnmarshalError) Unwrap() error {
	return e.Err
}
