/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package authkit

import (
	"context"
	"errors"
	"net/http"

	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"

	"github.com/discoenv/go-authkit/idptoken"
)

// Error codes for failures of the identity provider.
// We are using "var" here because some services may want to use different error codes.
var (
	ErrCodeIdentityProviderUnavailable = "identityProviderUnavailable"
	ErrCodeIdentityProviderBadResponse = "identityProviderBadResponse"
	ErrCodeIdentityProviderRejected    = "identityProviderRejected"
	ErrCodeIdentityProviderTimeout     = "identityProviderTimeout"
)

// Error messages for failures of the identity provider.
var (
	ErrMessageIdentityProviderUnavailable = "Identity provider is unavailable."
	ErrMessageIdentityProviderBadResponse = "Identity provider returned an unexpected response."
	ErrMessageIdentityProviderRejected    = "Identity provider rejected the request."
	ErrMessageIdentityProviderTimeout     = "Identity provider did not respond in time."
)

// StatusClientClosedRequest is returned when the client went away before the identity was resolved.
// Nothing is written to the body in this case.
const StatusClientClosedRequest = 499

// StatusCodeForError maps an error returned by the identity provider client (or the introspection cache)
// to the HTTP status code the caller should receive:
//   - ErrUnauthenticated gives 401 and ErrForbidden gives 403;
//   - ErrAuthenticationDisabled gives 400;
//   - a cancelled request context gives StatusClientClosedRequest;
//   - a 4xx response of the identity provider is propagated as is;
//   - a 5xx response and an unreachable identity provider give 502;
//   - an exceeded deadline gives 504;
//   - anything else (including a malformed response body) gives 500.
func StatusCodeForError(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var unexpectedRespErr *idptoken.UnexpectedResponseError
	var transportErr *idptoken.TransportError
	var unmarshalErr *idptoken.UnmarshalError

	switch {
	case errors.Is(err, idptoken.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, idptoken.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, idptoken.ErrAuthenticationDisabled):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.As(err, &unexpectedRespErr):
		if unexpectedRespErr.StatusCode >= 400 && unexpectedRespErr.StatusCode < 500 {
			return unexpectedRespErr.StatusCode
		}
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &unmarshalErr):
		return http.StatusInternalServerError
	case errors.As(err, &transportErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func makeIdentityProviderAPIError(errorDomain string, err error) (int, *restapi.Error) {
	status := StatusCodeForError(err)
	switch {
	case errors.Is(err, idptoken.ErrAuthenticationDisabled):
		return status, restapi.NewError(errorDomain, ErrCodeAuthenticationDisabled, ErrMessageAuthenticationDisabled)
	case status == http.StatusUnauthorized:
		return status, restapi.NewError(errorDomain, ErrCodeAuthenticationFailed, ErrMessageAuthenticationFailed)
	case status == http.StatusForbidden:
		return status, restapi.NewError(errorDomain, ErrCodeAuthorizationFailed, ErrMessageAuthorizationFailed)
	case status == http.StatusGatewayTimeout:
		return status, restapi.NewError(errorDomain, ErrCodeIdentityProviderTimeout, ErrMessageIdentityProviderTimeout)
	case status == http.StatusBadGateway:
		return status, restapi.NewError(
			errorDomain, ErrCodeIdentityProviderUnavailable, ErrMessageIdentityProviderUnavailable)
	case status >= 400 && status < 500:
		return status, restapi.NewError(errorDomain, ErrCodeIdentityProviderRejected, ErrMessageIdentityProviderRejected)
	default:
		return http.StatusInternalServerError, restapi.NewError(
			errorDomain, ErrCodeIdentityProviderBadResponse, ErrMessageIdentityProviderBadResponse)
	}
}

func respondIdentityProviderError(rw http.ResponseWriter, errorDomain string, err error, logger log.FieldLogger) {
	if errors.Is(err, context.Canceled) {
		rw.WriteHeader(StatusClientClosedRequest)
		return
	}
	status, apiErr := makeIdentityProviderAPIError(errorDomain, err)
	restapi.RespondError(rw, status, apiErr, logger)
}
