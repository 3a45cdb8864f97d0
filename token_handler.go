/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package authkit

import (
	"context"
	"net/http"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"

	"github.com/discoenv/go-authkit/idptoken"
	"github.com/discoenv/go-authkit/internal/idputil"
)

// Token handler error codes.
// We are using "var" here because some services may want to use different error codes.
var (
	ErrCodeBasicCredentialsMissing = "basicCredentialsMissing"
	ErrCodeAuthenticationDisabled  = "authenticationDisabled"
)

// Token handler error messages.
var (
	ErrMessageBasicCredentialsMissing = "Basic authentication credentials are missing."
	ErrMessageAuthenticationDisabled  = "Authentication is not configured."
)

// DefaultTokenHandlerRealm is sent in the WWW-Authenticate header when credentials are missing.
const DefaultTokenHandlerRealm = "Restricted"

// TokenAcquirer exchanges user credentials for a token. *idptoken.Client implements it.
type TokenAcquirer interface {
	AcquireToken(ctx context.Context, username, password string) (*idptoken.Token, error)
}

func acquirerDisabled(acquirer TokenAcquirer) bool {
	switch v := acquirer.(type) {
	case nil:
		return true
	case *idptoken.Client:
		return v == nil
	}
	return false
}

type tokenHandler struct {
	errorDomain    string
	acquirer       TokenAcquirer
	disabled       bool
	realm          string
	loggerProvider func(ctx context.Context) log.FieldLogger
}

type tokenHandlerOpts struct {
	realm          string
	loggerProvider func(ctx context.Context) log.FieldLogger
}

// TokenHandlerOption is an option for TokenHandler.
type TokenHandlerOption func(options *tokenHandlerOpts)

// WithTokenHandlerRealm is an option to set the realm announced in the WWW-Authenticate header.
func WithTokenHandlerRealm(realm string) TokenHandlerOption {
	return func(options *tokenHandlerOpts) {
		options.realm = realm
	}
}

// WithTokenHandlerLoggerProvider is an option to set a logger provider for TokenHandler.
func WithTokenHandlerLoggerProvider(loggerProvider func(ctx context.Context) log.FieldLogger) TokenHandlerOption {
	return func(options *tokenHandlerOpts) {
		options.loggerProvider = loggerProvider
	}
}

// TokenHandler returns an HTTP handler that exchanges the Basic authentication credentials of the request
// for a token issued by the identity provider and writes the token as JSON.
// Missing credentials give 401 with the WWW-Authenticate header.
// A nil acquirer (including a nil *idptoken.Client) means authentication is not configured
// and every request gets 400.
func TokenHandler(errorDomain string, acquirer TokenAcquirer, opts ...TokenHandlerOption) http.Handler {
	options := tokenHandlerOpts{realm: DefaultTokenHandlerRealm, loggerProvider: middleware.GetLoggerFromContext}
	for _, opt := range opts {
		opt(&options)
	}
	return &tokenHandler{
		errorDomain:    errorDomain,
		acquirer:       acquirer,
		disabled:       acquirerDisabled(acquirer),
		realm:          options.realm,
		loggerProvider: options.loggerProvider,
	}
}

func (h *tokenHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := idputil.GetLoggerFromProvider(r.Context(), h.loggerProvider)

	if h.disabled {
		apiErr := restapi.NewError(h.errorDomain, ErrCodeAuthenticationDisabled, ErrMessageAuthenticationDisabled)
		restapi.RespondError(rw, http.StatusBadRequest, apiErr, logger)
		return
	}

	username, password, ok := r.BasicAuth()
	if !ok || username == "" {
		rw.Header().Set("WWW-Authenticate", `Basic realm="`+h.realm+`"`)
		apiErr := restapi.NewError(h.errorDomain, ErrCodeBasicCredentialsMissing, ErrMessageBasicCredentialsMissing)
		restapi.RespondError(rw, http.StatusUnauthorized, apiErr, logger)
		return
	}

	token, err := h.acquirer.AcquireToken(r.Context(), username, password)
	if err != nil {
		logger.Warn("token acquisition failed", log.String("username", username), log.Error(err))
		respondIdentityProviderError(rw, h.errorDomain, err, logger)
		return
	}

	rw.Header().Set("Cache-Control", "no-store")
	restapi.RespondJSON(rw, token, logger)
}
