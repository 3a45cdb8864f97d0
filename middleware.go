/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package authkit

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"

	"github.com/discoenv/go-authkit/idptoken"
	"github.com/discoenv/go-authkit/internal/idputil"
	"github.com/discoenv/go-authkit/internal/metrics"
)

// HeaderAuthorization contains the name of HTTP header with data that is used for authentication and authorization.
const HeaderAuthorization = "Authorization"

// Authentication and authorization error codes.
// We are using "var" here because some services may want to use different error codes.
var (
	ErrCodeBearerTokenMissing   = "bearerTokenMissing"
	ErrCodeAuthenticationFailed = "authenticationFailed"
	ErrCodeAuthorizationFailed  = "authorizationFailed"
)

// Authentication error messages.
// We are using "var" here because some services may want to use different error messages.
var (
	ErrMessageBearerTokenMissing   = "Authorization bearer token is missing."
	ErrMessageAuthenticationFailed = "Authentication is failed."
	ErrMessageAuthorizationFailed  = "Authorization is failed."
)

type ctxKey int

const (
	ctxKeyIdentity ctxKey = iota
	ctxKeyBearerToken
)

// IdentityIntrospector resolves a bearer token into the identity it belongs to.
// Both *idptoken.Client and *idptoken.IntrospectionCache implement it.
type IdentityIntrospector interface {
	IntrospectIdentity(ctx context.Context, token string) (idptoken.Identity, error)
}

// introspectorDisabled reports whether the introspector stands for the "authentication is disabled" state.
// The constructors return nil clients and caches when the identity provider is not configured.
func introspectorDisabled(introspector IdentityIntrospector) bool {
	switch v := introspector.(type) {
	case nil:
		return true
	case *idptoken.Client:
		return v == nil
	case *idptoken.IntrospectionCache:
		return v == nil
	}
	return false
}

type authenticationHandler struct {
	next           http.Handler
	errorDomain    string
	introspector   IdentityIntrospector
	disabled       bool
	loggerProvider func(ctx context.Context) log.FieldLogger
	promMetrics    *metrics.PrometheusMetrics
}

type authenticationMiddlewareOpts struct {
	loggerProvider             func(ctx context.Context) log.FieldLogger
	prometheusLibInstanceLabel string
}

// AuthenticationMiddlewareOption is an option for AuthenticationMiddleware.
type AuthenticationMiddlewareOption func(options *authenticationMiddlewareOpts)

// WithAuthenticationMiddlewareLoggerProvider is an option to set a logger provider for AuthenticationMiddleware.
func WithAuthenticationMiddlewareLoggerProvider(
	loggerProvider func(ctx context.Context) log.FieldLogger,
) AuthenticationMiddlewareOption {
	return func(options *authenticationMiddlewareOpts) {
		options.loggerProvider = loggerProvider
	}
}

// WithAuthenticationMiddlewarePrometheusLibInstanceLabel is an option to set a label for Prometheus metrics
// that are used by AuthenticationMiddleware.
func WithAuthenticationMiddlewarePrometheusLibInstanceLabel(label string) AuthenticationMiddlewareOption {
	return func(options *authenticationMiddlewareOpts) {
		options.prometheusLibInstanceLabel = label
	}
}

// AuthenticationMiddleware is a middleware that resolves the identity behind the bearer token
// from the "Authorization" HTTP header of incoming request and puts it into the request context.
// errorDomain is used for error responses. It is usually the name of the service that uses the middleware.
// For example, if the "Authorization" HTTP header is missing, the middleware will return 401 with the following response body:
//
//	{"error": {"domain": "MyService", "code": "bearerTokenMissing", "message": "Authorization bearer token is missing."}}
//
// A token that the identity provider reports as not active gives 401 as well.
// Failures of the identity provider are mapped to HTTP status codes by StatusCodeForError.
//
// A nil introspector (including a nil *idptoken.Client or *idptoken.IntrospectionCache) means
// authentication is disabled: every request passes with an empty, not active identity in the context.
func AuthenticationMiddleware(
	errorDomain string, introspector IdentityIntrospector, opts ...AuthenticationMiddlewareOption,
) func(next http.Handler) http.Handler {
	options := authenticationMiddlewareOpts{loggerProvider: middleware.GetLoggerFromContext}
	for _, opt := range opts {
		opt(&options)
	}
	return func(next http.Handler) http.Handler {
		return &authenticationHandler{
			next:           next,
			errorDomain:    errorDomain,
			introspector:   introspector,
			disabled:       introspectorDisabled(introspector),
			loggerProvider: options.loggerProvider,
			promMetrics:    metrics.GetPrometheusMetrics(options.prometheusLibInstanceLabel, metrics.SourceHTTPMiddleware),
		}
	}
}

func (h *authenticationHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := idputil.GetLoggerFromProvider(r.Context(), h.loggerProvider)

	if h.disabled {
		h.promMetrics.IncAuthentications(metrics.AuthenticationResultDisabled)
		h.next.ServeHTTP(rw, r.WithContext(NewContextWithIdentity(r.Context(), &idptoken.Identity{})))
		return
	}

	bearerToken := GetBearerTokenFromRequest(r)
	if bearerToken == "" {
		h.promMetrics.IncAuthentications(metrics.AuthenticationResultTokenMissing)
		apiErr := restapi.NewError(h.errorDomain, ErrCodeBearerTokenMissing, ErrMessageBearerTokenMissing)
		restapi.RespondError(rw, http.StatusUnauthorized, apiErr, logger)
		return
	}
	r = r.WithContext(NewContextWithBearerToken(r.Context(), bearerToken))

	identity, err := h.introspector.IntrospectIdentity(r.Context(), bearerToken)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("token introspection is interrupted, request is cancelled", log.Error(err))
			h.promMetrics.IncAuthentications(metrics.AuthenticationResultCanceled)
			respondIdentityProviderError(rw, h.errorDomain, err, logger)
			return
		}
		logger.Error("token introspection failed", log.Error(err))
		h.promMetrics.IncAuthentications(metrics.AuthenticationResultError)
		respondIdentityProviderError(rw, h.errorDomain, err, logger)
		return
	}
	if !identity.Active {
		logger.Warn("token was successfully introspected, but it is not active")
		h.promMetrics.IncAuthentications(metrics.AuthenticationResultInactive)
		apiErr := restapi.NewError(h.errorDomain, ErrCodeAuthenticationFailed, ErrMessageAuthenticationFailed)
		restapi.RespondError(rw, http.StatusUnauthorized, apiErr, logger)
		return
	}

	logger.AtLevel(log.LevelDebug, func(logFunc log.LogFunc) {
		logFunc("request is authenticated", log.String("sub", identity.Subject),
			log.String("preferred_username", identity.PreferredUsername))
	})
	h.promMetrics.IncAuthentications(metrics.AuthenticationResultOK)

	h.next.ServeHTTP(rw, r.WithContext(NewContextWithIdentity(r.Context(), &identity)))
}

// GetBearerTokenFromRequest extracts the bearer token from the "Authorization" request header.
// The scheme is matched case-insensitively. An empty string is returned when there is no token
// or the header is malformed (e.g., the token contains whitespace).
func GetBearerTokenFromRequest(r *http.Request) string {
	authHeader := strings.TrimSpace(r.Header.Get(HeaderAuthorization))
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	token = strings.TrimSpace(token)
	if strings.ContainsAny(token, " \t") {
		return ""
	}
	return token
}

// NewContextWithIdentity creates a new context with the authenticated identity.
func NewContextWithIdentity(ctx context.Context, identity *idptoken.Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, identity)
}

// GetIdentityFromContext extracts the authenticated identity from the context.
// nil is returned when the request has not passed AuthenticationMiddleware.
func GetIdentityFromContext(ctx context.Context) *idptoken.Identity {
	value := ctx.Value(ctxKeyIdentity)
	if value == nil {
		return nil
	}
	return value.(*idptoken.Identity)
}

// NewContextWithBearerToken creates a new context with token.
func NewContextWithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKeyBearerToken, token)
}

// GetBearerTokenFromContext extracts token from the context.
func GetBearerTokenFromContext(ctx context.Context) string {
	value := ctx.Value(ctxKeyBearerToken)
	if value == nil {
		return ""
	}
	return value.(string)
}
