/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package authkit

import (
	"context"
	"net/http"
	"strings"

	"github.com/acronis/go-appkit/httpserver/middleware"
	"github.com/acronis/go-appkit/log"
	"github.com/acronis/go-appkit/restapi"

	"github.com/discoenv/go-authkit/internal/idputil"
	"github.com/discoenv/go-authkit/internal/metrics"
)

type authorizationHandler struct {
	next           http.Handler
	errorDomain    string
	required       []string
	emptyPolicy    EmptyRequirementsPolicy
	loggerProvider func(ctx context.Context) log.FieldLogger
	promMetrics    *metrics.PrometheusMetrics
}

type authorizationMiddlewareOpts struct {
	emptyPolicy                EmptyRequirementsPolicy
	loggerProvider             func(ctx context.Context) log.FieldLogger
	prometheusLibInstanceLabel string
}

// AuthorizationMiddlewareOption is an option for AuthorizationMiddleware.
type AuthorizationMiddlewareOption func(options *authorizationMiddlewareOpts)

// WithAuthorizationMiddlewareEmptyRequirementsPolicy is an option to set what happens
// when AuthorizationMiddleware is created with no required entitlements.
// EmptyRequirementsPolicyAllow is used by default.
func WithAuthorizationMiddlewareEmptyRequirementsPolicy(policy EmptyRequirementsPolicy) AuthorizationMiddlewareOption {
	return func(options *authorizationMiddlewareOpts) {
		options.emptyPolicy = policy
	}
}

// WithAuthorizationMiddlewareLoggerProvider is an option to set a logger provider for AuthorizationMiddleware.
func WithAuthorizationMiddlewareLoggerProvider(
	loggerProvider func(ctx context.Context) log.FieldLogger,
) AuthorizationMiddlewareOption {
	return func(options *authorizationMiddlewareOpts) {
		options.loggerProvider = loggerProvider
	}
}

// WithAuthorizationMiddlewarePrometheusLibInstanceLabel is an option to set a label for Prometheus metrics
// that are used by AuthorizationMiddleware.
func WithAuthorizationMiddlewarePrometheusLibInstanceLabel(label string) AuthorizationMiddlewareOption {
	return func(options *authorizationMiddlewareOpts) {
		options.prometheusLibInstanceLabel = label
	}
}

// AuthorizationMiddleware is a middleware that lets the request through
// only if the identity put into the context by AuthenticationMiddleware
// holds at least one of the required entitlements.
// It responds with 401 when there is no identity in the context and with 403 when access is denied.
// An identity without entitlements is always denied.
// Behavior for an empty list of required entitlements is controlled by EmptyRequirementsPolicy,
// under EmptyRequirementsPolicyAllow a warning is logged once when the middleware is created.
func AuthorizationMiddleware(
	errorDomain string, required []string, opts ...AuthorizationMiddlewareOption,
) func(next http.Handler) http.Handler {
	options := authorizationMiddlewareOpts{
		emptyPolicy:    EmptyRequirementsPolicyAllow,
		loggerProvider: middleware.GetLoggerFromContext,
	}
	for _, opt := range opts {
		opt(&options)
	}
	requiredCopy := append([]string(nil), required...)
	if len(requiredCopy) == 0 && options.emptyPolicy != EmptyRequirementsPolicyDeny {
		idputil.GetLoggerFromProvider(context.Background(), options.loggerProvider).Warn(
			"authorization middleware has no required entitlements, any authenticated identity is allowed")
	}
	return func(next http.Handler) http.Handler {
		return &authorizationHandler{
			next:           next,
			errorDomain:    errorDomain,
			required:       requiredCopy,
			emptyPolicy:    options.emptyPolicy,
			loggerProvider: options.loggerProvider,
			promMetrics:    metrics.GetPrometheusMetrics(options.prometheusLibInstanceLabel, metrics.SourceHTTPMiddleware),
		}
	}
}

func (h *authorizationHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := idputil.GetLoggerFromProvider(r.Context(), h.loggerProvider)

	identity := GetIdentityFromContext(r.Context())
	if identity == nil {
		logger.Error("no authenticated identity in request context, authentication middleware is probably missing")
		h.promMetrics.IncAuthorizations(metrics.AuthorizationResultNoIdentity)
		apiErr := restapi.NewError(h.errorDomain, ErrCodeAuthenticationFailed, ErrMessageAuthenticationFailed)
		restapi.RespondError(rw, http.StatusUnauthorized, apiErr, logger)
		return
	}

	if len(h.required) == 0 {
		if h.emptyPolicy == EmptyRequirementsPolicyDeny {
			logger.Warn("access denied, route has no required entitlements", log.String("sub", identity.Subject))
			h.respondForbidden(rw, logger)
			return
		}
		h.promMetrics.IncAuthorizations(metrics.AuthorizationResultUnrestricted)
		h.next.ServeHTTP(rw, r)
		return
	}

	if !identity.HasAnyEntitlement(h.required...) {
		logger.Warn("access denied, identity has none of the required entitlements",
			log.String("sub", identity.Subject), log.String("required", strings.Join(h.required, ",")),
			log.String("granted", strings.Join(identity.Entitlements, ",")))
		h.respondForbidden(rw, logger)
		return
	}

	h.promMetrics.IncAuthorizations(metrics.AuthorizationResultAllowed)
	h.next.ServeHTTP(rw, r)
}

func (h *authorizationHandler) respondForbidden(rw http.ResponseWriter, logger log.FieldLogger) {
	h.promMetrics.IncAuthorizations(metrics.AuthorizationResultForbidden)
	apiErr := restapi.NewError(h.errorDomain, ErrCodeAuthorizationFailed, ErrMessageAuthorizationFailed)
	restapi.RespondError(rw, http.StatusForbidden, apiErr, logger)
}
