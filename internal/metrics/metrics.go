/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package metrics contains the Prometheus collectors shared by all components of the library.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/acronis/go-appkit/lrucache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/discoenv/go-authkit/internal/libinfo"
)

const PrometheusNamespace = "discoenv_authkit"

const DefaultPrometheusLibInstanceLabel = "default"

const (
	PrometheusLibInstanceLabel = "lib_instance"
	PrometheusLibSourceLabel   = "lib_source"
)

// Values of the lib_source label.
const (
	SourceIDPClient          = "idp_client"
	SourceIntrospectionCache = "introspection_cache"
	SourceHTTPMiddleware     = "http_middleware"
)

func PrometheusLabels() prometheus.Labels {
	return prometheus.Labels{"lib_version": libinfo.GetLibVersion()}
}

const (
	HTTPClientRequestLabelMethod     = "method"
	HTTPClientRequestLabelURL        = "url"
	HTTPClientRequestLabelStatusCode = "status_code"
	HTTPClientRequestLabelError      = "error"

	CacheLookupLabelResult = "result"
	CacheFetchLabelShared  = "shared"

	AuthenticationLabelResult = "result"
	AuthorizationLabelResult  = "result"
)

const (
	HTTPRequestErrorDo                   = "do_request_error"
	HTTPRequestErrorDecodeBody           = "decode_body_error"
	HTTPRequestErrorUnexpectedStatusCode = "unexpected_status_code"
)

// Values of the result label of the introspection cache lookups counter.
const (
	CacheLookupHit     = "hit"
	CacheLookupMiss    = "miss"
	CacheLookupExpired = "expired"
)

// Values of the result label of the authentication counter.
const (
	AuthenticationResultOK           = "authenticated"
	AuthenticationResultTokenMissing = "token_missing"
	AuthenticationResultInactive     = "inactive"
	AuthenticationResultError        = "error"
	AuthenticationResultCanceled     = "canceled"
	AuthenticationResultDisabled     = "disabled"
)

// Values of the result label of the authorization counter.
const (
	AuthorizationResultAllowed      = "allowed"
	AuthorizationResultUnrestricted = "unrestricted"
	AuthorizationResultForbidden    = "forbidden"
	AuthorizationResultNoIdentity   = "no_identity"
)

var requestDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

var (
	prometheusMetrics     *PrometheusMetrics
	prometheusMetricsOnce sync.Once
)

// PrometheusMetrics represents the collector of metrics.
type PrometheusMetrics struct {
	HTTPClientRequestDuration *prometheus.HistogramVec
	IntrospectionCache        *lrucache.PrometheusMetrics
	IntrospectionCacheLookups *prometheus.CounterVec
	IntrospectionFetches      *prometheus.CounterVec
	Authentications           *prometheus.CounterVec
	Authorizations            *prometheus.CounterVec
}

// GetPrometheusMetrics returns the process-wide collector curried with the instance and source labels.
// Collectors are registered in the default Prometheus registry on the first call.
func GetPrometheusMetrics(instance string, source string) *PrometheusMetrics {
	prometheusMetricsOnce.Do(func() {
		prometheusMetrics = newPrometheusMetrics()
		prometheusMetrics.MustRegister()
	})
	if instance == "" {
		instance = DefaultPrometheusLibInstanceLabel
	}
	return prometheusMetrics.MustCurryWith(map[string]string{
		PrometheusLibInstanceLabel: instance,
		PrometheusLibSourceLabel:   source,
	})
}

func newPrometheusMetrics() *PrometheusMetrics {
	curriedLabelNames := []string{PrometheusLibInstanceLabel, PrometheusLibSourceLabel}
	makeLabelNames := func(names ...string) []string {
		l := append(make([]string, 0, len(curriedLabelNames)+len(names)), curriedLabelNames...)
		return append(l, names...)
	}

	httpClientReqDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   PrometheusNamespace,
			Name:        "http_client_request_duration_seconds",
			Help:        "A histogram of the http client request durations to IDP endpoints.",
			Buckets:     requestDurationBuckets,
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(HTTPClientRequestLabelMethod, HTTPClientRequestLabelURL,
			HTTPClientRequestLabelStatusCode, HTTPClientRequestLabelError),
	)

	introspectionCache := lrucache.NewPrometheusMetricsWithOpts(lrucache.PrometheusMetricsOpts{
		Namespace:         PrometheusNamespace + "_introspection",
		ConstLabels:       PrometheusLabels(),
		CurriedLabelNames: curriedLabelNames,
	})

	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   PrometheusNamespace,
			Name:        "introspection_cache_lookups_total",
			Help:        "Total number of introspection cache lookups by result.",
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(CacheLookupLabelResult),
	)

	cacheFetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   PrometheusNamespace,
			Name:        "introspection_cache_fetches_total",
			Help:        "Total number of introspection results obtained through the single-flight group.",
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(CacheFetchLabelShared),
	)

	authentications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   PrometheusNamespace,
			Name:        "authentications_total",
			Help:        "Total number of bearer token authentications by result.",
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(AuthenticationLabelResult),
	)

	authorizations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   PrometheusNamespace,
			Name:        "authorizations_total",
			Help:        "Total number of entitlement checks by result.",
			ConstLabels: PrometheusLabels(),
		},
		makeLabelNames(AuthorizationLabelResult),
	)

	return &PrometheusMetrics{
		HTTPClientRequestDuration: httpClientReqDuration,
		IntrospectionCache:        introspectionCache,
		IntrospectionCacheLookups: cacheLookups,
		IntrospectionFetches:      cacheFetches,
		Authentications:           authentications,
		Authorizations:            authorizations,
	}
}

// MustCurryWith curries the metrics collector with the provided labels.
func (pm *PrometheusMetrics) MustCurryWith(labels prometheus.Labels) *PrometheusMetrics {
	return &PrometheusMetrics{
		HTTPClientRequestDuration: pm.HTTPClientRequestDuration.MustCurryWith(labels).(*prometheus.HistogramVec),
		IntrospectionCache:        pm.IntrospectionCache.MustCurryWith(labels),
		IntrospectionCacheLookups: pm.IntrospectionCacheLookups.MustCurryWith(labels),
		IntrospectionFetches:      pm.IntrospectionFetches.MustCurryWith(labels),
		Authentications:           pm.Authentications.MustCurryWith(labels),
		Authorizations:            pm.Authorizations.MustCurryWith(labels),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(
		pm.HTTPClientRequestDuration,
		pm.IntrospectionCacheLookups,
		pm.IntrospectionFetches,
		pm.Authentications,
		pm.Authorizations,
	)
	pm.IntrospectionCache.MustRegister()
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.HTTPClientRequestDuration)
	prometheus.Unregister(pm.IntrospectionCacheLookups)
	prometheus.Unregister(pm.IntrospectionFetches)
	prometheus.Unregister(pm.Authentications)
	prometheus.Unregister(pm.Authorizations)
	pm.IntrospectionCache.Unregister()
}

func (pm *PrometheusMetrics) ObserveHTTPClientRequest(
	method string, targetURL string, statusCode int, elapsed time.Duration, errorType string,
) {
	pm.HTTPClientRequestDuration.With(prometheus.Labels{
		HTTPClientRequestLabelMethod:     method,
		HTTPClientRequestLabelURL:        targetURL,
		HTTPClientRequestLabelStatusCode: strconv.Itoa(statusCode),
		HTTPClientRequestLabelError:      errorType,
	}).Observe(elapsed.Seconds())
}

func (pm *PrometheusMetrics) IncIntrospectionCacheLookups(result string) {
	pm.IntrospectionCacheLookups.With(prometheus.Labels{CacheLookupLabelResult: result}).Inc()
}

func (pm *PrometheusMetrics) IncIntrospectionFetches(shared bool) {
	pm.IntrospectionFetches.With(prometheus.Labels{CacheFetchLabelShared: strconv.FormatBool(shared)}).Inc()
}

func (pm *PrometheusMetrics) IncAuthentications(result string) {
	pm.Authentications.With(prometheus.Labels{AuthenticationLabelResult: result}).Inc()
}

func (pm *PrometheusMetrics) IncAuthorizations(result string) {
	pm.Authorizations.With(prometheus.Labels{AuthorizationLabelResult: result}).Inc()
}
