/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idputil

import (
	"context"
	"net/http"
	"time"

	"github.com/acronis/go-appkit/httpclient"
	"github.com/acronis/go-appkit/log"

	"github.com/discoenv/go-authkit/internal/libinfo"
)

const DefaultHTTPRequestTimeout = 30 * time.Second

// DefaultLogger is used when no logger is provided or the provider returns nil.
var DefaultLogger log.FieldLogger = log.NewDisabledLogger()

// MakeDefaultHTTPClient returns an HTTP client for calls to the identity provider.
// Requests are not retried: a failed call surfaces to the caller immediately.
func MakeDefaultHTTPClient(reqTimeout time.Duration) *http.Client {
	if reqTimeout == 0 {
		reqTimeout = DefaultHTTPRequestTimeout
	}
	var tr http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
	tr = httpclient.NewUserAgentRoundTripper(tr, libinfo.UserAgent())
	return &http.Client{Timeout: reqTimeout, Transport: tr}
}

func PrepareLogger(logger log.FieldLogger) log.FieldLogger {
	if logger == nil {
		logger = DefaultLogger
	}
	return log.NewPrefixedLogger(logger, libinfo.LogPrefix())
}

func GetLoggerFromProvider(ctx context.Context, provider func(ctx context.Context) log.FieldLogger) log.FieldLogger {
	if provider != nil {
		if logger := provider(ctx); logger != nil {
			return logger
		}
	}
	return DefaultLogger
}
