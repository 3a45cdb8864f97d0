/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/stretchr/testify/require"

	"github.com/discoenv/go-authkit/internal/libinfo"
)

func TestMakeDefaultHTTPClient(t *testing.T) {
	var served atomic.Int32
	var userAgent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		served.Add(1)
		userAgent.Store(r.UserAgent())
		rw.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := MakeDefaultHTTPClient(0)
	require.Equal(t, DefaultHTTPRequestTimeout, client.Timeout)

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.EqualValues(t, 1, served.Load(), "failed request must not be retried")
	require.Equal(t, libinfo.UserAgent(), userAgent.Load())

	require.Equal(t, time.Second, MakeDefaultHTTPClient(time.Second).Timeout)
}

func TestGetLoggerFromProvider(t *testing.T) {
	require.Equal(t, DefaultLogger, GetLoggerFromProvider(context.Background(), nil))

	nilProvider := func(ctx context.Context) log.FieldLogger { return nil }
	require.Equal(t, DefaultLogger, GetLoggerFromProvider(context.Background(), nilProvider))

	logger := log.NewDisabledLogger()
	provider := func(ctx context.Context) log.FieldLogger { return logger }
	require.Equal(t, logger, GetLoggerFromProvider(context.Background(), provider))

	require.NotNil(t, PrepareLogger(nil))
}
