/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/discoenv/go-authkit/idptoken"
)

func TestStatusCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "unauthenticated", err: idptoken.ErrUnauthenticated, want: http.StatusUnauthorized},
		{name: "authentication disabled", err: idptoken.ErrAuthenticationDisabled, want: http.StatusBadRequest},
		{name: "request cancelled", err: context.Canceled, want: StatusClientClosedRequest},
		{
			name: "request cancelled during transport",
			err:  &idptoken.TransportError{Err: context.Canceled},
			want: StatusClientClosedRequest,
		},
		{name: "forbidden", err: fmt.Errorf("check: %w", idptoken.ErrForbidden), want: http.StatusForbidden},
		{
			name: "upstream 400",
			err:  &idptoken.UnexpectedResponseError{StatusCode: http.StatusBadRequest},
			want: http.StatusBadRequest,
		},
		{
			name: "upstream 401",
			err:  &idptoken.UnexpectedResponseError{StatusCode: http.StatusUnauthorized},
			want: http.StatusUnauthorized,
		},
		{
			name: "upstream 503",
			err:  &idptoken.UnexpectedResponseError{StatusCode: http.StatusServiceUnavailable},
			want: http.StatusBadGateway,
		},
		{
			name: "transport error",
			err:  &idptoken.TransportError{Err: errors.New("connection refused")},
			want: http.StatusBadGateway,
		},
		{
			name: "deadline exceeded during transport",
			err:  &idptoken.TransportError{Err: context.DeadlineExceeded},
			want: http.StatusGatewayTimeout,
		},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
		{
			name: "unmarshal error",
			err:  &idptoken.UnmarshalError{Err: errors.New("invalid character")},
			want: http.StatusInternalServerError,
		},
		{name: "unknown error", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, StatusCodeForError(tt.err), tt.name)
	}
}
