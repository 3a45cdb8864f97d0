/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptest

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/acronis/go-appkit/testutil"

	"github.com/discoenv/go-authkit/idptoken"
)

// Defaults of the realm and the confidential client the server expects.
const (
	DefaultRealm        = "test-realm"
	DefaultClientID     = "test-client"
	DefaultClientSecret = "test-client-secret" // nolint:gosec // This server is used for testing purposes only.
)

const localhostWithDynamicPortAddr = "127.0.0.1:0"

// ErrUnauthorized makes the handlers respond with 401.
var ErrUnauthorized = errors.New("unauthorized")

// TokenEndpointPath returns the path of the token endpoint of the realm.
func TokenEndpointPath(realm string) string {
	return "/realms/" + realm + "/protocol/openid-connect/token"
}

// TokenIntrospectionEndpointPath returns the path of the token introspection endpoint of the realm.
func TokenIntrospectionEndpointPath(realm string) string {
	return TokenEndpointPath(realm) + "/introspect"
}

// HTTPUserAuthenticator checks resource owner credentials of a password-grant request
// and returns the claims to mint into the access token.
type HTTPUserAuthenticator interface {
	Authenticate(r *http.Request, username, password string) (Claims, error)
}

// HTTPUserAuthenticatorFunc is a function that implements HTTPUserAuthenticator interface.
type HTTPUserAuthenticatorFunc func(r *http.Request, username, password string) (Claims, error)

// Authenticate implements HTTPUserAuthenticator interface.
func (f HTTPUserAuthenticatorFunc) Authenticate(r *http.Request, username, password string) (Claims, error) {
	return f(r, username, password)
}

// HTTPTokenIntrospector is an interface for introspecting tokens via HTTP.
type HTTPTokenIntrospector interface {
	IntrospectToken(r *http.Request, token string) (idptoken.IntrospectionResult, error)
}

// HTTPTokenIntrospectorFunc is a function that implements HTTPTokenIntrospector interface.
type HTTPTokenIntrospectorFunc func(r *http.Request, token string) (idptoken.IntrospectionResult, error)

// IntrospectToken implements HTTPTokenIntrospector interface.
func (f HTTPTokenIntrospectorFunc) IntrospectToken(r *http.Request, token string) (idptoken.IntrospectionResult, error) {
	return f(r, token)
}

// HTTPServerOption is an option for HTTPServer.
type HTTPServerOption func(s *HTTPServer)

// WithHTTPAddress is an option to set HTTP server address.
func WithHTTPAddress(addr string) HTTPServerOption {
	return func(s *HTTPServer) {
		s.addr.Store(addr)
	}
}

// WithRealm is an option to set the realm served by the server.
func WithRealm(realm string) HTTPServerOption {
	return func(s *HTTPServer) {
		s.realm = realm
	}
}

// WithClientCredentials is an option to set the client credentials both endpoints expect.
// An empty client ID disables the check.
func WithClientCredentials(clientID, clientSecret string) HTTPServerOption {
	return func(s *HTTPServer) {
		s.clientID = clientID
		s.clientSecret = clientSecret
	}
}

// WithHTTPTokenHandler is an option to set custom handler for the token endpoint.
func WithHTTPTokenHandler(handler http.Handler) HTTPServerOption {
	return func(s *HTTPServer) {
		s.TokenHandler = handler
	}
}

// WithHTTPUserAuthenticator is an option to set UserAuthenticator for TokenHandler.
func WithHTTPUserAuthenticator(authenticator HTTPUserAuthenticator) HTTPServerOption {
	return func(s *HTTPServer) {
		s.userAuthenticator = authenticator
	}
}

// WithHTTPIntrospectTokenHandler is an option to set custom handler for the token introspection endpoint.
func WithHTTPIntrospectTokenHandler(handler http.Handler) HTTPServerOption {
	return func(s *HTTPServer) {
		s.TokenIntrospectionHandler = handler
	}
}

// WithHTTPTokenIntrospector is an option to set TokenIntrospector for TokenIntrospectionHandler.
func WithHTTPTokenIntrospector(introspector HTTPTokenIntrospector) HTTPServerOption {
	return func(s *HTTPServer) {
		s.tokenIntrospector = introspector
	}
}

func WithHTTPMiddleware(mw func(http.Handler) http.Handler) HTTPServerOption {
	return func(s *HTTPServer) {
		s.middleware = mw
	}
}

// HTTPServer is a mock Keycloak server for testing purposes.
type HTTPServer struct {
	*http.Server
	addr                      atomic.Value
	realm                     string
	clientID                  string
	clientSecret              string
	middleware                func(http.Handler) http.Handler
	userAuthenticator         HTTPUserAuthenticator
	tokenIntrospector         HTTPTokenIntrospector
	TokenHandler              http.Handler
	TokenIntrospectionHandler http.Handler
	Router                    *http.ServeMux
	afterListenCallbacks      []func()
}

// NewHTTPServer creates a new HTTPServer with provided options.
func NewHTTPServer(options ...HTTPServerOption) *HTTPServer {
	s := &HTTPServer{realm: DefaultRealm, clientID: DefaultClientID, clientSecret: DefaultClientSecret}
	for _, opt := range options {
		opt(s)
	}

	if s.TokenHandler == nil {
		tokenHandler := &TokenHandler{
			ClientID:          s.clientID,
			ClientSecret:      s.clientSecret,
			UserAuthenticator: s.userAuthenticator,
		}
		s.TokenHandler = tokenHandler
		s.afterListenCallbacks = append(s.afterListenCallbacks, func() {
			tokenHandler.Issuer = s.RealmURL()
		})
	}

	if s.TokenIntrospectionHandler == nil {
		s.TokenIntrospectionHandler = &TokenIntrospectionHandler{
			ClientID:          s.clientID,
			ClientSecret:      s.clientSecret,
			TokenIntrospector: s.tokenIntrospector,
		}
	}

	s.Router = http.NewServeMux()
	s.Router.Handle(TokenEndpointPath(s.realm), s.TokenHandler)
	s.Router.Handle(TokenIntrospectionEndpointPath(s.realm), s.TokenIntrospectionHandler)

	// nolint:gosec // This server is used for testing purposes only.
	s.Server = &http.Server{Handler: s.Router}
	if s.middleware != nil {
		s.Server.Handler = s.middleware(s.Router)
	}

	return s
}

// URL method returns the URL of the server.
func (s *HTTPServer) URL() string {
	if srvURL := s.addr.Load(); srvURL != nil {
		return "http://" + srvURL.(string)
	}
	return ""
}

// RealmURL returns the URL of the served realm. It is used as the issuer of minted tokens.
func (s *HTTPServer) RealmURL() string {
	return s.URL() + "/realms/" + s.realm
}

// Source returns the identity provider source pointing to this server.
func (s *HTTPServer) Source() idptoken.Source {
	return idptoken.Source{BaseURL: s.URL(), Realm: s.realm, ClientID: s.clientID, ClientSecret: s.clientSecret}
}

// Start starts the HTTPServer.
func (s *HTTPServer) Start() error {
	addr, ok := s.addr.Load().(string)
	if !ok {
		addr = localhostWithDynamicPortAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen tcp: %w", err)
	}
	s.addr.Store(ln.Addr().String())

	for _, cb := range s.afterListenCallbacks {
		cb()
	}

	go func() { _ = s.Server.Serve(ln) }()

	return nil
}

// StartAndWaitForReady starts the server waits for the server to start listening.
func (s *HTTPServer) StartAndWaitForReady(timeout time.Duration) error {
	if err := s.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	return testutil.WaitListeningServer(s.addr.Load().(string), timeout)
}
