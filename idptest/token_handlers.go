/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	jwtgo "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/discoenv/go-authkit/idptoken"
	"github.com/discoenv/go-authkit/internal/idputil"
)

// DefaultTokenTTL is the lifetime of minted access tokens unless the authenticator sets an expiration time.
const DefaultTokenTTL = time.Hour

const defaultTokenScope = "openid profile email"

// TokenHandler is an implementation of the password-grant token endpoint.
type TokenHandler struct {
	servedCount       atomic.Uint64
	Issuer            string
	ClientID          string
	ClientSecret      string
	UserAuthenticator HTTPUserAuthenticator
}

func (h *TokenHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	h.servedCount.Add(1)

	if err := r.ParseForm(); err != nil {
		respondOAuthError(rw, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if grantType := r.PostForm.Get(idputil.FormFieldGrantType); grantType != idputil.GrantTypePassword {
		respondOAuthError(rw, http.StatusBadRequest, "unsupported_grant_type", fmt.Sprintf("grant type %q", grantType))
		return
	}
	if !checkClientCredentials(r, h.ClientID, h.ClientSecret) {
		respondOAuthError(rw, http.StatusUnauthorized, "unauthorized_client", "Invalid client or Invalid client credentials")
		return
	}

	username := r.PostForm.Get(idputil.FormFieldUsername)
	password := r.PostForm.Get(idputil.FormFieldPassword)
	var claims Claims
	if h.UserAuthenticator != nil {
		var err error
		if claims, err = h.UserAuthenticator.Authenticate(r, username, password); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				respondOAuthError(rw, http.StatusUnauthorized, "invalid_grant", "Invalid user credentials")
				return
			}
			http.Error(rw, fmt.Sprintf("User authenticator failed: %v", err), http.StatusInternalServerError)
			return
		}
	} else {
		if username == "" || password == "" {
			respondOAuthError(rw, http.StatusUnauthorized, "invalid_grant", "Invalid user credentials")
			return
		}
		claims.PreferredUsername = username
	}

	now := time.Now()
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	if claims.Subject == "" {
		claims.Subject = uuid.NewString()
	}
	if claims.Issuer == "" {
		claims.Issuer = h.Issuer
	}
	if claims.IssuedAt == nil {
		claims.IssuedAt = jwtgo.NewNumericDate(now)
	}
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwtgo.NewNumericDate(now.Add(DefaultTokenTTL))
	}
	if claims.AuthorizedParty == "" {
		claims.AuthorizedParty = h.ClientID
	}
	if claims.Scope == "" {
		claims.Scope = defaultTokenScope
	}

	token, err := MakeTokenString(&claims)
	if err != nil {
		http.Error(rw, fmt.Sprintf("Failed to sign token: %v", err), http.StatusInternalServerError)
		return
	}

	expiresIn := claims.ExpiresAt.Unix() - now.Unix()
	if expiresIn < 0 {
		expiresIn = 0
	}
	respondJSON(rw, idptoken.Token{
		AccessToken:  token,
		TokenType:    "Bearer",
		ExpiresIn:    expiresIn,
		SessionState: uuid.NewString(),
		Scope:        claims.Scope,
	})
}

// ServedCount returns the number of times the handler has been served.
func (h *TokenHandler) ServedCount() uint64 {
	return h.servedCount.Load()
}

// ResetServedCount resets the number of times the handler has been served.
func (h *TokenHandler) ResetServedCount() {
	h.servedCount.Store(0)
}

// TokenIntrospectionHandler is an implementation of the token introspection endpoint.
// Without TokenIntrospector it reports tokens minted by MakeTokenString as active while they are not expired.
type TokenIntrospectionHandler struct {
	servedCount       atomic.Uint64
	ClientID          string
	ClientSecret      string
	TokenIntrospector HTTPTokenIntrospector
}

func (h *TokenIntrospectionHandler) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Only POST method is allowed", http.StatusMethodNotAllowed)
		return
	}

	h.servedCount.Add(1)

	if err := r.ParseForm(); err != nil {
		respondOAuthError(rw, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if !checkClientCredentials(r, h.ClientID, h.ClientSecret) {
		respondOAuthError(rw, http.StatusUnauthorized, "invalid_client", "Authentication failed.")
		return
	}
	token := r.PostForm.Get(idputil.FormFieldToken)
	if token == "" {
		respondOAuthError(rw, http.StatusBadRequest, "invalid_request", "Token not provided.")
		return
	}

	var result idptoken.IntrospectionResult
	if h.TokenIntrospector != nil {
		var err error
		if result, err = h.TokenIntrospector.IntrospectToken(r, token); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				http.Error(rw, "Unauthorized", http.StatusUnauthorized)
				return
			}
			http.Error(rw, fmt.Sprintf("Token introspection failed: %v", err), http.StatusInternalServerError)
			return
		}
	} else if claims, err := ParseTokenString(token); err == nil {
		result = claims.IntrospectionResult()
	}

	respondJSON(rw, result)
}

// ServedCount returns the number of times the handler has been served.
func (h *TokenIntrospectionHandler) ServedCount() uint64 {
	return h.servedCount.Load()
}

// ResetServedCount resets the number of times the handler has been served.
func (h *TokenIntrospectionHandler) ResetServedCount() {
	h.servedCount.Store(0)
}

// An empty expected client ID disables the check.
func checkClientCredentials(r *http.Request, clientID, clientSecret string) bool {
	if clientID == "" {
		return true
	}
	return r.PostForm.Get(idputil.FormFieldClientID) == clientID &&
		r.PostForm.Get(idputil.FormFieldClientSecret) == clientSecret
}

type oauthErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

func respondOAuthError(rw http.ResponseWriter, status int, code, description string) {
	rw.Header().Set("Content-Type", idputil.ContentTypeJSON)
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(oauthErrorResponse{Error: code, ErrorDescription: description})
}

func respondJSON(rw http.ResponseWriter, data interface{}) {
	rw.Header().Set("Content-Type", idputil.ContentTypeJSON)
	if err := json.NewEncoder(rw).Encode(data); err != nil {
		http.Error(rw, fmt.Sprintf("Error encoding response: %v", err), http.StatusInternalServerError)
	}
}
