/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptoken

import (
	"strings"

	jwtgo "github.com/golang-jwt/jwt/v5"
)

const serviceAccountUsernamePrefix = "service-account-"

// Roles is a list of role names as Keycloak nests them under realm_access and resource_access.
type Roles struct {
	Roles []string `json:"roles,omitempty"`
}

// Identity is the verified identity bound to a bearer token.
// Empty strings mean the identity provider omitted the corresponding claim.
// Entitlements keep the order returned by the provider, duplicates included.
type Identity struct {
	Active            bool               `json:"active"`
	Subject           string             `json:"sub,omitempty"`
	PreferredUsername string             `json:"preferred_username,omitempty"`
	Email             string             `json:"email,omitempty"`
	Name              string             `json:"name,omitempty"`
	GivenName         string             `json:"given_name,omitempty"`
	FamilyName        string             `json:"family_name,omitempty"`
	IssuedAt          *jwtgo.NumericDate `json:"iat,omitempty"`
	ExpiresAt         *jwtgo.NumericDate `json:"exp,omitempty"`
	Entitlements      []string           `json:"entitlement,omitempty"`
	RealmAccess       *Roles             `json:"realm_access,omitempty"`
	ResourceAccess    map[string]Roles   `json:"resource_access,omitempty"`
}

// HasAnyEntitlement reports whether at least one of the required entitlements is granted.
// Entitlements are compared by exact string match.
func (i *Identity) HasAnyEntitlement(required ...string) bool {
	for _, granted := range i.Entitlements {
		for _, req := range required {
			if granted == req {
				return true
			}
		}
	}
	return false
}

// IsServiceAccount reports whether the identity belongs to a Keycloak service account.
func (i *Identity) IsServiceAccount() bool {
	return strings.HasPrefix(i.PreferredUsername, serviceAccountUsernamePrefix)
}

// RealmRoles returns the roles granted on the realm level.
func (i *Identity) RealmRoles() []string {
	if i.RealmAccess == nil {
		return nil
	}
	return i.RealmAccess.Roles
}

// ResourceRoles returns the roles granted for the given client (resource).
func (i *Identity) ResourceRoles(resource string) []string {
	return i.ResourceAccess[resource].Roles
}

// IntrospectionResult is the decoded response of the token introspection endpoint.
type IntrospectionResult struct {
	Identity
	JWTID           string   `json:"jti,omitempty"`
	Issuer          string   `json:"iss,omitempty"`
	TokenType       string   `json:"typ,omitempty"`
	AuthorizedParty string   `json:"azp,omitempty"`
	SessionState    string   `json:"session_state,omitempty"`
	ACR             string   `json:"acr,omitempty"`
	Scope           string   `json:"scope,omitempty"`
	EmailVerified   *bool    `json:"email_verified,omitempty"`
	ClientID        string   `json:"client_id,omitempty"`
	AllowedOrigins  []string `json:"allowed-origins,omitempty"`
}

// Token is the response of the token endpoint.
type Token struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in,omitempty"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64  `json:"refresh_expires_in,omitempty"`
	NotBeforePolicy  int64  `json:"not-before-policy"`
	SessionState     string `json:"session_state,omitempty"`
	Scope            string `json:"scope,omitempty"`
}
