/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idptest

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"sync"

	jwtgo "github.com/golang-jwt/jwt/v5"

	"github.com/discoenv/go-authkit/idptoken"
)

// TestKeyID is the key ID put into the header of minted tokens.
const TestKeyID = "idptest-rsa-key"

const testRSAKeyBits = 2048

var (
	testRSAPrivateKey     *rsa.PrivateKey
	testRSAPrivateKeyOnce sync.Once
)

// Claims are the claims minted into access tokens. They mirror what Keycloak puts into its access tokens.
type Claims struct {
	jwtgo.RegisteredClaims
	PreferredUsername string                    `json:"preferred_username,omitempty"`
	Email             string                    `json:"email,omitempty"`
	Name              string                    `json:"name,omitempty"`
	GivenName         string                    `json:"given_name,omitempty"`
	FamilyName        string                    `json:"family_name,omitempty"`
	Entitlements      []string                  `json:"entitlement,omitempty"`
	RealmAccess       *idptoken.Roles           `json:"realm_access,omitempty"`
	ResourceAccess    map[string]idptoken.Roles `json:"resource_access,omitempty"`
	AuthorizedParty   string                    `json:"azp,omitempty"`
	Scope             string                    `json:"scope,omitempty"`
}

// IntrospectionResult converts the claims into the response of an introspection endpoint for an active token.
func (c *Claims) IntrospectionResult() idptoken.IntrospectionResult {
	return idptoken.IntrospectionResult{
		Identity: idptoken.Identity{
			Active:            true,
			Subject:           c.Subject,
			PreferredUsername: c.PreferredUsername,
			Email:             c.Email,
			Name:              c.Name,
			GivenName:         c.GivenName,
			FamilyName:        c.FamilyName,
			IssuedAt:          c.IssuedAt,
			ExpiresAt:         c.ExpiresAt,
			Entitlements:      c.Entitlements,
			RealmAccess:       c.RealmAccess,
			ResourceAccess:    c.ResourceAccess,
		},
		JWTID:           c.ID,
		Issuer:          c.Issuer,
		TokenType:       "Bearer",
		AuthorizedParty: c.AuthorizedParty,
		Scope:           c.Scope,
		ClientID:        c.AuthorizedParty,
	}
}

// GetTestRSAPrivateKey returns the RSA private key minted tokens are signed with.
// The key is generated once per process.
func GetTestRSAPrivateKey() *rsa.PrivateKey {
	testRSAPrivateKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, testRSAKeyBits)
		if err != nil {
			panic(fmt.Errorf("generate test RSA key: %w", err))
		}
		testRSAPrivateKey = key
	})
	return testRSAPrivateKey
}

// MakeTokenString creates an access token signed with the test key.
func MakeTokenString(claims *Claims) (string, error) {
	token := jwtgo.NewWithClaims(jwtgo.SigningMethodRS256, claims)
	token.Header["kid"] = TestKeyID
	return token.SignedString(GetTestRSAPrivateKey())
}

// MustMakeTokenString creates an access token signed with the test key.
// It panics if error occurs.
func MustMakeTokenString(claims *Claims) string {
	token, err := MakeTokenString(claims)
	if err != nil {
		panic(err)
	}
	return token
}

// ParseTokenString verifies the signature and the time-based claims of a token minted by MakeTokenString.
func ParseTokenString(token string) (*Claims, error) {
	var claims Claims
	_, err := jwtgo.ParseWithClaims(token, &claims, func(t *jwtgo.Token) (interface{}, error) {
		return &GetTestRSAPrivateKey().PublicKey, nil
	}, jwtgo.WithValidMethods([]string{jwtgo.SigningMethodRS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return &claims, nil
}
