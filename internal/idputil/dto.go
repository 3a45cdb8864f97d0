/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package idputil

// Form fields and values of the OpenID Connect token and introspection endpoints.
const (
	FormFieldGrantType    = "grant_type"
	FormFieldClientID     = "client_id"
	FormFieldClientSecret = "client_secret"
	FormFieldUsername     = "username"
	FormFieldPassword     = "password"
	FormFieldToken        = "token"

	GrantTypePassword = "password"
)

const (
	ContentTypeFormURLEncoded = "application/x-www-form-urlencoded"
	ContentTypeJSON           = "application/json"
)

const TokenTypeBearer = "bearer"
