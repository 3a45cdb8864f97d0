/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package idptoken talks to a Keycloak-compatible OpenID Connect identity provider.
//
// Client builds the realm endpoints and performs password-grant token acquisition and token introspection.
// IntrospectionCache sits in front of the introspection call: it keeps parsed identities
// while they are live according to IsExpired and coalesces concurrent lookups of the same token
// into a single outbound request.
package idptoken
